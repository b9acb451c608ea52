package sidecar_test

import (
	"bufio"
	"context"
	"embed"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	//go:embed testing/*
	testingFS   embed.FS
	sidecarPath string

	// tmpDir is a function used to create a tempdir
	// -test.keepdir flag says test to use os.MkdirTemp
	// default is t.TempDir, which will be cleaned up
	tmpDir func(t *testing.T) string
)

func TestMain(m *testing.M) {
	var keepTestDir bool
	flag.BoolVar(&keepTestDir, "test.keepdir", false, "use os.TempDir instead of t.TempDir to keep test artifacts")

	flag.Parse()

	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !keepTestDir {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			return t.TempDir()
		}
	} else {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			dir, err := os.MkdirTemp("", t.Name()+"*")
			require.NoError(t, err)
			_, err = fmt.Fprintf(t.Output(), "TEMPDIR %s: -test.keepdir used, so it won't be automatically deleted", dir)
			require.NoError(t, err)
			return dir
		}
	}

	if !isExecutable("sidecar-ci") {
		slog.Warn("integration tests skipped: run go build -race -o sidecar-ci ./cmd/sidecar/ first")
		os.Exit(0)
	}

	var err error
	sidecarPath, err = filepath.Abs("sidecar-ci")
	if err != nil {
		slog.Error("can't get abspath for sidecar-ci", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

type frame struct {
	ID      *int64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   string          `json:"error"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func TestRun(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	if runtime.GOOS == "windows" {
		t.Skip("skipped, signals are not available on windows")
	}
	dir := tmpDir(t)
	dataDir := filepath.Join(dir, "data")

	initialized := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AppDataDir string `json:"appDataDir"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		initialized <- body.AppDataDir
	}))
	t.Cleanup(srv.Close)

	config := fmt.Sprintf(`
version: 0
app:
  identifier: com.example.test
  data_dir: %q
sidecar:
  name: %q
  args:
    - -c
    - echo ready; exec sleep 30
  ready_timeout: 10s
handshake:
  url: %q
service:
  verbose: true
  log: %q
  journal: %q
`, dataDir, sh, srv.URL+"/api/init", filepath.Join(dir, "sidecar.log"), filepath.Join(dataDir, "runs.db"))
	configPath := filepath.Join(dir, "sidecar.yaml")
	creat(t, configPath, []byte(config))

	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)
	cmd := exec.CommandContext(ctx, sidecarPath, "run", "--config", configPath)
	stdin, err := cmd.StdinPipe()
	require.NoError(t, err)
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())

	frames := readFrames(stdout)
	send := func(line string) {
		_, err := io.WriteString(stdin, line+"\n")
		require.NoError(t, err)
	}
	// await returns the frames up to and including the answer to id
	await := func(id int64) []frame {
		t.Helper()
		var seen []frame
		for f := range frames {
			seen = append(seen, f)
			if f.ID != nil && *f.ID == id {
				return seen
			}
		}
		t.Fatalf("no response for %d, got %+v", id, seen)
		return nil
	}

	send(`{"id":1,"cmd":"initialize_sidecar"}`)
	got := await(1)
	require.Empty(t, got[len(got)-1].Error)
	require.Equal(t, dataDir, <-initialized)

	send(`{"id":2,"cmd":"initialize_sidecar"}`)
	got = append(got, await(2)...)
	require.Empty(t, got[len(got)-1].Error)

	send(`{"id":3,"cmd":"shutdown_sidecar"}`)
	got = append(got, await(3)...)
	require.Empty(t, got[len(got)-1].Error)

	require.NoError(t, stdin.Close())
	for f := range frames {
		got = append(got, f)
	}
	require.NoError(t, cmd.Wait())

	var events []string
	for _, f := range got {
		if f.Event != "" {
			events = append(events, f.Event)
		}
	}
	require.Equal(t, []string{"sidecar-stdout", "sidecar-terminated"}, events)
	// spawned once, the second initialize was a no-op
	require.Len(t, initialized, 0)

	out, err := exec.CommandContext(ctx, sidecarPath, "runs", "--config", configPath).Output()
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "in_progress: false, success: true")
}

func TestSearch(t *testing.T) {
	dir := tmpDir(t)
	sub, err := fs.Sub(testingFS, "testing/workspace")
	require.NoError(t, err)
	require.NoError(t, os.CopyFS(dir, sub))

	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)
	configPath := filepath.Join(tmpDir(t), "sidecar.yaml")
	creat(t, configPath, []byte("version: 0\nservice:\n  log: discard\n"))

	cmd := exec.CommandContext(ctx, sidecarPath, "search", "--dir", dir, "--whole-word", "dragon",
		"--config", configPath)
	out, err := cmd.Output()
	require.NoError(t, err)

	var results []struct {
		Path   string   `json:"path"`
		Result []string `json:"result"`
	}
	require.NoError(t, json.Unmarshal(out, &results))
	require.Len(t, results, 1)
	require.Equal(t, filepath.Join(dir, "chapter1.md"), results[0].Path)
	require.Equal(t, []string{"3: The dragon slept under the mountain."}, results[0].Result)
}

func readFrames(r io.Reader) <-chan frame {
	ch := make(chan frame)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			var f frame
			if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
				continue
			}
			ch <- f
		}
	}()
	return ch
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func creat(t *testing.T, path string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
}
