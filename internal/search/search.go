// Package search implements the text search over the files of a workspace.
package search

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/storyloom/sidecar/internal/parallel"
	"github.com/storyloom/sidecar/internal/walk"
)

// binaryProbe is how many leading bytes are checked for a NUL byte.
const binaryProbe = 1024

// SkippedNames are never searched, neither as files nor as directories.
var SkippedNames = []string{"node_modules", ".git", "target"}

var ErrInvalidPattern = errors.New("invalid regex")

// Config controls how the keyword is matched and where.
type Config struct {
	CaseSensitive bool   `json:"case_sensitive"`
	WholeWord     bool   `json:"whole_word"`
	IsRegex       bool   `json:"is_regex"`
	TargetDir     string `json:"target_dir"`
}

// Result lists the matching lines of one file as "<line number>: <text>".
type Result struct {
	Path   string   `json:"path"`
	Result []string `json:"result"`
}

// Compile turns keyword into the pattern used for matching.
func Compile(keyword string, cfg Config) (*regexp.Regexp, error) {
	pattern := keyword
	if !cfg.IsRegex {
		pattern = regexp.QuoteMeta(keyword)
	}
	if cfg.WholeWord {
		pattern = `\b(?:` + pattern + `)\b`
	}
	if !cfg.CaseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	return re, nil
}

// InFiles searches every text file under cfg.TargetDir for keyword. Files
// are read in parallel, results are in walk order and files without a match
// are left out. Unreadable files are skipped. An empty keyword matches
// nothing.
func InFiles(ctx context.Context, keyword string, cfg Config) ([]Result, error) {
	results := []Result{}
	if keyword == "" {
		return results, nil
	}
	re, err := Compile(keyword, cfg)
	if err != nil {
		return nil, err
	}

	root, err := os.OpenRoot(cfg.TargetDir)
	if err != nil {
		return nil, fmt.Errorf("opening target dir: %w", err)
	}
	defer func() {
		_ = root.Close()
	}()

	match := func(_ context.Context, entry walk.Entry) (Result, error) {
		return matchEntry(re, entry)
	}
	entries := walk.Root(ctx, root, walk.Skip(SkippedNames...))
	for result, err := range parallel.Map(ctx, runtime.GOMAXPROCS(0), entries, match) {
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.DebugContext(ctx, "search: skipping file", "error", err)
			continue
		}
		if len(result.Result) > 0 {
			results = append(results, result)
		}
	}
	slog.DebugContext(ctx, "search done", "dir", cfg.TargetDir, "files", len(results))
	return results, nil
}

func matchEntry(re *regexp.Regexp, entry walk.Entry) (Result, error) {
	f, err := entry.Open()
	if err != nil {
		return Result{}, err
	}
	defer func() {
		_ = f.Close()
	}()

	ret := Result{Path: entry.Path()}
	r := bufio.NewReader(f)
	head, err := r.Peek(binaryProbe)
	if err != nil && !errors.Is(err, io.EOF) {
		return Result{}, fmt.Errorf("%s: %w", entry.Path(), err)
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return ret, nil
	}

	for n := 1; ; n++ {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimSuffix(bytes.TrimSuffix(line, []byte("\n")), []byte("\r"))
			// lines which are not valid text are not searched
			if utf8.Valid(line) && re.Match(line) {
				ret.Result = append(ret.Result, strconv.Itoa(n)+": "+strings.TrimSpace(string(line)))
			}
		}
		if errors.Is(err, io.EOF) {
			return ret, nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", entry.Path(), err)
		}
	}
}
