package search_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/storyloom/sidecar/internal/search"
)

func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"chapter1.md":           "# Chapter One\nThe dragon slept.\n  Dragons dream.  \n",
		"notes/plot.txt":        "dragonfly\r\nno match here\r\nDRAGON\r\n",
		"notes/empty.txt":       "",
		"node_modules/lib/a.js": "dragon",
		".git/COMMIT_EDITMSG":   "dragon",
		"target/out.txt":        "dragon",
		"bin/tool":              "dragon\x00\x01",
		"latin1.txt":            "dragon \xff\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func TestInFiles(t *testing.T) {
	t.Parallel()
	dir := workspace(t)

	var testCases = []struct {
		scenario string
		keyword  string
		config   search.Config
		then     []search.Result
	}{
		{
			scenario: "case insensitive",
			keyword:  "dragon",
			then: []search.Result{
				{Path: filepath.Join(dir, "chapter1.md"), Result: []string{"2: The dragon slept.", "3: Dragons dream."}},
				{Path: filepath.Join(dir, "notes", "plot.txt"), Result: []string{"1: dragonfly", "3: DRAGON"}},
			},
		},
		{
			scenario: "case sensitive",
			keyword:  "dragon",
			config:   search.Config{CaseSensitive: true},
			then: []search.Result{
				{Path: filepath.Join(dir, "chapter1.md"), Result: []string{"2: The dragon slept."}},
				{Path: filepath.Join(dir, "notes", "plot.txt"), Result: []string{"1: dragonfly"}},
			},
		},
		{
			scenario: "whole word",
			keyword:  "dragon",
			config:   search.Config{WholeWord: true},
			then: []search.Result{
				{Path: filepath.Join(dir, "chapter1.md"), Result: []string{"2: The dragon slept."}},
				{Path: filepath.Join(dir, "notes", "plot.txt"), Result: []string{"3: DRAGON"}},
			},
		},
		{
			scenario: "regex",
			keyword:  `^#\s+chapter`,
			config:   search.Config{IsRegex: true},
			then: []search.Result{
				{Path: filepath.Join(dir, "chapter1.md"), Result: []string{"1: # Chapter One"}},
			},
		},
		{
			scenario: "literal keeps meta characters",
			keyword:  "slept.",
			then: []search.Result{
				{Path: filepath.Join(dir, "chapter1.md"), Result: []string{"2: The dragon slept."}},
			},
		},
		{
			scenario: "empty keyword",
			keyword:  "",
			then:     []search.Result{},
		},
		{
			scenario: "no match",
			keyword:  "unicorn",
			then:     []search.Result{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			cfg := tc.config
			cfg.TargetDir = dir
			got, err := search.InFiles(t.Context(), tc.keyword, cfg)
			require.NoError(t, err)
			require.Equal(t, tc.then, got)
		})
	}
}

func TestInFiles_Fail(t *testing.T) {
	t.Parallel()
	t.Run("invalid regex", func(t *testing.T) {
		_, err := search.InFiles(t.Context(), "(unclosed", search.Config{IsRegex: true, TargetDir: t.TempDir()})
		require.ErrorIs(t, err, search.ErrInvalidPattern)
	})
	t.Run("missing dir", func(t *testing.T) {
		_, err := search.InFiles(t.Context(), "x", search.Config{TargetDir: filepath.Join(t.TempDir(), "missing")})
		require.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("canceled", func(t *testing.T) {
		dir := workspace(t)
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err := search.InFiles(ctx, "dragon", search.Config{TargetDir: dir})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestConfig_JSON(t *testing.T) {
	t.Parallel()
	var cfg search.Config
	err := json.Unmarshal([]byte(`{"case_sensitive":true,"whole_word":false,"is_regex":true,"target_dir":"/w"}`), &cfg)
	require.NoError(t, err)
	require.Equal(t, search.Config{CaseSensitive: true, IsRegex: true, TargetDir: "/w"}, cfg)

	b, err := json.Marshal([]search.Result{{Path: "/w/a.md", Result: []string{"1: a"}}})
	require.NoError(t, err)
	require.JSONEq(t, `[{"path":"/w/a.md","result":["1: a"]}]`, string(b))
}
