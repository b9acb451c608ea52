package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/storyloom/sidecar/internal/host"
	"github.com/storyloom/sidecar/internal/log"
	"github.com/storyloom/sidecar/internal/machineid"
	"github.com/storyloom/sidecar/internal/search"
)

var (
	flagSearchDir string
	flagSearch    search.Config
	flagRunsLimit int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "serve the UI commands over stdin/stdout and supervise the sidecar",
	Long: `run reads one JSON request per line from stdin, e.g.

  {"id":1,"cmd":"initialize_sidecar"}

and writes responses and sidecar events as JSON lines to stdout. The sidecar
is killed when stdin is closed or the process is interrupted.`,
	RunE: doRun,
}

var searchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "search text files of a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  doSearch,
}

var machineIDCmd = &cobra.Command{
	Use:   "machine-id",
	Short: "print the hashed machine identifier",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		id, err := machineid.Get()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
		return err
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "list the recorded sidecar start attempts",
	Args:  cobra.NoArgs,
	RunE:  doRuns,
}

func doRun(cmd *cobra.Command, _ []string) error {
	if config.Service.Log == log.Stdout {
		return fmt.Errorf("service.log: stdout carries the command protocol, use stderr or a file")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("sidecar",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	app, err := host.New(ctx, config)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.ErrorContext(ctx, "closing app", "error", err)
		}
	}()
	return app.Run(ctx, os.Stdin, cmd.OutOrStdout())
}

func doSearch(cmd *cobra.Command, args []string) error {
	cfg := flagSearch
	cfg.TargetDir = flagSearchDir
	results, err := search.InFiles(cmd.Context(), args[0], cfg)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func doRuns(cmd *cobra.Command, _ []string) error {
	if config.Service.Journal == "" {
		return fmt.Errorf("service.journal is not configured")
	}
	j, err := host.OpenJournal(cmd.Context(), config.Service.Journal)
	if err != nil {
		return err
	}
	defer func() {
		_ = j.Close()
	}()
	runs, err := j.List(cmd.Context(), flagRunsLimit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), r.String()); err != nil {
			return err
		}
	}
	return nil
}
