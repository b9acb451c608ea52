package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/storyloom/sidecar/internal/log"
	"github.com/storyloom/sidecar/internal/model"
)

const configName = "sidecar.yaml"

var (
	userConfigPath string // /default/config/path/sidecar on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config
	overrides      = model.NewViper()
	closeLog       = func() error { return nil }

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	userConfigPath = filepath.Join(xdg.ConfigHome, "sidecar")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is "+configName+" in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// run flags override the config file
	runCmd.Flags().String("data-dir", "", "application data directory sent to the sidecar")
	runCmd.Flags().String("handshake-url", "", "URL of the sidecar init endpoint")
	runCmd.Flags().String("ready-timeout", "", "how long to wait for the first sidecar output, e.g. 15s")
	mustBind(overrides, "app.data_dir", runCmd.Flags().Lookup("data-dir"))
	mustBind(overrides, "handshake.url", runCmd.Flags().Lookup("handshake-url"))
	mustBind(overrides, "sidecar.ready_timeout", runCmd.Flags().Lookup("ready-timeout"))

	searchCmd.Flags().StringVar(&flagSearchDir, "dir", ".", "directory to search in")
	searchCmd.Flags().BoolVar(&flagSearch.CaseSensitive, "case-sensitive", false, "match case")
	searchCmd.Flags().BoolVar(&flagSearch.WholeWord, "whole-word", false, "match whole words only")
	searchCmd.Flags().BoolVar(&flagSearch.IsRegex, "regex", false, "keyword is a regular expression")

	runsCmd.Flags().IntVar(&flagRunsLimit, "limit", 20, "how many runs to list, newest first")
	runsCmd.Flags().String("journal", "", "sqlite file of the recorded runs")
	mustBind(overrides, "service.journal", runsCmd.Flags().Lookup("journal"))

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initSidecar

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(machineIDCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(versionCmd)

	err := rootCmd.Execute()
	if err != nil {
		slog.Error("sidecar failed", "err", err)
	}
	_ = closeLog()
	if err != nil {
		os.Exit(1)
	}
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

var rootCmd = &cobra.Command{
	Use:          "sidecar",
	Short:        "Host of the application sidecar process",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a sidecar host",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("sidecar: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:  %s\n", configPath)
		}
		fmt.Printf("sidecar: %s\n", info.Main.Version)
		fmt.Printf("go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:  %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:    %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:   %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initSidecar(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("SIDECARCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, configName)
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig()
		configPath = filepath.Join(userConfigPath, configName)
		if err := storeConfig(configPath, config); err != nil {
			return err
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		cfg, err := model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error("invalid config", d.Attr("detail"))
			}
			return fmt.Errorf("parsing config: %w", err)
		}
		config = *cfg
	}

	// environment and flags have a precedence over config file
	if err := config.ApplyOverrides(overrides); err != nil {
		return fmt.Errorf("applying overrides: %w", err)
	}
	if flagVerbose {
		config.Service.Verbose = true
	}

	// initialize logging
	w, closer, err := log.Output(config.Service.Log)
	if err != nil {
		return err
	}
	closeLog = closer
	slog.SetDefault(log.New(w, config.Service.Verbose))

	slog.Debug("sidecar run", "configPath", configPath)
	slog.Debug("sidecar run", "config", config)
	return nil
}

func storeConfig(path string, cfg model.Config) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
