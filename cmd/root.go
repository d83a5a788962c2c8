package cmd

import (
	"fmt"
	"os"

	"github.com/boozedog/learnpath/internal/config"
	"github.com/boozedog/learnpath/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:               "lp",
	Short:             "learnpath: progress tracking server for the learning docs",
	Long:              `Saves learner progress for katas, labs and self-assessments, streams changes to open browser tabs over SSE, and serves the learning-path manifest and docs site.`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

var (
	configPath string
	logLevel   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.learnpath/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads --config if set, otherwise the default path, and applies
// flag overrides.
func loadConfig() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg = cfg.WithLogLevel(logLevel)
	}
	return cfg, nil
}

func setupLogging(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logging.Setup(os.Stderr, cfg.Log); err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	return nil
}
