package cmd

import (
	"fmt"
	"os"

	"github.com/boozedog/learnpath/internal/config"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config and create the data directories",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(_ *cobra.Command, _ []string) error {
	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return fmt.Errorf("get config path: %w", err)
		}
		path = p
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := cfg.EnsureDirs(); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists at %s\n", path)
		return nil
	}

	if err := cfg.SaveTo(path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("Wrote config to %s\n", path)
	return nil
}
