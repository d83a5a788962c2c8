package cmd

import (
	"fmt"

	"github.com/boozedog/learnpath/internal/manifest"
	"github.com/spf13/cobra"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Work with the learning-path manifest",
}

var manifestCheckCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Validate a learning-path manifest",
	Long:  `Parses and validates the manifest at path, or the configured manifest when no path is given, and prints a summary of its paths.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runManifestCheck,
}

func init() {
	manifestCmd.AddCommand(manifestCheckCmd)
	rootCmd.AddCommand(manifestCmd)
}

func runManifestCheck(_ *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if path, err = cfg.ManifestPath(); err != nil {
			return fmt.Errorf("get manifest path: %w", err)
		}
	}

	m, err := manifest.Load(path)
	if err != nil {
		return fmt.Errorf("invalid manifest %s: %w", path, err)
	}

	fmt.Printf("%s: %d paths, %d items\n", path, len(m.Paths), m.ItemCount())
	for _, p := range m.Paths {
		fmt.Printf("  %-24s %d items  %s\n", p.ID, len(p.Items), p.Title)
	}
	return nil
}
