package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/boozedog/learnpath/internal/progress"
	"github.com/spf13/cobra"
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Inspect saved progress documents",
}

var progressListCmd = &cobra.Command{
	Use:   "list [type]",
	Short: "List documents of a progress type, or the types when none is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProgressList,
}

var progressShowCmd = &cobra.Command{
	Use:   "show <type> <id>",
	Short: "Print a saved progress document",
	Args:  cobra.ExactArgs(2),
	RunE:  runProgressShow,
}

func init() {
	progressCmd.AddCommand(progressListCmd, progressShowCmd)
	rootCmd.AddCommand(progressCmd)
}

func openStore() (*progress.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	dir, err := cfg.ProgressDir()
	if err != nil {
		return nil, fmt.Errorf("get progress dir: %w", err)
	}
	return progress.NewStore(dir), nil
}

func runProgressList(_ *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	if len(args) == 0 {
		types, err := store.Types()
		if err != nil {
			return fmt.Errorf("list progress types: %w", err)
		}
		if len(types) == 0 {
			fmt.Println("No progress saved.")
			return nil
		}
		for _, t := range types {
			fmt.Println(t)
		}
		return nil
	}

	items, err := store.List(args[0])
	if err != nil {
		return fmt.Errorf("list progress: %w", err)
	}
	if len(items) == 0 {
		fmt.Printf("No %s progress saved.\n", args[0])
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUPDATED\tSIZE")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%s\t%d\n", it.ID, it.UpdatedAt.Local().Format("2006-01-02 15:04"), it.Size)
	}
	return w.Flush()
}

func runProgressShow(_ *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	doc, err := store.Load(args[0], args[1])
	if err != nil {
		return fmt.Errorf("load progress: %w", err)
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, doc.Data, "", "  "); err != nil {
		return fmt.Errorf("format progress: %w", err)
	}
	fmt.Printf("%s/%s (updated %s)\n", doc.Type, doc.ID, doc.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	buf.WriteByte('\n')
	_, err = os.Stdout.Write(buf.Bytes())
	return err
}
