package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/boozedog/learnpath/internal/journal"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show the progress save journal",
	RunE:  runJournal,
}

var (
	journalType  string
	journalID    string
	journalSince time.Duration
)

func init() {
	journalCmd.Flags().StringVar(&journalType, "type", "", "filter by progress type")
	journalCmd.Flags().StringVar(&journalID, "id", "", "filter by document id")
	journalCmd.Flags().DurationVar(&journalSince, "since", 0, "only show saves newer than this (e.g. 24h)")
	rootCmd.AddCommand(journalCmd)
}

func runJournal(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir, err := cfg.JournalDir()
	if err != nil {
		return fmt.Errorf("get journal dir: %w", err)
	}

	q := journal.Query{Type: journalType, ID: journalID}
	if journalSince > 0 {
		q.After = time.Now().Add(-journalSince)
	}

	entries, err := journal.Read(dir, q)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No saves found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tID\tBYTES\tREMOTE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", e.TS.Local().Format("2006-01-02 15:04:05"), e.Type, e.ID, e.Bytes, e.Remote)
	}
	return w.Flush()
}
