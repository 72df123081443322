package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cmdime/internal/journal"
)

var (
	journalLimit     int
	journalRevisions bool
	journalJSON      bool
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recent input source switches",
	Long: `List the most recent switches recorded by the runtime, newest first.

With --revisions, list settings documents as they became current instead.`,
	Args: cobra.NoArgs,
	RunE: runJournal,
}

func init() {
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 20, "number of entries to show")
	journalCmd.Flags().BoolVar(&journalRevisions, "revisions", false, "list settings revisions")
	journalCmd.Flags().BoolVar(&journalJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(journalCmd)
}

func runJournal(cmd *cobra.Command, args []string) error {
	path := cfg.JournalPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(cmd.ErrOrStderr(), "No journal yet at", path)
		return nil
	}

	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()

	if journalRevisions {
		revs, err := j.Revisions(cmd.Context(), journalLimit)
		if err != nil {
			return err
		}
		if journalJSON {
			return writeJSON(cmd, revs)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tORIGIN\tDOCUMENT")
		for _, r := range revs {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.At.Local().Format("2006-01-02 15:04:05"), r.Origin, r.Document)
		}
		return w.Flush()
	}

	switches, err := j.Switches(cmd.Context(), journalLimit)
	if err != nil {
		return err
	}
	if journalJSON {
		return writeJSON(cmd, switches)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKEY\tSOURCE\tAPP\tRESULT")
	for _, s := range switches {
		result := s.Result
		if s.Error != "" {
			result += ": " + s.Error
		}
		app := s.App
		if app == "" {
			app = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.At.Local().Format("2006-01-02 15:04:05"), s.InputKey, s.Source, app, result)
	}
	return w.Flush()
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
