package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/audit"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [key]",
		Short: "Show the change journal",
		Long: `Show the most recent saves recorded in the SQLite journal
(journal.path), optionally only for one key.

Examples:
  snipclaw history
  snipclaw history cat --limit 5`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Journal.Path == "" {
				return fmt.Errorf("journal disabled: set journal.path in the config")
			}
			journal, err := audit.OpenJournal(cfg.Journal)
			if err != nil {
				return err
			}
			defer journal.Close()

			var key string
			if len(args) == 1 {
				key = strings.ToLower(strings.TrimPrefix(args[0], "#"))
			}
			limit, _ := cmd.Flags().GetInt("limit")
			entries, err := journal.List(cmd.Context(), key, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No changes recorded.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tKEY\tKIND\tAUTHOR\tFILES")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
					e.RecordedAt.Local().Format("2006-01-02 15:04"), e.Key, e.Kind, e.Author, len(e.Files))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "maximum entries to show")
	return cmd
}
