package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/snippets"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved snippet keys",
		Long: `List every key in the snippet store, including forward-only snippets.

Examples:
  snipclaw list
  snipclaw list --triggers`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			store := snippets.NewStore(cfg.Snippets.Store(), newLogger(cmd, cfg, cmd.ErrOrStderr()))

			onlyTriggers, _ := cmd.Flags().GetBool("triggers")
			var keys []string
			if onlyTriggers {
				keys, err = store.TriggerWords()
			} else {
				keys, err = store.Keys()
			}
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No snippets saved yet.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(keys, "\n"))
			return nil
		},
	}
	cmd.Flags().Bool("triggers", false, "list only trigger words")
	return cmd
}
