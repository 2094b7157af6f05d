// Package commands implements the snipclaw CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "snipclaw",
		Short: "snipclaw - Telegram snippet bot",
		Long: `snipclaw answers #hashtags and trigger words in Telegram groups with
saved snippets, and lets admins save new ones with /save and /savetrigger.

Examples:
  snipclaw serve
  snipclaw list
  snipclaw resolve
  snipclaw history cat`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newListCmd(),
		newResolveCmd(),
		newSetupCmd(),
		newTokenCmd(),
		newHistoryCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	return rootCmd
}
