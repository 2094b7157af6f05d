package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/config"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the bot token in the OS keyring",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set",
		Short: "Store the bot token in the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !config.KeyringAvailable() {
				return fmt.Errorf("OS keyring unavailable: export %s instead", config.TokenEnvVar)
			}
			token, err := config.ReadPassword("Bot token: ")
			if err != nil {
				return err
			}
			if token == "" {
				return fmt.Errorf("empty token")
			}
			if err := config.StoreToken(token); err != nil {
				return fmt.Errorf("storing token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Token stored in the OS keyring.")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove the bot token from the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.DeleteToken(); err != nil {
				return fmt.Errorf("deleting token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Token removed from the OS keyring.")
			return nil
		},
	})

	return cmd
}
