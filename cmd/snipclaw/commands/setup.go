package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/config"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/snippets"
)

func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive wizard that writes config.yaml",
		Long: `Ask for the bot token, admins, snippet directory and git identity,
then write the configuration file. The token goes to the OS keyring when
available and is never written to the file.`,
		RunE: runSetup,
	}
	cmd.Flags().StringP("output", "o", "config.yaml", "file to write")
	return cmd
}

// setupAnswers holds the wizard fields as strings for the form widgets.
type setupAnswers struct {
	token    string
	admins   string
	dir      string
	flavor   string
	gitOn    bool
	gitName  string
	gitEmail string
	gitPush  bool
	journal  string
}

func runSetup(cmd *cobra.Command, _ []string) error {
	output, _ := cmd.Flags().GetString("output")
	cfg := config.DefaultConfig()

	a := setupAnswers{
		dir:     cfg.Snippets.Dir,
		flavor:  string(cfg.Snippets.Flavor),
		gitOn:   cfg.Git.Enabled,
		gitPush: cfg.Git.Push,
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bot token").
				Description("From @BotFather. Leave empty to use " + config.TokenEnvVar + ".").
				EchoMode(huh.EchoModePassword).
				Value(&a.token),
			huh.NewInput().
				Title("Admin user ids").
				Description("Comma separated Telegram user ids allowed to save snippets.").
				Value(&a.admins).
				Validate(func(s string) error {
					_, err := parseAdmins(s)
					return err
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Snippet directory").
				Value(&a.dir).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("required")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Format of new snippets").
				Options(
					huh.NewOption("HTML", string(snippets.FlavorHTML)),
					huh.NewOption("Markdown", string(snippets.FlavorMarkdown)),
				).
				Value(&a.flavor),
			huh.NewInput().
				Title("Journal database").
				Description("SQLite file recording every save. Leave empty to disable.").
				Value(&a.journal),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Commit every save with git?").
				Value(&a.gitOn),
			huh.NewInput().
				Title("Git author name").
				Value(&a.gitName),
			huh.NewInput().
				Title("Git author email").
				Value(&a.gitEmail),
			huh.NewConfirm().
				Title("Push after each commit?").
				Value(&a.gitPush),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	admins, err := parseAdmins(a.admins)
	if err != nil {
		return err
	}
	cfg.Telegram.Admins = admins
	cfg.Snippets.Dir = strings.TrimSpace(a.dir)
	cfg.Snippets.Flavor = snippets.Flavor(a.flavor)
	cfg.Journal.Path = strings.TrimSpace(a.journal)
	cfg.Git.Enabled = a.gitOn
	cfg.Git.Name = strings.TrimSpace(a.gitName)
	cfg.Git.Email = strings.TrimSpace(a.gitEmail)
	cfg.Git.Push = a.gitPush

	out := cmd.OutOrStdout()
	if token := strings.TrimSpace(a.token); token != "" {
		if config.KeyringAvailable() {
			if err := config.StoreToken(token); err != nil {
				return fmt.Errorf("storing token: %w", err)
			}
			fmt.Fprintln(out, "Token stored in the OS keyring.")
		} else {
			fmt.Fprintf(out, "OS keyring unavailable: export %s before running serve.\n", config.TokenEnvVar)
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.SaveConfigToFile(cfg, output); err != nil {
		return err
	}
	fmt.Fprintf(out, "Configuration written to %s\n", output)
	if cfg.Git.Enabled {
		fmt.Fprintf(out, "Make sure %s is a git work tree with a configured remote.\n", cfg.Snippets.Dir)
	}
	return nil
}

// parseAdmins parses a comma or space separated id list.
func parseAdmins(s string) ([]int64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	ids := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
