package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/bot"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/channels"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/composer"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/snippets"
)

// Message ids used for dry runs. Lines starting with "^" are treated as a
// reply to a parent message.
const (
	dryRunMessageID = 2
	dryRunParentID  = 1
)

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [text]",
		Short: "Show what the bot would send for a message",
		Long: `Resolve #tags and trigger words against the local store without
contacting Telegram. Without arguments an interactive console starts;
prefix a line with ^ to treat it as a reply.

Examples:
  snipclaw resolve "ouch, see #rules"
  snipclaw resolve`,
		RunE: runResolve,
	}
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg, cmd.ErrOrStderr())
	store := snippets.NewStore(cfg.Snippets.Store(), logger)
	b := bot.New(cfg.Bot, store, nil, nil, nil, logger)
	out := cmd.OutOrStdout()

	if len(args) > 0 {
		return printResolution(out, b, strings.Join(args, " "))
	}

	homeDir, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "resolve> ",
		HistoryFile:       filepath.Join(homeDir, ".snipclaw-history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdin:             readline.NewCancelableStdin(os.Stdin),
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(out, "Type a message to resolve. Prefix with ^ for a reply. 'exit' quits.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit", "q":
			return nil
		}
		if err := printResolution(out, b, line); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

// printResolution resolves one line and describes the outgoing requests.
func printResolution(w io.Writer, b *bot.Bot, line string) error {
	msg := &channels.IncomingMessage{ID: dryRunMessageID, ChatType: "group"}
	if rest, ok := strings.CutPrefix(line, "^"); ok {
		msg.ReplyTo = &channels.IncomingMessage{ID: dryRunParentID, ChatType: "group"}
		line = strings.TrimSpace(rest)
	}
	msg.Text = line

	resolutions, err := b.Resolve(msg)
	if err != nil {
		return err
	}
	if len(resolutions) == 0 {
		fmt.Fprintln(w, "  (no references)")
		return nil
	}

	for _, res := range resolutions {
		status := "not found"
		switch res.Record.Kind {
		case snippets.RecordLocal:
			status = "local"
		case snippets.RecordForward:
			status = "forward"
		}
		fmt.Fprintf(w, "  %s %s -> %s (reply to %d)\n", res.Reference.Origin, res.Reference.Key, status, res.ReplyTo)
		for _, req := range res.Requests {
			fmt.Fprintf(w, "    %s\n", describeRequest(req))
		}
	}
	return nil
}

func describeRequest(r composer.Request) string {
	switch r.Kind {
	case composer.KindText:
		return fmt.Sprintf("text [%s] %q", parseModeName(r.ParseMode), preview(r.Text))
	case composer.KindCopy:
		return fmt.Sprintf("copy message %d from chat %d", r.MessageID, r.FromChatID)
	}

	parts := make([]string, 0, len(r.Items))
	for _, it := range r.Items {
		part := fmt.Sprintf("%s:%s", it.Type, filepath.Base(it.Path))
		if it.Caption != "" {
			part += fmt.Sprintf(" caption=%q", preview(it.Caption))
		}
		parts = append(parts, part)
	}
	return fmt.Sprintf("%s %s", r.Kind, strings.Join(parts, ", "))
}

func parseModeName(m channels.ParseMode) string {
	if m == channels.ParseModeNone {
		return "plain"
	}
	return string(m)
}

func preview(s string) string {
	const limit = 60
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "…"
}
