// Package ingest saves a replied-to message as a snippet: a local copy of
// its text and media, or a forward reference when the media are too large.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/audit"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/channels"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/richtext"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/snippets"
)

// DefaultMaxMediaSize is the largest total attachment size copied locally.
const DefaultMaxMediaSize int64 = 10 * 1024 * 1024

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrBadUsage         = errors.New("bad usage")
)

// Command selects the key namespace of a save.
type Command string

const (
	CommandSave        Command = "save"
	CommandSaveTrigger Command = "savetrigger"
)

// Status is the result class of a save.
type Status int

const (
	StatusSaved Status = iota
	StatusSavedForward
	StatusPermissionDenied
	StatusBadUsage
)

func (s Status) String() string {
	switch s {
	case StatusSaved:
		return "saved"
	case StatusSavedForward:
		return "saved_forward"
	case StatusPermissionDenied:
		return "permission_denied"
	case StatusBadUsage:
		return "bad_usage"
	}
	return "unknown"
}

// Admins is the set of user ids allowed to save.
type Admins map[int64]struct{}

// NewAdmins builds an admin set.
func NewAdmins(ids []int64) Admins {
	a := make(Admins, len(ids))
	for _, id := range ids {
		a[id] = struct{}{}
	}
	return a
}

// Contains reports whether id is an admin.
func (a Admins) Contains(id int64) bool {
	_, ok := a[id]
	return ok
}

// Config configures the pipeline.
type Config struct {
	Flavor              snippets.Flavor
	MaxMediaSize        int64
	DownloadConcurrency int
}

// Request is one save command.
type Request struct {
	Command Command
	// Arg is the raw key (or trigger word) typed after the command.
	Arg    string
	Caller channels.User
	// Source is the message the command replies to; nil when it replies to
	// nothing.
	Source *channels.IncomingMessage
}

// Outcome reports a save.
type Outcome struct {
	Status  Status
	Command Command
	Key     string
	Flavor  snippets.Flavor
	Caller  channels.User
	Changed []string
	Media   int
	Failed  int
}

// Reply returns the user-visible confirmation or error text.
func (o Outcome) Reply() string {
	switch o.Status {
	case StatusPermissionDenied:
		return fmt.Sprintf("ERROR: Permission denied (%d)", o.Caller.ID)
	case StatusBadUsage:
		if o.Command == CommandSaveTrigger {
			return "Usage: /savetrigger word (reply to the message to save)"
		}
		return "Usage: /save nameofhashtag (reply to the message to save)"
	case StatusSavedForward:
		return fmt.Sprintf("Saved snippet '%s' (forward-only; media too large)", o.Key)
	}
	mode := "Markdown"
	if o.Flavor == snippets.FlavorHTML {
		mode = "HTML"
	}
	msg := fmt.Sprintf("Saved snip '%s' (%s mode)", o.Key, mode)
	if o.Failed > 0 {
		msg += fmt.Sprintf(", %d attachment(s) could not be downloaded", o.Failed)
	}
	return msg
}

// Pipeline saves snippets.
type Pipeline struct {
	store     *snippets.Store
	transport channels.Transport
	recorder  audit.Recorder
	admins    Admins
	cfg       Config
	logger    *slog.Logger
}

// New creates a pipeline. A nil recorder disables auditing.
func New(store *snippets.Store, transport channels.Transport, recorder audit.Recorder, admins Admins, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxMediaSize <= 0 {
		cfg.MaxMediaSize = DefaultMaxMediaSize
	}
	if cfg.Flavor == "" {
		cfg.Flavor = snippets.FlavorHTML
	}
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Pipeline{
		store:     store,
		transport: transport,
		recorder:  recorder,
		admins:    admins,
		cfg:       cfg,
		logger:    logger.With("component", "ingest"),
	}
}

// Save runs a save command. Permission and usage problems are reported
// through the outcome status together with ErrPermissionDenied or
// ErrBadUsage.
func (p *Pipeline) Save(ctx context.Context, req Request) (Outcome, error) {
	out := Outcome{Command: req.Command, Caller: req.Caller, Flavor: p.cfg.Flavor}

	if !p.admins.Contains(req.Caller.ID) {
		out.Status = StatusPermissionDenied
		p.logger.Warn("save rejected", "user_id", req.Caller.ID, "command", req.Command)
		return out, ErrPermissionDenied
	}

	key, err := p.key(req)
	if err != nil || req.Source == nil {
		out.Status = StatusBadUsage
		return out, ErrBadUsage
	}
	out.Key = key
	src := req.Source
	logger := p.logger.With("key", key, "user_id", req.Caller.ID)

	var total int64
	for _, a := range src.Attachments {
		total += a.FileSize
	}

	if total > p.cfg.MaxMediaSize {
		changed, err := p.store.WriteForwardRef(key, snippets.ForwardRef{ChatID: src.ChatID, MessageID: src.ID})
		if err != nil {
			return out, fmt.Errorf("saving forward reference: %w", err)
		}
		out.Status = StatusSavedForward
		out.Changed = changed
		logger.Info("saved as forward reference", "size", total, "chat_id", src.ChatID, "message_id", src.ID)
		return out, nil
	}

	media := make([]snippets.MediaPayload, len(src.Attachments))
	for i, a := range src.Attachments {
		media[i] = p.payload(a)
	}

	res, err := p.store.WriteLocal(ctx, key, snippets.LocalWrite{
		Flavor:      p.cfg.Flavor,
		Body:        RenderBody(src, p.cfg.Flavor),
		Media:       media,
		Concurrency: p.cfg.DownloadConcurrency,
	})
	if err != nil {
		return out, fmt.Errorf("saving snippet: %w", err)
	}
	out.Status = StatusSaved
	out.Changed = res.Changed
	out.Media = len(res.Media)
	out.Failed = res.Failed
	return out, nil
}

// Audit hands the files changed by a successful save to the recorder.
func (p *Pipeline) Audit(ctx context.Context, out Outcome) error {
	if out.Status != StatusSaved && out.Status != StatusSavedForward {
		return nil
	}
	kind := "local"
	if out.Status == StatusSavedForward {
		kind = "forward"
	}
	author := strings.TrimPrefix(out.Caller.DisplayName(), "@")
	change := audit.Change{
		Key:     out.Key,
		Kind:    kind,
		Files:   out.Changed,
		Message: fmt.Sprintf("#%s added by @%s", out.Key, author),
		Author:  "@" + author,
		Time:    time.Now(),
	}
	if err := p.recorder.Record(ctx, change); err != nil {
		return fmt.Errorf("recording %q: %w", out.Key, err)
	}
	return nil
}

func (p *Pipeline) key(req Request) (string, error) {
	arg := strings.TrimSpace(req.Arg)
	if arg == "" {
		return "", snippets.ErrInvalidKey
	}
	if req.Command == CommandSaveTrigger {
		word := strings.ToLower(strings.TrimPrefix(arg, "#"))
		if strings.HasPrefix(word, snippets.TriggerPrefix) {
			word = strings.TrimPrefix(word, snippets.TriggerPrefix)
		}
		return snippets.NormalizeKey(snippets.TriggerKey(word))
	}
	return snippets.NormalizeKey(arg)
}

// payload builds the download of one attachment. The extension comes from
// the attachment file name, else from the platform file path.
func (p *Pipeline) payload(a channels.Attachment) snippets.MediaPayload {
	return snippets.MediaPayload{
		Type: a.Type,
		Ext:  filepath.Ext(a.FileName),
		Fetch: func(ctx context.Context, w io.Writer) (string, error) {
			f, err := p.transport.GetFile(ctx, a.FileID)
			if err != nil {
				return "", fmt.Errorf("resolving file %s: %w", a.FileID, err)
			}
			if err := p.transport.DownloadFile(ctx, f, w); err != nil {
				return "", fmt.Errorf("downloading file %s: %w", a.FileID, err)
			}
			return path.Ext(f.FilePath), nil
		},
	}
}

// RenderBody renders the text and caption of msg, joined by a newline, in
// the given flavor.
func RenderBody(msg *channels.IncomingMessage, flavor snippets.Flavor) string {
	render := richtext.RenderMarkdown
	if flavor == snippets.FlavorHTML {
		render = richtext.RenderHTML
	}
	var parts []string
	if msg.Text != "" {
		parts = append(parts, render(msg.Text, msg.Entities))
	}
	if msg.Caption != "" {
		parts = append(parts, render(msg.Caption, msg.CaptionEntities))
	}
	return strings.Join(parts, "\n")
}
