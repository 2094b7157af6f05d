// Package bot wires the snippet engine to an inbound message stream: it
// answers snippet references and runs the save and list commands.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/audit"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/channels"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/composer"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/ingest"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/metrics"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/snippets"
)

// Config holds the bot section of the configuration.
type Config struct {
	// HandlerTimeout bounds the handling of one inbound message.
	HandlerTimeout time.Duration `yaml:"handler_timeout"`

	// MaxConcurrent bounds how many messages are handled at once.
	MaxConcurrent int `yaml:"max_concurrent"`

	// DedupeReferences answers a key once per message even when it is
	// mentioned several times.
	DedupeReferences bool `yaml:"dedupe_references"`

	// SplitVoiceCaption applies the caption limit to single voice notes.
	SplitVoiceCaption bool `yaml:"split_voice_caption"`

	// GroupsOnly ignores save commands outside group chats.
	GroupsOnly bool `yaml:"groups_only"`

	// ListPageSize is the longest /list message.
	ListPageSize int `yaml:"list_page_size"`

	// DisablePreview turns off link previews on text replies.
	DisablePreview bool `yaml:"disable_preview"`

	// ErrorNotice is sent to the chat when handling fails unexpectedly.
	ErrorNotice string `yaml:"error_notice"`
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		HandlerTimeout: 60 * time.Second,
		MaxConcurrent:  8,
		GroupsOnly:     true,
		ListPageSize:   4000,
		ErrorNotice:    "Sorry, something went wrong while handling that message.",
	}
}

// Bot handles inbound messages.
type Bot struct {
	cfg       Config
	store     *snippets.Store
	transport channels.Transport
	composer  *composer.Composer
	pipeline  *ingest.Pipeline
	metrics   *metrics.Observer
	logger    *slog.Logger

	username atomic.Value
}

// New creates a bot. observer may be nil.
func New(cfg Config, store *snippets.Store, transport channels.Transport, pipeline *ingest.Pipeline, observer *metrics.Observer, logger *slog.Logger) *Bot {
	def := DefaultConfig()
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = def.HandlerTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.ListPageSize <= 0 {
		cfg.ListPageSize = def.ListPageSize
	}
	if cfg.ErrorNotice == "" {
		cfg.ErrorNotice = def.ErrorNotice
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		cfg:       cfg,
		store:     store,
		transport: transport,
		composer: composer.New(composer.Options{
			CaptionLimit:      composer.DefaultCaptionLimit,
			SplitVoiceCaption: cfg.SplitVoiceCaption,
			DisablePreview:    cfg.DisablePreview,
		}),
		pipeline: pipeline,
		metrics:  observer,
		logger:   logger.With("component", "bot"),
	}
}

// SetUsername sets the bot's own username. Commands addressed to another
// bot (/save@other) are ignored once it is known.
func (b *Bot) SetUsername(name string) {
	b.username.Store(strings.TrimPrefix(name, "@"))
}

func (b *Bot) botUsername() string {
	name, _ := b.username.Load().(string)
	return name
}

// Run handles messages from msgs on a bounded worker pool until ctx is
// done or msgs is closed, then waits for running handlers.
func (b *Bot) Run(ctx context.Context, msgs <-chan *channels.IncomingMessage) error {
	var g errgroup.Group
	g.SetLimit(b.cfg.MaxConcurrent)

	b.logger.Info("bot started", "max_concurrent", b.cfg.MaxConcurrent, "handler_timeout", b.cfg.HandlerTimeout)
	defer b.logger.Info("bot stopped")

	for {
		select {
		case <-ctx.Done():
			g.Wait()
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return g.Wait()
			}
			if msg == nil {
				continue
			}
			g.Go(func() error {
				b.Handle(ctx, msg)
				return nil
			})
		}
	}
}

// Handle processes one message as an independent task with its own
// timeout. Failures and panics are logged and answered with a generic
// notice.
func (b *Bot) Handle(ctx context.Context, msg *channels.IncomingMessage) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.HandlerTimeout)
	defer cancel()

	logger := b.logger.With(
		"task_id", uuid.NewString(),
		"chat_id", msg.ChatID,
		"msg_id", msg.ID,
		"user_id", msg.From.ID,
	)
	start := time.Now()
	kind := "message"
	if _, _, ok := b.parseCommand(msg.Text); ok {
		kind = "command"
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while handling message", "panic", r, "stack", string(debug.Stack()))
			b.notifyFailure(ctx, msg, logger)
		}
		b.metrics.Handled(kind, time.Since(start))
	}()

	if err := b.handle(ctx, msg, logger); err != nil {
		logger.Error("handling message failed", "error", err)
		b.notifyFailure(ctx, msg, logger)
	}
}

func (b *Bot) notifyFailure(ctx context.Context, msg *channels.IncomingMessage, logger *slog.Logger) {
	// The task context may already be expired.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := b.transport.SendText(sendCtx, msg.ChatID, b.cfg.ErrorNotice, channels.TextOptions{ReplyTo: msg.ID})
	if err != nil {
		logger.Warn("failed to send error notice", "error", err)
	}
}

func (b *Bot) handle(ctx context.Context, msg *channels.IncomingMessage, logger *slog.Logger) error {
	if name, arg, ok := b.parseCommand(msg.Text); ok {
		switch name {
		case string(ingest.CommandSave), string(ingest.CommandSaveTrigger):
			return b.handleSave(ctx, msg, ingest.Command(name), arg, logger)
		case "list":
			return b.handleList(ctx, msg)
		}
		// Other commands are neither answered nor scanned for references.
		return nil
	}
	return b.answerReferences(ctx, msg, logger)
}

// parseCommand splits "/name[@bot] args". ok is false for plain text and
// for commands addressed to another bot.
func (b *Bot) parseCommand(text string) (name, arg string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", "", false
	}
	name = strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		target := name[at+1:]
		name = name[:at]
		if me := b.botUsername(); me != "" && !strings.EqualFold(target, me) {
			return "", "", false
		}
	}
	if name == "" {
		return "", "", false
	}
	if len(fields) > 1 {
		arg = fields[1]
	}
	return strings.ToLower(name), arg, true
}

func (b *Bot) handleSave(ctx context.Context, msg *channels.IncomingMessage, cmd ingest.Command, arg string, logger *slog.Logger) error {
	if b.cfg.GroupsOnly && !msg.IsGroup() {
		logger.Debug("save command outside a group ignored", "chat_type", msg.ChatType)
		return nil
	}
	if b.pipeline == nil {
		return fmt.Errorf("save pipeline not configured")
	}

	out, err := b.pipeline.Save(ctx, ingest.Request{
		Command: cmd,
		Arg:     arg,
		Caller:  msg.From,
		Source:  msg.ReplyTo,
	})
	switch {
	case errors.Is(err, ingest.ErrPermissionDenied), errors.Is(err, ingest.ErrBadUsage):
	case err != nil:
		b.metrics.Save("error")
		return err
	}
	b.metrics.Save(out.Status.String())

	if err := b.transport.SendText(ctx, msg.ChatID, out.Reply(), channels.TextOptions{ReplyTo: msg.ID}); err != nil {
		logger.Warn("failed to send save reply", "status", out.Status, "error", err)
	}

	if err := b.pipeline.Audit(ctx, out); err != nil {
		b.metrics.AuditError()
		var idErr *audit.IdentityError
		if errors.As(err, &idErr) {
			logger.Error("audit failed", "key", out.Key, "error", err, "hint", audit.IdentityHint)
		} else {
			logger.Error("audit failed", "key", out.Key, "error", err)
		}
	}
	return nil
}

func (b *Bot) handleList(ctx context.Context, msg *channels.IncomingMessage) error {
	keys, err := b.store.Keys()
	if err != nil {
		return fmt.Errorf("listing snippets: %w", err)
	}
	var errs []error
	for _, page := range ListPages(keys, b.cfg.ListPageSize) {
		if err := b.transport.SendText(ctx, msg.ChatID, page, channels.TextOptions{ReplyTo: msg.ID}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ListPages renders keys as "#key" lines split into messages of at most
// limit characters.
func ListPages(keys []string, limit int) []string {
	if len(keys) == 0 {
		return []string{"No snippets saved yet."}
	}
	var (
		pages []string
		cur   strings.Builder
	)
	for _, k := range keys {
		line := "#" + k
		if cur.Len() > 0 && cur.Len()+1+len(line) > limit {
			pages = append(pages, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		pages = append(pages, cur.String())
	}
	return pages
}

func (b *Bot) answerReferences(ctx context.Context, msg *channels.IncomingMessage, logger *slog.Logger) error {
	resolutions, err := b.Resolve(msg)
	if err != nil {
		return err
	}
	for _, r := range resolutions {
		if len(r.Requests) == 0 {
			continue
		}
		for _, req := range r.Requests {
			b.metrics.Request(req.Kind.String())
		}
		if err := composer.Execute(ctx, b.transport, msg.ChatID, r.Requests); err != nil {
			b.metrics.RequestError(r.Reference.Origin.String())
			logger.Warn("failed to send snippet", "key", r.Reference.Key, "origin", r.Reference.Origin, "error", err)
		}
	}
	return nil
}
