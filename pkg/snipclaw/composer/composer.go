// Package composer turns a snippet record into the ordered outbound
// requests that re-post it, and executes them on a transport.
package composer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/channels"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/richtext"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/snippets"
)

// DefaultCaptionLimit is the platform limit on media captions.
const DefaultCaptionLimit = 1024

// Options configures the composer.
type Options struct {
	// CaptionLimit is the longest body attached as a caption. Longer bodies
	// are sent as a separate text message before the media.
	CaptionLimit int

	// SplitVoiceCaption applies the caption limit to single voice notes.
	SplitVoiceCaption bool

	DisablePreview bool
}

// DefaultOptions returns default options.
func DefaultOptions() Options {
	return Options{CaptionLimit: DefaultCaptionLimit}
}

// Kind identifies an outbound request type.
type Kind int

const (
	KindText Kind = iota
	KindMediaGroup
	KindVoice
	KindCopy
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindMediaGroup:
		return "media_group"
	case KindVoice:
		return "voice"
	case KindCopy:
		return "copy"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Request is one outbound call.
type Request struct {
	Kind    Kind
	ReplyTo int64

	// KindText.
	Text           string
	ParseMode      channels.ParseMode
	DisablePreview bool

	// KindMediaGroup (one album) and KindVoice (exactly one item).
	Items []channels.MediaItem

	// KindCopy.
	FromChatID int64
	MessageID  int64
}

// Composer builds replies.
type Composer struct {
	opts Options
}

// New creates a composer.
func New(opts Options) *Composer {
	if opts.CaptionLimit <= 0 {
		opts.CaptionLimit = DefaultCaptionLimit
	}
	return &Composer{opts: opts}
}

// Compose returns the requests that re-post rec threaded under replyTo.
// A missing record yields no requests.
func (c *Composer) Compose(rec snippets.Record, replyTo int64) []Request {
	switch rec.Kind {
	case snippets.RecordForward:
		return []Request{{
			Kind:       KindCopy,
			ReplyTo:    replyTo,
			FromChatID: rec.Forward.ChatID,
			MessageID:  rec.Forward.MessageID,
		}}
	case snippets.RecordLocal:
		return c.composeLocal(rec.Local, replyTo)
	}
	return nil
}

func (c *Composer) composeLocal(local *snippets.Local, replyTo int64) []Request {
	body := local.Body
	text := formatBody(body)
	mode := body.Flavor.ParseMode()
	long := richtext.VisibleLength(body.Text, body.Flavor == snippets.FlavorHTML) > c.opts.CaptionLimit

	if len(local.Media) == 0 {
		if body.Text == "" {
			return nil
		}
		return []Request{c.textRequest(text, mode, replyTo)}
	}

	var reqs []Request
	caption := text
	if long && (len(local.Media) != 1 || local.Media[0].Type != channels.MediaVoice || c.opts.SplitVoiceCaption) {
		reqs = append(reqs, c.textRequest(text, mode, replyTo))
		caption = ""
	}

	if len(local.Media) == 1 && local.Media[0].Type == channels.MediaVoice {
		return append(reqs, Request{
			Kind:    KindVoice,
			ReplyTo: replyTo,
			Items:   []channels.MediaItem{mediaItem(local.Media[0], caption, mode)},
		})
	}

	items := make([]channels.MediaItem, len(local.Media))
	for i, m := range local.Media {
		itemCaption := ""
		if i == 0 {
			itemCaption = caption
		}
		items[i] = mediaItem(m, itemCaption, mode)
	}
	for _, album := range partition(items) {
		reqs = append(reqs, Request{Kind: KindMediaGroup, ReplyTo: replyTo, Items: album})
	}
	return reqs
}

func (c *Composer) textRequest(text string, mode channels.ParseMode, replyTo int64) Request {
	return Request{
		Kind:           KindText,
		ReplyTo:        replyTo,
		Text:           text,
		ParseMode:      mode,
		DisablePreview: c.opts.DisablePreview,
	}
}

// formatBody prepares a stored body for sending: Markdown is escaped for
// MarkdownV2 keeping * _ [ ] ( ) active, HTML passes through.
func formatBody(body snippets.Body) string {
	if body.Flavor == snippets.FlavorHTML {
		return body.Text
	}
	return richtext.EscapeSnippetMarkdown(body.Text)
}

func mediaItem(m snippets.MediaFile, caption string, mode channels.ParseMode) channels.MediaItem {
	item := channels.MediaItem{Type: m.Type, Path: m.Path}
	if caption != "" {
		item.Caption = caption
		item.ParseMode = mode
	}
	return item
}

type albumClass int

const (
	classVisual albumClass = iota
	classAudio
	classDocument
)

func classOf(t channels.MediaType) albumClass {
	switch t {
	case channels.MediaPhoto, channels.MediaVideo:
		return classVisual
	case channels.MediaAudio, channels.MediaVoice:
		return classAudio
	}
	return classDocument
}

// partition splits items into albums the platform accepts: photos and
// videos together, audio alone, documents alone. Albums are ordered by
// their first item and keep slot order inside.
func partition(items []channels.MediaItem) [][]channels.MediaItem {
	var (
		albums [][]channels.MediaItem
		index  = make(map[albumClass]int)
	)
	for _, it := range items {
		cls := classOf(it.Type)
		i, ok := index[cls]
		if !ok {
			i = len(albums)
			index[cls] = i
			albums = append(albums, nil)
		}
		albums[i] = append(albums[i], it)
	}
	return albums
}

// Execute runs reqs in order on t. A failed request does not stop the
// remaining ones; all failures are returned joined.
func Execute(ctx context.Context, t channels.Transport, chatID int64, reqs []Request) error {
	var errs []error
	for _, r := range reqs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := execute(ctx, t, chatID, r); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Kind, err))
		}
	}
	return errors.Join(errs...)
}

func execute(ctx context.Context, t channels.Transport, chatID int64, r Request) error {
	switch r.Kind {
	case KindText:
		return t.SendText(ctx, chatID, r.Text, channels.TextOptions{
			ParseMode:      r.ParseMode,
			ReplyTo:        r.ReplyTo,
			DisablePreview: r.DisablePreview,
		})
	case KindMediaGroup:
		return t.SendMediaGroup(ctx, chatID, r.Items, r.ReplyTo)
	case KindVoice:
		if len(r.Items) != 1 {
			return fmt.Errorf("voice request with %d items", len(r.Items))
		}
		return t.SendVoice(ctx, chatID, r.Items[0], r.ReplyTo)
	case KindCopy:
		return t.CopyMessage(ctx, chatID, r.FromChatID, r.MessageID, r.ReplyTo)
	}
	return fmt.Errorf("unknown request kind %d", int(r.Kind))
}
