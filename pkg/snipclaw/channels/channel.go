// Package channels defines the transport interface and message types shared
// by the snippet engine and the chat platform implementation. The Telegram
// channel implements Transport and emits IncomingMessage values.
package channels

import (
	"context"
	"fmt"
	"io"
	"time"
)

// MediaType identifies the kind of an attachment or outbound media item.
type MediaType string

const (
	MediaPhoto     MediaType = "photo"
	MediaVideo     MediaType = "video"
	MediaAudio     MediaType = "audio"
	MediaVoice     MediaType = "voice"
	MediaDocument  MediaType = "document"
	MediaAnimation MediaType = "animation"
	MediaVideoNote MediaType = "video_note"
)

// ParseMode selects how the platform interprets formatting in text.
type ParseMode string

const (
	ParseModeNone       ParseMode = ""
	ParseModeMarkdownV2 ParseMode = "MarkdownV2"
	ParseModeHTML       ParseMode = "HTML"
)

// Transport is the outbound capability of a chat platform.
type Transport interface {
	// SendText sends a formatted text message.
	SendText(ctx context.Context, chatID int64, text string, opts TextOptions) error

	// SendMediaGroup sends a set of media items as one album. At most one
	// item should carry a caption.
	SendMediaGroup(ctx context.Context, chatID int64, items []MediaItem, replyTo int64) error

	// SendVoice sends a single voice message.
	SendVoice(ctx context.Context, chatID int64, voice MediaItem, replyTo int64) error

	// CopyMessage re-posts an existing message without the original author.
	CopyMessage(ctx context.Context, chatID, fromChatID, messageID, replyTo int64) error

	// GetFile resolves a file id to a downloadable file.
	GetFile(ctx context.Context, fileID string) (*File, error)

	// DownloadFile streams the content of a resolved file into w.
	DownloadFile(ctx context.Context, file *File, w io.Writer) error
}

// Receiver emits inbound messages.
type Receiver interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Receive() <-chan *IncomingMessage
}

// TextOptions carries optional parameters for SendText.
type TextOptions struct {
	ParseMode ParseMode

	// ReplyTo is the message id to thread under (0 = none).
	ReplyTo int64

	DisablePreview bool
}

// MediaItem is an outbound media file stored on local disk.
type MediaItem struct {
	Type      MediaType
	Path      string
	Caption   string
	ParseMode ParseMode
}

// File is a platform file handle returned by GetFile.
type File struct {
	FileID   string
	FilePath string
	FileSize int64
}

// User identifies a message sender.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// DisplayName returns "@username" when available, else the first name.
func (u User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return fmt.Sprintf("%d", u.ID)
}

// Entity is a formatting span in message text. Offset and Length are
// counted in UTF-16 code units.
type Entity struct {
	Type     string
	Offset   int
	Length   int
	URL      string
	Language string
}

// Attachment describes a media file attached to an inbound message.
type Attachment struct {
	Type     MediaType
	FileID   string
	FileName string
	MimeType string
	FileSize int64
}

// IncomingMessage is a message received from the platform.
type IncomingMessage struct {
	ID       int64
	ChatID   int64
	ChatType string
	From     User
	Date     time.Time

	Text            string
	Entities        []Entity
	Caption         string
	CaptionEntities []Entity

	// ReplyTo is the message this one answers, if any.
	ReplyTo *IncomingMessage

	Attachments []Attachment
}

// IsGroup reports whether the message was posted in a group chat.
func (m *IncomingMessage) IsGroup() bool {
	return m.ChatType == "group" || m.ChatType == "supergroup"
}

// Content returns the text, or the caption for media messages.
func (m *IncomingMessage) Content() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// Errors.
var (
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrSendFailed          = fmt.Errorf("failed to send message")
	ErrMediaDownloadFailed = fmt.Errorf("failed to download media")
)
