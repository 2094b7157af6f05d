// Package channeltest provides an in-memory channels.Transport for tests.
package channeltest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/channels"
)

// Call records one outbound transport call.
type Call struct {
	Method string
	ChatID int64

	Text    string
	Options channels.TextOptions

	Items   []channels.MediaItem
	ReplyTo int64

	FromChatID int64
	MessageID  int64
}

// Transport records every call and serves files from memory.
type Transport struct {
	mu    sync.Mutex
	calls []Call

	// Files maps file ids to content for GetFile/DownloadFile.
	Files map[string][]byte
	// Paths maps file ids to the platform file path returned by GetFile.
	Paths map[string]string
	// Fail makes the named methods return an error.
	Fail map[string]error
}

// New creates an empty fake transport.
func New() *Transport {
	return &Transport{
		Files: make(map[string][]byte),
		Paths: make(map[string]string),
		Fail:  make(map[string]error),
	}
}

// Calls returns a copy of the recorded calls.
func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Call, len(t.calls))
	copy(out, t.calls)
	return out
}

// Reset drops recorded calls.
func (t *Transport) Reset() {
	t.mu.Lock()
	t.calls = nil
	t.mu.Unlock()
}

func (t *Transport) record(c Call) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, c)
	return t.Fail[c.Method]
}

func (t *Transport) SendText(_ context.Context, chatID int64, text string, opts channels.TextOptions) error {
	return t.record(Call{Method: "SendText", ChatID: chatID, Text: text, Options: opts, ReplyTo: opts.ReplyTo})
}

func (t *Transport) SendMediaGroup(_ context.Context, chatID int64, items []channels.MediaItem, replyTo int64) error {
	return t.record(Call{Method: "SendMediaGroup", ChatID: chatID, Items: items, ReplyTo: replyTo})
}

func (t *Transport) SendVoice(_ context.Context, chatID int64, voice channels.MediaItem, replyTo int64) error {
	return t.record(Call{Method: "SendVoice", ChatID: chatID, Items: []channels.MediaItem{voice}, ReplyTo: replyTo})
}

func (t *Transport) CopyMessage(_ context.Context, chatID, fromChatID, messageID, replyTo int64) error {
	return t.record(Call{Method: "CopyMessage", ChatID: chatID, FromChatID: fromChatID, MessageID: messageID, ReplyTo: replyTo})
}

func (t *Transport) GetFile(_ context.Context, fileID string) (*channels.File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.Fail["GetFile"]; err != nil {
		return nil, err
	}
	data, ok := t.Files[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s not found", fileID)
	}
	return &channels.File{FileID: fileID, FilePath: t.Paths[fileID], FileSize: int64(len(data))}, nil
}

func (t *Transport) DownloadFile(_ context.Context, file *channels.File, w io.Writer) error {
	t.mu.Lock()
	data, ok := t.Files[file.FileID]
	fail := t.Fail["DownloadFile"]
	t.mu.Unlock()
	if fail != nil {
		return fail
	}
	if !ok {
		return channels.ErrMediaDownloadFailed
	}
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}

var _ channels.Transport = (*Transport)(nil)
