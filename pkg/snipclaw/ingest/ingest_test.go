package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/audit"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/channels"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/channels/channeltest"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/snippets"
)

const adminID = 42

type captureRecorder struct {
	changes []audit.Change
	err     error
}

func (r *captureRecorder) Record(_ context.Context, c audit.Change) error {
	r.changes = append(r.changes, c)
	return r.err
}

func newPipeline(t *testing.T, flavor snippets.Flavor) (*Pipeline, *snippets.Store, *channeltest.Transport, *captureRecorder) {
	t.Helper()
	store := snippets.NewStore(snippets.Config{Dir: t.TempDir()}, nil)
	tr := channeltest.New()
	rec := &captureRecorder{}
	p := New(store, tr, rec, NewAdmins([]int64{adminID}), Config{Flavor: flavor}, nil)
	return p, store, tr, rec
}

func admin() channels.User { return channels.User{ID: adminID, Username: "alice"} }

func TestSave_PermissionDenied(t *testing.T) {
	t.Parallel()
	p, store, _, rec := newPipeline(t, snippets.FlavorHTML)

	out, err := p.Save(context.Background(), Request{
		Command: CommandSaveTrigger,
		Arg:     "ouch",
		Caller:  channels.User{ID: 7},
		Source:  &channels.IncomingMessage{ID: 1, ChatID: -1, Text: "ouch!"},
	})
	if !errors.Is(err, ErrPermissionDenied) || out.Status != StatusPermissionDenied {
		t.Fatalf("Save = %v, %v; want permission denied", out.Status, err)
	}
	if got := out.Reply(); got != "ERROR: Permission denied (7)" {
		t.Errorf("Reply = %q", got)
	}

	keys, err := store.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("keys = %v, want nothing written", keys)
	}
	if err := p.Audit(context.Background(), out); err != nil || len(rec.changes) != 0 {
		t.Errorf("audit ran for a denied save: %v %v", err, rec.changes)
	}
}

func TestSave_BadUsage(t *testing.T) {
	t.Parallel()
	p, _, _, _ := newPipeline(t, snippets.FlavorHTML)
	src := &channels.IncomingMessage{ID: 1, ChatID: -1, Text: "x"}

	tests := []struct {
		name string
		req  Request
	}{
		{"missing key", Request{Command: CommandSave, Caller: admin(), Source: src}},
		{"invalid key", Request{Command: CommandSave, Arg: "a/b", Caller: admin(), Source: src}},
		{"not a reply", Request{Command: CommandSave, Arg: "k", Caller: admin()}},
	}
	for _, tt := range tests {
		out, err := p.Save(context.Background(), tt.req)
		if !errors.Is(err, ErrBadUsage) || out.Status != StatusBadUsage {
			t.Errorf("%s: Save = %v, %v; want bad usage", tt.name, out.Status, err)
		}
		if !strings.HasPrefix(out.Reply(), "Usage: /save") {
			t.Errorf("%s: Reply = %q", tt.name, out.Reply())
		}
	}
}

func TestSave_SizeThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		size int64
		want Status
	}{
		{"exactly max is local", DefaultMaxMediaSize, StatusSaved},
		{"max plus one is forward", DefaultMaxMediaSize + 1, StatusSavedForward},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, store, tr, _ := newPipeline(t, snippets.FlavorHTML)
			tr.Files["vid"] = []byte("video bytes")
			tr.Paths["vid"] = "videos/file_1.mp4"

			src := &channels.IncomingMessage{
				ID:      99,
				ChatID:  -100,
				Caption: "big clip",
				Attachments: []channels.Attachment{
					{Type: channels.MediaVideo, FileID: "vid", FileSize: tt.size},
				},
			}
			out, err := p.Save(context.Background(), Request{Command: CommandSave, Arg: "#Clip", Caller: admin(), Source: src})
			if err != nil {
				t.Fatal(err)
			}
			if out.Status != tt.want || out.Key != "clip" {
				t.Fatalf("outcome = %+v", out)
			}

			rec, err := store.Lookup("clip")
			if err != nil {
				t.Fatal(err)
			}
			if tt.want == StatusSavedForward {
				if rec.Kind != snippets.RecordForward || rec.Forward.ChatID != -100 || rec.Forward.MessageID != 99 {
					t.Errorf("record = %+v", rec)
				}
				if len(tr.Calls()) != 0 {
					t.Error("forward save should not download")
				}
				if !strings.Contains(out.Reply(), "forward-only") {
					t.Errorf("Reply = %q", out.Reply())
				}
				return
			}
			if rec.Kind != snippets.RecordLocal || len(rec.Local.Media) != 1 {
				t.Fatalf("record = %+v", rec)
			}
			if got := filepath.Base(rec.Local.Media[0].Path); got != "clip_0.mp4" {
				t.Errorf("media = %s, want clip_0.mp4", got)
			}
			if rec.Local.Body.Text != "big clip" {
				t.Errorf("body = %q", rec.Local.Body.Text)
			}
		})
	}
}

func TestSave_MarkdownBodyAndExtensions(t *testing.T) {
	t.Parallel()
	p, store, tr, rec := newPipeline(t, snippets.FlavorMarkdown)
	tr.Files["p1"] = []byte("jpeg")
	tr.Paths["p1"] = "photos/file_7.jpg"
	tr.Files["d1"] = []byte("pdf")
	tr.Paths["d1"] = "documents/file_8"

	src := &channels.IncomingMessage{
		ID:       5,
		ChatID:   -1,
		Text:     "hello world",
		Entities: []channels.Entity{{Type: "bold", Offset: 0, Length: 5}},
		Caption:  "second line",
		Attachments: []channels.Attachment{
			{Type: channels.MediaPhoto, FileID: "p1", FileSize: 4},
			{Type: channels.MediaDocument, FileID: "d1", FileName: "Report.PDF", FileSize: 3},
		},
	}
	ctx := context.Background()
	out, err := p.Save(ctx, Request{Command: CommandSave, Arg: "doc", Caller: admin(), Source: src})
	if err != nil {
		t.Fatal(err)
	}
	if out.Reply() != "Saved snip 'doc' (Markdown mode)" {
		t.Errorf("Reply = %q", out.Reply())
	}

	data, err := os.ReadFile(filepath.Join(store.Dir(), "doc.md"))
	if err != nil {
		t.Fatal(err)
	}
	want := "*hello* world\nsecond line\n\n![photo](./doc_0.jpg)\n[document](./doc_1.pdf)\n"
	if string(data) != want {
		t.Errorf("doc.md = %q, want %q", data, want)
	}

	if err := p.Audit(ctx, out); err != nil {
		t.Fatal(err)
	}
	if len(rec.changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(rec.changes))
	}
	c := rec.changes[0]
	if c.Message != "#doc added by @alice" || c.Kind != "local" || len(c.Files) != 3 {
		t.Errorf("change = %+v", c)
	}
}

func TestSave_DownloadFailureSkipped(t *testing.T) {
	t.Parallel()
	p, store, tr, _ := newPipeline(t, snippets.FlavorHTML)
	tr.Files["ok"] = []byte("ok")
	tr.Paths["ok"] = "photos/a.png"

	src := &channels.IncomingMessage{
		ID:     5,
		ChatID: -1,
		Attachments: []channels.Attachment{
			{Type: channels.MediaPhoto, FileID: "missing"},
			{Type: channels.MediaPhoto, FileID: "ok"},
		},
	}
	out, err := p.Save(context.Background(), Request{Command: CommandSave, Arg: "pics", Caller: admin(), Source: src})
	if err != nil {
		t.Fatal(err)
	}
	if out.Failed != 1 || out.Media != 1 {
		t.Errorf("outcome = %+v", out)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), "pics_1.png")); err != nil {
		t.Errorf("pics_1.png: %v", err)
	}
}

func TestSave_TriggerKey(t *testing.T) {
	t.Parallel()
	p, store, _, _ := newPipeline(t, snippets.FlavorHTML)

	out, err := p.Save(context.Background(), Request{
		Command: CommandSaveTrigger,
		Arg:     "Ouch",
		Caller:  admin(),
		Source:  &channels.IncomingMessage{ID: 1, ChatID: -1, Text: "that hurts"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Key != "spicy-ouch" {
		t.Errorf("Key = %q, want spicy-ouch", out.Key)
	}
	words, _ := store.TriggerWords()
	if len(words) != 1 || words[0] != "ouch" {
		t.Errorf("TriggerWords = %v", words)
	}
}

func TestAudit_ErrorWrapped(t *testing.T) {
	t.Parallel()
	p, _, _, rec := newPipeline(t, snippets.FlavorHTML)
	rec.err = &audit.IdentityError{Err: errors.New("git commit: Author identity unknown")}

	err := p.Audit(context.Background(), Outcome{Status: StatusSaved, Key: "k", Changed: []string{"k.html"}, Caller: channels.User{ID: 1, FirstName: "Bob"}})
	var idErr *audit.IdentityError
	if !errors.As(err, &idErr) {
		t.Fatalf("err = %v, want IdentityError", err)
	}
	if rec.changes[0].Message != "#k added by @Bob" {
		t.Errorf("Message = %q", rec.changes[0].Message)
	}
}
