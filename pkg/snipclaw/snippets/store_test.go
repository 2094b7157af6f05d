package snippets

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/channels"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(Config{Dir: t.TempDir()}, nil)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func payload(content string, typ channels.MediaType, ext string) MediaPayload {
	return MediaPayload{
		Type: typ,
		Ext:  ext,
		Fetch: func(_ context.Context, w io.Writer) (string, error) {
			_, err := io.WriteString(w, content)
			return "", err
		},
	}
}

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"#Welcome", "welcome", false},
		{"cat_2-b", "cat_2-b", false},
		{"Ünïcode", "ünïcode", false},
		{"", "", true},
		{"#", "", true},
		{"../etc", "", true},
		{"a b", "", true},
	}

	for _, tt := range tests {
		got, err := NormalizeKey(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeKey(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTypeForExt(t *testing.T) {
	t.Parallel()

	tests := map[string]channels.MediaType{
		"a.jpg":  channels.MediaPhoto,
		"a.PNG":  channels.MediaPhoto,
		"a.webm": channels.MediaVideo,
		"a.ogg":  channels.MediaAudio,
		"a.pdf":  channels.MediaDocument,
		"a":      channels.MediaDocument,
	}
	for path, want := range tests {
		if got := TypeForExt(path); got != want {
			t.Errorf("TypeForExt(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestAssignTypes_SingleAudioIsVoice(t *testing.T) {
	t.Parallel()

	one := []MediaFile{{Path: "k_0.jpg"}, {Path: "k_1.ogg"}}
	assignTypes(one)
	if one[1].Type != channels.MediaVoice {
		t.Errorf("single audio type = %q, want voice", one[1].Type)
	}

	two := []MediaFile{{Path: "k_0.mp3"}, {Path: "k_1.ogg"}}
	assignTypes(two)
	for _, f := range two {
		if f.Type != channels.MediaAudio {
			t.Errorf("%s type = %q, want audio", f.Path, f.Type)
		}
	}
}

func TestLookup_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	rec, err := s.Lookup("nothing")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Kind != RecordNotFound {
		t.Errorf("Kind = %v, want NotFound", rec.Kind)
	}
}

func TestLookup_ForwardWinsOverLocal(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	writeFile(t, filepath.Join(s.Dir(), "big.md"), "local body")
	if _, err := s.WriteForwardRef("big", ForwardRef{ChatID: -100, MessageID: 42}); err != nil {
		t.Fatal(err)
	}

	rec, err := s.Lookup("big")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Kind != RecordForward {
		t.Fatalf("Kind = %v, want Forward", rec.Kind)
	}
	if *rec.Forward != (ForwardRef{ChatID: -100, MessageID: 42}) {
		t.Errorf("Forward = %+v", *rec.Forward)
	}
}

func TestLookup_MarkdownPlaceholders(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	dir := s.Dir()

	writeFile(t, filepath.Join(dir, "cat_0.jpg"), "jpg")
	writeFile(t, filepath.Join(dir, "cat.md"), strings.Join([]string{
		"*Cats* are great. See [docs](https://example.com)",
		"",
		"![photo](./cat_0.jpg)",
		"[photo](./cat_1.jpg)",
		"[escape](./../outside.jpg)",
	}, "\n"))

	rec, err := s.Lookup("cat")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Kind != RecordLocal {
		t.Fatalf("Kind = %v, want Local", rec.Kind)
	}
	if rec.Local.Body.Flavor != FlavorMarkdown {
		t.Errorf("Flavor = %q", rec.Local.Body.Flavor)
	}
	if want := "*Cats* are great. See [docs](https://example.com)"; rec.Local.Body.Text != want {
		t.Errorf("Body = %q, want %q", rec.Local.Body.Text, want)
	}
	if len(rec.Local.Media) != 1 {
		t.Fatalf("Media = %+v, want 1 existing file", rec.Local.Media)
	}
	if m := rec.Local.Media[0]; m.Index != 0 || m.Type != channels.MediaPhoto || filepath.Base(m.Path) != "cat_0.jpg" {
		t.Errorf("Media[0] = %+v", m)
	}
}

func TestLookup_HTMLBundlesSiblings(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	dir := s.Dir()

	writeFile(t, filepath.Join(dir, "song.html"), "<b>listen</b>\n")
	writeFile(t, filepath.Join(dir, "song_10.pdf"), "pdf")
	writeFile(t, filepath.Join(dir, "song_2.ogg"), "ogg")
	writeFile(t, filepath.Join(dir, "songs_0.jpg"), "other key")
	writeFile(t, filepath.Join(dir, "song_x.jpg"), "not indexed")

	rec, err := s.Lookup("song")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Kind != RecordLocal || rec.Local.Body.Text != "<b>listen</b>" {
		t.Fatalf("rec = %+v", rec)
	}
	var got []string
	for _, m := range rec.Local.Media {
		got = append(got, filepath.Base(m.Path)+":"+string(m.Type))
	}
	want := []string{"song_2.ogg:voice", "song_10.pdf:document"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("media = %v, want %v", got, want)
	}
}

func TestLookup_MarkdownBeforeHTML(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	writeFile(t, filepath.Join(s.Dir(), "k.md"), "md")
	writeFile(t, filepath.Join(s.Dir(), "k.html"), "html")

	rec, err := s.Lookup("k")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Local.Body.Flavor != FlavorMarkdown || rec.Local.Body.Text != "md" {
		t.Errorf("Body = %+v, want markdown", rec.Local.Body)
	}
}

func TestWriteLocal_RemovesForwardRef(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.WriteForwardRef("clip", ForwardRef{ChatID: 1, MessageID: 2}); err != nil {
		t.Fatal(err)
	}

	res, err := s.WriteLocal(ctx, "clip", LocalWrite{Flavor: FlavorHTML, Body: "now local"})
	if err != nil {
		t.Fatal(err)
	}
	if !contains(res.Changed, s.MetaPath()) {
		t.Errorf("Changed = %v, want meta path included", res.Changed)
	}

	rec, err := s.Lookup("clip")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Kind != RecordLocal || rec.Local.Body.Text != "now local" {
		t.Fatalf("rec = %+v, want local", rec)
	}

	// Second write: nothing to remove from the map any more.
	res, err = s.WriteLocal(ctx, "clip", LocalWrite{Flavor: FlavorHTML, Body: "now local"})
	if err != nil {
		t.Fatal(err)
	}
	if contains(res.Changed, s.MetaPath()) {
		t.Errorf("Changed = %v, meta path should not change again", res.Changed)
	}
	refs, err := s.ForwardRefs()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := refs["clip"]; ok {
		t.Error("forward reference still present")
	}
}

func TestWriteLocal_MediaAndPlaceholders(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.WriteLocal(ctx, "cat", LocalWrite{
		Flavor: FlavorMarkdown,
		Body:   "two cats",
		Media: []MediaPayload{
			payload("a", channels.MediaPhoto, ".JPG"),
			{Type: channels.MediaPhoto, Ext: ".jpg", Fetch: func(context.Context, io.Writer) (string, error) {
				return "", errors.New("boom")
			}},
			{Type: channels.MediaDocument, Fetch: func(_ context.Context, w io.Writer) (string, error) {
				_, err := io.WriteString(w, "c")
				return "pdf", err
			}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 {
		t.Errorf("Failed = %d, want 1", res.Failed)
	}
	if len(res.Media) != 2 || res.Media[0].Index != 0 || res.Media[1].Index != 2 {
		t.Fatalf("Media = %+v", res.Media)
	}

	md, err := os.ReadFile(filepath.Join(s.Dir(), "cat.md"))
	if err != nil {
		t.Fatal(err)
	}
	want := "two cats\n\n![photo](./cat_0.jpg)\n[document](./cat_2.pdf)\n"
	if string(md) != want {
		t.Errorf("cat.md = %q, want %q", md, want)
	}

	rec, err := s.Lookup("cat")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Local.Body.Text != "two cats" || len(rec.Local.Media) != 2 {
		t.Errorf("lookup = %+v", rec.Local)
	}

	entries, _ := os.ReadDir(s.Dir())
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".part") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestWriteLocal_RemovesStaleAndOtherFlavor(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	dir := s.Dir()

	writeFile(t, filepath.Join(dir, "k.md"), "old\n\n![photo](./k_0.jpg)")
	writeFile(t, filepath.Join(dir, "k_0.jpg"), "old0")
	writeFile(t, filepath.Join(dir, "k_1.png"), "old1")

	res, err := s.WriteLocal(ctx, "k", LocalWrite{
		Flavor: FlavorHTML,
		Body:   "<i>new</i>",
		Media:  []MediaPayload{payload("new", channels.MediaVideo, ".mp4")},
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"k.md", "k_0.jpg", "k_1.png"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s should be removed", name)
		}
		if !contains(res.Changed, filepath.Join(dir, name)) {
			t.Errorf("Changed = %v, missing %s", res.Changed, name)
		}
	}

	rec, err := s.Lookup("k")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Local.Body.Flavor != FlavorHTML || len(rec.Local.Media) != 1 {
		t.Fatalf("rec = %+v", rec.Local)
	}
	if got := filepath.Base(rec.Local.Media[0].Path); got != "k_0.mp4" {
		t.Errorf("media = %s, want k_0.mp4", got)
	}
}

func TestKeysAndTriggerWords(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	dir := s.Dir()

	writeFile(t, filepath.Join(dir, "welcome.md"), "hi")
	writeFile(t, filepath.Join(dir, "spicy-ouch.html"), "ouch")
	writeFile(t, filepath.Join(dir, "orphan_0.jpg"), "x")
	writeFile(t, filepath.Join(dir, ".hidden_0.part"), "x")
	if _, err := s.WriteForwardRef("spicy-boom", ForwardRef{ChatID: 1, MessageID: 1}); err != nil {
		t.Fatal(err)
	}

	keys, err := s.Keys()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"orphan", "spicy-boom", "spicy-ouch", "welcome"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("Keys = %v, want %v", keys, want)
	}

	words, err := s.TriggerWords()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(words, []string{"boom", "ouch"}) {
		t.Errorf("TriggerWords = %v", words)
	}

	// The vocabulary follows the store without a restart.
	writeFile(t, filepath.Join(dir, "spicy-zap.md"), "zap")
	words, _ = s.TriggerWords()
	if !reflect.DeepEqual(words, []string{"boom", "ouch", "zap"}) {
		t.Errorf("TriggerWords after write = %v", words)
	}
}

func TestForwardRefs_CorruptMapIgnoredOnLookup(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	writeFile(t, s.MetaPath(), ":\n  - [not a map")
	writeFile(t, filepath.Join(s.Dir(), "k.md"), "body")

	rec, err := s.Lookup("k")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Kind != RecordLocal {
		t.Errorf("Kind = %v, want Local", rec.Kind)
	}
	if _, err := s.WriteForwardRef("k", ForwardRef{ChatID: 1, MessageID: 1}); err == nil {
		t.Error("WriteForwardRef over a corrupt map should fail")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
