package richtext

import (
	"strings"
	"testing"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/channels"
)

func TestEscapeSnippetMarkdown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"bold stays active", "*bold*", "*bold*"},
		{"dot escaped", "end.", "end\\."},
		{"bold and dot", "*bold* text.", "*bold* text\\."},
		{"link stays active", "[site](https://x)", "[site](https://x)"},
		{"italic stays active", "_it_", "_it_"},
		{"other specials escaped", "a-b!c#d", "a\\-b\\!c\\#d"},
		{"backslash escaped", `a\b`, `a\\b`},
		{"whitespace only untouched", "   ", "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := EscapeSnippetMarkdown(tt.in); got != tt.want {
				t.Errorf("EscapeSnippetMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	t.Parallel()
	in := "_*[]()~`>#+-=|{}.!\\"
	want := "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!\\\\"
	if got := EscapeMarkdownV2(in); got != want {
		t.Errorf("EscapeMarkdownV2() = %q, want %q", got, want)
	}
}

func TestRenderMarkdown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		entities []channels.Entity
		want     string
	}{
		{
			name: "no entities",
			text: "hello.",
			want: "hello.",
		},
		{
			name:     "bold",
			text:     "hello world",
			entities: []channels.Entity{{Type: "bold", Offset: 0, Length: 5}},
			want:     "*hello* world",
		},
		{
			name: "nested bold italic",
			text: "abc",
			entities: []channels.Entity{
				{Type: "italic", Offset: 1, Length: 1},
				{Type: "bold", Offset: 0, Length: 3},
			},
			want: "*a_b_c*",
		},
		{
			name:     "text link",
			text:     "see docs",
			entities: []channels.Entity{{Type: "text_link", Offset: 4, Length: 4, URL: "https://example.com"}},
			want:     "see [docs](https://example.com)",
		},
		{
			name:     "code has no markdown markup",
			text:     "run ls",
			entities: []channels.Entity{{Type: "code", Offset: 4, Length: 2}},
			want:     "run ls",
		},
		{
			name:     "utf16 offsets after emoji",
			text:     "😀 hi",
			entities: []channels.Entity{{Type: "bold", Offset: 3, Length: 2}},
			want:     "😀 *hi*",
		},
		{
			name:     "out of range entity ignored",
			text:     "hi",
			entities: []channels.Entity{{Type: "bold", Offset: 1, Length: 10}},
			want:     "hi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := RenderMarkdown(tt.text, tt.entities); got != tt.want {
				t.Errorf("RenderMarkdown() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderHTML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		entities []channels.Entity
		want     string
	}{
		{
			name: "escapes plain text",
			text: "a < b & c",
			want: "a &lt; b &amp; c",
		},
		{
			name: "bold and link",
			text: "hi there",
			entities: []channels.Entity{
				{Type: "bold", Offset: 0, Length: 2},
				{Type: "text_link", Offset: 3, Length: 5, URL: "https://x.y/?a=1&b=2"},
			},
			want: `<b>hi</b> <a href="https://x.y/?a=1&amp;b=2">there</a>`,
		},
		{
			name:     "pre with language",
			text:     "x := 1",
			entities: []channels.Entity{{Type: "pre", Offset: 0, Length: 6, Language: "go"}},
			want:     `<pre><code class="language-go">x := 1</code></pre>`,
		},
		{
			name:     "spoiler",
			text:     "secret",
			entities: []channels.Entity{{Type: "spoiler", Offset: 0, Length: 6}},
			want:     "<tg-spoiler>secret</tg-spoiler>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := RenderHTML(tt.text, tt.entities); got != tt.want {
				t.Errorf("RenderHTML() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVisibleLength(t *testing.T) {
	t.Parallel()

	if got := VisibleLength(strings.Repeat("a", 1024), false); got != 1024 {
		t.Errorf("plain length = %d, want 1024", got)
	}
	if got := VisibleLength("<b>ab</b> &amp;", true); got != 4 {
		t.Errorf("html length = %d, want 4", got)
	}
	if got := VisibleLength("héllo", false); got != 5 {
		t.Errorf("rune length = %d, want 5", got)
	}
}
