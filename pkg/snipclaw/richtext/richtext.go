// Package richtext renders Telegram message entities into stored snippet
// bodies and prepares those bodies for sending. Two flavors exist:
// Markdown (MarkdownV2 with active * _ [ ] ( ) markup) and Telegram HTML.
package richtext

import (
	"html"
	"regexp"
	"sort"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/channels"
)

// markdownV2Escapes are the characters MarkdownV2 requires escaped in text.
var markdownV2Escapes = map[byte]bool{
	'\\': true,
	'_':  true,
	'*':  true,
	'[':  true,
	']':  true,
	'(':  true,
	')':  true,
	'~':  true,
	'`':  true,
	'>':  true,
	'#':  true,
	'+':  true,
	'-':  true,
	'=':  true,
	'|':  true,
	'{':  true,
	'}':  true,
	'.':  true,
	'!':  true,
}

// snippetMarkup stays unescaped in snippet bodies so that stored *bold*,
// _italic_ and [links](url) render as formatting.
var snippetMarkup = map[byte]bool{
	'*': true,
	'_': true,
	'[': true,
	']': true,
	'(': true,
	')': true,
}

// EscapeMarkdownV2 escapes every MarkdownV2 special character.
func EscapeMarkdownV2(text string) string {
	return escape(text, nil)
}

// EscapeSnippetMarkdown escapes a Markdown snippet body for MarkdownV2,
// leaving * _ [ ] ( ) active.
func EscapeSnippetMarkdown(text string) string {
	return escape(text, snippetMarkup)
}

func escape(text string, keep map[byte]bool) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	var b strings.Builder
	b.Grow(len(text) + 8)
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if markdownV2Escapes[ch] && !keep[ch] {
			b.WriteByte('\\')
		}
		b.WriteByte(ch)
	}
	return b.String()
}

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// VisibleLength returns the number of characters a body shows once the
// platform has parsed its markup.
func VisibleLength(body string, isHTML bool) int {
	if isHTML {
		body = html.UnescapeString(htmlTagRe.ReplaceAllString(body, ""))
	}
	return utf8.RuneCountInString(body)
}

// ---------- Entity rendering ----------

type marker struct {
	open, close string
}

// markdownMarker returns the markup for an entity in the Markdown flavor.
// Only the constructs that survive EscapeSnippetMarkdown are emitted.
func markdownMarker(e channels.Entity) (marker, bool) {
	switch e.Type {
	case "bold":
		return marker{"*", "*"}, true
	case "italic":
		return marker{"_", "_"}, true
	case "text_link":
		if e.URL == "" {
			return marker{}, false
		}
		return marker{"[", "](" + e.URL + ")"}, true
	}
	return marker{}, false
}

func htmlMarker(e channels.Entity) (marker, bool) {
	switch e.Type {
	case "bold":
		return marker{"<b>", "</b>"}, true
	case "italic":
		return marker{"<i>", "</i>"}, true
	case "underline":
		return marker{"<u>", "</u>"}, true
	case "strikethrough":
		return marker{"<s>", "</s>"}, true
	case "spoiler":
		return marker{"<tg-spoiler>", "</tg-spoiler>"}, true
	case "code":
		return marker{"<code>", "</code>"}, true
	case "pre":
		if e.Language != "" {
			return marker{`<pre><code class="language-` + html.EscapeString(e.Language) + `">`, "</code></pre>"}, true
		}
		return marker{"<pre>", "</pre>"}, true
	case "text_link":
		if e.URL == "" {
			return marker{}, false
		}
		return marker{`<a href="` + html.EscapeString(e.URL) + `">`, "</a>"}, true
	case "blockquote":
		return marker{"<blockquote>", "</blockquote>"}, true
	case "expandable_blockquote":
		return marker{"<blockquote expandable>", "</blockquote>"}, true
	}
	return marker{}, false
}

// RenderMarkdown renders text with its entities into the Markdown flavor.
// Plain text is kept verbatim; escaping happens when the body is sent.
func RenderMarkdown(text string, entities []channels.Entity) string {
	return render(text, entities, markdownMarker, func(s string) string { return s })
}

// RenderHTML renders text with its entities into Telegram HTML.
func RenderHTML(text string, entities []channels.Entity) string {
	return render(text, entities, htmlMarker, html.EscapeString)
}

func render(text string, entities []channels.Entity, markerFor func(channels.Entity) (marker, bool), esc func(string) string) string {
	if len(entities) == 0 {
		return esc(text)
	}

	units := len(utf16.Encode([]rune(text)))
	opens := make(map[int][]string)
	closes := make(map[int][]string)

	sorted := make([]channels.Entity, len(entities))
	copy(sorted, entities)
	// Outer entities open first and close last.
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Offset != sorted[j].Offset {
			return sorted[i].Offset < sorted[j].Offset
		}
		return sorted[i].Length > sorted[j].Length
	})
	for _, e := range sorted {
		if e.Length <= 0 || e.Offset < 0 || e.Offset+e.Length > units {
			continue
		}
		m, ok := markerFor(e)
		if !ok {
			continue
		}
		end := e.Offset + e.Length
		opens[e.Offset] = append(opens[e.Offset], m.open)
		closes[end] = append([]string{m.close}, closes[end]...)
	}

	var b strings.Builder
	b.Grow(len(text) + 16*len(entities))
	var seg strings.Builder
	flush := func() {
		if seg.Len() > 0 {
			b.WriteString(esc(seg.String()))
			seg.Reset()
		}
	}
	emit := func(pos int) {
		if len(closes[pos]) == 0 && len(opens[pos]) == 0 {
			return
		}
		flush()
		for _, c := range closes[pos] {
			b.WriteString(c)
		}
		for _, o := range opens[pos] {
			b.WriteString(o)
		}
	}

	pos := 0
	for _, r := range text {
		emit(pos)
		seg.WriteRune(r)
		pos += utf16.RuneLen(r)
	}
	emit(pos)
	flush()
	return b.String()
}
