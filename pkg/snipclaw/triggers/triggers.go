// Package triggers finds the snippet references in a message: explicit
// #tags and words of the dynamic trigger vocabulary.
package triggers

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/snippets"
)

// Origin tells how a reference was found.
type Origin int

const (
	OriginTag Origin = iota
	OriginTrigger
)

func (o Origin) String() string {
	if o == OriginTrigger {
		return "trigger"
	}
	return "tag"
}

// Reference is one snippet mentioned by a message.
type Reference struct {
	Key    string
	Origin Origin
}

// Options tunes extraction.
type Options struct {
	// Dedupe collapses repeated references to the same key; the first
	// occurrence wins.
	Dedupe bool
}

var tagRe = regexp.MustCompile(`#([\p{L}\p{N}_-]+)`)

// Extract returns the references in text: explicit tags in text order,
// then trigger matches in text order.
func Extract(text string, vocabulary []string, opts Options) []Reference {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var refs []Reference
	for _, m := range tagRe.FindAllStringSubmatch(text, -1) {
		refs = append(refs, Reference{Key: strings.ToLower(m[1]), Origin: OriginTag})
	}
	refs = append(refs, matchTriggers(strings.ToLower(text), vocabulary)...)

	if opts.Dedupe {
		refs = dedupe(refs)
	}
	return refs
}

type hit struct {
	pos  int
	word string
}

// matchTriggers finds whole-word occurrences of every vocabulary word in
// lower. Hits are ordered by position; at one position the longer word
// sorts first.
func matchTriggers(lower string, vocabulary []string) []Reference {
	var hits []hit
	for _, word := range vocabulary {
		w := strings.ToLower(word)
		if w == "" {
			continue
		}
		for start := 0; start <= len(lower)-len(w); {
			i := strings.Index(lower[start:], w)
			if i < 0 {
				break
			}
			pos := start + i
			if boundaryBefore(lower, pos) && boundaryAfter(lower, pos+len(w)) {
				hits = append(hits, hit{pos: pos, word: w})
			}
			_, size := utf8.DecodeRuneInString(lower[pos:])
			start = pos + size
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].pos != hits[j].pos {
			return hits[i].pos < hits[j].pos
		}
		return len(hits[i].word) > len(hits[j].word)
	})

	refs := make([]Reference, 0, len(hits))
	for _, h := range hits {
		refs = append(refs, Reference{Key: snippets.TriggerKey(h.word), Origin: OriginTrigger})
	}
	return refs
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func boundaryBefore(s string, pos int) bool {
	if pos == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:pos])
	return !isWordRune(r)
}

func boundaryAfter(s string, pos int) bool {
	if pos >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[pos:])
	return !isWordRune(r)
}

func dedupe(refs []Reference) []Reference {
	seen := make(map[string]bool, len(refs))
	out := refs[:0]
	for _, r := range refs {
		if seen[r.Key] {
			continue
		}
		seen[r.Key] = true
		out = append(out, r)
	}
	return out
}
