// Package snippets implements the file-backed snippet store: one text
// artifact per key ({key}.md or {key}.html), sibling media files
// ({key}_{index}.{ext}) and a meta.yaml map of forward references.
package snippets

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/channels"
)

// Flavor is the markup flavor of a stored body.
type Flavor string

const (
	FlavorMarkdown Flavor = "markdown"
	FlavorHTML     Flavor = "html"
)

// Ext returns the text artifact extension of the flavor.
func (f Flavor) Ext() string {
	if f == FlavorHTML {
		return ".html"
	}
	return ".md"
}

// ParseMode returns the send parse mode matching the flavor.
func (f Flavor) ParseMode() channels.ParseMode {
	if f == FlavorHTML {
		return channels.ParseModeHTML
	}
	return channels.ParseModeMarkdownV2
}

// Body is a stored snippet body. Markdown bodies reference their media via
// inline placeholders; HTML bodies bundle every sibling media file.
type Body struct {
	Flavor Flavor
	Text   string
}

// MediaFile is an existing media file of a snippet.
type MediaFile struct {
	Index int
	Path  string
	Type  channels.MediaType
}

// Local is a snippet stored on disk.
type Local struct {
	Key   string
	Body  Body
	Media []MediaFile
}

// ForwardRef points at the original message of a snippet whose media were
// too large to copy.
type ForwardRef struct {
	ChatID    int64 `yaml:"chat_id"`
	MessageID int64 `yaml:"message_id"`
}

// RecordKind discriminates Record.
type RecordKind int

const (
	RecordNotFound RecordKind = iota
	RecordLocal
	RecordForward
)

// Record is the result of a lookup. Exactly one of Local and Forward is
// set unless Kind is RecordNotFound.
type Record struct {
	Kind    RecordKind
	Key     string
	Local   *Local
	Forward *ForwardRef
}

// Config configures Store.
type Config struct {
	Dir      string `yaml:"dir"`
	MetaFile string `yaml:"meta_file"`
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Dir:      "./snips",
		MetaFile: "meta.yaml",
	}
}

// Store is the file-system snippet store.
type Store struct {
	dir      string
	metaPath string
	logger   *slog.Logger

	// metaMu serializes read-modify-write cycles of meta.yaml.
	metaMu sync.Mutex
}

// NewStore creates a store rooted at cfg.Dir.
func NewStore(cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		cfg.Dir = "./snips"
	}
	if cfg.MetaFile == "" {
		cfg.MetaFile = "meta.yaml"
	}
	return &Store{
		dir:      cfg.Dir,
		metaPath: filepath.Join(cfg.Dir, cfg.MetaFile),
		logger:   logger.With("component", "snippet-store"),
	}
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// MetaPath returns the path of the forward-reference map.
func (s *Store) MetaPath() string { return s.metaPath }

// EnsureDir creates the store directory if it doesn't exist.
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", s.dir, err)
	}
	return nil
}

// Lookup resolves key. Forward references win over local artifacts, and
// .md is checked before .html.
func (s *Store) Lookup(key string) (Record, error) {
	refs := s.forwardRefsLenient()
	if ref, ok := refs[key]; ok {
		return Record{Kind: RecordForward, Key: key, Forward: &ref}, nil
	}

	for _, flavor := range []Flavor{FlavorMarkdown, FlavorHTML} {
		data, err := os.ReadFile(s.textPath(key, flavor))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Record{}, fmt.Errorf("reading snippet %q: %w", key, err)
		}

		local := &Local{Key: key}
		if flavor == FlavorMarkdown {
			local.Body, local.Media = s.parseMarkdown(key, string(data))
		} else {
			local.Body = Body{Flavor: FlavorHTML, Text: strings.TrimSpace(string(data))}
			local.Media, err = s.siblingMedia(key)
			if err != nil {
				return Record{}, err
			}
		}
		assignTypes(local.Media)
		return Record{Kind: RecordLocal, Key: key, Local: local}, nil
	}

	return Record{Kind: RecordNotFound, Key: key}, nil
}

// placeholderRe matches media placeholders pointing at local files:
// [label](./file) or ![label](./file).
var placeholderRe = regexp.MustCompile(`!?\[[^\]]*\]\((\./[^)\s]+)\)`)

// parseMarkdown strips media placeholders from a Markdown body and returns
// the files they point at that exist inside the store directory.
func (s *Store) parseMarkdown(key, md string) (Body, []MediaFile) {
	var media []MediaFile
	text := placeholderRe.ReplaceAllStringFunc(md, func(m string) string {
		rel := placeholderRe.FindStringSubmatch(m)[1]
		path := filepath.Join(s.dir, filepath.FromSlash(rel))
		if !s.inside(path) {
			return ""
		}
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			return ""
		}
		idx := len(media)
		if n, ok := mediaIndex(key, filepath.Base(path)); ok {
			idx = n
		}
		media = append(media, MediaFile{Index: idx, Path: path})
		return ""
	})
	return Body{Flavor: FlavorMarkdown, Text: strings.TrimSpace(text)}, media
}

func (s *Store) inside(path string) bool {
	rel, err := filepath.Rel(s.dir, path)
	return err == nil && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// siblingMedia lists {key}_{index}.* files sorted by index.
func (s *Store) siblingMedia(key string) ([]MediaFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snippet directory: %w", err)
	}

	var media []MediaFile
	for _, entry := range entries {
		if entry.IsDir() || isTextArtifact(entry.Name()) {
			continue
		}
		if idx, ok := mediaIndex(key, entry.Name()); ok {
			media = append(media, MediaFile{Index: idx, Path: filepath.Join(s.dir, entry.Name())})
		}
	}
	sort.Slice(media, func(i, j int) bool { return media[i].Index < media[j].Index })
	return media, nil
}

// mediaIndex parses "{key}_{n}[.ext]" and returns n.
func mediaIndex(key, name string) (int, bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	rest, ok := strings.CutPrefix(stem, key+"_")
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 || strconv.Itoa(n) != rest {
		return 0, false
	}
	return n, true
}

var mediaStemRe = regexp.MustCompile(`^(.+)_(\d+)$`)

// Keys lists every known key: text artifact stems, media file prefixes and
// forward references, sorted.
func (s *Store) Keys() ([]string, error) {
	seen := make(map[string]bool)

	entries, err := os.ReadDir(s.dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading snippet directory: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Join(s.dir, name) == s.metaPath {
			continue
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if isTextArtifact(name) {
			seen[stem] = true
			continue
		}
		if m := mediaStemRe.FindStringSubmatch(stem); m != nil {
			seen[m[1]] = true
		}
	}
	for key := range s.forwardRefsLenient() {
		seen[key] = true
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// TriggerWords returns the current trigger vocabulary: the word of every
// existing spicy-<word> key.
func (s *Store) TriggerWords() ([]string, error) {
	keys, err := s.Keys()
	if err != nil {
		return nil, err
	}
	return TriggerVocabulary(keys), nil
}

// TriggerVocabulary derives the trigger words from a set of keys.
func TriggerVocabulary(keys []string) []string {
	var words []string
	for _, k := range keys {
		if w, ok := TriggerWord(k); ok {
			words = append(words, w)
		}
	}
	return words
}

func (s *Store) textPath(key string, flavor Flavor) string {
	return filepath.Join(s.dir, key+flavor.Ext())
}

// MediaPath returns the path of media slot idx of key.
func (s *Store) MediaPath(key string, idx int, ext string) string {
	return filepath.Join(s.dir, key+"_"+strconv.Itoa(idx)+ext)
}

func isTextArtifact(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".md" || ext == ".html"
}
