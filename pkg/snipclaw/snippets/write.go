package snippets

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/channels"
)

// defaultDownloadConcurrency bounds parallel media downloads of one save.
const defaultDownloadConcurrency = 4

// MediaPayload is one attachment to persist. Fetch streams the content
// into w and may report the file extension it learnt while fetching, which
// is used when Ext is empty.
type MediaPayload struct {
	Type  channels.MediaType
	Ext   string
	Fetch func(ctx context.Context, w io.Writer) (string, error)
}

// LocalWrite describes a local snippet save.
type LocalWrite struct {
	Flavor Flavor
	Body   string
	Media  []MediaPayload

	// Concurrency bounds parallel downloads. Zero uses the default.
	Concurrency int
}

// WriteResult reports what a save touched.
type WriteResult struct {
	// Changed lists every created, rewritten or removed path.
	Changed []string
	// Media lists the media files written, by index.
	Media []MediaFile
	// Failed counts attachments whose download failed.
	Failed int
}

// WriteLocal persists a local snippet. Attachments are downloaded in
// parallel; a failed download is logged and skipped. Media files left from
// earlier saves of the key, the artifact of the other flavor and the
// forward reference of the key are removed.
func (s *Store) WriteLocal(ctx context.Context, key string, w LocalWrite) (*WriteResult, error) {
	if w.Flavor != FlavorMarkdown && w.Flavor != FlavorHTML {
		return nil, fmt.Errorf("unknown body flavor %q", w.Flavor)
	}
	if err := s.EnsureDir(); err != nil {
		return nil, err
	}
	logger := s.logger.With("key", key)

	temps := make([]string, len(w.Media))
	exts := make([]string, len(w.Media))
	defer func() {
		for _, t := range temps {
			if t != "" {
				os.Remove(t)
			}
		}
	}()

	limit := w.Concurrency
	if limit <= 0 {
		limit = defaultDownloadConcurrency
	}
	var (
		mu     sync.Mutex
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, m := range w.Media {
		g.Go(func() error {
			tmp, ext, err := s.download(gctx, key, m)
			if err != nil {
				logger.Warn("media download failed, skipping", "index", i, "type", m.Type, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			temps[i] = tmp
			exts[i] = ext
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("saving %q: %w", key, err)
	}

	res := &WriteResult{Failed: failed}

	// Drop media of earlier saves before the new files take their names.
	stale, err := s.siblingMedia(key)
	if err != nil {
		return nil, err
	}
	for _, f := range stale {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale media %s: %w", f.Path, err)
		}
		res.Changed = append(res.Changed, f.Path)
	}

	for i, tmp := range temps {
		if tmp == "" {
			continue
		}
		path := s.MediaPath(key, i, normalizeExt(exts[i]))
		if err := os.Rename(tmp, path); err != nil {
			logger.Warn("storing media failed, skipping", "index", i, "error", err)
			res.Failed++
			continue
		}
		temps[i] = ""
		res.Media = append(res.Media, MediaFile{Index: i, Path: path, Type: w.Media[i].Type})
		res.Changed = append(res.Changed, path)
	}

	body := strings.TrimSpace(w.Body)
	if w.Flavor == FlavorMarkdown {
		body = appendPlaceholders(body, res.Media)
	}
	textPath := s.textPath(key, w.Flavor)
	if err := writeFileAtomic(textPath, []byte(body+"\n")); err != nil {
		return nil, err
	}
	res.Changed = append(res.Changed, textPath)

	other := FlavorHTML
	if w.Flavor == FlavorHTML {
		other = FlavorMarkdown
	}
	otherPath := s.textPath(key, other)
	if err := os.Remove(otherPath); err == nil {
		res.Changed = append(res.Changed, otherPath)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing %s: %w", otherPath, err)
	}

	removed, err := s.removeForwardRef(key)
	if err != nil {
		return nil, err
	}
	if removed {
		res.Changed = append(res.Changed, s.metaPath)
	}

	res.Changed = dedupe(res.Changed)
	logger.Info("snippet saved", "flavor", w.Flavor, "media", len(res.Media), "failed", res.Failed)
	return res, nil
}

func (s *Store) download(ctx context.Context, key string, m MediaPayload) (string, string, error) {
	if m.Fetch == nil {
		return "", "", fmt.Errorf("no fetch function")
	}
	f, err := os.CreateTemp(s.dir, "."+key+"_*.part")
	if err != nil {
		return "", "", fmt.Errorf("creating temp file: %w", err)
	}
	name := f.Name()
	fetched, err := m.Fetch(ctx, f)
	if err == nil {
		err = f.Chmod(0o644)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(name)
		return "", "", err
	}
	ext := m.Ext
	if ext == "" {
		ext = fetched
	}
	return name, ext, nil
}

// appendPlaceholders adds one placeholder line per media file so the
// Markdown body keeps track of its media.
func appendPlaceholders(body string, media []MediaFile) string {
	if len(media) == 0 {
		return body
	}
	lines := make([]string, 0, len(media)+1)
	if body != "" {
		lines = append(lines, body, "")
	}
	for _, m := range media {
		name := filepath.Base(m.Path)
		label := string(m.Type)
		if label == "" {
			label = "file"
		}
		prefix := ""
		if TypeForExt(m.Path) == channels.MediaPhoto {
			prefix = "!"
		}
		lines = append(lines, prefix+"["+label+"](./"+name+")")
	}
	return strings.Join(lines, "\n")
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return ext
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
