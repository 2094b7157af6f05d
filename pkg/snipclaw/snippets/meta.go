package snippets

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ForwardRefs returns a snapshot of the forward-reference map.
func (s *Store) ForwardRefs() (map[string]ForwardRef, error) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	return s.loadMeta()
}

// forwardRefsLenient reads the map for lookups. An unreadable map is logged
// and treated as empty.
func (s *Store) forwardRefsLenient() map[string]ForwardRef {
	refs, err := s.ForwardRefs()
	if err != nil {
		s.logger.Warn("forward reference map unreadable, ignoring", "path", s.metaPath, "error", err)
		return map[string]ForwardRef{}
	}
	return refs
}

// WriteForwardRef stores key as a forward reference to (chatID, messageID)
// and returns the changed paths.
func (s *Store) WriteForwardRef(key string, ref ForwardRef) ([]string, error) {
	if err := s.EnsureDir(); err != nil {
		return nil, err
	}

	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	refs, err := s.loadMeta()
	if err != nil {
		return nil, err
	}
	if cur, ok := refs[key]; ok && cur == ref {
		return nil, nil
	}
	refs[key] = ref
	if err := s.saveMeta(refs); err != nil {
		return nil, err
	}
	s.logger.Info("forward reference saved", "key", key, "chat_id", ref.ChatID, "message_id", ref.MessageID)
	return []string{s.metaPath}, nil
}

// removeForwardRef drops key from the map. It reports whether the map
// changed.
func (s *Store) removeForwardRef(key string) (bool, error) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	refs, err := s.loadMeta()
	if err != nil {
		return false, err
	}
	if _, ok := refs[key]; !ok {
		return false, nil
	}
	delete(refs, key)
	if err := s.saveMeta(refs); err != nil {
		return false, err
	}
	return true, nil
}

// loadMeta must be called with metaMu held. A missing or empty file is an
// empty map.
func (s *Store) loadMeta() (map[string]ForwardRef, error) {
	refs := make(map[string]ForwardRef)
	data, err := os.ReadFile(s.metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return refs, nil
		}
		return nil, fmt.Errorf("reading %s: %w", s.metaPath, err)
	}
	if err := yaml.Unmarshal(data, &refs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.metaPath, err)
	}
	if refs == nil {
		refs = make(map[string]ForwardRef)
	}
	return refs, nil
}

// saveMeta must be called with metaMu held.
func (s *Store) saveMeta(refs map[string]ForwardRef) error {
	data, err := yaml.Marshal(refs)
	if err != nil {
		return fmt.Errorf("encoding forward references: %w", err)
	}
	return writeFileAtomic(s.metaPath, data)
}

// writeFileAtomic writes data to a temp file in the same directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming %s: %w", path, err)
	}
	return nil
}
