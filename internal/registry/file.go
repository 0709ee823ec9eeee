package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"
)

// fileDoc is the on-disk shape: a flat entry list, one mapping per entry,
// so independent additions diff and merge cleanly.
type fileDoc struct {
	Entries []Entry `yaml:"entries"`
}

// FileStore is a Store persisted as a YAML file. The file is loaded once at
// open; appends update memory and rewrite the file atomically.
type FileStore struct {
	path string
	mem  *MemStore
}

// Open loads the registry file at path, creating an empty store if the file
// does not exist yet.
func Open(path string) (*FileStore, error) {
	s := &FileStore{path: path, mem: NewMemStore()}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading registry %s: %w", path, err)
	}

	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing registry %s: %w", path, err)
	}
	for _, e := range doc.Entries {
		if err := s.mem.Append(e); err != nil {
			return nil, fmt.Errorf("registry %s entry %q: %w", path, e.Identifier, err)
		}
	}
	return s, nil
}

// Lookup implements Store.
func (s *FileStore) Lookup(id string, kind Kind) (Entry, bool) {
	return s.mem.Lookup(id, kind)
}

// Append implements Store. The entry is validated, merged into memory, and
// the whole file rewritten via temp-and-rename so readers never observe a
// torn file.
func (s *FileStore) Append(e Entry) error {
	if e.AddedAt.IsZero() {
		e.AddedAt = time.Now().UTC()
	}
	if err := s.mem.Append(e); err != nil {
		return err
	}
	return s.flush()
}

// Entries implements Store.
func (s *FileStore) Entries() []Entry {
	return s.mem.Entries()
}

func (s *FileStore) flush() error {
	doc := fileDoc{Entries: s.mem.Entries()}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".registry-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp registry: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp registry: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing registry: %w", err)
	}
	return nil
}
