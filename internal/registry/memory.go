package registry

import (
	"sort"
	"sync"
)

// MemStore is an in-memory Store used by tests and as the merge base for
// the file-backed store.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry // keyed by kind + identifier
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]*Entry)}
}

func key(id string, kind Kind) string {
	return string(kind) + "\x00" + id
}

// Lookup implements Store.
func (s *MemStore) Lookup(id string, kind Kind) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key(id, kind)]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Append implements Store. Appending an identifier that already exists adds
// any new sources to the end of its source list; existing sources and
// metadata are never removed.
func (s *MemStore) Append(e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(e.Identifier, e.Kind)
	cur, ok := s.entries[k]
	if !ok {
		cp := e
		cp.Sources = append([]string(nil), e.Sources...)
		s.entries[k] = &cp
		return nil
	}

	for _, src := range e.Sources {
		if !contains(cur.Sources, src) {
			cur.Sources = append(cur.Sources, src)
		}
	}
	if cur.Folder == "" {
		cur.Folder = e.Folder
	}
	return nil
}

// Entries implements Store.
func (s *MemStore) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Identifier < out[j].Identifier
	})
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
