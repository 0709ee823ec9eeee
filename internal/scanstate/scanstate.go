// Package scanstate remembers which workflow documents have already been
// processed so repeated scans only touch new files.
package scanstate

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Cache is the processed-workflow set, persisted one filename per line so
// it diffs cleanly and survives hand edits.
type Cache struct {
	path string
	seen map[string]bool
}

// Load reads the cache file; a missing file is an empty cache.
func Load(path string) (*Cache, error) {
	c := &Cache{path: path, seen: make(map[string]bool)}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening scan cache %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			c.seen[line] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading scan cache: %w", err)
	}
	return c, nil
}

// Processed reports whether a workflow filename was seen before.
func (c *Cache) Processed(name string) bool {
	return c.seen[filepath.Base(name)]
}

// Mark records a filename. Call Save to persist.
func (c *Cache) Mark(name string) {
	c.seen[filepath.Base(name)] = true
}

// Save writes the cache back, sorted for stable diffs.
func (c *Cache) Save() error {
	names := make([]string, 0, len(c.seen))
	for n := range c.seen {
		names = append(names, n)
	}
	sort.Strings(names)

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmp := c.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating scan cache: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, n := range names {
		fmt.Fprintln(w, n)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing scan cache: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing scan cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing scan cache: %w", err)
	}
	return nil
}
