// Package resolve classifies workflow references against the local
// installation and the registry store.
package resolve

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// InstallState is the observed on-disk installation: which extension
// directories exist non-empty, and which model files are present anywhere
// under the models tree. It is a point-in-time snapshot; callers rescan
// after mutating the disk.
type InstallState struct {
	extensions map[string]bool
	models     map[string]string // base name -> full path
}

// ScanInstallState walks the custom-nodes and models directories. Missing
// directories are treated as empty, not as errors, so a fresh workspace
// resolves cleanly.
func ScanInstallState(customNodesDir, modelsDir string) (*InstallState, error) {
	st := &InstallState{
		extensions: make(map[string]bool),
		models:     make(map[string]string),
	}

	entries, err := os.ReadDir(customNodesDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub, err := os.ReadDir(filepath.Join(customNodesDir, e.Name()))
		if err != nil || len(sub) == 0 {
			// An empty directory is a failed or interrupted install,
			// not an installed extension.
			continue
		}
		st.extensions[e.Name()] = true
	}

	err = filepath.WalkDir(modelsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			st.models[d.Name()] = path
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return st, nil
}

// ExtensionInstalled reports whether a non-empty extension directory with
// the given name exists.
func (s *InstallState) ExtensionInstalled(name string) bool {
	return s.extensions[name]
}

// ModelInstalled reports whether a model file with the given base name
// exists anywhere under the models tree.
func (s *InstallState) ModelInstalled(name string) bool {
	_, ok := s.models[name]
	return ok
}

// ModelPath returns the full path of an installed model file.
func (s *InstallState) ModelPath(name string) (string, bool) {
	p, ok := s.models[name]
	return p, ok
}

// ModelNames returns every installed model base name, sorted so callers
// that score them produce deterministic results.
func (s *InstallState) ModelNames() []string {
	names := make([]string, 0, len(s.models))
	for n := range s.models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
