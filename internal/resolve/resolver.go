package resolve

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/dsustudio/comfykit/internal/registry"
	"github.com/dsustudio/comfykit/internal/workflow"
)

// Status classifies one workflow reference.
type Status int

const (
	// StatusInstalled: the artifact is verified present on disk.
	StatusInstalled Status = iota
	// StatusPending: a source URL is known, the artifact is not installed.
	StatusPending
	// StatusUnknown: no source is known; user input is required. Unknown is
	// a terminal classification, not an error.
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusInstalled:
		return "installed"
	case StatusPending:
		return "pending"
	case StatusUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Resolution is the classification of one distinct identifier.
type Resolution struct {
	Reference workflow.Reference
	Status    Status
	SourceURL string // set iff Status == StatusPending
	Folder    string // model subdirectory hint from the registry

	// MatchedName is set when a format alias or fuzzy match resolved the
	// reference instead of its exact identifier. Confidence is the match
	// score; zero means an exact resolution.
	MatchedName string
	Confidence  float64
}

// Resolver joins parsed references against on-disk state and a registry
// store. The store is injected so tests substitute an in-memory one.
type Resolver struct {
	store registry.Store
}

// New returns a resolver backed by the given store.
func New(store registry.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve classifies every reference independently; an Unknown item never
// blocks its siblings. Output order is deterministic: extensions before
// models, then by identifier.
func (r *Resolver) Resolve(refs []workflow.Reference, state *InstallState) []Resolution {
	out := make([]Resolution, 0, len(refs))
	for _, ref := range refs {
		out = append(out, r.resolveOne(ref, state))
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Reference, out[j].Reference
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Identifier < b.Identifier
	})
	return out
}

func (r *Resolver) resolveOne(ref workflow.Reference, state *InstallState) Resolution {
	res := Resolution{Reference: ref}

	// Installed state wins over every source, embedded or registered.
	if r.isInstalled(ref, state) {
		res.Status = StatusInstalled
		return res
	}

	if ref.EmbeddedURL != "" {
		res.Status = StatusPending
		res.SourceURL = ref.EmbeddedURL
		if entry, ok := r.store.Lookup(ref.Identifier, kindOf(ref.Kind)); ok {
			res.Folder = entry.Folder
		}
		return res
	}

	if entry, ok := r.store.Lookup(ref.Identifier, kindOf(ref.Kind)); ok {
		res.Status = StatusPending
		res.SourceURL = entry.PreferredSource()
		res.Folder = entry.Folder
		return res
	}

	// Every exact avenue is exhausted. Models get a fallback pass over
	// format aliases and fuzzy stems before giving up as Unknown.
	if ref.Kind == workflow.KindModel {
		if fb, ok := r.fallbackModel(ref, state); ok {
			return fb
		}
	}

	res.Status = StatusUnknown
	return res
}

// fallbackModel resolves a model by alternative formats, then by fuzzy
// stem similarity. Aliases carry higher confidence than fuzzy hits; within
// each step an on-disk variant beats a registered source.
func (r *Resolver) fallbackModel(ref workflow.Reference, state *InstallState) (Resolution, bool) {
	for _, alt := range alternativeNames(ref.Identifier) {
		if state.ModelInstalled(alt) {
			return Resolution{
				Reference:   ref,
				Status:      StatusInstalled,
				MatchedName: alt,
				Confidence:  confidenceAlias,
			}, true
		}
		if entry, ok := r.store.Lookup(alt, registry.KindModel); ok {
			return Resolution{
				Reference:   ref,
				Status:      StatusPending,
				SourceURL:   entry.PreferredSource(),
				Folder:      entry.Folder,
				MatchedName: alt,
				Confidence:  confidenceAlias,
			}, true
		}
	}

	if matches := fuzzyMatches(ref.Identifier, state.ModelNames(), fuzzyThreshold); len(matches) > 0 {
		return Resolution{
			Reference:   ref,
			Status:      StatusInstalled,
			MatchedName: matches[0].Name,
			Confidence:  matches[0].Score,
		}, true
	}

	var ids []string
	byID := make(map[string]registry.Entry)
	for _, entry := range r.store.Entries() {
		if entry.Kind != registry.KindModel {
			continue
		}
		ids = append(ids, entry.Identifier)
		byID[entry.Identifier] = entry
	}
	if matches := fuzzyMatches(ref.Identifier, ids, fuzzyThreshold); len(matches) > 0 {
		entry := byID[matches[0].Name]
		return Resolution{
			Reference:   ref,
			Status:      StatusPending,
			SourceURL:   entry.PreferredSource(),
			Folder:      entry.Folder,
			MatchedName: matches[0].Name,
			Confidence:  matches[0].Score,
		}, true
	}

	return Resolution{}, false
}

func (r *Resolver) isInstalled(ref workflow.Reference, state *InstallState) bool {
	switch ref.Kind {
	case workflow.KindExtension:
		if state.ExtensionInstalled(ref.Identifier) {
			return true
		}
		// Node type names rarely equal the extension directory name; the
		// registry entry tells us which directory the pack installs to.
		if entry, ok := r.store.Lookup(ref.Identifier, registry.KindExtension); ok {
			if entry.Folder != "" && state.ExtensionInstalled(entry.Folder) {
				return true
			}
			if name := RepoNameFromURL(entry.PreferredSource()); name != "" && state.ExtensionInstalled(name) {
				return true
			}
		}
		return false
	case workflow.KindModel:
		return state.ModelInstalled(ref.Identifier)
	default:
		return false
	}
}

// Provide records a user-supplied URL for an identifier, appending it to
// the registry store so the identifier resolves to Pending from now on,
// including after a restart.
func (r *Resolver) Provide(id string, kind workflow.Kind, sourceURL, folder string) error {
	return r.store.Append(registry.Entry{
		Identifier: id,
		Kind:       kindOf(kind),
		Sources:    []string{sourceURL},
		Folder:     folder,
	})
}

func kindOf(k workflow.Kind) registry.Kind {
	if k == workflow.KindExtension {
		return registry.KindExtension
	}
	return registry.KindModel
}

// RepoNameFromURL derives the checkout directory name from a git source
// URL: the last path element with any .git suffix removed.
func RepoNameFromURL(source string) string {
	if source == "" {
		return ""
	}
	u, err := url.Parse(source)
	if err != nil {
		return ""
	}
	base := u.Path
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	return strings.TrimSuffix(base, ".git")
}
