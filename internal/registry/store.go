// Package registry persists the identifier-to-source mapping used to resolve
// workflow dependencies that are not already installed. Growth is
// append-only: sources are added, never silently overwritten, so two
// installations can grow their stores independently and merge them later.
package registry

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Kind mirrors the two installable unit families.
type Kind string

const (
	KindExtension Kind = "extension"
	KindModel     Kind = "model"
)

// Entry maps one identifier to its known candidate sources. Sources are
// ordered oldest first; the most recently added source is preferred at
// lookup time.
type Entry struct {
	Identifier string    `yaml:"identifier"`
	Kind       Kind      `yaml:"kind"`
	Sources    []string  `yaml:"sources"`
	Folder     string    `yaml:"folder,omitempty"` // model subdirectory hint
	AddedAt    time.Time `yaml:"added_at,omitempty"`
}

// Validate checks an entry before it is appended to a store.
func (e Entry) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Identifier, validation.Required),
		validation.Field(&e.Kind, validation.Required, validation.In(KindExtension, KindModel)),
		validation.Field(&e.Sources, validation.Required, validation.Each(is.URL)),
	)
}

// PreferredSource returns the most recently added source URL.
func (e Entry) PreferredSource() string {
	if len(e.Sources) == 0 {
		return ""
	}
	return e.Sources[len(e.Sources)-1]
}

// Store is the capability the resolver depends on. Implementations must
// keep Append from invalidating concurrent Lookup callers; a reader
// observing a pre-append snapshot simply reports the identifier unknown.
type Store interface {
	// Lookup finds the entry for an identifier of the given kind.
	Lookup(id string, kind Kind) (Entry, bool)
	// Append records a new identifier, or adds a source to an existing one.
	Append(e Entry) error
	// Entries returns all entries, sorted by kind then identifier.
	Entries() []Entry
}
