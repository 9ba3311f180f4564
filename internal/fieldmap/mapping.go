// Package fieldmap defines the declarative mapping between canonical product
// field paths and the external bitable schema.
//
// The external source is bilingual: a field carries a Chinese display name,
// sometimes an English alias, and a stable field identifier. Display names
// are what the records API keys values by, but they change whenever someone
// edits the table header. Field identifiers survive those edits, so every
// mapping entry records both and resolution can fall back through the
// identifier when the primary display name no longer matches.
package fieldmap

import (
	"fmt"
	"strings"

	"golang.org/x/text/width"
)

// Entry maps one canonical product field to the external schema.
type Entry struct {
	// LocalPath is the canonical field path, e.g. "price.normal".
	LocalPath string

	// PrimaryName is the current display name of the source column.
	PrimaryName string

	// FieldID is the stable identifier the source assigns to the column.
	FieldID string

	// FallbackFieldID optionally names another entry (by its FieldID) whose
	// PrimaryName is tried when this entry's primary lookup comes up empty.
	FallbackFieldID string
}

// Table is a validated, indexed mapping table. Build one with New and share
// it; it is immutable after construction.
type Table struct {
	entries   []Entry
	byPath    map[string]Entry
	byFieldID map[string]Entry
}

// New builds a Table from entries and validates the invariants:
// LocalPath unique, FieldID unique, and every FallbackFieldID present as
// some entry's FieldID. A violation is a configuration defect and the
// process must refuse to start.
func New(entries []Entry) (*Table, error) {
	t := &Table{
		entries:   entries,
		byPath:    make(map[string]Entry, len(entries)),
		byFieldID: make(map[string]Entry, len(entries)),
	}

	for _, e := range entries {
		if e.LocalPath == "" || e.PrimaryName == "" || e.FieldID == "" {
			return nil, fmt.Errorf("fieldmap: entry %+v missing localPath, primaryName or fieldId", e)
		}
		if _, dup := t.byPath[e.LocalPath]; dup {
			return nil, fmt.Errorf("fieldmap: duplicate localPath %q", e.LocalPath)
		}
		if _, dup := t.byFieldID[e.FieldID]; dup {
			return nil, fmt.Errorf("fieldmap: duplicate fieldId %q", e.FieldID)
		}
		t.byPath[e.LocalPath] = e
		t.byFieldID[e.FieldID] = e
	}

	for _, e := range entries {
		if e.FallbackFieldID == "" {
			continue
		}
		if _, ok := t.byFieldID[e.FallbackFieldID]; !ok {
			return nil, fmt.Errorf("fieldmap: entry %q references unknown fallback fieldId %q",
				e.LocalPath, e.FallbackFieldID)
		}
	}

	return t, nil
}

// ByPath returns the entry for a canonical field path.
// A missing path is a configuration defect, not a per-record condition.
func (t *Table) ByPath(path string) (Entry, bool) {
	e, ok := t.byPath[path]
	return e, ok
}

// ByFieldID returns the entry whose stable field identifier matches id.
func (t *Table) ByFieldID(id string) (Entry, bool) {
	e, ok := t.byFieldID[id]
	return e, ok
}

// Entries returns the entries in declaration order.
func (t *Table) Entries() []Entry {
	return t.entries
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// NormalizeName canonicalizes an external field name for lookup.
// The bitable UI mixes full-width and half-width punctuation in headers
// (e.g. "产地（省）" vs "产地(省)"), so both forms must resolve identically.
func NormalizeName(name string) string {
	return width.Fold.String(strings.TrimSpace(name))
}
