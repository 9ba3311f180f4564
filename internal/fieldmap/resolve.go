package fieldmap

import "log/slog"

// Fields is a raw record's field set keyed by normalized external field
// name. Build one per record with NewFields before resolving against it.
type Fields map[string]any

// NewFields normalizes the field names of a raw record for resolution.
func NewFields(raw map[string]any) Fields {
	f := make(Fields, len(raw))
	for name, value := range raw {
		f[NormalizeName(name)] = value
	}
	return f
}

// Resolve returns the value for a mapping entry following the fallback
// chain, and whether a non-empty value was found:
//
//  1. Look up the entry's primary display name. A present, non-empty value
//     wins regardless of fallback configuration.
//  2. Otherwise, if the entry names a fallback field id, find the entry
//     owning that id and look up its primary name.
//
// A fallback id that matches no entry is a configuration problem, logged
// and treated as absent; it must not fail the record.
func (t *Table) Resolve(fields Fields, e Entry) (any, bool) {
	if v, ok := fields[NormalizeName(e.PrimaryName)]; ok && !isEmpty(v) {
		return v, true
	}

	if e.FallbackFieldID == "" {
		return nil, false
	}

	fb, ok := t.byFieldID[e.FallbackFieldID]
	if !ok {
		// Unreachable for tables built with New, which validates the
		// fallback closure. Kept for tables assembled by hand in tests.
		slog.Warn("fieldmap: fallback fieldId has no entry",
			"local_path", e.LocalPath,
			"fallback_field_id", e.FallbackFieldID,
		)
		return nil, false
	}

	if v, ok := fields[NormalizeName(fb.PrimaryName)]; ok && !isEmpty(v) {
		return v, true
	}
	return nil, false
}

// ResolvePath resolves by canonical field path. The boolean reports whether
// a value was found; an unknown path resolves to absent and is logged, since
// callers are expected to validate paths against the table at startup.
func (t *Table) ResolvePath(fields Fields, path string) (any, bool) {
	e, ok := t.byPath[path]
	if !ok {
		slog.Warn("fieldmap: unknown localPath", "local_path", path)
		return nil, false
	}
	return t.Resolve(fields, e)
}

// isEmpty reports whether a raw bitable value carries no usable data.
// The records API returns empty strings, empty arrays and nulls for cleared
// cells depending on the column type.
func isEmpty(v any) bool {
	switch tv := v.(type) {
	case nil:
		return true
	case string:
		return tv == ""
	case []any:
		return len(tv) == 0
	case map[string]any:
		return len(tv) == 0
	}
	return false
}
