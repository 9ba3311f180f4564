// Package source provides the client for the external bitable record source.
package source

import "errors"

// ErrUnavailable marks failures that affect the source as a whole
// (authentication rejected, network unreachable). Callers treat it as fatal
// for a sync run, unlike per-record or per-media failures.
var ErrUnavailable = errors.New("source unavailable")

// Record is one raw row fetched from the source table, keyed by external
// field display names. Values are untyped: strings, numbers, text-segment
// arrays, option arrays or attachment descriptor arrays.
type Record struct {
	RecordID string
	Fields   map[string]any
}

// Attachment describes a binary asset referenced from an attachment-type
// field. Token is an opaque source-issued reference, stable for the life of
// the record but not itself a fetchable URL.
type Attachment struct {
	Token string
	Name  string
	Size  int64
}
