package transform

// value.go coerces raw bitable field values into Go types.
//
// The records API is untyped and shape varies by column type:
//   - text columns: plain string, or an array of segment objects
//     [{"text": "..."}] when the cell mixes text and mentions
//   - number columns: float64, or string when the column was converted
//     from text and old cells kept their formatting ("¥129.00", "1,299")
//   - single/multi select: string or array of strings
//   - url columns: {"text": ..., "link": ...}
//   - attachment columns: array of descriptor objects with file_token
//
// All As* functions are total: unexpected shapes coerce to the zero value
// (with ok=false where the signature allows), never panic.

import (
	"strconv"
	"strings"

	"golang.org/x/text/width"

	"github.com/c1767673917/products-b-test-sub004/internal/source"
)

// AsString flattens a raw value to a display string.
func AsString(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(tv)
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(tv)
	case map[string]any:
		if s, ok := tv["text"].(string); ok {
			return strings.TrimSpace(s)
		}
		if s, ok := tv["link"].(string); ok {
			return strings.TrimSpace(s)
		}
		return ""
	case []any:
		parts := make([]string, 0, len(tv))
		for _, item := range tv {
			if s := AsString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

// AsNumber coerces a raw value to a float64. String inputs tolerate
// currency symbols, thousands separators and full-width digits; ok is
// false when nothing numeric remains.
func AsNumber(v any) (float64, bool) {
	switch tv := v.(type) {
	case float64:
		return tv, true
	case int:
		return float64(tv), true
	case string:
		return parseNumber(tv)
	case []any:
		if len(tv) > 0 {
			return AsNumber(tv[0])
		}
	case map[string]any:
		if s, ok := tv["text"]; ok {
			return AsNumber(s)
		}
	}
	return 0, false
}

// parseNumber cleans a price-like string and parses it.
func parseNumber(s string) (float64, bool) {
	// Fold full-width digits and punctuation to ASCII first.
	s = width.Fold.String(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-', r == '+':
			b.WriteRune(r)
		case r == ',', r == '¥', r == '￥', r == '$', r == ' ':
			// strip separators and currency markers
		default:
			// Any other character (units, annotations) ends the number:
			// "129元/盒" parses as 129.
			if b.Len() > 0 {
				goto parse
			}
			return 0, false
		}
	}

parse:
	f, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// AsAttachments extracts attachment descriptors from an attachment-type
// value. Entries without a file token are dropped.
func AsAttachments(v any) []source.Attachment {
	items, ok := v.([]any)
	if !ok {
		return nil
	}

	var atts []source.Attachment
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		token, _ := m["file_token"].(string)
		if token == "" {
			continue
		}
		att := source.Attachment{Token: token}
		if name, ok := m["name"].(string); ok {
			att.Name = name
		}
		if size, ok := m["size"].(float64); ok {
			att.Size = int64(size)
		}
		atts = append(atts, att)
	}
	return atts
}
