// Package transform converts raw source records into canonical products.
//
// Transformation never fails a batch: every field mapping is attempted
// independently and problems are collected as errors or warnings on the
// per-record Result. A record is only considered failed when a required
// field is missing or invalid, and even then the caller moves on to the
// next record.
package transform

import (
	"fmt"
	"math"

	"github.com/c1767673917/products-b-test-sub004/internal/fieldmap"
	"github.com/c1767673917/products-b-test-sub004/internal/product"
	"github.com/c1767673917/products-b-test-sub004/internal/source"
)

// FieldIssue describes one problem found while transforming a record.
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i FieldIssue) String() string {
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

// Result is the outcome of transforming one record. Product is nil when a
// required field was missing or invalid; Errors is non-empty in that case.
// Warnings never fail a record.
type Result struct {
	Product  *product.Product
	Errors   []FieldIssue
	Warnings []FieldIssue
}

// Failed reports whether the record could not produce a product.
func (r Result) Failed() bool { return r.Product == nil }

// slotPaths maps each image slot to its mapping table path.
var slotPaths = map[product.ImageSlot]string{
	product.SlotFront:   "images.front",
	product.SlotBack:    "images.back",
	product.SlotLabel:   "images.label",
	product.SlotPackage: "images.package",
	product.SlotGift:    "images.gift",
}

// Transformer turns raw records into canonical products using a field
// mapping table. Safe for concurrent use; it holds no mutable state.
type Transformer struct {
	table *fieldmap.Table
}

// New creates a Transformer over a validated mapping table.
func New(table *fieldmap.Table) *Transformer {
	return &Transformer{table: table}
}

// Transform converts one raw record. It never panics on malformed data.
func (t *Transformer) Transform(rec source.Record) Result {
	fields := fieldmap.NewFields(rec.Fields)
	var res Result

	p := &product.Product{
		RecordID: rec.RecordID,
		Images:   make(map[product.ImageSlot]product.ImageRef),
	}

	// Required: identifier from the sequence field.
	p.ID = t.resolveString(fields, "id")
	if p.ID == "" {
		res.Errors = append(res.Errors, FieldIssue{Field: "id", Message: "missing required field"})
	}

	// Required: display name.
	p.Name = t.resolveString(fields, "name")
	if p.Name == "" {
		res.Errors = append(res.Errors, FieldIssue{Field: "name", Message: "missing required field"})
	}

	// Required: primary category.
	p.Category.Primary = t.resolveString(fields, "category.primary")
	if p.Category.Primary == "" {
		res.Errors = append(res.Errors, FieldIssue{Field: "category.primary", Message: "missing required field"})
	}
	p.Category.Secondary = t.resolveString(fields, "category.secondary")

	// Required: positive normal price. Non-numeric values degrade to zero
	// with a warning, which then fails the positivity requirement.
	if raw, ok := t.table.ResolvePath(fields, "price.normal"); ok {
		n, numeric := AsNumber(raw)
		if !numeric {
			res.Warnings = append(res.Warnings, FieldIssue{
				Field:   "price.normal",
				Message: fmt.Sprintf("non-numeric value %q treated as 0", AsString(raw)),
			})
		}
		p.Price.Normal = n
	}
	if p.Price.Normal <= 0 {
		res.Errors = append(res.Errors, FieldIssue{
			Field:   "price.normal",
			Message: "missing or not a positive number",
		})
	}

	// Optional discount and derived rate.
	if raw, ok := t.table.ResolvePath(fields, "price.discount"); ok {
		d, numeric := AsNumber(raw)
		if !numeric {
			res.Warnings = append(res.Warnings, FieldIssue{
				Field:   "price.discount",
				Message: fmt.Sprintf("non-numeric value %q treated as 0", AsString(raw)),
			})
		}
		p.Price.Discount = d
	}
	if rate, ok := discountRate(p.Price.Normal, p.Price.Discount); ok {
		p.Price.DiscountRate = &rate
	} else if p.Price.Discount > p.Price.Normal && p.Price.Normal > 0 {
		res.Warnings = append(res.Warnings, FieldIssue{
			Field:   "price.discount",
			Message: "discount exceeds normal price, rate omitted",
		})
	}

	p.SecondaryID = t.resolveString(fields, "secondaryId")
	p.Origin.Country = t.resolveString(fields, "origin.country")
	p.Origin.Province = t.resolveString(fields, "origin.province")
	p.Origin.City = t.resolveString(fields, "origin.city")
	p.Platform = t.resolveString(fields, "platform")
	p.Specification = t.resolveString(fields, "specification")
	p.Flavor = t.resolveString(fields, "flavor")
	p.MixFlag = t.resolveString(fields, "mixFlag")
	p.Manufacturer = t.resolveString(fields, "manufacturer")
	p.Notes = t.resolveString(fields, "notes")

	// Image slots: keep the first attachment per slot as an unresolved
	// token reference; resolution to durable URLs happens later.
	for slot, path := range slotPaths {
		raw, ok := t.table.ResolvePath(fields, path)
		if !ok {
			continue
		}
		atts := AsAttachments(raw)
		if len(atts) == 0 {
			continue
		}
		att := atts[0]
		p.Images[slot] = product.ImageRef{
			Token:     att.Token,
			Name:      att.Name,
			SizeBytes: att.Size,
		}
	}

	if len(res.Errors) > 0 {
		return res
	}

	res.Product = p
	return res
}

// resolveString resolves a path and flattens the value to a string.
func (t *Transformer) resolveString(fields fieldmap.Fields, path string) string {
	raw, ok := t.table.ResolvePath(fields, path)
	if !ok {
		return ""
	}
	return AsString(raw)
}

// discountRate derives the percentage saved, only when both prices are
// positive and the discount does not exceed the normal price.
func discountRate(normal, discount float64) (int, bool) {
	if normal <= 0 || discount <= 0 || discount > normal {
		return 0, false
	}
	return int(math.Round((normal - discount) / normal * 100)), true
}
