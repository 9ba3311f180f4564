// Package identity deduplicates canonical product identifiers within a
// batch.
//
// The source table has no uniqueness constraint on the sequence column, so
// collisions are expected, not exceptional. Reconciliation renames later
// occurrences deterministically: the first product seen under an id always
// keeps it, so identifiers already referenced outside the system stay
// stable across runs as long as fetch order is stable.
package identity

import (
	"fmt"
	"log/slog"

	"github.com/c1767673917/products-b-test-sub004/internal/product"
)

// Rename records one identifier change applied during reconciliation.
type Rename struct {
	RecordID string
	From     string
	To       string
}

// Reconcile assigns unique ids across the batch, in input order.
//
// On a collision the replacement id is chosen by fixed precedence:
//  1. the product's externally supplied secondary identifier, when present
//     and itself unused within the batch
//  2. the original id suffixed "_n" for the smallest unused n
//
// Products are mutated in place. The returned renames are informational;
// collisions are never errors.
func Reconcile(products []*product.Product) []Rename {
	seen := make(map[string]int, len(products))
	var renames []Rename

	for i, p := range products {
		if p.ID == "" {
			// Transformation guarantees non-empty ids; guard anyway so a
			// blank id cannot silently collide with another blank.
			p.ID = fmt.Sprintf("unnamed_%d", i+1)
		}

		if _, dup := seen[p.ID]; !dup {
			seen[p.ID] = i
			continue
		}

		original := p.ID
		renamed := ""

		if p.SecondaryID != "" && p.SecondaryID != original {
			if _, used := seen[p.SecondaryID]; !used {
				renamed = p.SecondaryID
			}
		}
		if renamed == "" {
			for n := 1; ; n++ {
				candidate := fmt.Sprintf("%s_%d", original, n)
				if _, used := seen[candidate]; !used {
					renamed = candidate
					break
				}
			}
		}

		p.ID = renamed
		seen[renamed] = i
		renames = append(renames, Rename{RecordID: p.RecordID, From: original, To: renamed})

		slog.Info("duplicate product id reconciled",
			"record_id", p.RecordID,
			"from", original,
			"to", renamed,
		)
	}

	return renames
}
