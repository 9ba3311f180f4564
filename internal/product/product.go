// Package product defines the canonical product entity produced by record
// transformation and persisted by the synchronizer.
package product

// ImageSlot names one of the fixed attachment positions a product carries.
type ImageSlot string

const (
	SlotFront   ImageSlot = "front"
	SlotBack    ImageSlot = "back"
	SlotLabel   ImageSlot = "label"
	SlotPackage ImageSlot = "package"
	SlotGift    ImageSlot = "gift"
)

// Slots lists all image slots in a fixed order, used when iterating a
// product's images deterministically.
var Slots = []ImageSlot{SlotFront, SlotBack, SlotLabel, SlotPackage, SlotGift}

// ImageRef is the state of one image slot. Exactly one of these shapes:
//
//   - resolved: URL non-empty (Token kept for provenance)
//   - unresolved: Token non-empty, URL empty — the durable-storage upload
//     has not happened (yet); the raw token is retained so a later run can
//     retry rather than losing the reference
//
// An empty slot has no ImageRef at all.
type ImageRef struct {
	URL       string `json:"url,omitempty"`
	Token     string `json:"token,omitempty"`
	Name      string `json:"name,omitempty"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
}

// Resolved reports whether the slot holds a durable URL.
func (r ImageRef) Resolved() bool { return r.URL != "" }

// Category is the two-level product classification.
type Category struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary,omitempty"`
}

// Price carries the normal price, the optional discounted price and the
// derived discount rate. DiscountRate is nil when no valid discount exists.
type Price struct {
	Normal       float64 `json:"normal"`
	Discount     float64 `json:"discount,omitempty"`
	DiscountRate *int    `json:"discountRate,omitempty"`
}

// Origin is where the product was produced and collected.
type Origin struct {
	Country  string `json:"country,omitempty"`
	Province string `json:"province,omitempty"`
	City     string `json:"city,omitempty"`
}

// Product is the normalized, store-ready entity.
type Product struct {
	// ID is the canonical identifier, unique within a batch after identity
	// reconciliation.
	ID string `json:"id"`

	// SecondaryID is an externally supplied stable identifier (barcode),
	// preferred over positional suffixes when resolving ID collisions.
	SecondaryID string `json:"secondaryId,omitempty"`

	// RecordID is the source record this product was transformed from.
	RecordID string `json:"recordId"`

	Name          string   `json:"name"`
	Category      Category `json:"category"`
	Price         Price    `json:"price"`
	Origin        Origin   `json:"origin"`
	Platform      string   `json:"platform,omitempty"`
	Specification string   `json:"specification,omitempty"`
	Flavor        string   `json:"flavor,omitempty"`
	MixFlag       string   `json:"mixFlag,omitempty"`
	Manufacturer  string   `json:"manufacturer,omitempty"`
	Notes         string   `json:"notes,omitempty"`

	// Images maps slot name to its current reference state.
	Images map[ImageSlot]ImageRef `json:"images"`
}

// UnresolvedTokens returns the slots still holding raw tokens, in slot
// order. Used by incremental runs to find repair work.
func (p *Product) UnresolvedTokens() []ImageSlot {
	var slots []ImageSlot
	for _, slot := range Slots {
		if ref, ok := p.Images[slot]; ok && !ref.Resolved() && ref.Token != "" {
			slots = append(slots, slot)
		}
	}
	return slots
}
