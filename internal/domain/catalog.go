package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// VariantTriple is the descriptive color/size/style combination shown to staff. It doubles as the
// lookup key accepted at the API boundary.
type VariantTriple struct {
	Color string
	Size  string
	Style string
}

// String renders the triple for messages, e.g. "red/42/classic".
func (t VariantTriple) String() string {
	return fmt.Sprintf("%s/%s/%s", t.Color, t.Size, t.Style)
}

// IsZero reports whether no attribute is set.
func (t VariantTriple) IsZero() bool {
	return t.Color == "" && t.Size == "" && t.Style == ""
}

// Variant is one sellable unit of a product. ID is a stable surrogate assigned by the catalog.
type Variant struct {
	ID    string
	Color string
	Size  string
	Style string
	Model string
	Count int
}

// Triple returns the variant's descriptive attributes.
func (v Variant) Triple() VariantTriple {
	return VariantTriple{Color: v.Color, Size: v.Size, Style: v.Style}
}

// Key identifies the variant inside its product for ledger purposes. Legacy variants without an ID
// fall back to a digest of their triple.
func (v Variant) Key() string {
	if v.ID != "" {
		return v.ID
	}
	return LegacyVariantKey(v.Triple())
}

// LegacyVariantKey derives a deterministic key from a triple.
func LegacyVariantKey(t VariantTriple) string {
	sum := sha256.Sum256([]byte(t.Color + "\x00" + t.Size + "\x00" + t.Style))
	return "t-" + hex.EncodeToString(sum[:10])
}

// Product is the catalog entry whose variant counts are owned by the stock ledger.
type Product struct {
	ID          string
	SKU         string
	Title       string
	Price       decimal.Decimal
	Variants    []Variant
	Sold        int
	IsAvailable bool
	UpdatedAt   time.Time
}

// OnHand sums the counts across all variants.
func (p Product) OnHand() int {
	total := 0
	for _, v := range p.Variants {
		total += v.Count
	}
	return total
}

// RecomputeAvailability refreshes IsAvailable from the variant counts.
func (p *Product) RecomputeAvailability() {
	p.IsAvailable = p.OnHand() > 0
}

// Clone returns a deep copy so callers can mutate variants without aliasing.
func (p Product) Clone() Product {
	out := p
	if p.Variants != nil {
		out.Variants = make([]Variant, len(p.Variants))
		copy(out.Variants, p.Variants)
	}
	return out
}
