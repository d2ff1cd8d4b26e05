package domain

import (
	"fmt"
	"strings"
	"time"
)

const monthLayout = "2006-01"

// documentIDEscaper keeps the "_" separator and "/" out of id components.
var documentIDEscaper = strings.NewReplacer("%", "%25", "_", "%5F", "/", "%2F")

// Month is a calendar month period used to bucket sales history.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the month containing t in loc. A nil location means UTC.
func MonthOf(t time.Time, loc *time.Location) Month {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return Month{Year: local.Year(), Month: local.Month()}
}

// ParseMonth parses the YYYY-MM form.
func ParseMonth(value string) (Month, error) {
	parsed, err := time.Parse(monthLayout, value)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q: expected YYYY-MM", value)
	}
	return Month{Year: parsed.Year(), Month: parsed.Month()}, nil
}

// String renders the month as YYYY-MM.
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// IsZero reports whether the month is unset.
func (m Month) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

// MarshalText encodes the month as YYYY-MM.
func (m Month) MarshalText() ([]byte, error) {
	if m.IsZero() {
		return []byte{}, nil
	}
	return []byte(m.String()), nil
}

// UnmarshalText decodes YYYY-MM.
func (m *Month) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*m = Month{}
		return nil
	}
	parsed, err := ParseMonth(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// SalesHistoryKey uniquely identifies a monthly ledger row.
type SalesHistoryKey struct {
	ProductID  string
	VariantKey string
	Month      Month
}

// DocumentID is the storage identifier enforcing one row per key.
// Components are percent-escaped so distinct keys never share an id.
func (k SalesHistoryKey) DocumentID() string {
	return documentIDEscaper.Replace(k.ProductID) + "_" +
		documentIDEscaper.Replace(k.VariantKey) + "_" +
		k.Month.String()
}

// SalesHistoryEntry counts units sold for one variant in one month.
type SalesHistoryEntry struct {
	ProductID  string
	VariantKey string
	Variant    VariantTriple
	Month      Month
	SoldCount  int
	UpdatedAt  time.Time
}

// Key returns the entry's unique key.
func (e SalesHistoryEntry) Key() SalesHistoryKey {
	return SalesHistoryKey{ProductID: e.ProductID, VariantKey: e.VariantKey, Month: e.Month}
}

// SalesHistoryFilter narrows ledger reports.
type SalesHistoryFilter struct {
	Month     Month
	ProductID string
}
