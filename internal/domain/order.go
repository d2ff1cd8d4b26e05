package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is the initial state; stock is already committed.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid is terminal; the order can no longer be cancelled or edited.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusCancelled is terminal; stock and history have been reversed.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusCancelled
}

// Order records a sale captured by staff on behalf of a client.
type Order struct {
	ID           string
	Number       string
	CustomerID   string
	ClientID     string
	Client       ClientSnapshot
	Items        []OrderLineItem
	Status       OrderStatus
	Paid         bool
	Total        decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
	PaidAt       *time.Time
	CancelledAt  *time.Time
	CancelledBy  string
	CancelReason string
}

// OrderLineItem snapshots what was sold. UnitPrice is frozen at sale time and SalesMonth records
// the ledger month the quantity was booked against.
type OrderLineItem struct {
	ProductID    string
	ProductTitle string
	SKU          string
	VariantID    string
	Variant      VariantTriple
	Model        string
	Quantity     int
	UnitPrice    decimal.Decimal
	SalesMonth   Month
}

// Subtotal is quantity times unit price.
func (i OrderLineItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// VariantKey returns the ledger key of the sold variant, matching Variant.Key.
func (i OrderLineItem) VariantKey() string {
	if i.VariantID != "" {
		return i.VariantID
	}
	return LegacyVariantKey(i.Variant)
}

// OrderTotal sums line subtotals.
func OrderTotal(items []OrderLineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// Clone returns a deep copy of the order.
func (o Order) Clone() Order {
	out := o
	if o.Items != nil {
		out.Items = make([]OrderLineItem, len(o.Items))
		copy(out.Items, o.Items)
	}
	if o.PaidAt != nil {
		paidAt := *o.PaidAt
		out.PaidAt = &paidAt
	}
	if o.CancelledAt != nil {
		cancelledAt := *o.CancelledAt
		out.CancelledAt = &cancelledAt
	}
	return out
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	Status     []OrderStatus
	CustomerID string
	Pagination Pagination
}

// Client is a buyer, deduplicated by normalised phone number.
type Client struct {
	ID          string
	Name        string
	PhoneNumber string
	Address     string
	CreatedAt   time.Time
}

// Snapshot captures the client details stored on an order.
func (c Client) Snapshot() ClientSnapshot {
	return ClientSnapshot{Name: c.Name, PhoneNumber: c.PhoneNumber}
}

// ClientSnapshot is the denormalised client view kept on orders.
type ClientSnapshot struct {
	Name        string
	PhoneNumber string
}

// OrderEvent is published after an order mutation commits.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	ActorID        string
	PreviousStatus OrderStatus
	CurrentStatus  OrderStatus
	Total          decimal.Decimal
	Items          []OrderLineItem
	OccurredAt     time.Time
}
