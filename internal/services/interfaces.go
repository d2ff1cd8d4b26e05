package services

import (
	"context"

	"github.com/shopspring/decimal"

	domain "github.com/retail-admin/fulfillment/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderLineItem      = domain.OrderLineItem
	OrderStatus        = domain.OrderStatus
	OrderEvent         = domain.OrderEvent
	OrderListFilter    = domain.OrderListFilter
	SalesHistoryEntry  = domain.SalesHistoryEntry
	SalesHistoryFilter = domain.SalesHistoryFilter
	VariantTriple      = domain.VariantTriple
)

// FulfillmentService creates, edits, cancels and settles orders while keeping variant stock and the
// monthly sales ledger consistent with them.
type FulfillmentService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	UpdateOrderItems(ctx context.Context, cmd UpdateOrderItemsCommand) (Order, error)
	MarkOrderPaid(ctx context.Context, cmd MarkOrderPaidCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	ListSalesHistory(ctx context.Context, filter SalesHistoryFilter) ([]SalesHistoryEntry, error)
	GetProductStock(ctx context.Context, productID string) (ProductStock, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// CreateOrderCommand records a sale. Either ClientID or Client must be set.
type CreateOrderCommand struct {
	ActorID    string
	CustomerID string
	ClientID   string
	Client     *NewClientInput
	Items      []OrderItemInput
	// Status may be empty, pending or paid.
	Status OrderStatus
}

// NewClientInput describes a buyer who may not exist yet. Clients are matched by phone number.
type NewClientInput struct {
	Name        string
	PhoneNumber string
	Address     string
}

// OrderItemInput references a variant by stable id or by its color/size/style triple.
type OrderItemInput struct {
	ProductID string
	VariantID string
	Variant   VariantTriple
	Quantity  int
	// Price overrides the catalog price for this line when set.
	Price *decimal.Decimal
}

// CancelOrderCommand cancels a pending, unpaid order.
type CancelOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

// UpdateOrderItemsCommand replaces every line item of a pending order.
type UpdateOrderItemsCommand struct {
	OrderID string
	ActorID string
	Items   []OrderItemInput
}

// MarkOrderPaidCommand settles a pending order.
type MarkOrderPaidCommand struct {
	OrderID string
	ActorID string
}

// ProductStock is the read view of one product's on-hand quantities.
type ProductStock struct {
	ProductID   string
	SKU         string
	Title       string
	Sold        int
	OnHand      int
	IsAvailable bool
	Variants    []VariantStock
}

// VariantStock is one row of ProductStock.
type VariantStock struct {
	ID      string
	Key     string
	Variant VariantTriple
	Model   string
	Count   int
}
