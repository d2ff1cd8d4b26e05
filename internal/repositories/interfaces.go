package repositories

import (
	"context"

	domain "github.com/retail-admin/fulfillment/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Fulfillment() FulfillmentStore
	Orders() OrderRepository
	SalesHistory() SalesHistoryRepository
	Products() ProductRepository
	Counters() CounterRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// FulfillmentStore runs read-validate-mutate sequences over products, sales history, clients and
// orders as one serializable unit. Implementations retry fn on write conflicts, so fn must derive
// everything from what it reads through tx and must not keep state across attempts.
type FulfillmentStore interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx FulfillmentTx) error) error
}

// FulfillmentTx is the transactional view handed to RunInTx callbacks. Reads observe earlier writes
// made through the same tx. Writes become visible to others only when the callback returns nil.
type FulfillmentTx interface {
	// Product returns a RepositoryError with IsNotFound when the product does not exist.
	Product(ctx context.Context, productID string) (domain.Product, error)
	PutProduct(ctx context.Context, product domain.Product) error

	SalesHistory(ctx context.Context, key domain.SalesHistoryKey) (domain.SalesHistoryEntry, bool, error)
	PutSalesHistory(ctx context.Context, entry domain.SalesHistoryEntry) error
	DeleteSalesHistory(ctx context.Context, key domain.SalesHistoryKey) error

	// Order returns a RepositoryError with IsNotFound when the order does not exist.
	Order(ctx context.Context, orderID string) (domain.Order, error)
	CreateOrder(ctx context.Context, order domain.Order) error
	PutOrder(ctx context.Context, order domain.Order) error

	// Client returns a RepositoryError with IsNotFound when the client does not exist.
	Client(ctx context.Context, clientID string) (domain.Client, error)
	// ClientByPhone looks a client up by normalised phone number.
	ClientByPhone(ctx context.Context, phone string) (domain.Client, bool, error)
	// CreateClient stores the client and claims its phone number. Claiming a number that is already
	// taken fails with IsConflict.
	CreateClient(ctx context.Context, client domain.Client) error
}

// OrderRepository serves read-only order queries outside transactions.
type OrderRepository interface {
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter domain.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// SalesHistoryRepository serves ledger reports.
type SalesHistoryRepository interface {
	List(ctx context.Context, filter domain.SalesHistoryFilter) ([]domain.SalesHistoryEntry, error)
}

// ProductRepository reads products and accepts catalog pushes. Stock counts must only be changed
// through FulfillmentStore.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	Upsert(ctx context.Context, product domain.Product) error
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}
