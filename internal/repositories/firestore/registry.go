package firestore

import (
	"context"
	"time"

	pfirestore "github.com/retail-admin/fulfillment/internal/platform/firestore"
	"github.com/retail-admin/fulfillment/internal/repositories"
)

// Registry bundles the Firestore-backed repositories.
type Registry struct {
	provider     *pfirestore.Provider
	fulfillment  *FulfillmentStore
	orders       *OrderRepository
	salesHistory *SalesHistoryRepository
	products     *ProductRepository
	counters     *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires every repository onto one provider.
func NewRegistry(provider *pfirestore.Provider, txAttempts int, txTimeout time.Duration) (*Registry, error) {
	fulfillment, err := NewFulfillmentStore(provider, WithTransactionAttempts(txAttempts), WithTransactionTimeout(txTimeout))
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	history, err := NewSalesHistoryRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider:     provider,
		fulfillment:  fulfillment,
		orders:       orders,
		salesHistory: history,
		products:     products,
		counters:     counters,
	}, nil
}

// Close releases the provider.
func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

// Fulfillment returns the transactional store.
func (r *Registry) Fulfillment() repositories.FulfillmentStore { return r.fulfillment }

// Orders returns the order reader.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// SalesHistory returns the ledger reader.
func (r *Registry) SalesHistory() repositories.SalesHistoryRepository { return r.salesHistory }

// Products returns the product repository.
func (r *Registry) Products() repositories.ProductRepository { return r.products }

// Counters returns the counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }
