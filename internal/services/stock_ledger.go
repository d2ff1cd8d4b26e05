package services

import (
	"context"
	"time"

	domain "github.com/retail-admin/fulfillment/internal/domain"
	"github.com/retail-admin/fulfillment/internal/repositories"
)

// stockLedger holds the products touched by one transaction attempt. Every product is read through
// the transaction once, mutated in memory and written back by flush, so the read-modify-write of a
// product is covered by the store's conflict detection.
type stockLedger struct {
	tx       repositories.FulfillmentTx
	now      time.Time
	products map[string]*domain.Product
	dirty    []string
}

func newStockLedger(tx repositories.FulfillmentTx, now time.Time) *stockLedger {
	return &stockLedger{tx: tx, now: now, products: make(map[string]*domain.Product)}
}

// product returns the transaction's working copy of productID.
func (l *stockLedger) product(ctx context.Context, productID string) (*domain.Product, error) {
	if p, ok := l.products[productID]; ok {
		return p, nil
	}
	loaded, err := l.tx.Product(ctx, productID)
	if err != nil {
		if isNotFound(err) {
			return nil, &ProductNotFoundError{ProductID: productID}
		}
		return nil, err
	}
	l.products[productID] = &loaded
	return &loaded, nil
}

// Decrement removes quantity units from the variant and adds them to the product's sold total.
func (l *stockLedger) Decrement(product *domain.Product, idx, quantity int) error {
	variant := &product.Variants[idx]
	if quantity > variant.Count {
		return &StockShortageError{
			ProductID:    product.ID,
			ProductTitle: product.Title,
			Variant:      variant.Triple(),
			Requested:    quantity,
			Available:    variant.Count,
		}
	}
	variant.Count -= quantity
	product.Sold += quantity
	l.touch(product)
	return nil
}

// Increment is the inverse of Decrement. Sold is clamped at zero.
func (l *stockLedger) Increment(product *domain.Product, idx, quantity int) {
	product.Variants[idx].Count += quantity
	product.Sold -= quantity
	if product.Sold < 0 {
		product.Sold = 0
	}
	l.touch(product)
}

func (l *stockLedger) touch(product *domain.Product) {
	product.RecomputeAvailability()
	product.UpdatedAt = l.now
	for _, id := range l.dirty {
		if id == product.ID {
			return
		}
	}
	l.dirty = append(l.dirty, product.ID)
}

// flush writes every mutated product through the transaction.
func (l *stockLedger) flush(ctx context.Context) error {
	for _, id := range l.dirty {
		if err := l.tx.PutProduct(ctx, *l.products[id]); err != nil {
			return err
		}
	}
	return nil
}
