package services

import (
	"context"
	"time"

	domain "github.com/retail-admin/fulfillment/internal/domain"
	"github.com/retail-admin/fulfillment/internal/repositories"
)

// salesHistoryLedger upserts monthly sold counts inside the caller's transaction. Entries are unique
// per (product, variant, month) because the key is the document id.
type salesHistoryLedger struct {
	tx  repositories.FulfillmentTx
	now time.Time
}

func newSalesHistoryLedger(tx repositories.FulfillmentTx, now time.Time) *salesHistoryLedger {
	return &salesHistoryLedger{tx: tx, now: now}
}

// RecordSale adds quantity to the entry for month, creating it on the first sale.
func (l *salesHistoryLedger) RecordSale(ctx context.Context, productID string, variant domain.Variant, quantity int, month domain.Month) error {
	key := domain.SalesHistoryKey{ProductID: productID, VariantKey: variant.Key(), Month: month}
	entry, found, err := l.tx.SalesHistory(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		entry = domain.SalesHistoryEntry{
			ProductID:  productID,
			VariantKey: key.VariantKey,
			Month:      month,
		}
	}
	entry.Variant = variant.Triple()
	entry.SoldCount += quantity
	entry.UpdatedAt = l.now
	return l.tx.PutSalesHistory(ctx, entry)
}

// RevertSale subtracts quantity from the entry for month. A missing entry is left alone and an entry
// that reaches zero is deleted.
func (l *salesHistoryLedger) RevertSale(ctx context.Context, productID, variantKey string, quantity int, month domain.Month) error {
	key := domain.SalesHistoryKey{ProductID: productID, VariantKey: variantKey, Month: month}
	entry, found, err := l.tx.SalesHistory(ctx, key)
	if err != nil || !found {
		return err
	}
	entry.SoldCount -= quantity
	if entry.SoldCount <= 0 {
		return l.tx.DeleteSalesHistory(ctx, key)
	}
	entry.UpdatedAt = l.now
	return l.tx.PutSalesHistory(ctx, entry)
}
