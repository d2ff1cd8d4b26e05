package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/retail-admin/fulfillment/internal/domain"
	"github.com/retail-admin/fulfillment/internal/repositories"
	"github.com/retail-admin/fulfillment/internal/repositories/memory"
)

func TestResolveVariantIsExactAndCaseSensitive(t *testing.T) {
	product := domain.Product{
		ID:    "prod_1",
		Title: "Tee",
		Variants: []domain.Variant{
			{ID: "v1", Color: "red", Size: "M", Style: "crew"},
			{ID: "v2", Color: "red", Size: "L", Style: "crew"},
		},
	}

	idx, err := resolveVariant(product, domain.VariantTriple{Color: "red", Size: "L", Style: "crew"})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	_, err = resolveVariant(product, domain.VariantTriple{Color: "Red", Size: "L", Style: "crew"})
	require.ErrorIs(t, err, ErrVariantNotFound)

	_, err = resolveVariant(product, domain.VariantTriple{Color: "red", Size: "L"})
	require.ErrorIs(t, err, ErrVariantNotFound)

	idx, err = resolveVariantRef(product, "v1", domain.VariantTriple{Color: "red", Size: "L", Style: "crew"})
	require.NoError(t, err)
	assert.Equal(t, 0, idx, "variant id takes precedence over the triple")

	_, err = resolveVariantByID(product, "v9")
	var notFound *VariantNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "v9", notFound.VariantID)

	_, err = resolveVariant(domain.Product{ID: "empty"}, domain.VariantTriple{Color: "red"})
	require.ErrorIs(t, err, ErrVariantNotFound)
}

func TestStockLedgerDecrementAndIncrement(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ledger := newStockLedger(nil, now)
	product := &domain.Product{
		ID:       "prod_1",
		Title:    "Tee",
		Sold:     1,
		Variants: []domain.Variant{{Color: "red", Size: "M", Style: "crew", Count: 2}},
	}

	err := ledger.Decrement(product, 0, 3)
	var shortage *StockShortageError
	require.ErrorAs(t, err, &shortage)
	assert.Equal(t, 3, shortage.Requested)
	assert.Equal(t, 2, shortage.Available)
	assert.Equal(t, 2, product.Variants[0].Count)

	require.NoError(t, ledger.Decrement(product, 0, 2))
	assert.Equal(t, 0, product.Variants[0].Count)
	assert.Equal(t, 3, product.Sold)
	assert.False(t, product.IsAvailable)
	assert.Equal(t, now, product.UpdatedAt)

	ledger.Increment(product, 0, 5)
	assert.Equal(t, 5, product.Variants[0].Count)
	assert.Equal(t, 0, product.Sold, "sold is clamped at zero")
	assert.True(t, product.IsAvailable)
	assert.Equal(t, []string{"prod_1"}, ledger.dirty)
}

func TestStockLedgerFlushPersistsTouchedProducts(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.Products().Upsert(ctx, domain.Product{
		ID:       "prod_1",
		Variants: []domain.Variant{{ID: "v1", Count: 4}},
	}))
	require.NoError(t, store.Products().Upsert(ctx, domain.Product{
		ID:       "prod_2",
		Variants: []domain.Variant{{ID: "v2", Count: 4}},
	}))

	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repositories.FulfillmentTx) error {
		ledger := newStockLedger(tx, time.Now())
		first, err := ledger.product(ctx, "prod_1")
		require.NoError(t, err)
		again, err := ledger.product(ctx, "prod_1")
		require.NoError(t, err)
		assert.Same(t, first, again)
		_, err = ledger.product(ctx, "prod_2")
		require.NoError(t, err)
		_, err = ledger.product(ctx, "prod_missing")
		require.ErrorIs(t, err, ErrProductNotFound)

		require.NoError(t, ledger.Decrement(first, 0, 1))
		return ledger.flush(ctx)
	}))

	first, err := store.Products().FindByID(ctx, "prod_1")
	require.NoError(t, err)
	assert.Equal(t, 3, first.Variants[0].Count)
	second, err := store.Products().FindByID(ctx, "prod_2")
	require.NoError(t, err)
	assert.Equal(t, 4, second.Variants[0].Count)
}

func TestSalesHistoryLedgerRecordAndRevert(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	month := domain.Month{Year: 2026, Month: time.March}
	variant := domain.Variant{ID: "v1", Color: "red", Size: "M", Style: "crew"}
	list := func() []domain.SalesHistoryEntry {
		entries, err := store.SalesHistory().List(ctx, domain.SalesHistoryFilter{Month: month})
		require.NoError(t, err)
		return entries
	}
	run := func(fn func(*salesHistoryLedger) error) {
		require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repositories.FulfillmentTx) error {
			return fn(newSalesHistoryLedger(tx, time.Now()))
		}))
	}

	run(func(l *salesHistoryLedger) error { return l.RevertSale(ctx, "prod_1", "v1", 2, month) })
	assert.Empty(t, list(), "reverting a missing entry is a no-op")

	run(func(l *salesHistoryLedger) error {
		if err := l.RecordSale(ctx, "prod_1", variant, 2, month); err != nil {
			return err
		}
		return l.RecordSale(ctx, "prod_1", variant, 3, month)
	})
	entries := list()
	require.Len(t, entries, 1, "one entry per product, variant and month")
	assert.Equal(t, 5, entries[0].SoldCount)

	run(func(l *salesHistoryLedger) error { return l.RevertSale(ctx, "prod_1", "v1", 1, month) })
	assert.Equal(t, 4, list()[0].SoldCount)

	run(func(l *salesHistoryLedger) error { return l.RevertSale(ctx, "prod_1", "v1", 9, month) })
	assert.Empty(t, list(), "clamped to zero and deleted")

	run(func(l *salesHistoryLedger) error { return l.RecordSale(ctx, "prod_1", variant, 1, month) })
	run(func(l *salesHistoryLedger) error {
		return l.RevertSale(ctx, "prod_1", "v1", 1, domain.Month{Year: 2026, Month: time.April})
	})
	assert.Equal(t, 1, list()[0].SoldCount, "other months are untouched")
}

func TestOrderStateMachine(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		order   domain.Order
		target  domain.OrderStatus
		wantErr error
	}{
		{"pending to paid", domain.Order{Status: domain.OrderStatusPending}, domain.OrderStatusPaid, nil},
		{"pending to cancelled", domain.Order{Status: domain.OrderStatusPending}, domain.OrderStatusCancelled, nil},
		{"pending flagged paid to cancelled", domain.Order{Status: domain.OrderStatusPending, Paid: true}, domain.OrderStatusCancelled, ErrOrderAlreadyPaid},
		{"paid to cancelled", domain.Order{Status: domain.OrderStatusPaid, Paid: true}, domain.OrderStatusCancelled, ErrOrderAlreadyPaid},
		{"cancelled to pending", domain.Order{Status: domain.OrderStatusCancelled}, domain.OrderStatusPending, ErrOrderInvalidState},
		{"cancelled to paid", domain.Order{Status: domain.OrderStatusCancelled}, domain.OrderStatusPaid, ErrOrderInvalidState},
		{"pending to pending", domain.Order{Status: domain.OrderStatusPending}, domain.OrderStatusPending, ErrOrderInvalidState},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := tc.order
			err := transitionOrder(&order, tc.target, "staff_1", now)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Equal(t, tc.order.Status, order.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.target, order.Status)
			assert.Equal(t, now, order.UpdatedAt)
		})
	}

	order := domain.Order{Status: domain.OrderStatusPending}
	require.NoError(t, transitionOrder(&order, domain.OrderStatusPaid, "admin", now))
	assert.True(t, order.Paid)
	require.NotNil(t, order.PaidAt)

	order = domain.Order{Status: domain.OrderStatusPending}
	require.NoError(t, transitionOrder(&order, domain.OrderStatusCancelled, "staff_2", now))
	require.NotNil(t, order.CancelledAt)
	assert.Equal(t, "staff_2", order.CancelledBy)

	require.NoError(t, ensureItemsEditable(domain.Order{Status: domain.OrderStatusPending}))
	require.ErrorIs(t, ensureItemsEditable(domain.Order{Status: domain.OrderStatusCancelled}), ErrOrderInvalidState)
	require.ErrorIs(t, ensureCancellable(domain.Order{Status: domain.OrderStatusCancelled}), ErrOrderInvalidState)
}

func TestMapFulfillmentError(t *testing.T) {
	shortage := &StockShortageError{ProductTitle: "Tee"}
	assert.Same(t, error(shortage), mapFulfillmentError(shortage))
	assert.Nil(t, mapFulfillmentError(nil))

	conflict := mapFulfillmentError(repositories.NewConflictError("op", "busy", nil))
	assert.ErrorIs(t, conflict, ErrFulfillmentConflict)

	missing := mapFulfillmentError(repositories.NewNotFoundError("op", "gone"))
	assert.NotErrorIs(t, missing, ErrFulfillmentConflict)
	assert.True(t, isNotFound(missing))
}
