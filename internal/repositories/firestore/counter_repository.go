package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/retail-admin/fulfillment/internal/platform/firestore"
	"github.com/retail-admin/fulfillment/internal/repositories"
)

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository implements repositories.CounterRepository backed by Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection, nil),
	}, nil
}

// Next atomically increments the counter identified by counterID and returns the new value.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required")
	}
	if step <= 0 {
		step = 1
	}

	var next int64
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.Ref(ctx, id)
		if err != nil {
			return err
		}
		doc, found, err := r.counters.TxGet(ctx, tx, id)
		if err != nil {
			return err
		}
		current := int64(0)
		if found {
			current = doc.Data.CurrentValue
		}
		next = current + step
		return tx.Set(ref, counterDocument{CurrentValue: next, UpdatedAt: time.Now().UTC()})
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}
