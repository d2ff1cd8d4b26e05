package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	domain "github.com/retail-admin/fulfillment/internal/domain"
	pfirestore "github.com/retail-admin/fulfillment/internal/platform/firestore"
	"github.com/retail-admin/fulfillment/internal/repositories"
)

// SalesHistoryRepository reads the monthly ledger.
type SalesHistoryRepository struct {
	history *pfirestore.Collection[salesHistoryDocument]
}

// NewSalesHistoryRepository constructs the repository.
func NewSalesHistoryRepository(provider *pfirestore.Provider) (*SalesHistoryRepository, error) {
	if provider == nil {
		return nil, errors.New("sales history repository requires firestore provider")
	}
	return &SalesHistoryRepository{history: pfirestore.NewCollection[salesHistoryDocument](provider, salesHistoryCollection, nil)}, nil
}

var _ repositories.SalesHistoryRepository = (*SalesHistoryRepository)(nil)

// List returns the entries matching filter ordered by document id.
func (r *SalesHistoryRepository) List(ctx context.Context, filter domain.SalesHistoryFilter) ([]domain.SalesHistoryEntry, error) {
	docs, err := r.history.Query(ctx, func(q firestore.Query) firestore.Query {
		if !filter.Month.IsZero() {
			q = q.Where("month", "==", filter.Month.String())
		}
		if filter.ProductID != "" {
			q = q.Where("productId", "==", filter.ProductID)
		}
		return q.OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	entries := make([]domain.SalesHistoryEntry, 0, len(docs))
	for _, doc := range docs {
		entry, err := historyFromDocument(doc.Data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
