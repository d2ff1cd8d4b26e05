package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	domain "github.com/retail-admin/fulfillment/internal/domain"
	pfirestore "github.com/retail-admin/fulfillment/internal/platform/firestore"
	"github.com/retail-admin/fulfillment/internal/platform/pagination"
	"github.com/retail-admin/fulfillment/internal/repositories"
)

// OrderRepository serves order reads outside transactions.
type OrderRepository struct {
	orders *pfirestore.Collection[orderDocument]
}

// NewOrderRepository constructs the repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{orders: pfirestore.NewCollection[orderDocument](provider, ordersCollection, nil)}, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return orderFromDocument(doc.ID, doc.Data)
}

// List returns orders newest first using keyset pagination on (createdAt, document id).
func (r *OrderRepository) List(ctx context.Context, filter domain.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.NormalizePageSize(filter.Pagination.PageSize)

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		switch len(filter.Status) {
		case 0:
		case 1:
			q = q.Where("status", "==", string(filter.Status[0]))
		default:
			statuses := make([]string, 0, len(filter.Status))
			for _, status := range filter.Status {
				statuses = append(statuses, string(status))
			}
			q = q.Where("status", "in", statuses)
		}
		if filter.CustomerID != "" {
			q = q.Where("customerId", "==", filter.CustomerID)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i == size {
			last := page.Items[len(page.Items)-1]
			token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			page.NextPageToken = token
			break
		}
		order, err := orderFromDocument(doc.ID, doc.Data)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("orders.list: %w", err)
		}
		page.Items = append(page.Items, order)
	}
	return page, nil
}
