package memory

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/retail-admin/fulfillment/internal/domain"
	"github.com/retail-admin/fulfillment/internal/repositories"
)

type write struct {
	value  any
	delete bool
	create bool
}

// tx buffers writes until commit and records the version of every document it reads.
type tx struct {
	store  *Store
	reads  map[string]uint64
	writes map[string]write
	order  []string
}

var _ repositories.FulfillmentTx = (*tx)(nil)

func newTx(store *Store) *tx {
	return &tx{
		store:  store,
		reads:  make(map[string]uint64),
		writes: make(map[string]write),
	}
}

func (t *tx) get(key string) (any, bool) {
	if w, ok := t.writes[key]; ok {
		if w.delete {
			return nil, false
		}
		return w.value, true
	}
	value, version, exists := t.store.load(key)
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = version
	}
	return value, exists
}

func (t *tx) set(key string, value any, create bool) {
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	prev := t.writes[key]
	t.writes[key] = write{value: value, create: create || prev.create}
}

func (t *tx) remove(key string) {
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = write{delete: true}
}

func (t *tx) Product(_ context.Context, productID string) (domain.Product, error) {
	value, ok := t.get(docKey(productsCollection, productID))
	if !ok {
		return domain.Product{}, repositories.NewNotFoundError("products.get", fmt.Sprintf("product %s not found", productID))
	}
	return value.(domain.Product).Clone(), nil
}

func (t *tx) PutProduct(_ context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return fmt.Errorf("memory: product id is required")
	}
	t.set(docKey(productsCollection, product.ID), product.Clone(), false)
	return nil
}

func (t *tx) SalesHistory(_ context.Context, key domain.SalesHistoryKey) (domain.SalesHistoryEntry, bool, error) {
	value, ok := t.get(docKey(salesHistoryCollection, key.DocumentID()))
	if !ok {
		return domain.SalesHistoryEntry{}, false, nil
	}
	return value.(domain.SalesHistoryEntry), true, nil
}

func (t *tx) PutSalesHistory(_ context.Context, entry domain.SalesHistoryEntry) error {
	t.set(docKey(salesHistoryCollection, entry.Key().DocumentID()), entry, false)
	return nil
}

func (t *tx) DeleteSalesHistory(_ context.Context, key domain.SalesHistoryKey) error {
	t.remove(docKey(salesHistoryCollection, key.DocumentID()))
	return nil
}

func (t *tx) Order(_ context.Context, orderID string) (domain.Order, error) {
	value, ok := t.get(docKey(ordersCollection, orderID))
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.get", fmt.Sprintf("order %s not found", orderID))
	}
	return value.(domain.Order).Clone(), nil
}

func (t *tx) CreateOrder(_ context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return fmt.Errorf("memory: order id is required")
	}
	t.set(docKey(ordersCollection, order.ID), order.Clone(), true)
	return nil
}

func (t *tx) PutOrder(_ context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return fmt.Errorf("memory: order id is required")
	}
	t.set(docKey(ordersCollection, order.ID), order.Clone(), false)
	return nil
}

func (t *tx) Client(_ context.Context, clientID string) (domain.Client, error) {
	value, ok := t.get(docKey(clientsCollection, clientID))
	if !ok {
		return domain.Client{}, repositories.NewNotFoundError("clients.get", fmt.Sprintf("client %s not found", clientID))
	}
	return value.(domain.Client), nil
}

func (t *tx) ClientByPhone(ctx context.Context, phone string) (domain.Client, bool, error) {
	value, ok := t.get(docKey(clientPhonesCollection, phone))
	if !ok {
		return domain.Client{}, false, nil
	}
	client, err := t.Client(ctx, value.(string))
	if err != nil {
		return domain.Client{}, false, err
	}
	return client, true, nil
}

func (t *tx) CreateClient(_ context.Context, client domain.Client) error {
	if strings.TrimSpace(client.ID) == "" {
		return fmt.Errorf("memory: client id is required")
	}
	if client.PhoneNumber != "" {
		phoneKey := docKey(clientPhonesCollection, client.PhoneNumber)
		if _, taken := t.get(phoneKey); taken {
			return repositories.NewConflictError("clients.create", fmt.Sprintf("phone %s already claimed", client.PhoneNumber), nil)
		}
		t.set(phoneKey, client.ID, true)
	}
	t.set(docKey(clientsCollection, client.ID), client, true)
	return nil
}
