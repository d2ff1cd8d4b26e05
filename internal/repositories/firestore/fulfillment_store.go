package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/retail-admin/fulfillment/internal/domain"
	pfirestore "github.com/retail-admin/fulfillment/internal/platform/firestore"
	"github.com/retail-admin/fulfillment/internal/repositories"
)

// FulfillmentStore implements repositories.FulfillmentStore on Firestore transactions.
type FulfillmentStore struct {
	provider *pfirestore.Provider
	attempts int
	timeout  time.Duration

	products *pfirestore.Collection[productDocument]
	history  *pfirestore.Collection[salesHistoryDocument]
	orders   *pfirestore.Collection[orderDocument]
	clients  *pfirestore.Collection[clientDocument]
	phones   *pfirestore.Collection[phoneClaimDocument]
}

// FulfillmentStoreOption customises the store.
type FulfillmentStoreOption func(*FulfillmentStore)

// WithTransactionAttempts bounds how often a contended transaction is retried.
func WithTransactionAttempts(attempts int) FulfillmentStoreOption {
	return func(s *FulfillmentStore) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithTransactionTimeout bounds the wall time of one transaction including retries.
func WithTransactionTimeout(timeout time.Duration) FulfillmentStoreOption {
	return func(s *FulfillmentStore) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewFulfillmentStore constructs the store.
func NewFulfillmentStore(provider *pfirestore.Provider, opts ...FulfillmentStoreOption) (*FulfillmentStore, error) {
	if provider == nil {
		return nil, errors.New("fulfillment store requires firestore provider")
	}
	s := &FulfillmentStore{
		provider: provider,
		products: pfirestore.NewCollection[productDocument](provider, productsCollection, nil),
		history:  pfirestore.NewCollection[salesHistoryDocument](provider, salesHistoryCollection, nil),
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection, nil),
		clients:  pfirestore.NewCollection[clientDocument](provider, clientsCollection, nil),
		phones:   pfirestore.NewCollection[phoneClaimDocument](provider, clientPhonesCollection, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// RunInTx executes fn inside a Firestore transaction. Firestore requires every read to precede the
// first write, so writes issued through tx are staged and flushed after fn returns.
func (s *FulfillmentStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.FulfillmentTx) error) error {
	if fn == nil {
		return errors.New("fulfillment store: transaction function is nil")
	}
	var opts []pfirestore.TxOption
	if s.attempts > 0 {
		opts = append(opts, pfirestore.WithTxAttempts(s.attempts))
	}
	if s.timeout > 0 {
		opts = append(opts, pfirestore.WithTxTimeout(s.timeout))
	}
	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		staged := &stagedTx{store: s, tx: tx, writes: make(map[string]*stagedWrite)}
		if err := fn(ctx, staged); err != nil {
			return err
		}
		return staged.flush(ctx)
	}, opts...)
}

type stagedWrite struct {
	ref    *firestore.DocumentRef
	data   any
	value  any
	delete bool
	create bool
}

// stagedTx serves reads through the Firestore transaction and buffers writes so that reads issued
// after a write still observe it.
type stagedTx struct {
	store  *FulfillmentStore
	tx     *firestore.Transaction
	writes map[string]*stagedWrite
	order  []string
}

var _ repositories.FulfillmentTx = (*stagedTx)(nil)

func (t *stagedTx) stage(ref *firestore.DocumentRef, w stagedWrite) {
	w.ref = ref
	if existing, ok := t.writes[ref.Path]; ok {
		w.create = w.create || existing.create
		*existing = w
		return
	}
	t.writes[ref.Path] = &w
	t.order = append(t.order, ref.Path)
}

func (t *stagedTx) staged(ref *firestore.DocumentRef) (*stagedWrite, bool) {
	w, ok := t.writes[ref.Path]
	return w, ok
}

func (t *stagedTx) flush(ctx context.Context) error {
	for _, path := range t.order {
		w := t.writes[path]
		var err error
		switch {
		case w.delete:
			err = t.tx.Delete(w.ref)
		case w.create:
			err = t.tx.Create(w.ref, w.data)
		default:
			err = t.tx.Set(w.ref, w.data)
		}
		if err != nil {
			return pfirestore.WrapError("fulfillment.flush", err)
		}
	}
	return nil
}

func (t *stagedTx) Product(ctx context.Context, productID string) (domain.Product, error) {
	ref, err := t.store.products.Ref(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if w, ok := t.staged(ref); ok && !w.delete {
		return w.value.(domain.Product).Clone(), nil
	}
	doc, found, err := t.store.products.TxGet(ctx, t.tx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if !found {
		return domain.Product{}, repositories.NewNotFoundError("products.get", fmt.Sprintf("product %s not found", productID))
	}
	return productFromDocument(doc.ID, doc.Data)
}

func (t *stagedTx) PutProduct(ctx context.Context, product domain.Product) error {
	ref, err := t.store.products.Ref(ctx, product.ID)
	if err != nil {
		return err
	}
	t.stage(ref, stagedWrite{data: productToDocument(product), value: product.Clone()})
	return nil
}

func (t *stagedTx) SalesHistory(ctx context.Context, key domain.SalesHistoryKey) (domain.SalesHistoryEntry, bool, error) {
	id := key.DocumentID()
	ref, err := t.store.history.Ref(ctx, id)
	if err != nil {
		return domain.SalesHistoryEntry{}, false, err
	}
	if w, ok := t.staged(ref); ok {
		if w.delete {
			return domain.SalesHistoryEntry{}, false, nil
		}
		return w.value.(domain.SalesHistoryEntry), true, nil
	}
	doc, found, err := t.store.history.TxGet(ctx, t.tx, id)
	if err != nil || !found {
		return domain.SalesHistoryEntry{}, false, err
	}
	entry, err := historyFromDocument(doc.Data)
	if err != nil {
		return domain.SalesHistoryEntry{}, false, fmt.Errorf("sales history %s: %w", id, err)
	}
	return entry, true, nil
}

func (t *stagedTx) PutSalesHistory(ctx context.Context, entry domain.SalesHistoryEntry) error {
	ref, err := t.store.history.Ref(ctx, entry.Key().DocumentID())
	if err != nil {
		return err
	}
	t.stage(ref, stagedWrite{data: historyToDocument(entry), value: entry})
	return nil
}

func (t *stagedTx) DeleteSalesHistory(ctx context.Context, key domain.SalesHistoryKey) error {
	ref, err := t.store.history.Ref(ctx, key.DocumentID())
	if err != nil {
		return err
	}
	t.stage(ref, stagedWrite{delete: true})
	return nil
}

func (t *stagedTx) Order(ctx context.Context, orderID string) (domain.Order, error) {
	ref, err := t.store.orders.Ref(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if w, ok := t.staged(ref); ok && !w.delete {
		return w.value.(domain.Order).Clone(), nil
	}
	doc, found, err := t.store.orders.TxGet(ctx, t.tx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !found {
		return domain.Order{}, repositories.NewNotFoundError("orders.get", fmt.Sprintf("order %s not found", orderID))
	}
	return orderFromDocument(doc.ID, doc.Data)
}

func (t *stagedTx) CreateOrder(ctx context.Context, order domain.Order) error {
	ref, err := t.store.orders.Ref(ctx, order.ID)
	if err != nil {
		return err
	}
	t.stage(ref, stagedWrite{data: orderToDocument(order), value: order.Clone(), create: true})
	return nil
}

func (t *stagedTx) PutOrder(ctx context.Context, order domain.Order) error {
	ref, err := t.store.orders.Ref(ctx, order.ID)
	if err != nil {
		return err
	}
	t.stage(ref, stagedWrite{data: orderToDocument(order), value: order.Clone()})
	return nil
}

func (t *stagedTx) Client(ctx context.Context, clientID string) (domain.Client, error) {
	ref, err := t.store.clients.Ref(ctx, clientID)
	if err != nil {
		return domain.Client{}, err
	}
	if w, ok := t.staged(ref); ok && !w.delete {
		return w.value.(domain.Client), nil
	}
	doc, found, err := t.store.clients.TxGet(ctx, t.tx, clientID)
	if err != nil {
		return domain.Client{}, err
	}
	if !found {
		return domain.Client{}, repositories.NewNotFoundError("clients.get", fmt.Sprintf("client %s not found", clientID))
	}
	return clientFromDocument(doc.ID, doc.Data), nil
}

func (t *stagedTx) ClientByPhone(ctx context.Context, phone string) (domain.Client, bool, error) {
	if strings.TrimSpace(phone) == "" {
		return domain.Client{}, false, nil
	}
	ref, err := t.store.phones.Ref(ctx, phone)
	if err != nil {
		return domain.Client{}, false, err
	}
	var clientID string
	if w, ok := t.staged(ref); ok {
		clientID = w.value.(string)
	} else {
		doc, found, err := t.store.phones.TxGet(ctx, t.tx, phone)
		if err != nil || !found {
			return domain.Client{}, false, err
		}
		clientID = doc.Data.ClientID
	}
	client, err := t.Client(ctx, clientID)
	if err != nil {
		return domain.Client{}, false, err
	}
	return client, true, nil
}

// CreateClient stages the client and its phone claim with create semantics, so a concurrent claim of
// the same number aborts this transaction.
func (t *stagedTx) CreateClient(ctx context.Context, client domain.Client) error {
	ref, err := t.store.clients.Ref(ctx, client.ID)
	if err != nil {
		return err
	}
	if client.PhoneNumber != "" {
		phoneRef, err := t.store.phones.Ref(ctx, client.PhoneNumber)
		if err != nil {
			return err
		}
		if _, taken := t.staged(phoneRef); taken {
			return repositories.NewConflictError("clients.create", fmt.Sprintf("phone %s already claimed", client.PhoneNumber), nil)
		}
		t.stage(phoneRef, stagedWrite{data: phoneClaimDocument{ClientID: client.ID}, value: client.ID, create: true})
	}
	t.stage(ref, stagedWrite{
		data: clientDocument{
			Name:        client.Name,
			PhoneNumber: client.PhoneNumber,
			Address:     client.Address,
			CreatedAt:   client.CreatedAt,
		},
		value:  client,
		create: true,
	})
	return nil
}
