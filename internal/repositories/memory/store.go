package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	domain "github.com/retail-admin/fulfillment/internal/domain"
	"github.com/retail-admin/fulfillment/internal/platform/pagination"
	"github.com/retail-admin/fulfillment/internal/repositories"
)

const (
	defaultTxAttempts = 8

	productsCollection     = "products"
	salesHistoryCollection = "salesHistory"
	ordersCollection       = "orders"
	clientsCollection      = "clients"
	clientPhonesCollection = "clientPhones"
)

var errCommitConflict = errors.New("memory: commit conflict")

// Store is an in-process implementation of every repository the service needs. Transactions use
// optimistic concurrency: each document carries a version, reads record the version they observed
// and commit fails if any of them moved.
type Store struct {
	mu       sync.Mutex
	docs     map[string]*document
	counters map[string]int64
	attempts int

	// beforeCommit runs after a transaction callback succeeds and before validation. Tests use it to
	// force interleavings.
	beforeCommit func()
}

type document struct {
	version uint64
	exists  bool
	value   any
}

// Option customises the Store.
type Option func(*Store)

// WithTxAttempts sets how many times a conflicting transaction is attempted before giving up.
func WithTxAttempts(attempts int) Option {
	return func(s *Store) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// NewStore builds an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		docs:     make(map[string]*document),
		counters: make(map[string]int64),
		attempts: defaultTxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

var _ repositories.Registry = (*Store)(nil)

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

// Fulfillment returns the transactional store.
func (s *Store) Fulfillment() repositories.FulfillmentStore { return s }

// Orders returns the order reader.
func (s *Store) Orders() repositories.OrderRepository { return orderReader{s} }

// SalesHistory returns the ledger reader.
func (s *Store) SalesHistory() repositories.SalesHistoryRepository { return historyReader{s} }

// Products returns the product repository.
func (s *Store) Products() repositories.ProductRepository { return productRepository{s} }

// Counters returns the counter repository.
func (s *Store) Counters() repositories.CounterRepository { return counterRepository{s} }

// RunInTx runs fn and commits its writes atomically, retrying on conflict.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.FulfillmentTx) error) error {
	if fn == nil {
		return errors.New("memory: transaction function is nil")
	}
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := newTx(s)
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if s.beforeCommit != nil {
			s.beforeCommit()
		}
		err := s.commit(tx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errCommitConflict) {
			return err
		}
		lastErr = err
	}
	return repositories.NewConflictError("memory.tx", fmt.Sprintf("transaction aborted after %d attempts", s.attempts), lastErr)
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, seen := range t.reads {
		if s.versionLocked(key) != seen {
			return fmt.Errorf("%w: %s changed", errCommitConflict, key)
		}
	}
	for _, key := range t.order {
		w := t.writes[key]
		if w.create {
			if doc := s.docs[key]; doc != nil && doc.exists {
				return fmt.Errorf("%w: %s already exists", errCommitConflict, key)
			}
		}
	}
	for _, key := range t.order {
		w := t.writes[key]
		doc := s.docs[key]
		if doc == nil {
			doc = &document{}
			s.docs[key] = doc
		}
		doc.version++
		doc.exists = !w.delete
		doc.value = w.value
		if w.delete {
			doc.value = nil
		}
	}
	return nil
}

func (s *Store) versionLocked(key string) uint64 {
	if doc := s.docs[key]; doc != nil {
		return doc.version
	}
	return 0
}

func (s *Store) load(key string) (any, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.docs[key]
	if doc == nil {
		return nil, 0, false
	}
	return doc.value, doc.version, doc.exists
}

func (s *Store) put(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.docs[key]
	if doc == nil {
		doc = &document{}
		s.docs[key] = doc
	}
	doc.version++
	doc.exists = true
	doc.value = value
}

func (s *Store) scan(collection string) []any {
	prefix := collection + "/"
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []any
	for key, doc := range s.docs {
		if doc.exists && strings.HasPrefix(key, prefix) {
			out = append(out, doc.value)
		}
	}
	return out
}

func docKey(collection, id string) string {
	return collection + "/" + id
}

type orderReader struct{ s *Store }

func (r orderReader) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	value, _, ok := r.s.load(docKey(ordersCollection, orderID))
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.get", fmt.Sprintf("order %s not found", orderID))
	}
	return value.(domain.Order).Clone(), nil
}

func (r orderReader) List(_ context.Context, filter domain.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	statuses := make(map[domain.OrderStatus]struct{}, len(filter.Status))
	for _, status := range filter.Status {
		statuses[status] = struct{}{}
	}

	var orders []domain.Order
	for _, value := range r.s.scan(ordersCollection) {
		order := value.(domain.Order)
		if len(statuses) > 0 {
			if _, ok := statuses[order.Status]; !ok {
				continue
			}
		}
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		if !cursor.After(order.CreatedAt, order.ID) {
			continue
		}
		orders = append(orders, order.Clone())
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})

	size := pagination.NormalizePageSize(filter.Pagination.PageSize)
	page := domain.CursorPage[domain.Order]{Items: orders}
	if len(orders) > size {
		page.Items = orders[:size]
		last := page.Items[size-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

type historyReader struct{ s *Store }

func (r historyReader) List(_ context.Context, filter domain.SalesHistoryFilter) ([]domain.SalesHistoryEntry, error) {
	var entries []domain.SalesHistoryEntry
	for _, value := range r.s.scan(salesHistoryCollection) {
		entry := value.(domain.SalesHistoryEntry)
		if !filter.Month.IsZero() && entry.Month != filter.Month {
			continue
		}
		if filter.ProductID != "" && entry.ProductID != filter.ProductID {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key().DocumentID() < entries[j].Key().DocumentID()
	})
	return entries, nil
}

type productRepository struct{ s *Store }

func (r productRepository) FindByID(_ context.Context, productID string) (domain.Product, error) {
	value, _, ok := r.s.load(docKey(productsCollection, productID))
	if !ok {
		return domain.Product{}, repositories.NewNotFoundError("products.get", fmt.Sprintf("product %s not found", productID))
	}
	return value.(domain.Product).Clone(), nil
}

func (r productRepository) Upsert(_ context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("memory: product id is required")
	}
	product = product.Clone()
	product.RecomputeAvailability()
	r.s.put(docKey(productsCollection, product.ID), product)
	return nil
}

type counterRepository struct{ s *Store }

func (r counterRepository) Next(_ context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required")
	}
	if step <= 0 {
		step = 1
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.counters[id] += step
	return r.s.counters[id], nil
}
