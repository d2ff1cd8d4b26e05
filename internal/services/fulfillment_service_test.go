package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/retail-admin/fulfillment/internal/domain"
	"github.com/retail-admin/fulfillment/internal/repositories"
	"github.com/retail-admin/fulfillment/internal/repositories/memory"
)

var red42 = domain.VariantTriple{Color: "red", Size: "42", Style: "classic"}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type logEntry struct {
	event  string
	fields map[string]any
}

type fulfillmentHarness struct {
	svc       FulfillmentService
	store     *memory.Store
	clock     *testClock
	publisher *recordingPublisher
	logsMu    sync.Mutex
	logs      []logEntry
}

func (h *fulfillmentHarness) loggedEvents() []string {
	h.logsMu.Lock()
	defer h.logsMu.Unlock()
	out := make([]string, 0, len(h.logs))
	for _, l := range h.logs {
		out = append(out, l.event)
	}
	return out
}

func newFulfillmentHarness(t *testing.T, opts ...memory.Option) *fulfillmentHarness {
	t.Helper()
	h := &fulfillmentHarness{
		store:     memory.NewStore(opts...),
		clock:     &testClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)},
		publisher: &recordingPublisher{},
	}
	var seq atomic.Int64
	svc, err := NewFulfillmentService(FulfillmentServiceDeps{
		Store:        h.store,
		Orders:       h.store.Orders(),
		SalesHistory: h.store.SalesHistory(),
		Products:     h.store.Products(),
		Counters:     h.store.Counters(),
		Events:       h.publisher,
		Clock:        h.clock.Now,
		IDGenerator: func() string {
			return fmt.Sprintf("%04d", seq.Add(1))
		},
		Logger: func(_ context.Context, event string, fields map[string]any) {
			h.logsMu.Lock()
			defer h.logsMu.Unlock()
			h.logs = append(h.logs, logEntry{event: event, fields: fields})
		},
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *fulfillmentHarness) seedProduct(t *testing.T, product domain.Product) {
	t.Helper()
	require.NoError(t, h.store.Products().Upsert(context.Background(), product))
}

func (h *fulfillmentHarness) seedSneaker(t *testing.T, count int) {
	t.Helper()
	h.seedProduct(t, domain.Product{
		ID:    "prod_sneaker",
		SKU:   "SNK-1",
		Title: "Canvas Sneaker",
		Price: decimal.RequireFromString("49.90"),
		Variants: []domain.Variant{
			{ID: "var_red42", Color: "red", Size: "42", Style: "classic", Model: "CS-R42", Count: count},
			{ID: "var_blue40", Color: "blue", Size: "40", Style: "classic", Model: "CS-B40", Count: 2},
		},
	})
}

func (h *fulfillmentHarness) product(t *testing.T, id string) domain.Product {
	t.Helper()
	product, err := h.store.Products().FindByID(context.Background(), id)
	require.NoError(t, err)
	return product
}

func (h *fulfillmentHarness) history(t *testing.T, month domain.Month) []domain.SalesHistoryEntry {
	t.Helper()
	entries, err := h.store.SalesHistory().List(context.Background(), domain.SalesHistoryFilter{Month: month})
	require.NoError(t, err)
	return entries
}

func sneakerOrder(quantity int) CreateOrderCommand {
	return CreateOrderCommand{
		ActorID: "staff_1",
		Client:  &NewClientInput{Name: "Aiko", PhoneNumber: "090-1234-5678", Address: "Tokyo"},
		Items: []OrderItemInput{
			{ProductID: "prod_sneaker", Variant: red42, Quantity: quantity},
		},
	}
}

var march2026 = domain.Month{Year: 2026, Month: time.March}

func decimalPtr(value string) *decimal.Decimal {
	d := decimal.RequireFromString(value)
	return &d
}

func TestCreateOrderDecrementsStockAndRecordsHistory(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)
	ctx := context.Background()

	order, err := h.svc.CreateOrder(ctx, sneakerOrder(3))
	require.NoError(t, err)

	assert.Equal(t, "ord_0002", order.ID)
	assert.Equal(t, "SO-2026-000001", order.Number)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.False(t, order.Paid)
	assert.Equal(t, "staff_1", order.CustomerID)
	assert.Equal(t, "09012345678", order.Client.PhoneNumber)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "var_red42", order.Items[0].VariantID)
	assert.Equal(t, march2026, order.Items[0].SalesMonth)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("149.70")))

	product := h.product(t, "prod_sneaker")
	assert.Equal(t, 2, product.Variants[0].Count)
	assert.Equal(t, 3, product.Sold)
	assert.True(t, product.IsAvailable)

	entries := h.history(t, march2026)
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].SoldCount)
	assert.Equal(t, "var_red42", entries[0].VariantKey)
	assert.Equal(t, red42, entries[0].Variant)

	stored, err := h.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Number, stored.Number)

	assert.Equal(t, []string{orderEventCreated}, h.publisher.types())
	assert.Contains(t, h.loggedEvents(), "fulfillment.order.created")
}

func TestCancelOrderRestoresStockAndDeletesHistory(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)
	ctx := context.Background()

	order, err := h.svc.CreateOrder(ctx, sneakerOrder(3))
	require.NoError(t, err)

	cancelled, err := h.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID, ActorID: "staff_2", Reason: "changed mind"})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, "staff_2", cancelled.CancelledBy)
	assert.Equal(t, "changed mind", cancelled.CancelReason)

	product := h.product(t, "prod_sneaker")
	assert.Equal(t, 5, product.Variants[0].Count)
	assert.Equal(t, 0, product.Sold)
	assert.Empty(t, h.history(t, march2026))

	assert.Equal(t, []string{orderEventCreated, orderEventCancelled}, h.publisher.types())
}

func TestCancelOrderKeepsEarlierSalesInHistory(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)
	ctx := context.Background()

	_, err := h.svc.CreateOrder(ctx, sneakerOrder(1))
	require.NoError(t, err)
	second, err := h.svc.CreateOrder(ctx, sneakerOrder(2))
	require.NoError(t, err)

	_, err = h.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: second.ID})
	require.NoError(t, err)

	entries := h.history(t, march2026)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].SoldCount)
	assert.Equal(t, 1, h.product(t, "prod_sneaker").Sold)
}

func TestCreateOrderRejectsInsufficientStockWithoutMutation(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)

	_, err := h.svc.CreateOrder(context.Background(), sneakerOrder(10))
	require.ErrorIs(t, err, ErrInsufficientStock)

	var shortage *StockShortageError
	require.ErrorAs(t, err, &shortage)
	assert.Equal(t, "Canvas Sneaker", shortage.ProductTitle)
	assert.Equal(t, red42, shortage.Variant)
	assert.Equal(t, 10, shortage.Requested)
	assert.Equal(t, 5, shortage.Available)

	product := h.product(t, "prod_sneaker")
	assert.Equal(t, 5, product.Variants[0].Count)
	assert.Equal(t, 0, product.Sold)
	assert.Empty(t, h.history(t, march2026))
	assert.Empty(t, h.publisher.types())
}

func TestCreateOrderValidatesEveryItemBeforeMutating(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)

	cmd := sneakerOrder(2)
	cmd.Items = append(cmd.Items, OrderItemInput{
		ProductID: "prod_sneaker",
		Variant:   domain.VariantTriple{Color: "Red", Size: "42", Style: "classic"},
		Quantity:  1,
	})

	_, err := h.svc.CreateOrder(context.Background(), cmd)
	require.ErrorIs(t, err, ErrVariantNotFound)

	var notFound *VariantNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "Canvas Sneaker", notFound.ProductTitle)

	assert.Equal(t, 5, h.product(t, "prod_sneaker").Variants[0].Count)
	assert.Empty(t, h.history(t, march2026))
}

func TestCreateOrderAggregatesQuantityAcrossLinesForSameVariant(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)

	cmd := sneakerOrder(3)
	cmd.Items = append(cmd.Items, OrderItemInput{ProductID: "prod_sneaker", VariantID: "var_red42", Quantity: 3})

	_, err := h.svc.CreateOrder(context.Background(), cmd)
	var shortage *StockShortageError
	require.ErrorAs(t, err, &shortage)
	assert.Equal(t, 6, shortage.Requested)
	assert.Equal(t, 5, shortage.Available)
	assert.Equal(t, 5, h.product(t, "prod_sneaker").Variants[0].Count)
}

func TestSalesHistoryKeepsUnderscoredIDsApart(t *testing.T) {
	h := newFulfillmentHarness(t)
	ctx := context.Background()
	blue := domain.VariantTriple{Color: "blue", Size: "42", Style: "classic"}
	h.seedProduct(t, domain.Product{
		ID: "shoe", SKU: "SH-1", Title: "Shoe", Price: decimal.RequireFromString("10"),
		Variants: []domain.Variant{{ID: "red_42", Color: "red", Size: "42", Style: "classic", Count: 10}},
	})
	h.seedProduct(t, domain.Product{
		ID: "shoe_red", SKU: "SH-2", Title: "Red Shoe", Price: decimal.RequireFromString("12"),
		Variants: []domain.Variant{{ID: "42", Color: "blue", Size: "42", Style: "classic", Count: 10}},
	})

	client := &NewClientInput{Name: "Aiko", PhoneNumber: "090-1234-5678"}
	first, err := h.svc.CreateOrder(ctx, CreateOrderCommand{ActorID: "staff_1", Client: client,
		Items: []OrderItemInput{{ProductID: "shoe", Variant: red42, Quantity: 2}}})
	require.NoError(t, err)
	_, err = h.svc.CreateOrder(ctx, CreateOrderCommand{ActorID: "staff_1", Client: client,
		Items: []OrderItemInput{{ProductID: "shoe_red", Variant: blue, Quantity: 3}}})
	require.NoError(t, err)

	sold := map[string]int{}
	for _, entry := range h.history(t, march2026) {
		sold[entry.ProductID+"/"+entry.VariantKey] = entry.SoldCount
	}
	assert.Equal(t, map[string]int{"shoe/red_42": 2, "shoe_red/42": 3}, sold)

	_, err = h.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: first.ID, ActorID: "staff_1"})
	require.NoError(t, err)
	entries := h.history(t, march2026)
	require.Len(t, entries, 1)
	assert.Equal(t, "shoe_red", entries[0].ProductID)
	assert.Equal(t, 3, entries[0].SoldCount)
}

func TestCreateOrderInputValidation(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)
	ctx := context.Background()

	cases := map[string]CreateOrderCommand{
		"missing customer": {Client: &NewClientInput{Name: "A", PhoneNumber: "1"}, Items: sneakerOrder(1).Items},
		"no items":         {ActorID: "staff_1", Client: &NewClientInput{Name: "A", PhoneNumber: "1"}},
		"no client":        {ActorID: "staff_1", Items: sneakerOrder(1).Items},
		"client no phone":  {ActorID: "staff_1", Client: &NewClientInput{Name: "A", PhoneNumber: "--"}, Items: sneakerOrder(1).Items},
		"zero quantity": {ActorID: "staff_1", Client: &NewClientInput{Name: "A", PhoneNumber: "1"},
			Items: []OrderItemInput{{ProductID: "prod_sneaker", Variant: red42}}},
		"no variant": {ActorID: "staff_1", Client: &NewClientInput{Name: "A", PhoneNumber: "1"},
			Items: []OrderItemInput{{ProductID: "prod_sneaker", Quantity: 1}}},
		"bad status": {ActorID: "staff_1", Client: &NewClientInput{Name: "A", PhoneNumber: "1"},
			Items: sneakerOrder(1).Items, Status: domain.OrderStatusCancelled},
		"negative price": {ActorID: "staff_1", Client: &NewClientInput{Name: "A", PhoneNumber: "1"},
			Items: []OrderItemInput{{ProductID: "prod_sneaker", Variant: red42, Quantity: 1, Price: decimalPtr("-1")}}},
		"sub-cent price": {ActorID: "staff_1", Client: &NewClientInput{Name: "A", PhoneNumber: "1"},
			Items: []OrderItemInput{{ProductID: "prod_sneaker", Variant: red42, Quantity: 3, Price: decimalPtr("0.333")}}},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.CreateOrder(ctx, cmd)
			require.ErrorIs(t, err, ErrOrderInvalidInput)
		})
	}
	assert.Equal(t, 5, h.product(t, "prod_sneaker").Variants[0].Count)
}

func TestCreateOrderUnknownReferences(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)
	ctx := context.Background()

	cmd := sneakerOrder(1)
	cmd.Client = nil
	cmd.ClientID = "cli_missing"
	_, err := h.svc.CreateOrder(ctx, cmd)
	require.ErrorIs(t, err, ErrClientNotFound)

	cmd = sneakerOrder(1)
	cmd.Items[0].ProductID = "prod_missing"
	_, err = h.svc.CreateOrder(ctx, cmd)
	require.ErrorIs(t, err, ErrProductNotFound)
	var missing *ProductNotFoundError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "prod_missing", missing.ProductID)

	cmd = sneakerOrder(1)
	cmd.Items[0].VariantID = "var_missing"
	_, err = h.svc.CreateOrder(ctx, cmd)
	require.ErrorIs(t, err, ErrVariantNotFound)
}

func TestCreateOrderReusesClientByNormalisedPhone(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)
	ctx := context.Background()

	first, err := h.svc.CreateOrder(ctx, sneakerOrder(1))
	require.NoError(t, err)

	cmd := sneakerOrder(1)
	cmd.Client = &NewClientInput{Name: "Aiko Tanaka", PhoneNumber: "０９０１２３４５６７８"}
	second, err := h.svc.CreateOrder(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, first.ClientID, second.ClientID)
	assert.Equal(t, "Aiko", second.Client.Name)

	cmd = sneakerOrder(1)
	cmd.Client = nil
	cmd.ClientID = first.ClientID
	third, err := h.svc.CreateOrder(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, first.ClientID, third.ClientID)
}

func TestCreateOrderUsesPriceOverrideForTotal(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)

	override := decimal.RequireFromString("40")
	cmd := sneakerOrder(2)
	cmd.Items[0].Price = &override
	cmd.Items = append(cmd.Items, OrderItemInput{ProductID: "prod_sneaker", VariantID: "var_blue40", Quantity: 1})

	order, err := h.svc.CreateOrder(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, order.Items[0].UnitPrice.Equal(override))
	assert.True(t, order.Items[1].UnitPrice.Equal(decimal.RequireFromString("49.90")))
	assert.True(t, order.Total.Equal(domain.OrderTotal(order.Items)))
	assert.True(t, order.Total.Equal(decimal.RequireFromString("129.90")))

	cmd = sneakerOrder(1)
	cmd.Items[0].Price = decimalPtr("12.500")
	order, err = h.svc.CreateOrder(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("12.5")))
}

func TestCreateOrderAsPaidCannotBeCancelled(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)
	ctx := context.Background()

	cmd := sneakerOrder(2)
	cmd.Status = domain.OrderStatusPaid
	order, err := h.svc.CreateOrder(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
	assert.True(t, order.Paid)
	require.NotNil(t, order.PaidAt)

	_, err = h.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID})
	require.ErrorIs(t, err, ErrOrderAlreadyPaid)
	assert.Equal(t, 3, h.product(t, "prod_sneaker").Variants[0].Count)
}

func TestCancelOrderTwiceIsRejected(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)
	ctx := context.Background()

	_, err := h.svc.CreateOrder(ctx, sneakerOrder(1))
	require.NoError(t, err)
	order, err := h.svc.CreateOrder(ctx, sneakerOrder(3))
	require.NoError(t, err)

	_, err = h.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID})
	require.NoError(t, err)

	_, err = h.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID})
	require.ErrorIs(t, err, ErrOrderInvalidState)

	product := h.product(t, "prod_sneaker")
	assert.Equal(t, 4, product.Variants[0].Count)
	assert.Equal(t, 1, product.Sold)
	entries := h.history(t, march2026)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].SoldCount)
}

func TestCancelOrderMissing(t *testing.T) {
	h := newFulfillmentHarness(t)

	_, err := h.svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord_missing"})
	require.ErrorIs(t, err, ErrOrderNotFound)

	_, err = h.svc.CancelOrder(context.Background(), CancelOrderCommand{})
	require.ErrorIs(t, err, ErrOrderInvalidInput)
}

func TestCancelOrderRevertsOriginalSalesMonth(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)
	ctx := context.Background()

	h.clock.Set(time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC))
	order, err := h.svc.CreateOrder(ctx, sneakerOrder(2))
	require.NoError(t, err)

	april := domain.Month{Year: 2026, Month: time.April}
	h.clock.Set(time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC))
	_, err = h.svc.CreateOrder(ctx, sneakerOrder(1))
	require.NoError(t, err)

	_, err = h.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID})
	require.NoError(t, err)

	assert.Empty(t, h.history(t, march2026))
	aprilEntries := h.history(t, april)
	require.Len(t, aprilEntries, 1)
	assert.Equal(t, 1, aprilEntries[0].SoldCount)
}

func TestSalesMonthFollowsConfiguredLocation(t *testing.T) {
	store := memory.NewStore()
	tokyo := time.FixedZone("JST", 9*60*60)
	svc, err := NewFulfillmentService(FulfillmentServiceDeps{
		Store:        store,
		Orders:       store.Orders(),
		SalesHistory: store.SalesHistory(),
		Products:     store.Products(),
		Counters:     store.Counters(),
		Location:     tokyo,
		Clock:        func() time.Time { return time.Date(2026, 3, 31, 16, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	require.NoError(t, store.Products().Upsert(context.Background(), domain.Product{
		ID:       "prod_sneaker",
		Title:    "Canvas Sneaker",
		Variants: []domain.Variant{{ID: "var_red42", Color: "red", Size: "42", Style: "classic", Count: 1}},
	}))

	order, err := svc.CreateOrder(context.Background(), sneakerOrder(1))
	require.NoError(t, err)
	assert.Equal(t, domain.Month{Year: 2026, Month: time.April}, order.Items[0].SalesMonth)
}

func TestUpdateOrderItemsNetsStockDifference(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)
	ctx := context.Background()

	order, err := h.svc.CreateOrder(ctx, sneakerOrder(3))
	require.NoError(t, err)
	afterCreate := h.product(t, "prod_sneaker").Variants[0].Count

	updated, err := h.svc.UpdateOrderItems(ctx, UpdateOrderItemsCommand{
		OrderID: order.ID,
		Items:   []OrderItemInput{{ProductID: "prod_sneaker", Variant: red42, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Items[0].Quantity)
	assert.True(t, updated.Total.Equal(decimal.RequireFromString("49.90")))
	assert.Equal(t, domain.OrderStatusPending, updated.Status)

	product := h.product(t, "prod_sneaker")
	assert.Equal(t, afterCreate+2, product.Variants[0].Count)
	assert.Equal(t, 1, product.Sold)
	entries := h.history(t, march2026)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].SoldCount)
	assert.Equal(t, []string{orderEventCreated, orderEventUpdated}, h.publisher.types())
}

func TestUpdateOrderItemsCanReuseReleasedStock(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)
	ctx := context.Background()

	order, err := h.svc.CreateOrder(ctx, sneakerOrder(5))
	require.NoError(t, err)
	require.False(t, h.product(t, "prod_sneaker").Variants[0].Count > 0)

	_, err = h.svc.UpdateOrderItems(ctx, UpdateOrderItemsCommand{
		OrderID: order.ID,
		Items: []OrderItemInput{
			{ProductID: "prod_sneaker", VariantID: "var_red42", Quantity: 4},
			{ProductID: "prod_sneaker", VariantID: "var_blue40", Quantity: 2},
		},
	})
	require.NoError(t, err)

	product := h.product(t, "prod_sneaker")
	assert.Equal(t, 1, product.Variants[0].Count)
	assert.Equal(t, 0, product.Variants[1].Count)
	assert.Equal(t, 6, product.Sold)
	assert.True(t, product.IsAvailable)
}

func TestUpdateOrderItemsFailureLeavesEverythingUntouched(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)
	ctx := context.Background()

	order, err := h.svc.CreateOrder(ctx, sneakerOrder(3))
	require.NoError(t, err)

	_, err = h.svc.UpdateOrderItems(ctx, UpdateOrderItemsCommand{
		OrderID: order.ID,
		Items:   []OrderItemInput{{ProductID: "prod_sneaker", Variant: red42, Quantity: 6}},
	})
	var shortage *StockShortageError
	require.ErrorAs(t, err, &shortage)
	assert.Equal(t, 5, shortage.Available, "validation sees stock released by the old lines")

	product := h.product(t, "prod_sneaker")
	assert.Equal(t, 2, product.Variants[0].Count)
	assert.Equal(t, 3, product.Sold)
	entries := h.history(t, march2026)
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].SoldCount)

	stored, err := h.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Items[0].Quantity)
}

func TestUpdateOrderItemsRequiresPendingUnpaidOrder(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)
	ctx := context.Background()
	items := []OrderItemInput{{ProductID: "prod_sneaker", Variant: red42, Quantity: 1}}

	paid, err := h.svc.CreateOrder(ctx, sneakerOrder(1))
	require.NoError(t, err)
	_, err = h.svc.MarkOrderPaid(ctx, MarkOrderPaidCommand{OrderID: paid.ID})
	require.NoError(t, err)
	_, err = h.svc.UpdateOrderItems(ctx, UpdateOrderItemsCommand{OrderID: paid.ID, Items: items})
	require.ErrorIs(t, err, ErrOrderAlreadyPaid)

	cancelled, err := h.svc.CreateOrder(ctx, sneakerOrder(1))
	require.NoError(t, err)
	_, err = h.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: cancelled.ID})
	require.NoError(t, err)
	_, err = h.svc.UpdateOrderItems(ctx, UpdateOrderItemsCommand{OrderID: cancelled.ID, Items: items})
	require.ErrorIs(t, err, ErrOrderInvalidState)

	_, err = h.svc.UpdateOrderItems(ctx, UpdateOrderItemsCommand{OrderID: "ord_missing", Items: items})
	require.ErrorIs(t, err, ErrOrderNotFound)

	_, err = h.svc.UpdateOrderItems(ctx, UpdateOrderItemsCommand{OrderID: paid.ID})
	require.ErrorIs(t, err, ErrOrderInvalidInput)
}

func TestMarkOrderPaidTransitions(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)
	ctx := context.Background()

	order, err := h.svc.CreateOrder(ctx, sneakerOrder(1))
	require.NoError(t, err)

	paid, err := h.svc.MarkOrderPaid(ctx, MarkOrderPaidCommand{OrderID: order.ID, ActorID: "admin_1"})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, paid.Status)
	assert.True(t, paid.Paid)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, 4, h.product(t, "prod_sneaker").Variants[0].Count, "payment has no stock effect")

	_, err = h.svc.MarkOrderPaid(ctx, MarkOrderPaidCommand{OrderID: order.ID})
	require.ErrorIs(t, err, ErrOrderAlreadyPaid)

	other, err := h.svc.CreateOrder(ctx, sneakerOrder(1))
	require.NoError(t, err)
	_, err = h.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: other.ID})
	require.NoError(t, err)
	_, err = h.svc.MarkOrderPaid(ctx, MarkOrderPaidCommand{OrderID: other.ID})
	require.ErrorIs(t, err, ErrOrderInvalidState)

	assert.Contains(t, h.publisher.types(), orderEventPaid)
}

func TestLegacyVariantWithoutIDRoundTrips(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedProduct(t, domain.Product{
		ID:       "prod_legacy",
		Title:    "Legacy Boot",
		Price:    decimal.RequireFromString("80"),
		Variants: []domain.Variant{{Color: "black", Size: "41", Style: "chelsea", Model: "LB-41", Count: 2}},
	})
	ctx := context.Background()

	cmd := sneakerOrder(2)
	cmd.Items = []OrderItemInput{{ProductID: "prod_legacy", Variant: domain.VariantTriple{Color: "black", Size: "41", Style: "chelsea"}, Quantity: 2}}
	order, err := h.svc.CreateOrder(ctx, cmd)
	require.NoError(t, err)
	assert.Empty(t, order.Items[0].VariantID)
	assert.False(t, h.product(t, "prod_legacy").IsAvailable)

	entries := h.history(t, march2026)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.LegacyVariantKey(domain.VariantTriple{Color: "black", Size: "41", Style: "chelsea"}), entries[0].VariantKey)

	_, err = h.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, h.product(t, "prod_legacy").Variants[0].Count)
	assert.True(t, h.product(t, "prod_legacy").IsAvailable)
	assert.Empty(t, h.history(t, march2026))
}

func TestCancelOrderSurvivesVariantRename(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)
	ctx := context.Background()

	order, err := h.svc.CreateOrder(ctx, sneakerOrder(2))
	require.NoError(t, err)

	product := h.product(t, "prod_sneaker")
	product.Variants[0].Color = "crimson"
	h.seedProduct(t, product)

	_, err = h.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID})
	require.NoError(t, err)
	assert.Equal(t, 5, h.product(t, "prod_sneaker").Variants[0].Count)
	assert.Empty(t, h.history(t, march2026))
}

func TestConcurrentCreateNeverOversells(t *testing.T) {
	const (
		stock    = 5
		requests = 20
	)
	h := newFulfillmentHarness(t, memory.WithTxAttempts(stock+2))
	h.seedSneaker(t, stock)
	ctx := context.Background()

	seed, err := h.svc.CreateOrder(ctx, CreateOrderCommand{
		ActorID: "staff_1",
		Client:  &NewClientInput{Name: "Walk-in", PhoneNumber: "0000"},
		Items:   []OrderItemInput{{ProductID: "prod_sneaker", VariantID: "var_blue40", Quantity: 1}},
	})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		shortages atomic.Int64
		others    = make(chan error, requests)
	)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.CreateOrder(ctx, CreateOrderCommand{
				ActorID:  "staff_1",
				ClientID: seed.ClientID,
				Items:    []OrderItemInput{{ProductID: "prod_sneaker", Variant: red42, Quantity: 1}},
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrInsufficientStock):
				shortages.Add(1)
			default:
				others <- err
			}
		}()
	}
	wg.Wait()
	close(others)

	for err := range others {
		t.Errorf("unexpected error: %v", err)
	}
	assert.EqualValues(t, stock, succeeded.Load())
	assert.EqualValues(t, requests-stock, shortages.Load())

	product := h.product(t, "prod_sneaker")
	assert.Equal(t, 0, product.Variants[0].Count)
	assert.Equal(t, stock+1, product.Sold)

	var red int
	for _, entry := range h.history(t, march2026) {
		if entry.VariantKey == "var_red42" {
			red = entry.SoldCount
		}
	}
	assert.Equal(t, stock, red)
}

func TestConcurrentCancelAppliesReversalOnce(t *testing.T) {
	h := newFulfillmentHarness(t, memory.WithTxAttempts(10))
	h.seedSneaker(t, 5)
	ctx := context.Background()

	order, err := h.svc.CreateOrder(ctx, sneakerOrder(3))
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		ok       atomic.Int64
		rejected atomic.Int64
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrOrderInvalidState):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 7, rejected.Load())
	assert.Equal(t, 5, h.product(t, "prod_sneaker").Variants[0].Count)
}

type stubStore struct {
	runFn func(ctx context.Context, fn func(context.Context, repositories.FulfillmentTx) error) error
}

func (s *stubStore) RunInTx(ctx context.Context, fn func(context.Context, repositories.FulfillmentTx) error) error {
	if s.runFn != nil {
		return s.runFn(ctx, fn)
	}
	return errors.New("not implemented")
}

func TestStoreFailuresAreClassified(t *testing.T) {
	mem := memory.NewStore()
	var logged []string
	store := &stubStore{}
	svc, err := NewFulfillmentService(FulfillmentServiceDeps{
		Store:        store,
		Orders:       mem.Orders(),
		SalesHistory: mem.SalesHistory(),
		Products:     mem.Products(),
		Counters:     mem.Counters(),
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		},
	})
	require.NoError(t, err)

	store.runFn = func(context.Context, func(context.Context, repositories.FulfillmentTx) error) error {
		return repositories.NewConflictError("memory.tx", "transaction aborted", nil)
	}
	_, err = svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord_1"})
	require.ErrorIs(t, err, ErrFulfillmentConflict)
	assert.NotErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, logged, "fulfillment.tx_retry_exhausted")

	store.runFn = func(context.Context, func(context.Context, repositories.FulfillmentTx) error) error {
		return &repositories.StoreError{Op: "tx", Kind: repositories.StoreErrorUnavailable}
	}
	_, err = svc.MarkOrderPaid(context.Background(), MarkOrderPaidCommand{OrderID: "ord_1"})
	require.ErrorIs(t, err, ErrFulfillmentUnavailable)

	store.runFn = func(context.Context, func(context.Context, repositories.FulfillmentTx) error) error {
		return context.Canceled
	}
	_, err = svc.MarkOrderPaid(context.Background(), MarkOrderPaidCommand{OrderID: "ord_1"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPublishFailureDoesNotFailOrder(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)
	h.publisher.err = errors.New("pubsub down")

	order, err := h.svc.CreateOrder(context.Background(), sneakerOrder(1))
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)
	assert.Contains(t, h.loggedEvents(), "fulfillment.event_publish_failed")
}

func TestOrderNumbersIncrementPerYear(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)
	ctx := context.Background()

	first, err := h.svc.CreateOrder(ctx, sneakerOrder(1))
	require.NoError(t, err)
	second, err := h.svc.CreateOrder(ctx, sneakerOrder(1))
	require.NoError(t, err)
	h.clock.Set(time.Date(2027, 1, 2, 9, 0, 0, 0, time.UTC))
	third, err := h.svc.CreateOrder(ctx, sneakerOrder(1))
	require.NoError(t, err)

	assert.Equal(t, "SO-2026-000001", first.Number)
	assert.Equal(t, "SO-2026-000002", second.Number)
	assert.Equal(t, "SO-2027-000001", third.Number)
}

func TestReadOperations(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedSneaker(t, 5)
	ctx := context.Background()

	order, err := h.svc.CreateOrder(ctx, sneakerOrder(2))
	require.NoError(t, err)
	_, err = h.svc.CreateOrder(ctx, sneakerOrder(1))
	require.NoError(t, err)
	_, err = h.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID})
	require.NoError(t, err)

	page, err := h.svc.ListOrders(ctx, domain.OrderListFilter{Status: []domain.OrderStatus{domain.OrderStatusPending}})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.NotEqual(t, order.ID, page.Items[0].ID)

	_, err = h.svc.ListOrders(ctx, domain.OrderListFilter{Status: []domain.OrderStatus{"shipped"}})
	require.ErrorIs(t, err, ErrOrderInvalidInput)
	_, err = h.svc.ListOrders(ctx, domain.OrderListFilter{Pagination: domain.Pagination{PageToken: "%%%"}})
	require.ErrorIs(t, err, ErrOrderInvalidInput)

	_, err = h.svc.GetOrder(ctx, "ord_missing")
	require.ErrorIs(t, err, ErrOrderNotFound)

	entries, err := h.svc.ListSalesHistory(ctx, domain.SalesHistoryFilter{Month: march2026, ProductID: "prod_sneaker"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].SoldCount)
	_, err = h.svc.ListSalesHistory(ctx, domain.SalesHistoryFilter{})
	require.ErrorIs(t, err, ErrOrderInvalidInput)

	stock, err := h.svc.GetProductStock(ctx, "prod_sneaker")
	require.NoError(t, err)
	assert.Equal(t, 6, stock.OnHand)
	assert.Equal(t, 1, stock.Sold)
	require.Len(t, stock.Variants, 2)
	assert.Equal(t, "var_red42", stock.Variants[0].Key)
	assert.Equal(t, 4, stock.Variants[0].Count)

	_, err = h.svc.GetProductStock(ctx, "prod_missing")
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestNewFulfillmentServiceRequiresDependencies(t *testing.T) {
	_, err := NewFulfillmentService(FulfillmentServiceDeps{})
	require.Error(t, err)
}
