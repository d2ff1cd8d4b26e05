package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/retail-admin/fulfillment/internal/domain"
	"github.com/retail-admin/fulfillment/internal/platform/pagination"
	"github.com/retail-admin/fulfillment/internal/repositories"
)

const (
	orderEventCreated   = "order.created"
	orderEventUpdated   = "order.updated"
	orderEventCancelled = "order.cancelled"
	orderEventPaid      = "order.paid"

	orderIDPrefix  = "ord_"
	clientIDPrefix = "cli_"

	defaultOrderNumberPrefix = "SO"
)

// FulfillmentServiceDeps bundles collaborators required to construct the fulfillment service.
type FulfillmentServiceDeps struct {
	Store             repositories.FulfillmentStore
	Orders            repositories.OrderRepository
	SalesHistory      repositories.SalesHistoryRepository
	Products          repositories.ProductRepository
	Counters          repositories.CounterRepository
	Events            OrderEventPublisher
	Clock             func() time.Time
	IDGenerator       func() string
	Location          *time.Location
	OrderNumberPrefix string
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type fulfillmentService struct {
	store        repositories.FulfillmentStore
	orders       repositories.OrderRepository
	history      repositories.SalesHistoryRepository
	products     repositories.ProductRepository
	counters     repositories.CounterRepository
	events       OrderEventPublisher
	clock        func() time.Time
	newID        func() string
	location     *time.Location
	numberPrefix string
	logger       func(context.Context, string, map[string]any)
}

// NewFulfillmentService wires dependencies into a concrete FulfillmentService implementation.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Store == nil {
		return nil, errors.New("fulfillment service: store is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("fulfillment service: order repository is required")
	}
	if deps.SalesHistory == nil {
		return nil, errors.New("fulfillment service: sales history repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("fulfillment service: product repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("fulfillment service: counter repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	location := deps.Location
	if location == nil {
		location = time.UTC
	}

	prefix := strings.TrimSpace(deps.OrderNumberPrefix)
	if prefix == "" {
		prefix = defaultOrderNumberPrefix
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &fulfillmentService{
		store:    deps.Store,
		orders:   deps.Orders,
		history:  deps.SalesHistory,
		products: deps.Products,
		counters: deps.Counters,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:        idGen,
		location:     location,
		numberPrefix: prefix,
		logger:       logger,
	}, nil
}

func (s *fulfillmentService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	actor := strings.TrimSpace(cmd.ActorID)
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		customerID = actor
	}
	if customerID == "" {
		return Order{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}

	status := cmd.Status
	if status == "" {
		status = domain.OrderStatusPending
	}
	if status != domain.OrderStatusPending && status != domain.OrderStatusPaid {
		return Order{}, fmt.Errorf("%w: initial status must be pending or paid", ErrOrderInvalidInput)
	}

	items, err := normalizeItemInputs(cmd.Items)
	if err != nil {
		return Order{}, err
	}

	clientID := strings.TrimSpace(cmd.ClientID)
	var candidate domain.Client
	if clientID == "" {
		if cmd.Client == nil {
			return Order{}, fmt.Errorf("%w: client id or client details are required", ErrOrderInvalidInput)
		}
		candidate = domain.Client{
			ID:          clientIDPrefix + s.newID(),
			Name:        strings.TrimSpace(cmd.Client.Name),
			PhoneNumber: domain.NormalizePhoneNumber(cmd.Client.PhoneNumber),
			Address:     strings.TrimSpace(cmd.Client.Address),
		}
		if candidate.Name == "" {
			return Order{}, fmt.Errorf("%w: client name is required", ErrOrderInvalidInput)
		}
		if candidate.PhoneNumber == "" {
			return Order{}, fmt.Errorf("%w: client phone number is required", ErrOrderInvalidInput)
		}
	}

	now := s.now()
	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, mapFulfillmentError(err)
	}
	orderID := orderIDPrefix + s.newID()
	month := domain.MonthOf(now, s.location)

	var created Order
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx repositories.FulfillmentTx) error {
		client, err := s.resolveClient(ctx, tx, clientID, candidate, now)
		if err != nil {
			return err
		}

		stock := newStockLedger(tx, now)
		history := newSalesHistoryLedger(tx, now)
		lines, err := s.applyItems(ctx, stock, history, items, month)
		if err != nil {
			return err
		}
		if err := stock.flush(ctx); err != nil {
			return err
		}

		order := Order{
			ID:         orderID,
			Number:     number,
			CustomerID: customerID,
			ClientID:   client.ID,
			Client:     client.Snapshot(),
			Items:      lines,
			Status:     domain.OrderStatusPending,
			Total:      domain.OrderTotal(lines),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if status == domain.OrderStatusPaid {
			if err := transitionOrder(&order, domain.OrderStatusPaid, actor, now); err != nil {
				return err
			}
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		created = order
		return nil
	})
	if err != nil {
		return Order{}, s.fail(ctx, "create", orderID, err)
	}

	s.logger(ctx, "fulfillment.order.created", map[string]any{
		"orderID":     created.ID,
		"orderNumber": created.Number,
		"status":      string(created.Status),
		"items":       len(created.Items),
		"total":       created.Total.String(),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       created.ID,
		OrderNumber:   created.Number,
		ActorID:       actor,
		CurrentStatus: created.Status,
		Total:         created.Total,
		Items:         created.Clone().Items,
		OccurredAt:    now,
	})
	return created, nil
}

func (s *fulfillmentService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	reason := strings.TrimSpace(cmd.Reason)
	now := s.now()

	var (
		cancelled  Order
		prevStatus OrderStatus
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repositories.FulfillmentTx) error {
		order, err := loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := ensureCancellable(order); err != nil {
			return err
		}

		stock := newStockLedger(tx, now)
		history := newSalesHistoryLedger(tx, now)
		if err := s.reverseItems(ctx, stock, history, order); err != nil {
			return err
		}
		if err := stock.flush(ctx); err != nil {
			return err
		}

		previous := order.Status
		if err := transitionOrder(&order, domain.OrderStatusCancelled, actor, now); err != nil {
			return err
		}
		order.CancelReason = reason
		if err := tx.PutOrder(ctx, order); err != nil {
			return err
		}
		cancelled = order
		prevStatus = previous
		return nil
	})
	if err != nil {
		return Order{}, s.fail(ctx, "cancel", orderID, err)
	}

	s.logger(ctx, "fulfillment.order.cancelled", map[string]any{
		"orderID":     cancelled.ID,
		"orderNumber": cancelled.Number,
		"reason":      reason,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventCancelled,
		OrderID:        cancelled.ID,
		OrderNumber:    cancelled.Number,
		ActorID:        actor,
		PreviousStatus: prevStatus,
		CurrentStatus:  cancelled.Status,
		Total:          cancelled.Total,
		Items:          cancelled.Clone().Items,
		OccurredAt:     now,
	})
	return cancelled, nil
}

// UpdateOrderItems reverses the current lines and applies the replacement in one transaction. The new
// lines see the stock released by the old ones, and any failure discards the reversal too.
func (s *fulfillmentService) UpdateOrderItems(ctx context.Context, cmd UpdateOrderItemsCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	items, err := normalizeItemInputs(cmd.Items)
	if err != nil {
		return Order{}, err
	}
	actor := strings.TrimSpace(cmd.ActorID)
	now := s.now()

	var updated Order
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx repositories.FulfillmentTx) error {
		order, err := loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := ensureItemsEditable(order); err != nil {
			return err
		}

		stock := newStockLedger(tx, now)
		history := newSalesHistoryLedger(tx, now)
		if err := s.reverseItems(ctx, stock, history, order); err != nil {
			return err
		}
		lines, err := s.applyItems(ctx, stock, history, items, s.saleMonth(order))
		if err != nil {
			return err
		}
		if err := stock.flush(ctx); err != nil {
			return err
		}

		order.Items = lines
		order.Total = domain.OrderTotal(lines)
		order.UpdatedAt = now
		if err := tx.PutOrder(ctx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, s.fail(ctx, "update", orderID, err)
	}

	s.logger(ctx, "fulfillment.order.updated", map[string]any{
		"orderID":     updated.ID,
		"orderNumber": updated.Number,
		"items":       len(updated.Items),
		"total":       updated.Total.String(),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventUpdated,
		OrderID:        updated.ID,
		OrderNumber:    updated.Number,
		ActorID:        actor,
		PreviousStatus: updated.Status,
		CurrentStatus:  updated.Status,
		Total:          updated.Total,
		Items:          updated.Clone().Items,
		OccurredAt:     now,
	})
	return updated, nil
}

func (s *fulfillmentService) MarkOrderPaid(ctx context.Context, cmd MarkOrderPaidCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	now := s.now()

	var (
		paid       Order
		prevStatus OrderStatus
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repositories.FulfillmentTx) error {
		order, err := loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		previous := order.Status
		if err := transitionOrder(&order, domain.OrderStatusPaid, actor, now); err != nil {
			return err
		}
		if err := tx.PutOrder(ctx, order); err != nil {
			return err
		}
		paid = order
		prevStatus = previous
		return nil
	})
	if err != nil {
		return Order{}, s.fail(ctx, "pay", orderID, err)
	}

	s.logger(ctx, "fulfillment.order.paid", map[string]any{
		"orderID":     paid.ID,
		"orderNumber": paid.Number,
		"total":       paid.Total.String(),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaid,
		OrderID:        paid.ID,
		OrderNumber:    paid.Number,
		ActorID:        actor,
		PreviousStatus: prevStatus,
		CurrentStatus:  paid.Status,
		Total:          paid.Total,
		OccurredAt:     now,
	})
	return paid, nil
}

func (s *fulfillmentService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return Order{}, mapFulfillmentError(err)
	}
	return order, nil
}

func (s *fulfillmentService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	for _, status := range filter.Status {
		switch status {
		case domain.OrderStatusPending, domain.OrderStatusPaid, domain.OrderStatusCancelled:
		default:
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	filter.CustomerID = strings.TrimSpace(filter.CustomerID)
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return domain.CursorPage[Order]{}, mapFulfillmentError(err)
	}
	return page, nil
}

func (s *fulfillmentService) ListSalesHistory(ctx context.Context, filter SalesHistoryFilter) ([]SalesHistoryEntry, error) {
	if filter.Month.IsZero() {
		return nil, fmt.Errorf("%w: month is required", ErrOrderInvalidInput)
	}
	filter.ProductID = strings.TrimSpace(filter.ProductID)
	entries, err := s.history.List(ctx, filter)
	if err != nil {
		return nil, mapFulfillmentError(err)
	}
	return entries, nil
}

func (s *fulfillmentService) GetProductStock(ctx context.Context, productID string) (ProductStock, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return ProductStock{}, fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isNotFound(err) {
			return ProductStock{}, &ProductNotFoundError{ProductID: productID}
		}
		return ProductStock{}, mapFulfillmentError(err)
	}

	view := ProductStock{
		ProductID:   product.ID,
		SKU:         product.SKU,
		Title:       product.Title,
		Sold:        product.Sold,
		OnHand:      product.OnHand(),
		IsAvailable: product.IsAvailable,
		Variants:    make([]VariantStock, 0, len(product.Variants)),
	}
	for _, v := range product.Variants {
		view.Variants = append(view.Variants, VariantStock{
			ID:      v.ID,
			Key:     v.Key(),
			Variant: v.Triple(),
			Model:   v.Model,
			Count:   v.Count,
		})
	}
	return view, nil
}

type plannedLine struct {
	input   OrderItemInput
	product *domain.Product
	index   int
}

// applyItems validates every item against the ledger's current stock before mutating anything, then
// decrements stock and records the sale for each line in order.
func (s *fulfillmentService) applyItems(ctx context.Context, stock *stockLedger, history *salesHistoryLedger, items []OrderItemInput, month domain.Month) ([]OrderLineItem, error) {
	planned := make([]plannedLine, 0, len(items))
	requested := make(map[string]int, len(items))
	for _, item := range items {
		product, err := stock.product(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		idx, err := resolveVariantRef(*product, item.VariantID, item.Variant)
		if err != nil {
			return nil, err
		}
		variant := product.Variants[idx]
		key := product.ID + "/" + variant.Key()
		requested[key] += item.Quantity
		if requested[key] > variant.Count {
			return nil, &StockShortageError{
				ProductID:    product.ID,
				ProductTitle: product.Title,
				Variant:      variant.Triple(),
				Requested:    requested[key],
				Available:    variant.Count,
			}
		}
		planned = append(planned, plannedLine{input: item, product: product, index: idx})
	}

	lines := make([]OrderLineItem, 0, len(planned))
	for _, p := range planned {
		variant := p.product.Variants[p.index]
		if err := stock.Decrement(p.product, p.index, p.input.Quantity); err != nil {
			return nil, err
		}
		if err := history.RecordSale(ctx, p.product.ID, variant, p.input.Quantity, month); err != nil {
			return nil, err
		}
		price := p.product.Price
		if p.input.Price != nil {
			price = *p.input.Price
		}
		lines = append(lines, OrderLineItem{
			ProductID:    p.product.ID,
			ProductTitle: p.product.Title,
			SKU:          p.product.SKU,
			VariantID:    variant.ID,
			Variant:      variant.Triple(),
			Model:        variant.Model,
			Quantity:     p.input.Quantity,
			UnitPrice:    price,
			SalesMonth:   month,
		})
	}
	return lines, nil
}

// reverseItems returns every line's quantity to stock and removes it from the month it was booked in.
func (s *fulfillmentService) reverseItems(ctx context.Context, stock *stockLedger, history *salesHistoryLedger, order Order) error {
	fallback := domain.MonthOf(order.CreatedAt, s.location)
	for _, line := range order.Items {
		product, err := stock.product(ctx, line.ProductID)
		if err != nil {
			return err
		}
		idx, err := resolveVariantRef(*product, line.VariantID, line.Variant)
		if err != nil {
			return err
		}
		stock.Increment(product, idx, line.Quantity)

		month := line.SalesMonth
		if month.IsZero() {
			month = fallback
		}
		if err := history.RevertSale(ctx, product.ID, line.VariantKey(), line.Quantity, month); err != nil {
			return err
		}
	}
	return nil
}

// saleMonth is the month an order's sale belongs to. Replacement lines are booked there as well.
func (s *fulfillmentService) saleMonth(order Order) domain.Month {
	for _, line := range order.Items {
		if !line.SalesMonth.IsZero() {
			return line.SalesMonth
		}
	}
	return domain.MonthOf(order.CreatedAt, s.location)
}

func (s *fulfillmentService) resolveClient(ctx context.Context, tx repositories.FulfillmentTx, clientID string, candidate domain.Client, now time.Time) (domain.Client, error) {
	if clientID != "" {
		client, err := tx.Client(ctx, clientID)
		if err != nil {
			if isNotFound(err) {
				return domain.Client{}, fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
			}
			return domain.Client{}, err
		}
		return client, nil
	}

	existing, found, err := tx.ClientByPhone(ctx, candidate.PhoneNumber)
	if err != nil {
		return domain.Client{}, err
	}
	if found {
		return existing, nil
	}
	candidate.CreatedAt = now
	if err := tx.CreateClient(ctx, candidate); err != nil {
		return domain.Client{}, err
	}
	return candidate, nil
}

func loadOrder(ctx context.Context, tx repositories.FulfillmentTx, orderID string) (Order, error) {
	order, err := tx.Order(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return Order{}, err
	}
	return order, nil
}

// priceScale is the number of decimal places orders are priced and displayed in.
const priceScale = 2

func normalizeItemInputs(items []OrderItemInput) ([]OrderItemInput, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one line item is required", ErrOrderInvalidInput)
	}
	out := make([]OrderItemInput, 0, len(items))
	for i, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.VariantID = strings.TrimSpace(item.VariantID)
		if item.ProductID == "" {
			return nil, fmt.Errorf("%w: items[%d]: product id is required", ErrOrderInvalidInput, i)
		}
		if item.VariantID == "" && item.Variant.IsZero() {
			return nil, fmt.Errorf("%w: items[%d]: variant id or color/size/style is required", ErrOrderInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: items[%d]: quantity must be positive", ErrOrderInvalidInput, i)
		}
		if item.Price != nil && item.Price.IsNegative() {
			return nil, fmt.Errorf("%w: items[%d]: price must not be negative", ErrOrderInvalidInput, i)
		}
		if item.Price != nil && !item.Price.Equal(item.Price.Round(priceScale)) {
			return nil, fmt.Errorf("%w: items[%d]: price must have at most %d decimal places", ErrOrderInvalidInput, i, priceScale)
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *fulfillmentService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	year := now.In(s.location).Year()
	seq, err := s.counters.Next(ctx, fmt.Sprintf("orders-%04d", year), 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d-%06d", s.numberPrefix, year, seq), nil
}

func (s *fulfillmentService) fail(ctx context.Context, op, orderID string, err error) error {
	mapped := mapFulfillmentError(err)
	if errors.Is(mapped, ErrFulfillmentConflict) {
		s.logger(ctx, "fulfillment.tx_retry_exhausted", map[string]any{
			"operation": op,
			"orderID":   orderID,
			"error":     err.Error(),
		})
	}
	return mapped
}

func (s *fulfillmentService) now() time.Time {
	return s.clock()
}

func (s *fulfillmentService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "fulfillment.event_publish_failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.CurrentStatus),
		})
	}
}
