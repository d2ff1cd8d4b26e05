package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	domain "github.com/retail-admin/fulfillment/internal/domain"
	"github.com/retail-admin/fulfillment/internal/repositories/memory"
)

type fulfillmentFeatureContext struct {
	store *memory.Store
	svc   FulfillmentService
	now   time.Time
	order Order
	err   error
}

func (c *fulfillmentFeatureContext) reset() error {
	c.store = memory.NewStore()
	c.now = time.Now().UTC()
	c.order = Order{}
	c.err = nil
	svc, err := NewFulfillmentService(FulfillmentServiceDeps{
		Store:        c.store,
		Orders:       c.store.Orders(),
		SalesHistory: c.store.SalesHistory(),
		Products:     c.store.Products(),
		Counters:     c.store.Counters(),
		Clock:        func() time.Time { return c.now },
	})
	if err != nil {
		return err
	}
	c.svc = svc
	return nil
}

func parseTriple(value string) (domain.VariantTriple, error) {
	parts := strings.Split(value, "/")
	if len(parts) != 3 {
		return domain.VariantTriple{}, fmt.Errorf("variant %q must be color/size/style", value)
	}
	return domain.VariantTriple{Color: parts[0], Size: parts[1], Style: parts[2]}, nil
}

func (c *fulfillmentFeatureContext) theCurrentTimeIs(value string) error {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return err
	}
	c.now = parsed
	return nil
}

func (c *fulfillmentFeatureContext) productHasVariantWithCount(productID, title, price, variant string, count int) error {
	triple, err := parseTriple(variant)
	if err != nil {
		return err
	}
	amount, err := decimal.NewFromString(price)
	if err != nil {
		return err
	}
	return c.store.Products().Upsert(context.Background(), domain.Product{
		ID:    productID,
		Title: title,
		Price: amount,
		Variants: []domain.Variant{{
			ID:    "var_" + strings.ReplaceAll(variant, "/", "_"),
			Color: triple.Color,
			Size:  triple.Size,
			Style: triple.Style,
			Model: title,
			Count: count,
		}},
	})
}

func (c *fulfillmentFeatureContext) staffCreatesAnOrder(quantity int, variant, productID string) error {
	triple, err := parseTriple(variant)
	if err != nil {
		return err
	}
	c.order, c.err = c.svc.CreateOrder(context.Background(), CreateOrderCommand{
		ActorID: "staff_1",
		Client:  &NewClientInput{Name: "Aiko", PhoneNumber: "090-1234-5678"},
		Items:   []OrderItemInput{{ProductID: productID, Variant: triple, Quantity: quantity}},
	})
	return nil
}

func (c *fulfillmentFeatureContext) staffCancelsTheOrder() error {
	if c.order.ID == "" {
		return errors.New("no order to cancel")
	}
	id := c.order.ID
	order, err := c.svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: id, ActorID: "staff_1"})
	c.err = err
	if err == nil {
		c.order = order
	}
	return nil
}

func (c *fulfillmentFeatureContext) staffChangesTheOrder(quantity int, variant, productID string) error {
	triple, err := parseTriple(variant)
	if err != nil {
		return err
	}
	order, err := c.svc.UpdateOrderItems(context.Background(), UpdateOrderItemsCommand{
		OrderID: c.order.ID,
		Items:   []OrderItemInput{{ProductID: productID, Variant: triple, Quantity: quantity}},
	})
	c.err = err
	if err == nil {
		c.order = order
	}
	return nil
}

func (c *fulfillmentFeatureContext) anAdminMarksTheOrderPaid() error {
	order, err := c.svc.MarkOrderPaid(context.Background(), MarkOrderPaidCommand{OrderID: c.order.ID, ActorID: "admin_1"})
	if err != nil {
		return err
	}
	c.order = order
	return nil
}

func (c *fulfillmentFeatureContext) theOrderSucceedsWithStatusAndTotal(status, total string) error {
	if c.err != nil {
		return fmt.Errorf("expected success, got %v", c.err)
	}
	if string(c.order.Status) != status {
		return fmt.Errorf("expected status %s, got %s", status, c.order.Status)
	}
	want, err := decimal.NewFromString(total)
	if err != nil {
		return err
	}
	if !c.order.Total.Equal(want) {
		return fmt.Errorf("expected total %s, got %s", want, c.order.Total)
	}
	return nil
}

func (c *fulfillmentFeatureContext) variantHasCount(variant, productID string, count int) error {
	triple, err := parseTriple(variant)
	if err != nil {
		return err
	}
	product, err := c.store.Products().FindByID(context.Background(), productID)
	if err != nil {
		return err
	}
	idx, err := resolveVariant(product, triple)
	if err != nil {
		return err
	}
	if got := product.Variants[idx].Count; got != count {
		return fmt.Errorf("expected count %d, got %d", count, got)
	}
	return nil
}

func (c *fulfillmentFeatureContext) productHasSold(productID string, sold int) error {
	product, err := c.store.Products().FindByID(context.Background(), productID)
	if err != nil {
		return err
	}
	if product.Sold != sold {
		return fmt.Errorf("expected sold %d, got %d", sold, product.Sold)
	}
	return nil
}

func (c *fulfillmentFeatureContext) historyEntries(month, productID string) ([]domain.SalesHistoryEntry, error) {
	parsed, err := domain.ParseMonth(month)
	if err != nil {
		return nil, err
	}
	return c.svc.ListSalesHistory(context.Background(), domain.SalesHistoryFilter{Month: parsed, ProductID: productID})
}

func (c *fulfillmentFeatureContext) salesHistoryShows(month, productID string, sold int) error {
	entries, err := c.historyEntries(month, productID)
	if err != nil {
		return err
	}
	if len(entries) != 1 || entries[0].SoldCount != sold {
		return fmt.Errorf("expected one entry with %d sold, got %+v", sold, entries)
	}
	return nil
}

func (c *fulfillmentFeatureContext) salesHistoryIsEmpty(month, productID string) error {
	entries, err := c.historyEntries(month, productID)
	if err != nil {
		return err
	}
	if len(entries) != 0 {
		return fmt.Errorf("expected no entries, got %+v", entries)
	}
	return nil
}

func (c *fulfillmentFeatureContext) theRequestFailsWith(message string) error {
	if c.err == nil {
		return errors.New("expected an error, got success")
	}
	if !strings.Contains(c.err.Error(), message) {
		return fmt.Errorf("expected error containing %q, got %v", message, c.err)
	}
	return nil
}

func (c *fulfillmentFeatureContext) theRequestFailsWithShortage(message string, requested, available int) error {
	if err := c.theRequestFailsWith(message); err != nil {
		return err
	}
	var shortage *StockShortageError
	if !errors.As(c.err, &shortage) {
		return fmt.Errorf("expected stock shortage details, got %v", c.err)
	}
	if shortage.Requested != requested || shortage.Available != available {
		return fmt.Errorf("expected %d requested / %d available, got %d / %d",
			requested, available, shortage.Requested, shortage.Available)
	}
	return nil
}

func initializeFulfillmentScenario(ctx *godog.ScenarioContext) {
	fc := &fulfillmentFeatureContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		return ctx, fc.reset()
	})

	ctx.Step(`^the current time is "([^"]*)"$`, fc.theCurrentTimeIs)
	ctx.Step(`^product "([^"]*)" titled "([^"]*)" priced "([^"]*)" has variant "([^"]*)" with count (\d+)$`, fc.productHasVariantWithCount)
	ctx.Step(`^staff creates an order for (\d+) of "([^"]*)" of "([^"]*)"$`, fc.staffCreatesAnOrder)
	ctx.Step(`^staff cancels the order$`, fc.staffCancelsTheOrder)
	ctx.Step(`^staff changes the order to (\d+) of "([^"]*)" of "([^"]*)"$`, fc.staffChangesTheOrder)
	ctx.Step(`^an admin marks the order paid$`, fc.anAdminMarksTheOrderPaid)

	ctx.Step(`^the order succeeds with status "([^"]*)" and total "([^"]*)"$`, fc.theOrderSucceedsWithStatusAndTotal)
	ctx.Step(`^variant "([^"]*)" of "([^"]*)" has count (\d+)$`, fc.variantHasCount)
	ctx.Step(`^product "([^"]*)" has sold (\d+)$`, fc.productHasSold)
	ctx.Step(`^the "([^"]*)" sales history for "([^"]*)" shows (\d+) sold$`, fc.salesHistoryShows)
	ctx.Step(`^the "([^"]*)" sales history for "([^"]*)" is empty$`, fc.salesHistoryIsEmpty)
	ctx.Step(`^the request fails with "([^"]*)" reporting (\d+) requested and (\d+) available$`, fc.theRequestFailsWithShortage)
	ctx.Step(`^the request fails with "([^"]*)"$`, fc.theRequestFailsWith)
}

func TestFulfillmentFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeFulfillmentScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/order_fulfillment.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
