package handlers

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/retail-admin/fulfillment/internal/services"
)

type variantPayload struct {
	Color string `json:"color"`
	Size  string `json:"size"`
	Style string `json:"style"`
}

func (p variantPayload) triple() services.VariantTriple {
	return services.VariantTriple{Color: p.Color, Size: p.Size, Style: p.Style}
}

func newVariantPayload(t services.VariantTriple) variantPayload {
	return variantPayload{Color: t.Color, Size: t.Size, Style: t.Style}
}

type orderItemRequest struct {
	ProductID string           `json:"productId"`
	VariantID string           `json:"variantId,omitempty"`
	Variant   *variantPayload  `json:"variant,omitempty"`
	Quantity  int              `json:"quantity"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

func (r orderItemRequest) input() services.OrderItemInput {
	in := services.OrderItemInput{
		ProductID: r.ProductID,
		VariantID: r.VariantID,
		Quantity:  r.Quantity,
		Price:     r.Price,
	}
	if r.Variant != nil {
		in.Variant = r.Variant.triple()
	}
	return in
}

func itemInputs(items []orderItemRequest) []services.OrderItemInput {
	out := make([]services.OrderItemInput, 0, len(items))
	for _, item := range items {
		out = append(out, item.input())
	}
	return out
}

type clientRequest struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
	Address     string `json:"address"`
}

type createOrderRequest struct {
	CustomerID string             `json:"customerId"`
	ClientID   string             `json:"clientId"`
	Client     *clientRequest     `json:"client"`
	Items      []orderItemRequest `json:"items"`
	LineItems  []orderItemRequest `json:"lineItems"`
	Status     string             `json:"status"`
}

type updateItemsRequest struct {
	Items     []orderItemRequest `json:"items"`
	LineItems []orderItemRequest `json:"lineItems"`
}

var errItemsAndLineItems = errors.New("use either items or lineItems, not both")

// mergeLineItems accepts "lineItems" as an alias for "items".
func mergeLineItems(items, lineItems []orderItemRequest) ([]orderItemRequest, error) {
	if len(lineItems) == 0 {
		return items, nil
	}
	if len(items) > 0 {
		return nil, errItemsAndLineItems
	}
	return lineItems, nil
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type orderItemPayload struct {
	ProductID    string         `json:"productId"`
	ProductTitle string         `json:"productTitle"`
	SKU          string         `json:"sku,omitempty"`
	VariantID    string         `json:"variantId,omitempty"`
	VariantKey   string         `json:"variantKey"`
	Variant      variantPayload `json:"variant"`
	Model        string         `json:"model,omitempty"`
	Quantity     int            `json:"quantity"`
	UnitPrice    string         `json:"unitPrice"`
	Subtotal     string         `json:"subtotal"`
	SalesMonth   string         `json:"salesMonth,omitempty"`
}

type clientPayload struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
}

type orderPayload struct {
	ID           string             `json:"id"`
	Number       string             `json:"number"`
	CustomerID   string             `json:"customerId"`
	ClientID     string             `json:"clientId"`
	Client       clientPayload      `json:"client"`
	Items        []orderItemPayload `json:"items"`
	Status       string             `json:"status"`
	Paid         bool               `json:"paid"`
	Total        string             `json:"total"`
	CreatedAt    string             `json:"createdAt"`
	UpdatedAt    string             `json:"updatedAt"`
	PaidAt       string             `json:"paidAt,omitempty"`
	CancelledAt  string             `json:"cancelledAt,omitempty"`
	CancelledBy  string             `json:"cancelledBy,omitempty"`
	CancelReason string             `json:"cancelReason,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func buildOrderPayload(o services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(o.Items))
	for _, item := range o.Items {
		p := orderItemPayload{
			ProductID:    item.ProductID,
			ProductTitle: item.ProductTitle,
			SKU:          item.SKU,
			VariantID:    item.VariantID,
			VariantKey:   item.VariantKey(),
			Variant:      newVariantPayload(item.Variant),
			Model:        item.Model,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice.StringFixed(2),
			Subtotal:     item.Subtotal().StringFixed(2),
		}
		if !item.SalesMonth.IsZero() {
			p.SalesMonth = item.SalesMonth.String()
		}
		items = append(items, p)
	}
	return orderPayload{
		ID:           o.ID,
		Number:       o.Number,
		CustomerID:   o.CustomerID,
		ClientID:     o.ClientID,
		Client:       clientPayload{Name: o.Client.Name, PhoneNumber: o.Client.PhoneNumber},
		Items:        items,
		Status:       string(o.Status),
		Paid:         o.Paid,
		Total:        o.Total.StringFixed(2),
		CreatedAt:    formatTime(o.CreatedAt),
		UpdatedAt:    formatTime(o.UpdatedAt),
		PaidAt:       formatTimePtr(o.PaidAt),
		CancelledAt:  formatTimePtr(o.CancelledAt),
		CancelledBy:  o.CancelledBy,
		CancelReason: o.CancelReason,
	}
}

type salesHistoryPayload struct {
	ProductID  string         `json:"productId"`
	VariantKey string         `json:"variantKey"`
	Variant    variantPayload `json:"variant"`
	Month      string         `json:"month"`
	SoldCount  int            `json:"soldCount"`
	UpdatedAt  string         `json:"updatedAt,omitempty"`
}

type salesHistoryResponse struct {
	Month   string                `json:"month"`
	Entries []salesHistoryPayload `json:"entries"`
	Total   int                   `json:"total"`
}

type variantStockPayload struct {
	ID      string         `json:"id,omitempty"`
	Key     string         `json:"key"`
	Variant variantPayload `json:"variant"`
	Model   string         `json:"model,omitempty"`
	Count   int            `json:"count"`
}

type productStockResponse struct {
	ProductID   string                `json:"productId"`
	SKU         string                `json:"sku"`
	Title       string                `json:"title"`
	Sold        int                   `json:"sold"`
	OnHand      int                   `json:"onHand"`
	IsAvailable bool                  `json:"isAvailable"`
	Variants    []variantStockPayload `json:"variants"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
