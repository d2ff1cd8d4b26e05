package firestore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/retail-admin/fulfillment/internal/domain"
)

const (
	productsCollection     = "products"
	salesHistoryCollection = "salesHistory"
	ordersCollection       = "orders"
	clientsCollection      = "clients"
	clientPhonesCollection = "clientPhones"
	countersCollection     = "counters"
)

type variantDocument struct {
	ID    string `firestore:"id"`
	Color string `firestore:"color"`
	Size  string `firestore:"size"`
	Style string `firestore:"style"`
	Model string `firestore:"model"`
	Count int    `firestore:"count"`
}

type productDocument struct {
	SKU         string            `firestore:"sku"`
	Title       string            `firestore:"title"`
	Price       string            `firestore:"price"`
	Variants    []variantDocument `firestore:"variants"`
	Sold        int               `firestore:"sold"`
	IsAvailable bool              `firestore:"isAvailable"`
	UpdatedAt   time.Time         `firestore:"updatedAt"`
}

func productToDocument(p domain.Product) productDocument {
	variants := make([]variantDocument, 0, len(p.Variants))
	for _, v := range p.Variants {
		variants = append(variants, variantDocument{
			ID:    v.ID,
			Color: v.Color,
			Size:  v.Size,
			Style: v.Style,
			Model: v.Model,
			Count: v.Count,
		})
	}
	return productDocument{
		SKU:         p.SKU,
		Title:       p.Title,
		Price:       p.Price.String(),
		Variants:    variants,
		Sold:        p.Sold,
		IsAvailable: p.IsAvailable,
		UpdatedAt:   p.UpdatedAt,
	}
}

func productFromDocument(id string, doc productDocument) (domain.Product, error) {
	price, err := parseDecimal(doc.Price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s: price: %w", id, err)
	}
	variants := make([]domain.Variant, 0, len(doc.Variants))
	for _, v := range doc.Variants {
		variants = append(variants, domain.Variant{
			ID:    v.ID,
			Color: v.Color,
			Size:  v.Size,
			Style: v.Style,
			Model: v.Model,
			Count: v.Count,
		})
	}
	return domain.Product{
		ID:          id,
		SKU:         doc.SKU,
		Title:       doc.Title,
		Price:       price,
		Variants:    variants,
		Sold:        doc.Sold,
		IsAvailable: doc.IsAvailable,
		UpdatedAt:   doc.UpdatedAt,
	}, nil
}

type salesHistoryDocument struct {
	ProductID  string    `firestore:"productId"`
	VariantKey string    `firestore:"variantKey"`
	Color      string    `firestore:"color"`
	Size       string    `firestore:"size"`
	Style      string    `firestore:"style"`
	Month      string    `firestore:"month"`
	SoldCount  int       `firestore:"soldCount"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func historyToDocument(e domain.SalesHistoryEntry) salesHistoryDocument {
	return salesHistoryDocument{
		ProductID:  e.ProductID,
		VariantKey: e.VariantKey,
		Color:      e.Variant.Color,
		Size:       e.Variant.Size,
		Style:      e.Variant.Style,
		Month:      e.Month.String(),
		SoldCount:  e.SoldCount,
		UpdatedAt:  e.UpdatedAt,
	}
}

func historyFromDocument(doc salesHistoryDocument) (domain.SalesHistoryEntry, error) {
	month, err := domain.ParseMonth(doc.Month)
	if err != nil {
		return domain.SalesHistoryEntry{}, err
	}
	return domain.SalesHistoryEntry{
		ProductID:  doc.ProductID,
		VariantKey: doc.VariantKey,
		Variant:    domain.VariantTriple{Color: doc.Color, Size: doc.Size, Style: doc.Style},
		Month:      month,
		SoldCount:  doc.SoldCount,
		UpdatedAt:  doc.UpdatedAt,
	}, nil
}

type lineItemDocument struct {
	ProductID    string `firestore:"productId"`
	ProductTitle string `firestore:"productTitle"`
	SKU          string `firestore:"sku"`
	VariantID    string `firestore:"variantId"`
	Color        string `firestore:"color"`
	Size         string `firestore:"size"`
	Style        string `firestore:"style"`
	Model        string `firestore:"model"`
	Quantity     int    `firestore:"quantity"`
	UnitPrice    string `firestore:"unitPrice"`
	SalesMonth   string `firestore:"salesMonth"`
}

type orderDocument struct {
	Number       string             `firestore:"number"`
	CustomerID   string             `firestore:"customerId"`
	ClientID     string             `firestore:"clientId"`
	ClientName   string             `firestore:"clientName"`
	ClientPhone  string             `firestore:"clientPhone"`
	Items        []lineItemDocument `firestore:"items"`
	Status       string             `firestore:"status"`
	Paid         bool               `firestore:"paid"`
	Total        string             `firestore:"total"`
	CreatedAt    time.Time          `firestore:"createdAt"`
	UpdatedAt    time.Time          `firestore:"updatedAt"`
	PaidAt       *time.Time         `firestore:"paidAt,omitempty"`
	CancelledAt  *time.Time         `firestore:"cancelledAt,omitempty"`
	CancelledBy  string             `firestore:"cancelledBy,omitempty"`
	CancelReason string             `firestore:"cancelReason,omitempty"`
}

func orderToDocument(o domain.Order) orderDocument {
	items := make([]lineItemDocument, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, lineItemDocument{
			ProductID:    item.ProductID,
			ProductTitle: item.ProductTitle,
			SKU:          item.SKU,
			VariantID:    item.VariantID,
			Color:        item.Variant.Color,
			Size:         item.Variant.Size,
			Style:        item.Variant.Style,
			Model:        item.Model,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice.String(),
			SalesMonth:   monthToString(item.SalesMonth),
		})
	}
	return orderDocument{
		Number:       o.Number,
		CustomerID:   o.CustomerID,
		ClientID:     o.ClientID,
		ClientName:   o.Client.Name,
		ClientPhone:  o.Client.PhoneNumber,
		Items:        items,
		Status:       string(o.Status),
		Paid:         o.Paid,
		Total:        o.Total.String(),
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
		PaidAt:       o.PaidAt,
		CancelledAt:  o.CancelledAt,
		CancelledBy:  o.CancelledBy,
		CancelReason: o.CancelReason,
	}
}

func orderFromDocument(id string, doc orderDocument) (domain.Order, error) {
	items := make([]domain.OrderLineItem, 0, len(doc.Items))
	for i, item := range doc.Items {
		price, err := parseDecimal(item.UnitPrice)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s item %d: unit price: %w", id, i, err)
		}
		month, err := parseMonth(item.SalesMonth)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s item %d: %w", id, i, err)
		}
		items = append(items, domain.OrderLineItem{
			ProductID:    item.ProductID,
			ProductTitle: item.ProductTitle,
			SKU:          item.SKU,
			VariantID:    item.VariantID,
			Variant:      domain.VariantTriple{Color: item.Color, Size: item.Size, Style: item.Style},
			Model:        item.Model,
			Quantity:     item.Quantity,
			UnitPrice:    price,
			SalesMonth:   month,
		})
	}
	total, err := parseDecimal(doc.Total)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: total: %w", id, err)
	}
	return domain.Order{
		ID:           id,
		Number:       doc.Number,
		CustomerID:   doc.CustomerID,
		ClientID:     doc.ClientID,
		Client:       domain.ClientSnapshot{Name: doc.ClientName, PhoneNumber: doc.ClientPhone},
		Items:        items,
		Status:       domain.OrderStatus(doc.Status),
		Paid:         doc.Paid,
		Total:        total,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
		PaidAt:       doc.PaidAt,
		CancelledAt:  doc.CancelledAt,
		CancelledBy:  doc.CancelledBy,
		CancelReason: doc.CancelReason,
	}, nil
}

type clientDocument struct {
	Name        string    `firestore:"name"`
	PhoneNumber string    `firestore:"phoneNumber"`
	Address     string    `firestore:"address"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

func clientFromDocument(id string, doc clientDocument) domain.Client {
	return domain.Client{
		ID:          id,
		Name:        doc.Name,
		PhoneNumber: doc.PhoneNumber,
		Address:     doc.Address,
		CreatedAt:   doc.CreatedAt,
	}
}

// phoneClaimDocument reserves a phone number for exactly one client.
type phoneClaimDocument struct {
	ClientID string `firestore:"clientId"`
}

func parseDecimal(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(value)
}

func monthToString(m domain.Month) string {
	if m.IsZero() {
		return ""
	}
	return m.String()
}

func parseMonth(value string) (domain.Month, error) {
	if value == "" {
		return domain.Month{}, nil
	}
	return domain.ParseMonth(value)
}
