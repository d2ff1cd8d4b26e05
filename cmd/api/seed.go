package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/retail-admin/fulfillment/internal/domain"
	"github.com/retail-admin/fulfillment/internal/repositories"
)

type seedVariant struct {
	ID    string `json:"id"`
	Color string `json:"color"`
	Size  string `json:"size"`
	Style string `json:"style"`
	Model string `json:"model"`
	Count int    `json:"count"`
}

type seedProduct struct {
	ID       string          `json:"id"`
	SKU      string          `json:"sku"`
	Title    string          `json:"title"`
	Price    decimal.Decimal `json:"price"`
	Variants []seedVariant   `json:"variants"`
}

// seedCatalog loads a JSON array of products into repo and returns how many were written.
func seedCatalog(ctx context.Context, repo repositories.ProductRepository, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}
	var products []seedProduct
	if err := json.Unmarshal(raw, &products); err != nil {
		return 0, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	for i, p := range products {
		if strings.TrimSpace(p.ID) == "" {
			return i, fmt.Errorf("seed product %d: id is required", i)
		}
		product := domain.Product{
			ID:    p.ID,
			SKU:   p.SKU,
			Title: p.Title,
			Price: p.Price,
		}
		for _, v := range p.Variants {
			product.Variants = append(product.Variants, domain.Variant{
				ID:    v.ID,
				Color: v.Color,
				Size:  v.Size,
				Style: v.Style,
				Model: v.Model,
				Count: v.Count,
			})
		}
		if err := repo.Upsert(ctx, product); err != nil {
			return i, fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	return len(products), nil
}
