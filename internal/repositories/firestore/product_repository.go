package firestore

import (
	"context"
	"errors"

	domain "github.com/retail-admin/fulfillment/internal/domain"
	pfirestore "github.com/retail-admin/fulfillment/internal/platform/firestore"
	"github.com/retail-admin/fulfillment/internal/repositories"
)

// ProductRepository reads products and accepts catalog upserts.
type ProductRepository struct {
	products *pfirestore.Collection[productDocument]
}

// NewProductRepository constructs the repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{products: pfirestore.NewCollection[productDocument](provider, productsCollection, nil)}, nil
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// FindByID loads a product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return productFromDocument(doc.ID, doc.Data)
}

// Upsert writes the catalog view of a product, recomputing availability from its variants.
func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) error {
	product = product.Clone()
	product.RecomputeAvailability()
	return r.products.Set(ctx, product.ID, productToDocument(product))
}
