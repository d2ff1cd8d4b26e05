package services

import (
	domain "github.com/retail-admin/fulfillment/internal/domain"
)

// resolveVariant finds the variant whose color, size and style all equal triple exactly. The index
// points into product.Variants so callers can mutate the variant in place.
func resolveVariant(product domain.Product, triple domain.VariantTriple) (int, error) {
	for i, v := range product.Variants {
		if v.Color == triple.Color && v.Size == triple.Size && v.Style == triple.Style {
			return i, nil
		}
	}
	return -1, &VariantNotFoundError{ProductID: product.ID, ProductTitle: product.Title, Variant: triple}
}

// resolveVariantByID finds the variant carrying the stable id.
func resolveVariantByID(product domain.Product, variantID string) (int, error) {
	for i, v := range product.Variants {
		if v.ID == variantID {
			return i, nil
		}
	}
	return -1, &VariantNotFoundError{ProductID: product.ID, ProductTitle: product.Title, VariantID: variantID}
}

// resolveVariantRef prefers the stable id and falls back to the triple when no id is given.
func resolveVariantRef(product domain.Product, variantID string, triple domain.VariantTriple) (int, error) {
	if variantID != "" {
		return resolveVariantByID(product, variantID)
	}
	return resolveVariant(product, triple)
}
