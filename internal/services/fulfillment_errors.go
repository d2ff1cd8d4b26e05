package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/retail-admin/fulfillment/internal/domain"
	"github.com/retail-admin/fulfillment/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the order's status does not permit the operation.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderAlreadyPaid indicates a paid order was asked to change.
	ErrOrderAlreadyPaid = errors.New("order: already paid")
	// ErrClientNotFound indicates the referenced client does not exist.
	ErrClientNotFound = errors.New("order: client not found")
	// ErrProductNotFound indicates a line item references an unknown product.
	ErrProductNotFound = errors.New("fulfillment: product not found")
	// ErrVariantNotFound indicates no variant of the product matches the request.
	ErrVariantNotFound = errors.New("fulfillment: variant not found")
	// ErrInsufficientStock indicates the requested quantity exceeds what is on hand.
	ErrInsufficientStock = errors.New("fulfillment: insufficient stock")
	// ErrFulfillmentConflict indicates concurrent writers kept colliding; the caller may retry.
	ErrFulfillmentConflict = errors.New("fulfillment: concurrent modification")
	// ErrFulfillmentUnavailable indicates the store could not be reached.
	ErrFulfillmentUnavailable = errors.New("fulfillment: store unavailable")
)

// ProductNotFoundError names the missing product.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrProductNotFound, e.ProductID)
}

// Is matches ErrProductNotFound.
func (e *ProductNotFoundError) Is(target error) bool { return target == ErrProductNotFound }

// VariantNotFoundError reports a color/size/style combination, or variant id, the product does not carry.
type VariantNotFoundError struct {
	ProductID    string
	ProductTitle string
	VariantID    string
	Variant      domain.VariantTriple
}

func (e *VariantNotFoundError) Error() string {
	if e.VariantID != "" {
		return fmt.Sprintf("%s: %q has no variant %s", ErrVariantNotFound, e.ProductTitle, e.VariantID)
	}
	return fmt.Sprintf("%s: %q has no %s combination", ErrVariantNotFound, e.ProductTitle, e.Variant)
}

// Is matches ErrVariantNotFound.
func (e *VariantNotFoundError) Is(target error) bool { return target == ErrVariantNotFound }

// StockShortageError carries what was asked for and what is on hand so callers can render a message.
type StockShortageError struct {
	ProductID    string
	ProductTitle string
	Variant      domain.VariantTriple
	Requested    int
	Available    int
}

func (e *StockShortageError) Error() string {
	return fmt.Sprintf("%s: %q %s requested %d, available %d",
		ErrInsufficientStock, e.ProductTitle, e.Variant, e.Requested, e.Available)
}

// Is matches ErrInsufficientStock.
func (e *StockShortageError) Is(target error) bool { return target == ErrInsufficientStock }

var businessErrors = []error{
	ErrOrderInvalidInput,
	ErrOrderNotFound,
	ErrOrderInvalidState,
	ErrOrderAlreadyPaid,
	ErrClientNotFound,
	ErrProductNotFound,
	ErrVariantNotFound,
	ErrInsufficientStock,
	ErrFulfillmentConflict,
	ErrFulfillmentUnavailable,
}

// mapFulfillmentError leaves business errors untouched and classifies store failures.
func mapFulfillmentError(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range businessErrors {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrFulfillmentConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrFulfillmentUnavailable, err)
		}
	}
	return err
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
