package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/retail-admin/fulfillment/internal/platform/httpx"
	"github.com/retail-admin/fulfillment/internal/platform/requestctx"
	"github.com/retail-admin/fulfillment/internal/services"
)

// writeFulfillmentError maps service errors onto the JSON envelope. Stock and variant errors carry
// the offending product so the console can point at the line.
func writeFulfillmentError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		shortage *services.StockShortageError
		missing  *services.VariantNotFoundError
		product  *services.ProductNotFoundError
	)
	switch {
	case errors.As(err, &shortage):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict).WithDetails(map[string]any{
			"product_id":    shortage.ProductID,
			"product_title": shortage.ProductTitle,
			"variant":       newVariantPayload(shortage.Variant),
			"requested":     shortage.Requested,
			"available":     shortage.Available,
		}))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.As(err, &missing):
		details := map[string]any{"product_id": missing.ProductID, "product_title": missing.ProductTitle}
		if missing.VariantID != "" {
			details["variant_id"] = missing.VariantID
		} else {
			details["variant"] = newVariantPayload(missing.Variant)
		}
		httpx.WriteError(ctx, w, httpx.NewError("variant_not_found", err.Error(), http.StatusUnprocessableEntity).WithDetails(details))
	case errors.As(err, &product):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound).WithDetails(map[string]any{
			"product_id": product.ProductID,
		}))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrVariantNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("variant_not_found", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrClientNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("client_not_found", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderAlreadyPaid):
		httpx.WriteError(ctx, w, httpx.NewError("order_already_paid", "order is already paid", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrFulfillmentConflict):
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_conflict", "the order collided with concurrent updates, retry", http.StatusConflict).AsRetryable())
	case errors.Is(err, services.ErrFulfillmentUnavailable), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "fulfillment store unavailable", http.StatusServiceUnavailable).AsRetryable())
	default:
		requestctx.Logger(ctx).Error("unhandled fulfillment error", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "failed to process request", http.StatusInternalServerError))
	}
}
