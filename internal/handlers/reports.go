package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/retail-admin/fulfillment/internal/domain"
	"github.com/retail-admin/fulfillment/internal/platform/auth"
	"github.com/retail-admin/fulfillment/internal/platform/httpx"
	"github.com/retail-admin/fulfillment/internal/services"
)

// ReportHandlers serves the monthly sales ledger and product stock views.
type ReportHandlers struct {
	guard   RoleGuard
	reports services.FulfillmentService
}

func NewReportHandlers(guard RoleGuard, reports services.FulfillmentService) *ReportHandlers {
	return &ReportHandlers{guard: guard, reports: reports}
}

func (h *ReportHandlers) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.guard != nil {
			r.Use(h.guard(auth.RoleStaff, auth.RoleAdmin))
		}
		r.Get("/sales-history", h.salesHistory)
		r.Get("/products/{productID}/stock", h.productStock)
	})
}

func (h *ReportHandlers) salesHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	raw := strings.TrimSpace(query.Get("month"))
	if raw == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "month is required (YYYY-MM)", http.StatusBadRequest))
		return
	}
	month, err := domain.ParseMonth(raw)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "month must be formatted YYYY-MM", http.StatusBadRequest))
		return
	}

	entries, err := h.reports.ListSalesHistory(ctx, services.SalesHistoryFilter{
		Month:     month,
		ProductID: strings.TrimSpace(query.Get("product_id")),
	})
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}

	resp := salesHistoryResponse{Month: month.String(), Entries: make([]salesHistoryPayload, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, salesHistoryPayload{
			ProductID:  e.ProductID,
			VariantKey: e.VariantKey,
			Variant:    newVariantPayload(e.Variant),
			Month:      e.Month.String(),
			SoldCount:  e.SoldCount,
			UpdatedAt:  formatTime(e.UpdatedAt),
		})
		resp.Total += e.SoldCount
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *ReportHandlers) productStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stock, err := h.reports.GetProductStock(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	resp := productStockResponse{
		ProductID:   stock.ProductID,
		SKU:         stock.SKU,
		Title:       stock.Title,
		Sold:        stock.Sold,
		OnHand:      stock.OnHand,
		IsAvailable: stock.IsAvailable,
		Variants:    make([]variantStockPayload, 0, len(stock.Variants)),
	}
	for _, v := range stock.Variants {
		resp.Variants = append(resp.Variants, variantStockPayload{
			ID:      v.ID,
			Key:     v.Key,
			Variant: newVariantPayload(v.Variant),
			Model:   v.Model,
			Count:   v.Count,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
