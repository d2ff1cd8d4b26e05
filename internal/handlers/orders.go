package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/retail-admin/fulfillment/internal/domain"
	"github.com/retail-admin/fulfillment/internal/platform/auth"
	"github.com/retail-admin/fulfillment/internal/platform/httpx"
	"github.com/retail-admin/fulfillment/internal/platform/pagination"
	"github.com/retail-admin/fulfillment/internal/platform/requestctx"
	"github.com/retail-admin/fulfillment/internal/services"
)

// OrderHandlers exposes order capture, editing and settlement to staff.
type OrderHandlers struct {
	guard  RoleGuard
	orders services.FulfillmentService
}

func NewOrderHandlers(guard RoleGuard, orders services.FulfillmentService) *OrderHandlers {
	return &OrderHandlers{guard: guard, orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		if h.guard != nil {
			r.Use(h.guard(auth.RoleStaff, auth.RoleAdmin))
		}
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/{orderID}", h.getOrder)
		r.Put("/{orderID}/items", h.updateItems)
		r.Post("/{orderID}:cancel", h.cancelOrder)
		r.Group(func(r chi.Router) {
			if h.guard != nil {
				r.Use(h.guard(auth.RoleAdmin))
			}
			r.Post("/{orderID}:pay", h.markPaid)
		})
	})
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	items, err := mergeLineItems(req.Items, req.LineItems)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	actor := requestctx.Actor(ctx)
	cmd := services.CreateOrderCommand{
		ActorID:    actor,
		CustomerID: strings.TrimSpace(req.CustomerID),
		ClientID:   strings.TrimSpace(req.ClientID),
		Items:      itemInputs(items),
		Status:     domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status))),
	}
	if cmd.CustomerID == "" {
		cmd.CustomerID = actor
	} else if cmd.CustomerID != actor {
		// Recording an order under another customer is an admin action.
		if identity, ok := auth.IdentityFromContext(ctx); ok && !identity.HasRole(auth.RoleAdmin) {
			httpx.WriteError(ctx, w, httpx.NewError("permission_denied", "only admins may record orders for another customer", http.StatusForbidden))
			return
		}
	}
	if req.Client != nil {
		cmd.Client = &services.NewClientInput{
			Name:        req.Client.Name,
			PhoneNumber: req.Client.PhoneNumber,
			Address:     req.Client.Address,
		}
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	pageSize, err := pagination.ParsePageSize(query.Get("page_size"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		CustomerID: strings.TrimSpace(query.Get("customer_id")),
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
				filter.Status = append(filter.Status, domain.OrderStatus(part))
			}
		}
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req updateItemsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	items, err := mergeLineItems(req.Items, req.LineItems)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	order, err := h.orders.UpdateOrderItems(ctx, services.UpdateOrderItemsCommand{
		OrderID: chi.URLParam(r, "orderID"),
		ActorID: requestctx.Actor(ctx),
		Items:   itemInputs(items),
	})
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req cancelOrderRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
	}
	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		ActorID: requestctx.Actor(ctx),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) markPaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.orders.MarkOrderPaid(ctx, services.MarkOrderPaidCommand{
		OrderID: chi.URLParam(r, "orderID"),
		ActorID: requestctx.Actor(ctx),
	})
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
