package services

import (
	"fmt"
	"slices"
	"time"

	domain "github.com/retail-admin/fulfillment/internal/domain"
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending: {domain.OrderStatusPaid, domain.OrderStatusCancelled},
}

func canTransition(current, target domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[current], target)
}

// transitionOrder moves order to target, stamping the matching timestamps.
func transitionOrder(order *domain.Order, target domain.OrderStatus, actor string, now time.Time) error {
	if order.Paid || order.Status == domain.OrderStatusPaid {
		return fmt.Errorf("%w: order %s cannot move to %s", ErrOrderAlreadyPaid, order.ID, target)
	}
	if !canTransition(order.Status, target) {
		return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, target)
	}

	order.Status = target
	order.UpdatedAt = now
	switch target {
	case domain.OrderStatusPaid:
		order.Paid = true
		paidAt := now
		order.PaidAt = &paidAt
	case domain.OrderStatusCancelled:
		cancelledAt := now
		order.CancelledAt = &cancelledAt
		order.CancelledBy = actor
	}
	return nil
}

// ensureCancellable rejects cancellation before any stock is reversed.
func ensureCancellable(order domain.Order) error {
	if order.Paid || order.Status == domain.OrderStatusPaid {
		return fmt.Errorf("%w: order %s cannot be cancelled", ErrOrderAlreadyPaid, order.ID)
	}
	if !canTransition(order.Status, domain.OrderStatusCancelled) {
		return fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.ID, order.Status)
	}
	return nil
}

// ensureItemsEditable allows line-item replacement only on unpaid pending orders.
func ensureItemsEditable(order domain.Order) error {
	if order.Paid || order.Status == domain.OrderStatusPaid {
		return fmt.Errorf("%w: order %s cannot be edited", ErrOrderAlreadyPaid, order.ID)
	}
	if order.Status != domain.OrderStatusPending {
		return fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.ID, order.Status)
	}
	return nil
}
