// Package events publishes order lifecycle events to Pub/Sub.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	domain "github.com/retail-admin/fulfillment/internal/domain"
)

// OrderEventMessage is the JSON payload of an order event.
type OrderEventMessage struct {
	Type           string           `json:"type"`
	OrderID        string           `json:"orderId"`
	OrderNumber    string           `json:"orderNumber"`
	ActorID        string           `json:"actorId,omitempty"`
	PreviousStatus string           `json:"previousStatus,omitempty"`
	CurrentStatus  string           `json:"currentStatus"`
	Total          string           `json:"total"`
	Items          []OrderEventItem `json:"items"`
	OccurredAt     time.Time        `json:"occurredAt"`
}

type OrderEventItem struct {
	ProductID  string `json:"productId"`
	SKU        string `json:"sku,omitempty"`
	VariantKey string `json:"variantKey"`
	Color      string `json:"color"`
	Size       string `json:"size"`
	Style      string `json:"style"`
	Quantity   int    `json:"quantity"`
	UnitPrice  string `json:"unitPrice"`
}

// NewOrderEventMessage flattens a domain event into its wire form.
func NewOrderEventMessage(event domain.OrderEvent) OrderEventMessage {
	items := make([]OrderEventItem, 0, len(event.Items))
	for _, item := range event.Items {
		items = append(items, OrderEventItem{
			ProductID:  item.ProductID,
			SKU:        item.SKU,
			VariantKey: item.VariantKey(),
			Color:      item.Variant.Color,
			Size:       item.Variant.Size,
			Style:      item.Variant.Style,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice.String(),
		})
	}
	return OrderEventMessage{
		Type:           event.Type,
		OrderID:        event.OrderID,
		OrderNumber:    event.OrderNumber,
		ActorID:        event.ActorID,
		PreviousStatus: string(event.PreviousStatus),
		CurrentStatus:  string(event.CurrentStatus),
		Total:          event.Total.String(),
		Items:          items,
		OccurredAt:     event.OccurredAt.UTC(),
	}
}

// PubSubOrderPublisher publishes order events with the order id as ordering key, so consumers
// of an ordered subscription see one order's events in commit order.
type PubSubOrderPublisher struct {
	topic *pubsub.Topic
}

func NewPubSubOrderPublisher(topic *pubsub.Topic) (*PubSubOrderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubOrderPublisher{topic: topic}, nil
}

// PublishOrderEvent blocks until Pub/Sub acknowledges the message.
func (p *PubSubOrderPublisher) PublishOrderEvent(ctx context.Context, event domain.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order publisher: not initialised")
	}
	data, err := json.Marshal(NewOrderEventMessage(event))
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: event.OrderID,
		Attributes: map[string]string{
			"eventType":   event.Type,
			"orderId":     event.OrderID,
			"orderNumber": event.OrderNumber,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		// A failed publish pauses the ordering key until resumed.
		p.topic.ResumePublish(event.OrderID)
		return fmt.Errorf("publish order event %s: %w", event.Type, err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubOrderPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}
