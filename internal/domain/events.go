package domain

import "time"

// EventType names a domain event published after a committed change
type EventType string

const (
	EventBasketCreated      EventType = "basket.created"
	EventBasketItemsAdded   EventType = "basket.items_added"
	EventBasketItemsRemoved EventType = "basket.items_removed"
	EventBasketCheckedOut   EventType = "basket.checked_out"
	EventProductOutOfStock  EventType = "product.out_of_stock"
)

// Event is a fact about a basket or product. AggregateID keys the message so
// events of the same aggregate keep their order.
type Event struct {
	Type        EventType      `json:"event_type"`
	AggregateID string         `json:"aggregate_id"`
	Payload     map[string]any `json:"payload"`
	OccurredAt  time.Time      `json:"occurred_at"`
}
