package kafka

import (
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Топики по умолчанию. Складские события (inventory.*) идут отдельно
// от событий заказа.
const (
	TopicOrderEvents     = "marketplace.order-events"
	TopicInventoryEvents = "marketplace.inventory-events"
	TopicDeadLetterQueue = "marketplace.order-events.dlq"
)

// Kafka headers, которые проставляются каждому сообщению outbox.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
)

// Envelope - формат сообщения в топике событий маркетплейса.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает outbox-сообщение для публикации.
func NewEnvelope(event domain.OutboxMessage, publishedAt time.Time) Envelope {
	payload := json.RawMessage(event.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		PublishedAt:   publishedAt.UTC(),
	}
}

func (e Envelope) headers() map[string]string {
	return map[string]string{
		HeaderEventType:     e.EventType,
		HeaderAggregateType: e.AggregateType,
		HeaderOutboxID:      e.ID,
	}
}
