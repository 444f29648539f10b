package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

var errPublisherNotInitialized = errors.New("kafka outbox publisher is not initialized")

// OutboxTopicPublisher отправляет outbox-сообщения в Kafka. Топик
// выбирается по типу агрегата, ключ сообщения равен AggregateID, так что
// события одного заказа или товара читаются в порядке записи.
type OutboxTopicPublisher struct {
	producer *Producer
	fallback string
	routes   map[string]string
	now      func() time.Time
}

type PublisherOption func(*OutboxTopicPublisher)

// WithAggregateTopic направляет события агрегата aggregateType в topic.
func WithAggregateTopic(aggregateType, topic string) PublisherOption {
	return func(p *OutboxTopicPublisher) {
		topic = strings.TrimSpace(topic)
		if aggregateType == "" || topic == "" {
			return
		}
		p.routes[aggregateType] = topic
	}
}

// NewOutboxPublisher создаёт паблишер; пустой topic заменяется на TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string, opts ...PublisherOption) *OutboxTopicPublisher {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = TopicOrderEvents
	}
	p := &OutboxTopicPublisher{
		producer: producer,
		fallback: topic,
		routes:   make(map[string]string),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Topic возвращает топик для агрегатов без отдельного маршрута.
func (p *OutboxTopicPublisher) Topic() string {
	return p.fallback
}

// TopicFor возвращает топик, в который уйдёт событие агрегата aggregateType.
func (p *OutboxTopicPublisher) TopicFor(aggregateType string) string {
	if topic, ok := p.routes[aggregateType]; ok {
		return topic
	}
	return p.fallback
}

func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}

	envelope := NewEnvelope(event, p.now())
	return p.producer.PublishEvent(ctx, p.TopicFor(event.AggregateType), partitionKey(event), envelope, envelope.headers())
}

func partitionKey(event domain.OutboxMessage) string {
	if event.AggregateID != "" {
		return event.AggregateID
	}
	return event.ID
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
