package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"
)

type outboxDoc struct {
	ID            string    `bson:"_id"`
	AggregateType string    `bson:"aggregate_type"`
	AggregateID   string    `bson:"aggregate_id"`
	EventType     string    `bson:"event_type"`
	Payload       []byte    `bson:"payload"`
	Status        string    `bson:"status"`
	Attempts      int       `bson:"attempt_count"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

func (d outboxDoc) toDomain() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            d.ID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       d.Payload,
		Attempts:      d.Attempts,
		CreatedAt:     d.CreatedAt.UTC(),
	}
}

type outboxRepository struct {
	base
}

func (r *outboxRepository) coll() *mongo.Collection {
	return r.db.Collection(collOutbox)
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := r.now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	_, err := r.coll().InsertOne(ctx, outboxDoc{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       msg.Payload,
		Status:        outboxPending,
		CreatedAt:     msg.CreatedAt,
		UpdatedAt:     now,
	})
	if err != nil {
		return domain.OutboxMessage{}, domain.Unavailable("enqueue outbox message", err)
	}
	return msg, nil
}

func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	cursor, err := r.coll().Find(ctx,
		bson.M{"status": outboxPending},
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, domain.Unavailable("pull pending outbox messages", err)
	}

	var docs []outboxDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, domain.Unavailable("decode outbox messages", err)
	}

	result := make([]domain.OutboxMessage, 0, len(docs))
	for _, doc := range docs {
		result = append(result, doc.toDomain())
	}
	return result, nil
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	filter := bson.M{"status": outboxPending}
	count, err := r.coll().CountDocuments(ctx, filter)
	if err != nil {
		return domain.OutboxStats{}, domain.Unavailable("outbox stats", err)
	}
	stats := domain.OutboxStats{PendingCount: int(count)}
	if count == 0 {
		return stats, nil
	}

	var oldest outboxDoc
	err = r.coll().FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}})).Decode(&oldest)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return domain.OutboxStats{}, domain.Unavailable("oldest outbox message", err)
	}
	if err == nil {
		stats.OldestPendingAt = oldest.CreatedAt.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, outboxSent)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, outboxFailed)
}

func (r *outboxRepository) markStatus(ctx context.Context, id, status string) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	res, err := r.coll().UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$set": bson.M{"status": status, "updated_at": r.now()},
			"$inc": bson.M{"attempt_count": 1},
		},
	)
	if err != nil {
		return domain.Unavailable("mark outbox message as "+status, err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrOutboxMessageNotFound
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
