package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const defaultOutboxPullLimit = 100

// Значения outbox_messages.status.
const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"
)

// outboxRepository пишет события заказов и остатков в outbox_messages.
// Внутри WithinTx q указывает на транзакцию, поэтому событие фиксируется
// вместе с изменением заказа или товара.
type outboxRepository struct {
	base
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := r.now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	ctx, cancel := r.opContext(ctx)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO outbox_messages
		    (id, aggregate_type, aggregate_id, event_type, payload, status, attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)`,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, outboxPending, msg.CreatedAt, now,
	); err != nil {
		return domain.OutboxMessage{}, domain.Unavailable("enqueue "+msg.EventType, err)
	}
	return msg, nil
}

// PullPending отдаёт ожидающие события в порядке записи.
func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxPullLimit
	}

	ctx, cancel := r.opContext(ctx)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, attempt_count, created_at
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2`, outboxPending, limit)
	if err != nil {
		return nil, domain.Unavailable("pull pending outbox messages", err)
	}
	defer rows.Close()

	var pending []domain.OutboxMessage
	for rows.Next() {
		var m domain.OutboxMessage
		if err := rows.Scan(&m.ID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, domain.Unavailable("scan outbox message", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		pending = append(pending, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("iterate outbox messages", err)
	}
	return pending, nil
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = $1`, outboxPending,
	).Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, domain.Unavailable("outbox stats", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.finish(ctx, id, outboxSent)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.finish(ctx, id, outboxFailed)
}

// finish переводит событие в конечный статус и учитывает попытку.
func (r *outboxRepository) finish(ctx context.Context, id, status string) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1`, id, status, r.now())
	if err != nil {
		return domain.Unavailable("mark outbox message "+status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Unavailable("mark outbox message "+status, err)
	}
	if n == 0 {
		return domain.ErrOutboxMessageNotFound
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
