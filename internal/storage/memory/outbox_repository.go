package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg    domain.OutboxMessage
	status string
	seq    int64
}

type outboxRepository struct {
	s  *Store
	tx *journal
}

// Enqueue сохраняет событие со статусом pending и возвращает его с идентификатором.
func (r *outboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	err := r.s.exec(r.tx, func() error {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = r.s.now()
		}
		msg.Payload = append([]byte(nil), msg.Payload...)
		r.s.seq++
		put(r.tx, r.s.outbox, msg.ID, outboxRecord{msg: msg, status: outboxStatusPending, seq: r.s.seq})
		return nil
	})
	return msg, err
}

// PullPending возвращает до limit самых старых pending-сообщений.
func (r *outboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	var pending []outboxRecord
	err := r.s.exec(r.tx, func() error {
		for _, rec := range r.s.outbox {
			if rec.status == outboxStatusPending {
				pending = append(pending, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	if len(pending) > limit {
		pending = pending[:limit]
	}

	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		result = append(result, rec.msg)
	}
	return result, nil
}

func (r *outboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	var stats domain.OutboxStats
	err := r.s.exec(r.tx, func() error {
		for _, rec := range r.s.outbox {
			if rec.status != outboxStatusPending {
				continue
			}
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || rec.msg.CreatedAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = rec.msg.CreatedAt
			}
		}
		return nil
	})
	return stats, err
}

// MarkSent обновляет статус события после успешной публикации.
func (r *outboxRepository) MarkSent(_ context.Context, id string) error {
	return r.mark(id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r *outboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.mark(id, outboxStatusFailed)
}

func (r *outboxRepository) mark(id, status string) error {
	return r.s.exec(r.tx, func() error {
		rec, ok := r.s.outbox[id]
		if !ok {
			return domain.ErrOutboxMessageNotFound
		}
		rec.status = status
		rec.msg.Attempts++
		put(r.tx, r.s.outbox, id, rec)
		return nil
	})
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
