package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// IdempotencyRepository держит ответы оформления заказа в памяти процесса.
// Живая запись блокирует ключ, просроченная освобождает его сразу, без
// ожидания очистки.
type IdempotencyRepository struct {
	mu      sync.Mutex
	records map[string]*domain.IdempotencyRecord
	now     func() time.Time
}

func NewIdempotencyRepository() *IdempotencyRepository {
	return &IdempotencyRepository{
		records: make(map[string]*domain.IdempotencyRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *IdempotencyRepository) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	record, err := domain.NewProcessingRecord(key, requestHash, ttlAt, r.now())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if held := r.live(record.Key, record.CreatedAt); held != nil {
		return snapshot(held), held.Conflict(record.RequestHash)
	}
	r.records[record.Key] = &record
	return snapshot(&record), nil
}

func (r *IdempotencyRepository) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	held := r.live(key, r.now())
	if held == nil {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return snapshot(held), nil
}

func (r *IdempotencyRepository) MarkDone(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.complete(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.complete(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет записи с ttl_at <= before; limit <= 0 снимает ограничение.
func (r *IdempotencyRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, record := range r.records {
		if limit > 0 && removed == limit {
			break
		}
		if record.TTLAt.After(before) {
			continue
		}
		delete(r.records, key)
		removed++
	}
	return removed, nil
}

func (r *IdempotencyRepository) Release(_ context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, key)
	return nil
}

// live возвращает непросроченную запись; вызывается под mu.
func (r *IdempotencyRepository) live(key string, at time.Time) *domain.IdempotencyRecord {
	record, ok := r.records[key]
	if !ok || record.Expired(at) {
		return nil
	}
	return record
}

func (r *IdempotencyRepository) complete(key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = status
	record.ResponseBody = append([]byte(nil), responseBody...)
	record.HTTPStatus = httpStatus
	record.UpdatedAt = r.now()
	return nil
}

func snapshot(record *domain.IdempotencyRecord) domain.IdempotencyRecord {
	out := *record
	out.ResponseBody = append([]byte(nil), record.ResponseBody...)
	return out
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
