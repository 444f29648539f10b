package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	idempotencyKeyPrefix = "marketplace:idempotency:"
	maxMarkRetries       = 3
)

type idempotencyDoc struct {
	Key          string    `json:"key"`
	RequestHash  string    `json:"request_hash"`
	ResponseBody []byte    `json:"response_body,omitempty"`
	HTTPStatus   int       `json:"http_status,omitempty"`
	Status       string    `json:"status"`
	TTLAt        time.Time `json:"ttl_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (d idempotencyDoc) toDomain() domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:          d.Key,
		RequestHash:  d.RequestHash,
		ResponseBody: d.ResponseBody,
		HTTPStatus:   d.HTTPStatus,
		Status:       domain.IdempotencyStatus(d.Status),
		TTLAt:        d.TTLAt.UTC(),
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

// IdempotencyRepository хранит ключи идемпотентности в Redis.
// Срок жизни ключа задаётся TTL самого Redis, поэтому DeleteExpired ничего не делает.
type IdempotencyRepository struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewIdempotencyRepository создаёт репозиторий поверх готового клиента.
func NewIdempotencyRepository(client redis.UniversalClient) *IdempotencyRepository {
	return &IdempotencyRepository{
		client: client,
		prefix: idempotencyKeyPrefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	record, err := domain.NewProcessingRecord(key, requestHash, ttlAt, r.now())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	ttl := max(record.TTLAt.Sub(record.CreatedAt), time.Second)

	doc := idempotencyDoc{
		Key:         record.Key,
		RequestHash: record.RequestHash,
		Status:      string(record.Status),
		TTLAt:       record.TTLAt.UTC(),
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("marshal idempotency record: %w", err)
	}

	created, err := r.client.SetNX(ctx, r.prefix+record.Key, raw, ttl).Result()
	if err != nil {
		return domain.IdempotencyRecord{}, domain.Unavailable("redis setnx idempotency key", err)
	}
	if created {
		return doc.toDomain(), nil
	}

	existing, err := r.Get(ctx, record.Key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	return existing, existing.Conflict(record.RequestHash)
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, domain.Unavailable("redis get idempotency key", err)
	}

	var doc idempotencyDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("decode idempotency record: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired не требуется: Redis удаляет ключи сам.
func (r *IdempotencyRepository) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return domain.Unavailable("redis delete idempotency key", err)
	}
	return nil
}

// markStatus переписывает запись под WATCH, сохраняя оставшийся TTL.
func (r *IdempotencyRepository) markStatus(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	redisKey := r.prefix + key

	update := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, redisKey).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return domain.ErrIdempotencyKeyNotFound
			}
			return domain.Unavailable("redis get idempotency key", err)
		}

		var doc idempotencyDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode idempotency record: %w", err)
		}
		doc.Status = string(status)
		doc.ResponseBody = append([]byte(nil), responseBody...)
		doc.HTTPStatus = httpStatus
		doc.UpdatedAt = r.now()

		encoded, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal idempotency record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, redisKey, encoded, redis.SetArgs{KeepTTL: true, Mode: "XX"})
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxMarkRetries; attempt++ {
		err := r.client.Watch(ctx, update, redisKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !isDomainErr(err) {
			return domain.Unavailable("redis update idempotency key", err)
		}
		return err
	}
	return domain.Unavailable("redis update idempotency key", redis.TxFailedErr)
}

func isDomainErr(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrStorageUnavailable)
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
