package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const idempotencyColumns = `key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at`

// claimIdempotencyKeySQL вставляет запись или перехватывает просроченную;
// живая запись остаётся нетронутой и даёт 0 затронутых строк.
const claimIdempotencyKeySQL = `
INSERT INTO idempotency_keys (` + idempotencyColumns + `)
VALUES ($1, $2, NULL, 0, $3, $4, $5, $5)
ON CONFLICT (key) DO UPDATE SET
    request_hash  = EXCLUDED.request_hash,
    response_body = NULL,
    http_status   = 0,
    status        = EXCLUDED.status,
    ttl_at        = EXCLUDED.ttl_at,
    created_at    = EXCLUDED.created_at,
    updated_at    = EXCLUDED.updated_at
WHERE idempotency_keys.ttl_at <= EXCLUDED.created_at`

// IdempotencyRepository хранит сохранённые ответы оформления заказа
// в таблице idempotency_keys.
type IdempotencyRepository struct {
	base
}

func NewIdempotencyRepository(store *Store) *IdempotencyRepository {
	return &IdempotencyRepository{base: base{q: store.db, timeout: store.opTimeout, now: store.now}}
}

func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	record, err := domain.NewProcessingRecord(key, requestHash, ttlAt, r.now())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	claimed, err := r.exec(ctx, "claim idempotency key", claimIdempotencyKeySQL,
		record.Key, record.RequestHash, string(record.Status), record.TTLAt, record.CreatedAt)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if claimed > 0 {
		return record, nil
	}

	held, err := r.Get(ctx, record.Key)
	if err != nil {
		// Запись могла истечь между INSERT и SELECT.
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	return held, held.Conflict(record.RequestHash)
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := r.opContext(ctx)
	defer cancel()

	row := r.q.QueryRowContext(ctx,
		`SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE key = $1 AND ttl_at > $2`,
		key, r.now())
	record, err := scanIdempotencyRecord(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	case err != nil:
		return domain.IdempotencyRecord{}, err
	}
	return record, nil
}

func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.complete(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.complete(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет истёкшие ключи, самые старые первыми.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}
	if limit <= 0 {
		n, err := r.exec(ctx, "delete expired idempotency keys",
			`DELETE FROM idempotency_keys WHERE ttl_at <= $1`, before)
		return int(n), err
	}
	n, err := r.exec(ctx, "delete expired idempotency keys", `
		DELETE FROM idempotency_keys
		WHERE key IN (
		    SELECT key FROM idempotency_keys
		    WHERE ttl_at <= $1
		    ORDER BY ttl_at
		    LIMIT $2
		)`, before, limit)
	return int(n), err
}

func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	_, err := r.exec(ctx, "release idempotency key", `DELETE FROM idempotency_keys WHERE key = $1`, key)
	return err
}

func (r *IdempotencyRepository) complete(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	n, err := r.exec(ctx, "complete idempotency key", `
		UPDATE idempotency_keys
		SET response_body = $1, http_status = $2, status = $3, updated_at = $4
		WHERE key = $5`,
		responseBody, httpStatus, string(status), r.now(), key)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

// exec выполняет запрос в пределах таймаута операции и возвращает
// число затронутых строк.
func (r *IdempotencyRepository) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, domain.Unavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.Unavailable(op, err)
	}
	return n, nil
}

func scanIdempotencyRecord(row *sql.Row) (domain.IdempotencyRecord, error) {
	var (
		record domain.IdempotencyRecord
		status string
	)
	err := row.Scan(
		&record.Key,
		&record.RequestHash,
		&record.ResponseBody,
		&record.HTTPStatus,
		&status,
		&record.TTLAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, err
	}
	if err != nil {
		return domain.IdempotencyRecord{}, domain.Unavailable("get idempotency record", err)
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", status, record.Key)
	}
	return record, nil
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
