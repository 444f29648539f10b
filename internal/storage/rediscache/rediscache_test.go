package rediscache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestIdempotencyRepository_Lifecycle(t *testing.T) {
	_, client := newTestClient(t)
	repo := NewIdempotencyRepository(client)
	ctx := context.Background()

	record, err := repo.CreateProcessing(ctx, "key-1", "hash-1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusProcessing, record.Status)

	_, err = repo.CreateProcessing(ctx, "key-1", "hash-1", time.Time{})
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)

	_, err = repo.CreateProcessing(ctx, "key-1", "hash-2", time.Time{})
	assert.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	require.NoError(t, repo.MarkDone(ctx, "key-1", []byte(`{"id":"o-1"}`), 201))

	stored, err := repo.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusDone, stored.Status)
	assert.Equal(t, 201, stored.HTTPStatus)
	assert.JSONEq(t, `{"id":"o-1"}`, string(stored.ResponseBody))
	assert.True(t, stored.Replayable())
}

func TestIdempotencyRepository_KeyExpiresWithRedisTTL(t *testing.T) {
	srv, client := newTestClient(t)
	repo := NewIdempotencyRepository(client)
	ctx := context.Background()

	_, err := repo.CreateProcessing(ctx, "key-ttl", "hash-1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, "key-ttl", []byte(`{}`), 409))
	assert.Greater(t, srv.TTL(idempotencyKeyPrefix+"key-ttl"), time.Duration(0))

	srv.FastForward(2 * time.Minute)

	_, err = repo.Get(ctx, "key-ttl")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	_, err = repo.CreateProcessing(ctx, "key-ttl", "hash-2", time.Time{})
	assert.NoError(t, err)
}

func TestIdempotencyRepository_ValidationAndMissingKey(t *testing.T) {
	_, client := newTestClient(t)
	repo := NewIdempotencyRepository(client)
	ctx := context.Background()

	_, err := repo.CreateProcessing(ctx, " ", "hash", time.Time{})
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	_, err = repo.CreateProcessing(ctx, "key", "", time.Time{})
	assert.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)

	err = repo.MarkDone(ctx, "missing", nil, 200)
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_ReleaseFreesKey(t *testing.T) {
	srv, client := newTestClient(t)
	repo := NewIdempotencyRepository(client)
	ctx := context.Background()

	_, err := repo.CreateProcessing(ctx, "key-503", "hash-1", time.Time{})
	require.NoError(t, err)

	require.NoError(t, repo.Release(ctx, "key-503"))
	assert.False(t, srv.Exists(idempotencyKeyPrefix+"key-503"))
	require.NoError(t, repo.Release(ctx, "key-503"), "releasing a missing key is a no-op")
	assert.ErrorIs(t, repo.Release(ctx, " "), domain.ErrIdempotencyKeyRequired)

	record, err := repo.CreateProcessing(ctx, "key-503", "hash-1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusProcessing, record.Status)
}

func TestIdempotencyRepository_UnavailableRedis(t *testing.T) {
	srv, client := newTestClient(t)
	repo := NewIdempotencyRepository(client)
	srv.Close()

	_, err := repo.CreateProcessing(context.Background(), "key", "hash", time.Time{})
	assert.True(t, errors.Is(err, domain.ErrStorageUnavailable), "got %v", err)
}

func TestAlertCache_SetGetInvalidate(t *testing.T) {
	srv, client := newTestClient(t)
	cache := NewAlertCache(client, 0)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, 50)
	require.NoError(t, err)
	assert.False(t, ok)

	alerts := domain.StockAlerts{
		Critical:     []domain.StockAlert{{ProductID: "p-1", Stock: 1, MinStock: 10, StockPct: 10, Level: domain.AlertLevelCritical}},
		ThresholdPct: 50,
		GeneratedAt:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, cache.Set(ctx, alerts))
	require.NoError(t, cache.Set(ctx, domain.StockAlerts{ThresholdPct: 20}))
	assert.Equal(t, DefaultAlertCacheTTL, srv.TTL(alertKey(50)))

	cached, ok, err := cache.Get(ctx, 50)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p-1", cached.Critical[0].ProductID)
	assert.True(t, cached.GeneratedAt.Equal(alerts.GeneratedAt))

	require.NoError(t, cache.Invalidate(ctx))
	_, ok, _ = cache.Get(ctx, 50)
	assert.False(t, ok)
	_, ok, _ = cache.Get(ctx, 20)
	assert.False(t, ok)
}
