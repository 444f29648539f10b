// Package idempotency чистит просроченные записи Idempotency-Key, по которым
// HTTP API повторяет ответы на оформление заказа.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	// за один проход удаляем не больше maxBatchesPerSweep пачек, остальное в следующий тик
	maxBatchesPerSweep = 20
)

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_idempotency_sweeps_total",
		Help: "Idempotency key sweeps by result.",
	}, []string{"result"})
	sweptKeys = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_idempotency_swept_keys_total",
		Help: "Expired idempotency keys removed.",
	})
)

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

func WithBatchSize(batchSize int) CleanupOption {
	return func(w *CleanupWorker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

func WithClock(now func() time.Time) CleanupOption {
	return func(w *CleanupWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// CleanupWorker периодически удаляет ключи с истёкшим TTL из memory и
// postgres хранилищ. Redis не требует очистки.
type CleanupWorker struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewCleanupWorker(repo domain.IdempotencyRepository, opts ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:      repo,
		logger:    log.WithField("component", "idempotency-cleanup"),
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run выполняет Sweep сразу и затем каждые interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.sweepAndLog(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) sweepAndLog(ctx context.Context) {
	deleted, err := w.Sweep(ctx)
	switch {
	case errors.Is(err, context.Canceled):
	case err != nil:
		sweepRuns.WithLabelValues("error").Inc()
		w.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency sweep failed")
	default:
		sweepRuns.WithLabelValues("ok").Inc()
		if deleted > 0 {
			w.logger.WithField("deleted", deleted).Info("expired idempotency keys removed")
		}
	}
}

// Sweep удаляет ключи, истёкшие к текущему моменту.
func (w *CleanupWorker) Sweep(ctx context.Context) (int, error) {
	return w.DeleteExpired(ctx, w.now().UTC())
}

// DeleteExpired удаляет записи с ttl <= before пачками по batchSize.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	total := 0
	for batch := 0; batch < maxBatchesPerSweep; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.repo.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		sweptKeys.Add(float64(deleted))

		if deleted < w.batchSize {
			break
		}
	}
	return total, nil
}
