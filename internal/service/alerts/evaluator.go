// Package alerts оценивает складские остатки относительно порога дозаказа.
package alerts

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
)

// Cache хранит готовые отчёты. Устаревший отчёт допустим.
type Cache interface {
	Get(ctx context.Context, thresholdPct int) (domain.StockAlerts, bool, error)
	Set(ctx context.Context, alerts domain.StockAlerts) error
}

// Evaluator строит отчёт о товарах с низким остатком. Только чтение.
type Evaluator struct {
	store   domain.Store
	cache   Cache
	logger  *log.Entry
	metrics *metrics.Marketplace
	now     func() time.Time
}

// Option настраивает Evaluator.
type Option func(*Evaluator)

// WithCache подключает кеш отчётов.
func WithCache(cache Cache) Option {
	return func(e *Evaluator) { e.cache = cache }
}

// WithMetrics подключает prometheus-метрики.
func WithMetrics(m *metrics.Marketplace) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEvaluator создаёт Evaluator.
func NewEvaluator(store domain.Store, logger *log.Entry, opts ...Option) *Evaluator {
	if logger == nil {
		logger = log.New().WithField("component", "stock-alerts")
	}
	e := &Evaluator{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate делит активные товары с stock <= min_stock на critical и warning.
// thresholdPct должен лежать в [0, 100].
func (e *Evaluator) Evaluate(ctx context.Context, thresholdPct int) (domain.StockAlerts, error) {
	if thresholdPct < 0 || thresholdPct > 100 {
		return domain.StockAlerts{}, domain.Validationf("threshold_pct must be between 0 and 100, got %d", thresholdPct)
	}

	if e.cache != nil {
		cached, ok, err := e.cache.Get(ctx, thresholdPct)
		if err != nil {
			e.logger.WithError(err).Warn("stock alert cache read failed")
		}
		if ok {
			return cached, nil
		}
	}

	products, err := e.store.Repositories().Products.ListLowStock(ctx)
	if err != nil {
		return domain.StockAlerts{}, err
	}

	report := domain.StockAlerts{
		Critical:     []domain.StockAlert{},
		Warning:      []domain.StockAlert{},
		ThresholdPct: thresholdPct,
		GeneratedAt:  e.now(),
	}
	for _, product := range products {
		// Хранилище уже отфильтровало, но снимок мог устареть между чтениями.
		if !product.IsActive || !product.LowStock() {
			continue
		}
		alert := domain.ClassifyStock(product, thresholdPct)
		if alert.Level == domain.AlertLevelCritical {
			report.Critical = append(report.Critical, alert)
		} else {
			report.Warning = append(report.Warning, alert)
		}
	}

	e.metrics.SetStockAlerts(len(report.Critical), len(report.Warning))

	if e.cache != nil {
		if err := e.cache.Set(ctx, report); err != nil {
			e.logger.WithError(err).Warn("stock alert cache write failed")
		}
	}
	return report, nil
}
