package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты оформления заказа для label result.
const (
	CheckoutSuccess           = "success"
	CheckoutEmptyCart         = "empty_cart"
	CheckoutInsufficientStock = "insufficient_stock"
	CheckoutError             = "error"
)

// Marketplace содержит метрики корзины, оформления, жизненного цикла заказов
// и складских предупреждений. Все методы допускают nil-получатель.
type Marketplace struct {
	checkouts        *prometheus.CounterVec
	checkoutDuration prometheus.Histogram
	unitsSold        prometheus.Counter
	stockRestored    prometheus.Counter
	transitions      *prometheus.CounterVec
	cartOps          *prometheus.CounterVec
	stockAlerts      *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMarketplace регистрирует метрики в prometheus.DefaultRegisterer.
func NewMarketplace() *Marketplace {
	return NewMarketplaceWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMarketplaceWithRegisterer регистрирует метрики в заданном реестре.
func NewMarketplaceWithRegisterer(registerer prometheus.Registerer) *Marketplace {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return register(registerer, name, prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels))
	}
	counter := func(name, help string) prometheus.Counter {
		return register(registerer, name, prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help}))
	}

	return &Marketplace{
		checkouts: counterVec("marketplace_checkouts_total",
			"Total number of checkout attempts by result", "result"),
		checkoutDuration: register(registerer, "marketplace_checkout_duration_seconds",
			prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "marketplace_checkout_duration_seconds",
				Help:    "Duration of checkout transactions in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			})),
		unitsSold: counter("marketplace_units_sold_total",
			"Total number of stock units decremented by checkout"),
		stockRestored: counter("marketplace_stock_restored_total",
			"Total number of stock units restored by cancellations"),
		transitions: counterVec("marketplace_order_transitions_total",
			"Total number of applied order status transitions", "from", "to"),
		cartOps: counterVec("marketplace_cart_operations_total",
			"Total number of cart mutations by operation", "op"),
		stockAlerts: register(registerer, "marketplace_stock_alerts",
			prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "marketplace_stock_alerts",
				Help: "Number of products in the last stock alert report by level",
			}, []string{"level"})),
		httpRequests: counterVec("marketplace_http_requests_total",
			"Total number of HTTP requests", "method", "route", "status"),
		httpDuration: register(registerer, "marketplace_http_request_duration_seconds",
			prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "marketplace_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			}, []string{"method", "route"})),
	}
}

// RecordCheckout фиксирует результат и длительность оформления.
func (m *Marketplace) RecordCheckout(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(result).Inc()
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordUnitsSold увеличивает счётчик проданных единиц.
func (m *Marketplace) RecordUnitsSold(units int) {
	if m == nil || units <= 0 {
		return
	}
	m.unitsSold.Add(float64(units))
}

// RecordStockRestored увеличивает счётчик возвращённых на склад единиц.
func (m *Marketplace) RecordStockRestored(units int) {
	if m == nil || units <= 0 {
		return
	}
	m.stockRestored.Add(float64(units))
}

// RecordTransition фиксирует применённый переход статуса.
func (m *Marketplace) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordCartOperation фиксирует изменение корзины.
func (m *Marketplace) RecordCartOperation(op string) {
	if m == nil {
		return
	}
	m.cartOps.WithLabelValues(op).Inc()
}

// SetStockAlerts выставляет число предупреждений по уровням.
func (m *Marketplace) SetStockAlerts(critical, warning int) {
	if m == nil {
		return
	}
	m.stockAlerts.WithLabelValues("critical").Set(float64(critical))
	m.stockAlerts.WithLabelValues("warning").Set(float64(warning))
}

// RecordHTTPRequest фиксирует обработанный HTTP-запрос.
func (m *Marketplace) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
