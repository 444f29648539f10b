// Package rest публикует операции маркетплейса по HTTP.
// Пакет отвечает за аутентификацию, проверку прав, разбор запросов
// и перевод ошибок ядра в HTTP-ответы. Бизнес-правила живут в сервисах.
package rest

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/service/checkout"
)

// CartService: операции корзины ритейлера.
type CartService interface {
	Add(ctx context.Context, retailerID, productID string, quantity int) (domain.CartEntry, error)
	SetQuantity(ctx context.Context, retailerID, productID string, quantity int) (domain.CartEntry, bool, error)
	Remove(ctx context.Context, retailerID, productID string) error
	View(ctx context.Context, retailerID string) (domain.CartView, error)
}

// CheckoutService оформляет заказ из корзины.
type CheckoutService interface {
	Checkout(ctx context.Context, req checkout.Request) (domain.Order, error)
}

// OrderService: чтение и смена статусов заказов.
type OrderService interface {
	Transition(ctx context.Context, ref, status, note string) (domain.Order, error)
	CancelByRetailer(ctx context.Context, retailerID, ref, note string) (domain.Order, error)
	Get(ctx context.Context, ref string) (domain.Order, error)
	GetForRetailer(ctx context.Context, retailerID, ref string) (domain.Order, error)
	List(ctx context.Context, retailerID string, page, limit int) (domain.OrderPage, error)
	Track(ctx context.Context, ref string) (domain.TrackingView, error)
}

// AlertService строит отчёт о низких остатках.
type AlertService interface {
	Evaluate(ctx context.Context, thresholdPct int) (domain.StockAlerts, error)
}

// ProductService принимает карточки товаров.
type ProductService interface {
	Upsert(ctx context.Context, product domain.Product) (domain.Product, error)
	Get(ctx context.Context, id string) (domain.Product, error)
}

// Services: сервисы ядра, которые обслуживает API.
type Services struct {
	Cart     CartService
	Checkout CheckoutService
	Orders   OrderService
	Alerts   AlertService
	Products ProductService
}

// Handler собирает маршруты API.
type Handler struct {
	svc            Services
	auth           *Authenticator
	authz          *Authorizer
	idempotency    domain.IdempotencyRepository
	idempotencyTTL time.Duration
	metrics        *metrics.Marketplace
	logger         *log.Entry
	now            func() time.Time
}

// Option настраивает Handler.
type Option func(*Handler)

// WithIdempotency включает обработку Idempotency-Key на оформлении заказа.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(h *Handler) {
		h.idempotency = repo
		if ttl > 0 {
			h.idempotencyTTL = ttl
		}
	}
}

// WithMetrics подключает HTTP-метрики.
func WithMetrics(m *metrics.Marketplace) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler создаёт HTTP API поверх сервисов ядра.
func NewHandler(svc Services, auth *Authenticator, authz *Authorizer, logger *log.Entry, opts ...Option) *Handler {
	if logger == nil {
		logger = log.New().WithField("component", "http")
	}
	h := &Handler{
		svc:            svc,
		auth:           auth,
		authz:          authz,
		idempotencyTTL: domain.DefaultIdempotencyTTL,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	registerOrderStatusValidator()
	return h
}

// Router возвращает gin.Engine со всеми маршрутами.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(h.requestLogger(), h.recovery())

	api := r.Group("/api/v1", h.authenticate(), h.authorize())

	cart := api.Group("/cart")
	cart.GET("", h.viewCart)
	cart.POST("/items", h.addCartItem)
	cart.PUT("/items/:product_id", h.setCartQuantity)
	cart.DELETE("/items/:product_id", h.removeCartItem)

	orders := api.Group("/orders")
	orders.POST("", h.idempotent(), h.checkout)
	orders.GET("", h.listOrders)
	orders.GET("/:ref", h.getOrder)
	orders.GET("/:ref/track", h.trackOrder)
	orders.POST("/:ref/cancel", h.cancelOrder)

	admin := api.Group("/admin")
	admin.PUT("/orders/:ref/status", h.transitionOrder)
	admin.GET("/stock-alerts", h.stockAlerts)
	admin.GET("/products/:id", h.getProduct)
	admin.PUT("/products/:id", h.upsertProduct)

	return r
}
