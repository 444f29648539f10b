package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/service/outbox"
	"github.com/vladislavdragonenkov/marketplace/internal/service/rest"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.OutboxMessage
}

func (p *capturePublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

// MarketplaceFlowSuite прогоняет путь заказа через HTTP API, хранилище и outbox.
type MarketplaceFlowSuite struct {
	suite.Suite
	deps      *Dependencies
	server    *httptest.Server
	auth      *rest.Authenticator
	published *capturePublisher
	worker    *outbox.Worker
}

func (s *MarketplaceFlowSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	entry := logger.WithField("component", "flow-test")

	cfg := testConfig()
	deps, err := NewDependencies(context.Background(), cfg, entry)
	s.Require().NoError(err)
	s.deps = deps

	handler, err := newAPIHandler(cfg, deps, metrics.NewMarketplace())
	s.Require().NoError(err)
	s.server = httptest.NewServer(handler.Router())

	s.auth, err = rest.NewAuthenticator(cfg.Auth.JWTSecret)
	s.Require().NoError(err)

	s.published = &capturePublisher{}
	s.worker = outbox.NewWorker(deps.Store.Repositories().Outbox, s.published, outbox.WithLogger(entry))
}

func (s *MarketplaceFlowSuite) TearDownTest() {
	s.server.Close()
	s.Require().NoError(s.deps.Close())
}

func (s *MarketplaceFlowSuite) request(method, path, userID, role string, body any, headers map[string]string) (int, []byte) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	s.Require().NoError(err)

	token, err := s.auth.Issue(userID, role, time.Hour)
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return resp.StatusCode, raw
}

func (s *MarketplaceFlowSuite) seed(id string, stock, minStock int) {
	status, body := s.request(http.MethodPut, "/api/v1/admin/products/"+id, "admin-1", rest.RoleAdmin, map[string]any{
		"name":      "Product " + id,
		"price":     "25.00",
		"stock":     stock,
		"min_stock": minStock,
	}, nil)
	s.Require().Equal(http.StatusOK, status, string(body))
}

func (s *MarketplaceFlowSuite) stock(id string) int {
	product, err := s.deps.Store.Repositories().Products.Get(context.Background(), id)
	s.Require().NoError(err)
	return product.Stock
}

func (s *MarketplaceFlowSuite) TestCheckoutConfirmAndDeliver() {
	s.seed("SKU-1", 12, 10)

	status, body := s.request(http.MethodPost, "/api/v1/cart/items", "r-1", rest.RoleRetailer,
		map[string]any{"product_id": "SKU-1", "quantity": 3}, nil)
	s.Require().Equal(http.StatusOK, status, string(body))

	status, body = s.request(http.MethodPost, "/api/v1/orders", "r-1", rest.RoleRetailer,
		map[string]any{"delivery_address": "Warehouse 7, Almaty"}, map[string]string{"Idempotency-Key": "flow-1"})
	s.Require().Equal(http.StatusCreated, status, string(body))

	var order struct {
		OrderCode   string `json:"order_code"`
		Status      string `json:"status"`
		TotalAmount float64 `json:"total_amount"`
	}
	s.Require().NoError(json.Unmarshal(body, &order))
	s.Equal("pending", order.Status)
	s.Equal(75.0, order.TotalAmount)
	s.Equal(9, s.stock("SKU-1"))

	for _, next := range []string{"confirmed", "processing", "shipped", "delivered"} {
		status, body = s.request(http.MethodPut, "/api/v1/admin/orders/"+order.OrderCode+"/status", "admin-1", rest.RoleAdmin,
			map[string]any{"status": next}, nil)
		s.Require().Equal(http.StatusOK, status, "%s: %s", next, body)
	}

	status, body = s.request(http.MethodGet, "/api/v1/orders/"+order.OrderCode+"/track", "r-1", rest.RoleRetailer, nil, nil)
	s.Require().Equal(http.StatusOK, status, string(body))

	s.worker.ProcessOnce(context.Background())
	s.Equal([]string{
		domain.EventOrderPlaced,
		domain.EventInventoryLowStock,
		domain.EventOrderStatusChanged,
		domain.EventOrderStatusChanged,
		domain.EventOrderStatusChanged,
		domain.EventOrderStatusChanged,
	}, s.published.types())
}

func (s *MarketplaceFlowSuite) TestRetailerCancelRestoresStock() {
	s.seed("SKU-2", 50, 5)

	status, _ := s.request(http.MethodPost, "/api/v1/cart/items", "r-2", rest.RoleRetailer,
		map[string]any{"product_id": "SKU-2", "quantity": 4}, nil)
	s.Require().Equal(http.StatusOK, status)

	status, body := s.request(http.MethodPost, "/api/v1/orders", "r-2", rest.RoleRetailer,
		map[string]any{"delivery_address": "Dock 3"}, nil)
	s.Require().Equal(http.StatusCreated, status, string(body))
	var order struct {
		ID string `json:"id"`
	}
	s.Require().NoError(json.Unmarshal(body, &order))
	s.Equal(46, s.stock("SKU-2"))

	// чужой ритейлер заказ не видит
	status, _ = s.request(http.MethodPost, "/api/v1/orders/"+order.ID+"/cancel", "r-other", rest.RoleRetailer, nil, nil)
	s.Equal(http.StatusNotFound, status)

	status, body = s.request(http.MethodPost, "/api/v1/orders/"+order.ID+"/cancel", "r-2", rest.RoleRetailer,
		map[string]any{"note": "changed plans"}, nil)
	s.Require().Equal(http.StatusOK, status, string(body))
	s.Equal(50, s.stock("SKU-2"))

	s.worker.ProcessOnce(context.Background())
	s.Equal([]string{
		domain.EventOrderPlaced,
		domain.EventOrderStatusChanged,
		domain.EventOrderCancelled,
	}, s.published.types())
}

func (s *MarketplaceFlowSuite) TestStockAlertsReflectCheckout() {
	s.seed("SKU-3", 11, 10)
	s.seed("SKU-4", 100, 10)

	status, _ := s.request(http.MethodPost, "/api/v1/cart/items", "r-3", rest.RoleRetailer,
		map[string]any{"product_id": "SKU-3", "quantity": 8}, nil)
	s.Require().Equal(http.StatusOK, status)
	status, body := s.request(http.MethodPost, "/api/v1/orders", "r-3", rest.RoleRetailer,
		map[string]any{"delivery_address": "Dock 9"}, nil)
	s.Require().Equal(http.StatusCreated, status, string(body))

	status, body = s.request(http.MethodGet, "/api/v1/admin/stock-alerts", "admin-1", rest.RoleAdmin, nil, nil)
	s.Require().Equal(http.StatusOK, status, string(body))

	var report struct {
		Critical []struct {
			ProductID string `json:"product_id"`
		} `json:"critical"`
		Warning     []json.RawMessage `json:"warning"`
		TotalAlerts int               `json:"total_alerts"`
	}
	s.Require().NoError(json.Unmarshal(body, &report))
	s.Equal(1, report.TotalAlerts)
	s.Require().Len(report.Critical, 1)
	s.Equal("SKU-3", report.Critical[0].ProductID)
	s.Empty(report.Warning)
}

func TestMarketplaceFlowSuite(t *testing.T) {
	suite.Run(t, new(MarketplaceFlowSuite))
}
