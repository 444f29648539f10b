package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/alerts"
	"github.com/vladislavdragonenkov/marketplace/internal/service/cart"
	"github.com/vladislavdragonenkov/marketplace/internal/service/checkout"
	"github.com/vladislavdragonenkov/marketplace/internal/service/inventory"
	"github.com/vladislavdragonenkov/marketplace/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
)

const testSecret = "test-secret"

type testEnv struct {
	router *gin.Engine
	auth   *Authenticator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, memory.NewStore())
}

func newTestEnvWithStore(t *testing.T, store domain.Store) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := log.New()
	logger.SetOutput(io.Discard)
	entry := logger.WithField("component", "rest-test")

	svc := Services{
		Cart:     cart.NewManager(store, entry),
		Checkout: checkout.NewBuilder(store, entry),
		Orders:   lifecycle.NewTracker(store, entry),
		Alerts:   alerts.NewEvaluator(store, entry),
		Products: inventory.NewIntake(store, entry),
	}
	auth, err := NewAuthenticator(testSecret)
	require.NoError(t, err)
	authz, err := NewAuthorizer()
	require.NoError(t, err)

	h := NewHandler(svc, auth, authz, entry, WithIdempotency(memory.NewIdempotencyRepository(), time.Hour))
	return &testEnv{router: h.Router(), auth: auth}
}

type requestOpts struct {
	user    string
	role    string
	body    any
	headers map[string]string
}

func (e *testEnv) do(t *testing.T, method, path string, opts requestOpts) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	switch b := opts.body.(type) {
	case nil:
	case string:
		body = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if opts.role != "" {
		token, err := e.auth.Issue(opts.user, opts.role, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range opts.headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func admin() requestOpts { return requestOpts{user: "admin-1", role: RoleAdmin} }
func retailer(id string) requestOpts { return requestOpts{user: id, role: RoleRetailer} }

func (o requestOpts) with(body any) requestOpts {
	o.body = body
	return o
}

func (e *testEnv) seedProduct(t *testing.T, id, price string, stock, minStock int) {
	t.Helper()
	w := e.do(t, http.MethodPut, "/api/v1/admin/products/"+id, admin().with(map[string]any{
		"name":      "Product " + id,
		"price":     price,
		"stock":     stock,
		"min_stock": minStock,
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

type orderJSON struct {
	ID            string  `json:"id"`
	OrderCode     string  `json:"order_code"`
	Status        string  `json:"status"`
	TotalAmount   float64 `json:"total_amount"`
	PaymentMethod string  `json:"payment_method"`
	StatusHistory []struct {
		Status string `json:"status"`
	} `json:"status_history"`
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/cart", requestOpts{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/cart", requestOpts{headers: map[string]string{"Authorization": "Bearer garbage"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other, err := NewAuthenticator("other-secret")
	require.NoError(t, err)
	token, err := other.Issue("r-1", RoleRetailer, time.Hour)
	require.NoError(t, err)
	w = env.do(t, http.MethodGet, "/api/v1/cart", requestOpts{headers: map[string]string{"Authorization": "Bearer " + token}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticatorVerify(t *testing.T) {
	auth, err := NewAuthenticator(testSecret)
	require.NoError(t, err)

	expired, err := auth.Issue("r-1", RoleRetailer, -time.Minute)
	require.NoError(t, err)
	_, err = auth.Verify(expired)
	assert.ErrorIs(t, err, errInvalidToken)

	unknownRole, err := auth.Issue("r-1", "superuser", time.Hour)
	require.NoError(t, err)
	_, err = auth.Verify(unknownRole)
	assert.ErrorIs(t, err, errUnknownRole)

	valid, err := auth.Issue("r-1", RoleDistributor, time.Hour)
	require.NoError(t, err)
	principal, err := auth.Verify(valid)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "r-1", Role: RoleDistributor}, principal)

	_, err = NewAuthenticator(" ")
	assert.Error(t, err)
}

func TestAuthorizer(t *testing.T) {
	authz, err := NewAuthorizer()
	require.NoError(t, err)

	tests := []struct {
		role, path, method string
		want               bool
	}{
		{RoleRetailer, "/api/v1/cart", http.MethodGet, true},
		{RoleRetailer, "/api/v1/cart/items/p-1", http.MethodDelete, true},
		{RoleRetailer, "/api/v1/orders", http.MethodPost, true},
		{RoleRetailer, "/api/v1/orders/ORD-1/cancel", http.MethodPost, true},
		{RoleRetailer, "/api/v1/admin/stock-alerts", http.MethodGet, false},
		{RoleDistributor, "/api/v1/admin/orders/ORD-1/status", http.MethodPut, true},
		{RoleDistributor, "/api/v1/cart", http.MethodGet, false},
		{RoleDistributor, "/api/v1/orders/ORD-1", http.MethodGet, false},
		{RoleAdmin, "/api/v1/admin/products/p-1", http.MethodPut, true},
		{RoleAdmin, "/api/v1/orders/ORD-1/track", http.MethodGet, true},
		{RoleAdmin, "/api/v1/orders/ORD-1/cancel", http.MethodPost, false},
		{RoleAdmin, "/api/v1/orders", http.MethodPost, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s %s", tt.role, tt.method, tt.path), func(t *testing.T) {
			got, err := authz.Allowed(tt.role, tt.path, tt.method)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestForbiddenRoutes(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/admin/stock-alerts", retailer("r-1"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", decode[errorResponse](t, w).Code)

	w = env.do(t, http.MethodGet, "/api/v1/cart", requestOpts{user: "d-1", role: RoleDistributor})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCheckoutFlow(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p-1", "25.00", 4, 2)

	w := env.do(t, http.MethodPost, "/api/v1/cart/items", retailer("r-1").with(map[string]any{"product_id": "p-1", "quantity": 4}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/v1/cart", retailer("r-1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_amount":100.00`)
	assert.Contains(t, w.Body.String(), `"total_items":4`)

	w = env.do(t, http.MethodPost, "/api/v1/orders", retailer("r-1").with(map[string]any{"delivery_address": "Tashkent, Amir Temur 1"}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decode[orderJSON](t, w)
	assert.Equal(t, 100.0, order.TotalAmount)
	assert.Equal(t, "pending", order.Status)
	assert.Equal(t, "COD", order.PaymentMethod)
	assert.Regexp(t, `^ORD-`, order.OrderCode)

	w = env.do(t, http.MethodGet, "/api/v1/admin/products/p-1", admin())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"stock":0`)

	w = env.do(t, http.MethodGet, "/api/v1/cart", retailer("r-1"))
	assert.Contains(t, w.Body.String(), `"items":[]`)

	w = env.do(t, http.MethodGet, "/api/v1/orders/"+order.OrderCode+"/track", retailer("r-1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Processing at warehouse")

	w = env.do(t, http.MethodGet, "/api/v1/orders?page=1&limit=5", retailer("r-1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pagination":{"page":1,"limit":5,"total":1,"pages":1}`)
}

func TestInsufficientStockResponse(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p-1", "10.00", 3, 1)

	w := env.do(t, http.MethodPost, "/api/v1/cart/items", retailer("r-1").with(map[string]any{"product_id": "p-1", "quantity": 5}))
	require.Equal(t, http.StatusConflict, w.Code)
	body := decode[errorResponse](t, w)
	assert.Equal(t, "insufficient_stock", body.Code)
	assert.Equal(t, "p-1", body.ProductID)
	assert.Equal(t, 5, body.Requested)
	assert.Equal(t, 3, body.Available)
}

func TestCartValidationAndNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/cart/items", retailer("r-1").with(map[string]any{"product_id": "p-1", "quantity": 0}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decode[errorResponse](t, w).Code)

	w = env.do(t, http.MethodPost, "/api/v1/cart/items", retailer("r-1").with(map[string]any{"product_id": "missing", "quantity": 1}))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[errorResponse](t, w).Code)

	w = env.do(t, http.MethodDelete, "/api/v1/cart/items/missing", retailer("r-1"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetQuantityZeroRemovesEntry(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p-1", "1.50", 10, 1)

	w := env.do(t, http.MethodPost, "/api/v1/cart/items", retailer("r-1").with(map[string]any{"product_id": "p-1", "quantity": 2}))
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPut, "/api/v1/cart/items/p-1", retailer("r-1").with(map[string]any{"quantity": 7}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"quantity":7`)

	w = env.do(t, http.MethodPut, "/api/v1/cart/items/p-1", retailer("r-1").with(map[string]any{"quantity": 0}))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/cart", retailer("r-1"))
	assert.Contains(t, w.Body.String(), `"total_amount":0.00`)
}

func TestEmptyCartCheckout(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/orders", retailer("r-1").with(map[string]any{"delivery_address": "somewhere"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "empty_cart", decode[errorResponse](t, w).Code)
}

func placeOrder(t *testing.T, env *testEnv, retailerID string, qty int) orderJSON {
	t.Helper()
	w := env.do(t, http.MethodPost, "/api/v1/cart/items", retailer(retailerID).with(map[string]any{"product_id": "p-1", "quantity": qty}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.do(t, http.MethodPost, "/api/v1/orders", retailer(retailerID).with(map[string]any{"delivery_address": "addr"}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[orderJSON](t, w)
}

func TestAdminTransitions(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p-1", "5.00", 10, 1)
	order := placeOrder(t, env, "r-1", 2)

	path := "/api/v1/admin/orders/" + order.ID + "/status"

	w := env.do(t, http.MethodPut, path, admin().with(map[string]any{"status": "teleported"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_status", decode[errorResponse](t, w).Code)

	w = env.do(t, http.MethodPut, path, requestOpts{user: "d-1", role: RoleDistributor, body: map[string]any{"status": "shipped"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[orderJSON](t, w)
	assert.Equal(t, "shipped", updated.Status)
	assert.Len(t, updated.StatusHistory, 2)

	w = env.do(t, http.MethodPut, path, admin().with(map[string]any{"status": "confirmed"}))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", decode[errorResponse](t, w).Code)

	w = env.do(t, http.MethodPut, "/api/v1/admin/orders/ORD-UNKNOWN/status", admin().with(map[string]any{"status": "confirmed"}))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRetailerCancel(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p-1", "5.00", 10, 1)
	order := placeOrder(t, env, "r-1", 3)

	w := env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/cancel", retailer("r-2"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/orders/"+order.ID, retailer("r-2"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/cancel", retailer("r-1").with(map[string]any{"note": "changed my mind"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "cancelled", decode[orderJSON](t, w).Status)

	w = env.do(t, http.MethodGet, "/api/v1/admin/products/p-1", admin())
	assert.Contains(t, w.Body.String(), `"stock":10`)

	w = env.do(t, http.MethodGet, "/api/v1/orders/"+order.ID, admin())
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckoutIdempotency(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p-1", "5.00", 10, 1)

	w := env.do(t, http.MethodPost, "/api/v1/cart/items", retailer("r-1").with(map[string]any{"product_id": "p-1", "quantity": 1}))
	require.Equal(t, http.StatusOK, w.Code)

	opts := retailer("r-1").with(`{"delivery_address":"addr"}`)
	opts.headers = map[string]string{idempotencyHeader: "key-1"}

	first := env.do(t, http.MethodPost, "/api/v1/orders", opts)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := env.do(t, http.MethodPost, "/api/v1/orders", opts)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(replayedHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	mismatch := opts.with(`{"delivery_address":"other"}`)
	w = env.do(t, http.MethodPost, "/api/v1/orders", mismatch)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// ключи разных ритейлеров не пересекаются
	other := retailer("r-2").with(`{"delivery_address":"addr"}`)
	other.headers = map[string]string{idempotencyHeader: "key-1"}
	w = env.do(t, http.MethodPost, "/api/v1/orders", other)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "empty_cart", decode[errorResponse](t, w).Code)

	w = env.do(t, http.MethodGet, "/api/v1/admin/products/p-1", admin())
	assert.Contains(t, w.Body.String(), `"stock":9`)
}

// outageStore отказывает в транзакциях, пока не исчерпан счётчик сбоев.
type outageStore struct {
	*memory.Store
	failures atomic.Int32
}

func (s *outageStore) WithinTx(ctx context.Context, fn domain.TxFunc) error {
	if s.failures.Add(-1) >= 0 {
		return domain.Unavailable("begin tx", errors.New("connection reset by peer"))
	}
	return s.Store.WithinTx(ctx, fn)
}

func TestCheckoutIdempotency_ServerErrorKeepsKeyRetryable(t *testing.T) {
	store := &outageStore{Store: memory.NewStore()}
	env := newTestEnvWithStore(t, store)
	env.seedProduct(t, "p-1", "5.00", 10, 1)

	w := env.do(t, http.MethodPost, "/api/v1/cart/items", retailer("r-1").with(map[string]any{"product_id": "p-1", "quantity": 2}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	opts := retailer("r-1").with(`{"delivery_address":"addr"}`)
	opts.headers = map[string]string{idempotencyHeader: "key-retry"}

	store.failures.Store(1)
	failed := env.do(t, http.MethodPost, "/api/v1/orders", opts)
	require.Equal(t, http.StatusServiceUnavailable, failed.Code, failed.Body.String())
	assert.Equal(t, "storage_unavailable", decode[errorResponse](t, failed).Code)

	retried := env.do(t, http.MethodPost, "/api/v1/orders", opts)
	require.Equal(t, http.StatusCreated, retried.Code, retried.Body.String())
	assert.Empty(t, retried.Header().Get(replayedHeader))

	replayed := env.do(t, http.MethodPost, "/api/v1/orders", opts)
	require.Equal(t, http.StatusCreated, replayed.Code)
	assert.Equal(t, "true", replayed.Header().Get(replayedHeader))

	w = env.do(t, http.MethodGet, "/api/v1/admin/products/p-1", admin())
	assert.Contains(t, w.Body.String(), `"stock":8`)
}

func TestCheckoutIdempotency_ClientErrorIsReplayed(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p-1", "5.00", 10, 1)

	opts := retailer("r-1").with(`{"delivery_address":"addr"}`)
	opts.headers = map[string]string{idempotencyHeader: "key-empty"}

	first := env.do(t, http.MethodPost, "/api/v1/orders", opts)
	require.Equal(t, http.StatusBadRequest, first.Code)

	w := env.do(t, http.MethodPost, "/api/v1/cart/items", retailer("r-1").with(map[string]any{"product_id": "p-1", "quantity": 1}))
	require.Equal(t, http.StatusOK, w.Code)

	again := env.do(t, http.MethodPost, "/api/v1/orders", opts)
	assert.Equal(t, http.StatusBadRequest, again.Code)
	assert.Equal(t, "true", again.Header().Get(replayedHeader))
	assert.Equal(t, "empty_cart", decode[errorResponse](t, again).Code)
}

func TestStockAlertsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "crit", "1.00", 2, 10)
	env.seedProduct(t, "warn", "1.00", 8, 10)
	env.seedProduct(t, "fine", "1.00", 50, 10)

	w := env.do(t, http.MethodGet, "/api/v1/admin/stock-alerts?threshold_pct=50", admin())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body stockAlertsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Critical, 1)
	require.Len(t, body.Warning, 1)
	assert.Equal(t, "crit", body.Critical[0].ProductID)
	assert.Equal(t, "warn", body.Warning[0].ProductID)
	assert.Equal(t, 2, body.TotalAlerts)
	assert.Equal(t, 50, body.ThresholdPct)

	w = env.do(t, http.MethodGet, "/api/v1/admin/stock-alerts?threshold_pct=abc", admin())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/admin/stock-alerts?threshold_pct=150", admin())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decode[errorResponse](t, w).Code)
}

func TestProductUpsertValidation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/api/v1/admin/products/p-1", admin().with(map[string]any{"name": "x", "stock": -1}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/api/v1/admin/products/p-1", admin().with(map[string]any{"name": "x"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/api/v1/admin/products/p-1", admin().with(map[string]any{"name": "x", "price": "3.1", "stock": 1}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"price":3.10`)
	assert.Contains(t, w.Body.String(), fmt.Sprintf(`"min_stock":%d`, 10))
}
