package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/service/rest"
)

const (
	stepScenario    = "scenario"
	stepSeed        = "SeedProduct"
	stepAddToCart   = "AddCartItem"
	stepCheckout    = "Checkout"
	stepCancel      = "CancelOrder"
	stepTransition  = "TransitionOrder"
	idempotencyKey  = "Idempotency-Key"
	tokenTTL        = time.Hour
	maxErrorBodyLen = 256
)

// apiClient вызывает HTTP API маркетплейса и пишет каждый вызов в collector.
type apiClient struct {
	baseURL   string
	http      *http.Client
	auth      *rest.Authenticator
	userAgent string
	timeout   time.Duration
	col       *collector
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

type orderRef struct {
	ID        string `json:"id"`
	OrderCode string `json:"order_code"`
	Status    string `json:"status"`
}

func (c *apiClient) token(userID, role string) (string, error) {
	return c.auth.Issue(userID, role, tokenTTL)
}

// call выполняет запрос и декодирует ответ в out, если статус совпал с want.
func (c *apiClient) call(
	ctx context.Context,
	step, method, path, token string,
	body any,
	headers map[string]string,
	want int,
	out any,
) error {
	start := time.Now()
	status, err := c.do(ctx, method, path, token, body, headers, want, out)
	c.col.record(step, time.Since(start), status, err == nil)
	if err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	return nil
}

func (c *apiClient) do(
	ctx context.Context,
	method, path, token string,
	body any,
	headers map[string]string,
	want int,
	out any,
) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return resp.StatusCode, &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

func (c *apiClient) seedProduct(ctx context.Context, adminToken string, product seedProduct) error {
	body := map[string]any{
		"name":      product.Name,
		"price":     product.Price,
		"stock":     product.Stock,
		"min_stock": product.MinStock,
	}
	return c.call(ctx, stepSeed, http.MethodPut, "/api/v1/admin/products/"+url.PathEscape(product.ID),
		adminToken, body, nil, http.StatusOK, nil)
}

func (c *apiClient) addToCart(ctx context.Context, token, productID string, quantity int) error {
	body := map[string]any{"product_id": productID, "quantity": quantity}
	return c.call(ctx, stepAddToCart, http.MethodPost, "/api/v1/cart/items", token, body, nil, http.StatusOK, nil)
}

func (c *apiClient) checkout(ctx context.Context, token, key, address string) (orderRef, error) {
	var order orderRef
	body := map[string]any{"delivery_address": address, "payment_method": "COD"}
	err := c.call(ctx, stepCheckout, http.MethodPost, "/api/v1/orders", token, body,
		map[string]string{idempotencyKey: key}, http.StatusCreated, &order)
	return order, err
}

func (c *apiClient) cancel(ctx context.Context, token, ref string) error {
	body := map[string]any{"note": "load-cancel"}
	return c.call(ctx, stepCancel, http.MethodPost, "/api/v1/orders/"+url.PathEscape(ref)+"/cancel",
		token, body, nil, http.StatusOK, nil)
}

func (c *apiClient) transition(ctx context.Context, adminToken, ref, status string) error {
	body := map[string]any{"status": status}
	return c.call(ctx, stepTransition, http.MethodPut, "/api/v1/admin/orders/"+url.PathEscape(ref)+"/status",
		adminToken, body, nil, http.StatusOK, nil)
}
