// Package health отдаёт liveness/readiness и подробный отчёт о зависимостях
// маркетплейса: хранилище обязательно, кэш остатков и брокер опциональны.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCheckTimeout ограничивает одну проверку.
const DefaultCheckTimeout = 2 * time.Second

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check: результат проверки одной зависимости.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

type Checker interface {
	Check(ctx context.Context) Check
}

// Handler запускает зарегистрированные проверки параллельно; общий статус
// равен худшему из статусов проверок.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	timeout   time.Duration
	startedAt time.Time
	now       func() time.Time
}

func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		timeout:   DefaultCheckTimeout,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// RegisterChecker добавляет или заменяет проверку с именем name.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

func (h *Handler) snapshot() map[string]Checker {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]Checker, len(h.checkers))
	for name, c := range h.checkers {
		out[name] = c
	}
	return out
}

func (h *Handler) Run(ctx context.Context) Response {
	checkers := h.snapshot()

	var (
		mu     sync.Mutex
		checks = make(map[string]Check, len(checkers))
	)
	var g errgroup.Group
	for name, checker := range checkers {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			check := checker.Check(checkCtx)
			if check.Name == "" {
				check.Name = name
			}
			mu.Lock()
			checks[name] = check
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	for _, check := range checks {
		if check.Status.severity() > overall.severity() {
			overall = check.Status
		}
	}

	now := h.now()
	return Response{
		Status:        overall,
		Timestamp:     now.UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(now.Sub(h.startedAt).Seconds()),
	}
}

// ServeHTTP отдаёт отчёт в JSON; 503 только для unhealthy, degraded остаётся 200.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.Run(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(response.Status))
	_ = json.NewEncoder(w).Encode(response)
}

func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	code := httpStatus(h.Run(r.Context()).Status)
	body := "ready"
	if code != http.StatusOK {
		body = "not ready"
	}
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func httpStatus(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// FuncChecker оборачивает функцию проверки. Ошибка опциональной
// зависимости понижает статус только до degraded.
type FuncChecker struct {
	name    string
	onError Status
	fn      func(ctx context.Context) error
}

func NewFuncChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, onError: StatusUnhealthy, fn: fn}
}

func NewOptionalChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, onError: StatusDegraded, fn: fn}
}

func (c *FuncChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.fn(ctx)
	check := Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		check.Status = c.onError
		check.Message = err.Error()
	}
	return check
}
