// Package app собирает процесс маркетплейса: хранилище, сервисы ядра,
// HTTP API, сервер метрик, gRPC health и фоновые воркеры.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/marketplace/internal/health"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/service/alerts"
	"github.com/vladislavdragonenkov/marketplace/internal/service/cart"
	"github.com/vladislavdragonenkov/marketplace/internal/service/checkout"
	"github.com/vladislavdragonenkov/marketplace/internal/service/idempotency"
	"github.com/vladislavdragonenkov/marketplace/internal/service/inventory"
	"github.com/vladislavdragonenkov/marketplace/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/marketplace/internal/service/outbox"
	"github.com/vladislavdragonenkov/marketplace/internal/service/rest"
	"github.com/vladislavdragonenkov/marketplace/internal/version"
)

const readHeaderTimeout = 5 * time.Second

// ConfigureLogging применяет уровень и формат логов к логгеру.
func ConfigureLogging(logger *log.Logger, cfg LogConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// Run запускает процесс и блокируется до отмены ctx или ошибки сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to release dependencies")
		}
	}()

	m := metrics.NewMarketplace()
	handler, err := newAPIHandler(cfg, deps, m)
	if err != nil {
		return err
	}

	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: handler.Router(), ReadHeaderTimeout: readHeaderTimeout}
	sideSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: newSideMux(newHealthHandler(deps)), ReadHeaderTimeout: readHeaderTimeout}

	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	sideLis, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		_ = apiLis.Close()
		return fmt.Errorf("listen metrics: %w", err)
	}

	var (
		grpcSrv    *grpc.Server
		grpcHealth *health.Server
		grpcLis    net.Listener
	)
	if cfg.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			_ = apiLis.Close()
			_ = sideLis.Close()
			return fmt.Errorf("listen grpc: %w", err)
		}
		grpcSrv, grpcHealth = newGRPCServer(logger)
	}

	outboxWorker := outbox.NewWorker(
		deps.Store.Repositories().Outbox,
		deps.Publisher,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(deps.DLQPublisher),
		outbox.WithPollInterval(cfg.Outbox.PollInterval),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
		outbox.WithMaxAttempts(cfg.Outbox.MaxAttempts),
		outbox.WithRetryBaseDelay(cfg.Outbox.RetryBaseDelay),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("HTTP API слушает %s", apiLis.Addr())
		return serveHTTP(apiSrv, apiLis)
	})
	g.Go(func() error {
		logger.Infof("метрики доступны по адресу %s/metrics", sideLis.Addr())
		return serveHTTP(sideSrv, sideLis)
	})
	if grpcSrv != nil {
		g.Go(func() error {
			logger.Infof("gRPC health сервер слушает %s", grpcLis.Addr())
			if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		outboxWorker.Run(gctx)
		return nil
	})
	if deps.CleanupIdempotency {
		cleanup := idempotency.NewCleanupWorker(
			deps.Idempotency,
			idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
			idempotency.WithInterval(cfg.Idempotency.CleanupInterval),
			idempotency.WithBatchSize(cfg.Idempotency.CleanupBatchSize),
		)
		g.Go(func() error {
			cleanup.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		if grpcHealth != nil {
			grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
			stopGRPC(grpcSrv, cfg.ShutdownTimeout, logger)
		}
		shutdownHTTP(apiSrv, cfg.ShutdownTimeout, logger)
		shutdownHTTP(sideSrv, cfg.ShutdownTimeout, logger)
		return nil
	})

	logger.WithFields(log.Fields{
		"version": version.GetVersion(),
		"storage": cfg.Storage.Backend,
		"redis":   deps.Redis != nil,
		"kafka":   len(cfg.Kafka.Brokers) > 0,
	}).Info("marketplace started")

	err = g.Wait()
	if err != nil {
		return err
	}
	return ctx.Err()
}

func newAPIHandler(cfg Config, deps *Dependencies, m *metrics.Marketplace) (*rest.Handler, error) {
	auth, err := rest.NewAuthenticator(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, err
	}
	authz, err := rest.NewAuthorizer()
	if err != nil {
		return nil, err
	}

	alertOpts := []alerts.Option{alerts.WithMetrics(m)}
	intakeOpts := []inventory.Option{}
	if deps.AlertCache != nil {
		alertOpts = append(alertOpts, alerts.WithCache(deps.AlertCache))
		intakeOpts = append(intakeOpts, inventory.WithInvalidator(deps.AlertCache))
	}

	svc := rest.Services{
		Cart:     cart.NewManager(deps.Store, log.WithField("component", "cart"), cart.WithMetrics(m)),
		Checkout: checkout.NewBuilder(deps.Store, log.WithField("component", "checkout"), checkout.WithMetrics(m)),
		Orders:   lifecycle.NewTracker(deps.Store, log.WithField("component", "lifecycle"), lifecycle.WithMetrics(m)),
		Alerts:   alerts.NewEvaluator(deps.Store, log.WithField("component", "stock-alerts"), alertOpts...),
		Products: inventory.NewIntake(deps.Store, log.WithField("component", "inventory-intake"), intakeOpts...),
	}
	return rest.NewHandler(svc, auth, authz, log.WithField("component", "http"),
		rest.WithMetrics(m),
		rest.WithIdempotency(deps.Idempotency, cfg.Idempotency.TTL),
	), nil
}

func newHealthHandler(deps *Dependencies) *healthcheck.Handler {
	h := healthcheck.NewHandler(version.GetVersion())
	h.RegisterChecker("storage", healthcheck.NewFuncChecker("storage", deps.Store.Ping))
	if deps.Redis != nil {
		h.RegisterChecker("redis", healthcheck.NewOptionalChecker("redis", func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		}))
	}
	return h
}

// newSideMux обслуживает /metrics, /healthz и /livez.
func newSideMux(healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	return mux
}

func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthServer)
	reflection.Register(srv)
	grpcMetrics.InitializeMetrics(srv)

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(version.Service, healthpb.HealthCheckResponse_SERVING)
	return srv, healthServer
}

func serveHTTP(srv *http.Server, lis net.Listener) error {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server %s: %w", srv.Addr, err)
	}
	return nil
}

// stopGRPC ждёт завершения активных RPC, но не дольше timeout.
func stopGRPC(srv *grpc.Server, timeout time.Duration, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
