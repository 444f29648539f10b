package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/rest"
	"github.com/vladislavdragonenkov/marketplace/internal/version"
)

type loadMode string

const (
	modeCheckout       loadMode = "checkout"
	modeCheckoutCancel loadMode = "checkout-cancel"
	modeCheckoutFulfil loadMode = "checkout-fulfil"
)

var fulfilment = []domain.OrderStatus{
	domain.OrderStatusConfirmed,
	domain.OrderStatusProcessing,
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
}

type config struct {
	addr        string
	secret      string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	rps         float64
	timeout     time.Duration
	mode        loadMode
	products    []string
	quantity    int
	seed        bool
	seedStock   int
	retailerTag string
	outputPath  string
}

type seedProduct struct {
	ID       string
	Name     string
	Price    string
	Stock    int
	MinStock int
}

func parseConfig(args []string, output io.Writer) (config, error) {
	var (
		cfg      config
		mode     string
		products string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.addr, "addr", "http://localhost:8080", "marketplace HTTP base URL")
	fs.StringVar(&cfg.secret, "jwt-secret", os.Getenv("MARKETPLACE_AUTH_JWT_SECRET"), "HMAC secret for test tokens (fallback: MARKETPLACE_AUTH_JWT_SECRET)")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 20, "number of concurrent workers")
	fs.Float64Var(&cfg.rps, "rps", 0, "scenario start rate limit per second (0 = unlimited)")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&mode, "mode", string(modeCheckout), "load mode: checkout | checkout-cancel | checkout-fulfil")
	fs.StringVar(&products, "products", "LOAD-1", "comma-separated product ids to order")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity per cart item")
	fs.BoolVar(&cfg.seed, "seed", true, "upsert products with -seed-stock units before the run")
	fs.IntVar(&cfg.seedStock, "seed-stock", 1_000_000, "stock for seeded products")
	fs.StringVar(&cfg.retailerTag, "retailer-tag", "load", "retailer id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	parsedMode, err := parseMode(mode)
	if err != nil {
		return cfg, err
	}
	cfg.mode = parsedMode

	for _, id := range strings.Split(products, ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.products = append(cfg.products, id)
		}
	}

	switch {
	case strings.TrimSpace(cfg.addr) == "":
		return cfg, errors.New("addr is required")
	case strings.TrimSpace(cfg.secret) == "":
		return cfg, errors.New("jwt-secret is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.rps < 0:
		return cfg, errors.New("rps must be >= 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case len(cfg.products) == 0:
		return cfg, errors.New("at least one product is required")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case cfg.seed && cfg.seedStock <= 0:
		return cfg, errors.New("seed-stock must be > 0")
	case strings.TrimSpace(cfg.retailerTag) == "":
		return cfg, errors.New("retailer-tag is required")
	}
	cfg.addr = strings.TrimRight(strings.TrimSpace(cfg.addr), "/")
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCheckout:
		return modeCheckout, nil
	case modeCheckoutCancel:
		return modeCheckoutCancel, nil
	case modeCheckoutFulfil:
		return modeCheckoutFulfil, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := run(ctx, cfg, http.DefaultTransport)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// run сидирует товары и гоняет сценарии, пока не кончатся задания или ctx.
func run(ctx context.Context, cfg config, transport http.RoundTripper) (report, error) {
	auth, err := rest.NewAuthenticator(cfg.secret)
	if err != nil {
		return report{}, err
	}

	col := newCollector()
	client := &apiClient{
		baseURL:   cfg.addr,
		http:      &http.Client{Transport: transport},
		auth:      auth,
		userAgent: version.UserAgent("loadtest"),
		timeout:   cfg.timeout,
		col:       col,
	}

	adminToken, err := client.token("loadtest-admin", rest.RoleAdmin)
	if err != nil {
		return report{}, fmt.Errorf("issue admin token: %w", err)
	}

	if cfg.seed {
		faker := gofakeit.New(0)
		for _, id := range cfg.products {
			product := seedProduct{
				ID:       id,
				Name:     faker.ProductName(),
				Price:    fmt.Sprintf("%.2f", faker.Price(5, 500)),
				Stock:    cfg.seedStock,
				MinStock: domain.DefaultMinStock,
			}
			if err := client.seedProduct(ctx, adminToken, product); err != nil {
				return report{}, err
			}
		}
	}

	var limiter *rate.Limiter
	if cfg.rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.rps), max(1, int(cfg.rps)))
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	jobs := make(chan int, cfg.concurrency*2)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatchJobs(gctx, jobs, cfg, limiter)
		return nil
	})
	for w := 0; w < cfg.concurrency; w++ {
		g.Go(func() error {
			faker := gofakeit.New(0)
			for index := range jobs {
				_ = runScenario(gctx, client, cfg, faker, adminToken, runID, index)
			}
			return nil
		})
	}
	_ = g.Wait()

	return col.buildReport(startedAt, time.Since(startedAt)), nil
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config, limiter *rate.Limiter) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for i := 0; ; i++ {
		if (cfg.duration <= 0 || cfg.totalSet) && i >= cfg.total {
			return
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}

func runScenario(
	ctx context.Context,
	client *apiClient,
	cfg config,
	faker *gofakeit.Faker,
	adminToken, runID string,
	index int,
) (err error) {
	start := time.Now()
	defer func() {
		client.col.record(stepScenario, time.Since(start), scenarioStatus(err), err == nil)
	}()

	retailerID := fmt.Sprintf("%s-%s-%d", cfg.retailerTag, runID, index)
	token, err := client.token(retailerID, rest.RoleRetailer)
	if err != nil {
		return err
	}

	productID := cfg.products[index%len(cfg.products)]
	if err := client.addToCart(ctx, token, productID, cfg.quantity); err != nil {
		return err
	}

	key := fmt.Sprintf("lt-checkout-%s-%d", runID, index)
	order, err := client.checkout(ctx, token, key, faker.Address().Address)
	if err != nil {
		return err
	}
	if order.OrderCode == "" {
		return errors.New("checkout returned empty order code")
	}

	switch cfg.mode {
	case modeCheckoutCancel:
		return client.cancel(ctx, token, order.OrderCode)
	case modeCheckoutFulfil:
		for _, status := range fulfilment {
			if err := client.transition(ctx, adminToken, order.OrderCode, string(status)); err != nil {
				return err
			}
		}
	}
	return nil
}

func scenarioStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status
	}
	return 0
}
