// Package paywall serves resources behind an x402 payment challenge. It is
// the counterpart the payment client is exercised against.
package paywall

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hpungsan/paperclip/internal/config"
	"github.com/hpungsan/paperclip/internal/logging"
	"github.com/hpungsan/paperclip/internal/payment"
)

// Paywall holds outstanding challenges and verified payments.
type Paywall struct {
	cfg      *config.Config
	logger   *slog.Logger
	now      func() time.Time
	registry *prometheus.Registry
	requests *prometheus.CounterVec

	mu      sync.Mutex
	pending map[string]*payment.Session
	paid    map[string]Record
}

// Option configures a Paywall.
type Option func(*Paywall)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Paywall) { p.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Paywall) { p.now = now }
}

// WithRegistry exposes metrics from reg on /metrics. The paywall's own
// counters are registered with it.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(p *Paywall) { p.registry = reg }
}

// New creates a Paywall priced and addressed from cfg.
func New(cfg *config.Config, opts ...Option) *Paywall {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	p := &Paywall{
		cfg:     cfg,
		now:     time.Now,
		pending: make(map[string]*payment.Session),
		paid:    make(map[string]Record),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.OrDefault(p.logger)
	if p.registry == nil {
		p.registry = prometheus.NewRegistry()
	}
	p.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paperclip_paywall_requests_total",
		Help: "Paywall responses by route and status code.",
	}, []string{"route", "code"})
	p.registry.MustRegister(p.requests)
	return p
}

// Handler returns the routed handler.
func (p *Paywall) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/health", p.handleHealth)
	r.Get("/api/free/{resource}", p.handleFree)
	r.Get("/api/premium/{resource}", p.handlePremium)
	r.Get("/api/payment-status/{id}", p.handleStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
	return r
}

// NewServer creates the HTTP server for the paywall.
func NewServer(p *Paywall, bind string, port int) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           p.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the server and shuts it down gracefully when ctx is cancelled.
func Run(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	logger = logging.OrDefault(logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("paywall listening", "addr", "http://"+srv.Addr)
	if strings.HasPrefix(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		logger.Warn("paywall is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
