// Package api provides the HTTP server for AgriAI.
//
// It exposes the WhatsApp Cloud API webhook (verification and message intake),
// the Twilio inbound webhook, health and stats endpoints, a small HTML dashboard
// and Prometheus metrics. Inbound messages are acknowledged immediately and
// dispatched in the background.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BTreeMap/AgriAI/internal/messaging"
	"github.com/BTreeMap/AgriAI/internal/models"
	"github.com/BTreeMap/AgriAI/internal/observability"
	"github.com/BTreeMap/AgriAI/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Server defaults.
const (
	DefaultAddr          = ":8080"
	DefaultFanout        = 8
	DefaultShutdownGrace = 30 * time.Second
	// DefaultDrainTimeout bounds how long shutdown waits for in-flight dispatches.
	DefaultDrainTimeout = 60 * time.Second
	// DashboardRecentLimit is the number of diagnoses shown on the dashboard.
	DashboardRecentLimit = 10
)

// Dispatcher handles one inbound message end to end.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg models.InboundMessage)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr           string
	VerifyToken    string
	AIEnabled      bool
	Fanout         int
	Metrics        *observability.Metrics
	MetricsHandler http.Handler
	Clock          clockwork.Clock
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithVerifyToken sets the shared token checked by webhook verification.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// WithAIEnabled reports remote AI availability on the health endpoint.
func WithAIEnabled(enabled bool) Option {
	return func(o *Opts) { o.AIEnabled = enabled }
}

// WithFanout limits concurrent dispatches per webhook payload.
func WithFanout(n int) Option {
	return func(o *Opts) { o.Fanout = n }
}

// WithMetrics records webhook metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithMetricsHandler overrides the /metrics handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *Opts) { o.MetricsHandler = h }
}

// WithClock overrides the clock used for response timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(o *Opts) { o.Clock = c }
}

// Server serves the AgriAI HTTP endpoints.
type Server struct {
	httpServer  *http.Server
	dispatcher  Dispatcher
	store       store.Store
	messenger   messaging.Service
	verifyToken string
	aiEnabled   bool
	fanout      int
	metrics     *observability.Metrics
	clock       clockwork.Clock

	// baseCtx outlives individual requests so background dispatch survives the response.
	baseCtx  context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// NewServer creates a Server and registers its routes.
func NewServer(d Dispatcher, st store.Store, svc messaging.Service, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, Fanout: DefaultFanout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Fanout <= 0 {
		cfg.Fanout = DefaultFanout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.New(nil)
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.VerifyToken == "" {
		slog.Warn("NewServer: no webhook verify token configured; webhook verification will always fail")
	}
	slog.Debug("NewServer", "addr", cfg.Addr, "VerifyToken_set", cfg.VerifyToken != "", "fanout", cfg.Fanout, "ai_enabled", cfg.AIEnabled)

	ctx, cancel := context.WithCancel(context.Background())
	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		dispatcher:  d,
		store:       st,
		messenger:   svc,
		verifyToken: cfg.VerifyToken,
		aiEnabled:   cfg.AIEnabled,
		fanout:      cfg.Fanout,
		metrics:     cfg.Metrics,
		clock:       cfg.Clock,
		baseCtx:     ctx,
		cancel:      cancel,
	}

	mux.HandleFunc("GET /webhook/whatsapp", s.verifyWebhookHandler)
	mux.HandleFunc("POST /webhook/whatsapp", s.whatsappWebhookHandler)
	mux.HandleFunc("POST /webhook/twilio", s.twilioWebhookHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /stats", s.statsHandler)
	mux.HandleFunc("GET /{$}", s.dashboardHandler)
	mux.Handle("GET /metrics", cfg.MetricsHandler)

	return s
}

// Submit dispatches messages in the background, at most fanout at a time.
// It returns immediately; Wait blocks until submitted work completes.
func (s *Server) Submit(msgs ...models.InboundMessage) {
	if len(msgs) == 0 {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		var g errgroup.Group
		g.SetLimit(s.fanout)
		for _, msg := range msgs {
			g.Go(func() error {
				s.dispatcher.Dispatch(s.baseCtx, msg)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Wait blocks until all submitted messages are dispatched or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully and
// drains in-flight dispatches.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.ListenAndServe: listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.cancel()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.ListenAndServe: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownGrace)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.ListenAndServe: HTTP shutdown failed", "error", err)
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), DefaultDrainTimeout)
	defer cancelDrain()
	if err := s.Wait(drainCtx); err != nil {
		slog.Warn("Server.ListenAndServe: in-flight dispatches did not finish, cancelling", "error", err)
	}
	s.cancel()
	return nil
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}
