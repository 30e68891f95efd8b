// Package server exposes the engine over HTTP: the authoring surface
// (draft upsert, publish, retire, rewards), the runtime evaluate
// endpoint, and the health and metrics probes.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tiendalab/promoengine/authoring"
	"github.com/tiendalab/promoengine/config"
	"github.com/tiendalab/promoengine/domain"
	"github.com/tiendalab/promoengine/evaluator"
)

// Authoring is the authoring service surface the server fronts.
type Authoring interface {
	UpsertDraft(ctx context.Context, req authoring.DraftRequest) (*authoring.DraftResult, error)
	Publish(ctx context.Context, promotionID uuid.UUID, countryISO string) (*authoring.PublishResult, error)
	Retire(ctx context.Context, promotionID uuid.UUID, countryISO string) (*authoring.RetireResult, error)
	CreateReward(ctx context.Context, req authoring.RewardRequest) (*domain.Reward, error)
	ListRewards(ctx context.Context) ([]*domain.Reward, error)
}

// Evaluating is the runtime evaluation surface the server fronts.
type Evaluating interface {
	Evaluate(ctx context.Context, req evaluator.Request) ([]evaluator.Result, error)
}

// Pinger verifies the authoritative store for readiness probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the promoengine HTTP server.
type Server struct {
	cfg       config.HTTPConfig
	authoring Authoring
	evaluator Evaluating
	pinger    Pinger
	logger    *slog.Logger
	router    chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New builds the server and its routes.
func New(cfg config.HTTPConfig, auth Authoring, eval Evaluating, pinger Pinger, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		authoring: auth,
		evaluator: eval,
		pinger:    pinger,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/authoring", func(r chi.Router) {
			r.Post("/promotions/draft", s.handleDraftUpsert)
			r.Post("/promotions/{promotionID}/{countryISO}/publish", s.handlePublish)
			r.Post("/promotions/{promotionID}/{countryISO}/retire", s.handleRetire)
			r.Post("/rewards", s.handleCreateReward)
			r.Get("/rewards", s.handleListRewards)
		})
		r.Route("/runtime", func(r chi.Router) {
			r.Post("/evaluate", s.handleEvaluate)
		})
	})

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// Run serves until ctx is cancelled, then drains within the shutdown
// timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("http server draining", "timeout", s.cfg.ShutdownTimeout)
	return srv.Shutdown(shutdownCtx)
}
