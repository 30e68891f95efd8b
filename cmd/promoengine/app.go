package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tiendalab/promoengine/authoring"
	"github.com/tiendalab/promoengine/cache"
	"github.com/tiendalab/promoengine/config"
	"github.com/tiendalab/promoengine/engine"
	"github.com/tiendalab/promoengine/evaluator"
	"github.com/tiendalab/promoengine/grant"
	"github.com/tiendalab/promoengine/outbox"
	"github.com/tiendalab/promoengine/provider"
	"github.com/tiendalab/promoengine/segment"
	"github.com/tiendalab/promoengine/server"
	"github.com/tiendalab/promoengine/store"
)

// App wires the engine together: the store, the optional cache, the
// rule engine, the services and the HTTP server, plus the outbox
// sweeper when enabled.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store     *store.Store
	cache     *cache.Cache
	publisher *outbox.NATSPublisher
	sweeper   *outbox.Sweeper
	server    *server.Server
}

// NewApp connects the backing services and builds the component graph.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}

	st, err := store.Open(ctx, store.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, wrapPostgresError(err)
	}
	app.store = st

	// The cache is an optimization: when it is configured but
	// unreachable the engine starts store-only and the provider falls
	// back to Postgres on every read.
	if cfg.Cache.URL != "" {
		c, err := cache.Open(ctx, cache.Config{URL: cfg.Cache.URL, KeyExpiry: cfg.Cache.KeyExpiry}, logger)
		if err != nil {
			logger.Warn("promotion cache unavailable, running store-only", "error", err)
		} else {
			app.cache = c
		}
	}

	cat, err := st.LoadCatalog(ctx)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf(`load attribute/operator catalogs: %w

The catalog tables are missing or empty. Run the migrations first:
  promoengine migrate`, err)
	}

	eng, err := engine.NewCEL(
		engine.WithLogger(logger),
		engine.WithRuleTimeout(cfg.Engine.EvaluationTimeout),
		engine.WithCacheCap(cfg.Engine.WorkflowCacheCap),
	)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("build rule engine: %w", err)
	}

	var segments segment.Service
	if cfg.Segments.URL != "" {
		segments = segment.NewClient(cfg.Segments.URL, segment.WithLogger(logger))
	} else {
		logger.Warn("no segment service configured, contacts have no segment memberships")
		segments = segment.NewStatic(nil)
	}

	var providerCache provider.Cache
	evalOpts := []evaluator.Option{evaluator.WithLogger(logger)}
	authOpts := []authoring.Option{authoring.WithLogger(logger)}
	if app.cache != nil {
		providerCache = app.cache
		evalOpts = append(evalOpts, evaluator.WithWarmer(app.cache))
		authOpts = append(authOpts, authoring.WithCache(app.cache))
	}

	prov := provider.New(st, providerCache, provider.WithLogger(logger))
	granter := grant.NewService(st, grant.WithLogger(logger))
	eval := evaluator.New(st, prov, segments, eng, granter, evalOpts...)
	auth := authoring.NewService(st, cat, authOpts...)

	app.server = server.New(cfg.HTTP, auth, eval, st, server.WithLogger(logger))

	if !cfg.Sweeper.Disabled {
		pub, err := outbox.NewNATSPublisher(ctx, cfg.NATS.URL, logger)
		if err != nil {
			app.Close()
			return nil, wrapNATSError(err, cfg.NATS.URL)
		}
		app.publisher = pub
		app.sweeper = outbox.NewSweeper(
			outbox.NewSQLStore(st), pub,
			cfg.Sweeper.Interval, cfg.Sweeper.BatchSize,
			outbox.WithLogger(logger),
		)
	}

	return app, nil
}

// Run serves HTTP and drains the outbox until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Run(gctx)
	})
	if a.sweeper != nil {
		g.Go(func() error {
			if err := a.sweeper.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Close releases every held connection.
func (a *App) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("close cache", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", "error", err)
		}
	}
}

// wrapPostgresError provides helpful guidance when Postgres is
// unreachable. The URL is never echoed because it carries credentials.
func wrapPostgresError(err error) error {
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`database connection failed: %w

Postgres is not reachable at the configured URL.

To start Postgres:
  docker compose up -d postgres

Or set %s to point at your database.`, err, config.EnvDBURL)
	}
	return fmt.Errorf("database connection failed: %w", err)
}

// wrapNATSError provides helpful guidance when NATS is unreachable.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker compose up -d nats

Or set %s, or disable the sweeper (sweeper.disabled: true) for
instances that only serve HTTP.`, err, url, config.EnvNATSURL)
	}
	return fmt.Errorf("NATS connection failed: %w", err)
}
