// Package provider resolves the active (promotion, version) pairs for a
// country at an instant. It reads the cache first and falls back to the
// store whenever the cache errors or has nothing warmed.
package provider

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tiendalab/promoengine/domain"
	"github.com/tiendalab/promoengine/rules"
	"github.com/tiendalab/promoengine/store"
)

// Store is the slice of the persistence layer the provider reads.
type Store interface {
	ActivePromotions(ctx context.Context, countryISO string, t time.Time) ([]store.ActiveVersion, error)
	GetPromotion(ctx context.Context, id uuid.UUID) (*domain.Promotion, error)
}

// Cache is the slice of the promotion cache the provider reads.
type Cache interface {
	ActivePromotions(ctx context.Context, countryISO string) ([]uuid.UUID, error)
	LatestVersion(ctx context.Context, countryISO string, promotionID uuid.UUID) (int, error)
	GetWorkflow(ctx context.Context, promotionID uuid.UUID, countryISO string, version int) ([]byte, error)
	GetManifest(ctx context.Context, promotionID uuid.UUID, countryISO string, version int) ([]byte, error)
}

// Active is one evaluable promotion: metadata, the resolved version and
// its parsed payloads. Manifest is nil when the stored payload could
// not be parsed; callers treat that as open-window, default policies.
// The raw payload bytes are kept so re-warming the cache preserves the
// exact persisted form.
type Active struct {
	Promotion   domain.Promotion
	Version     int
	CountryISO  string
	Workflow    *rules.Workflow
	Manifest    *rules.Manifest
	WorkflowRaw []byte
	ManifestRaw []byte
}

// Provider is the cache-first active-promotion resolver.
type Provider struct {
	store  Store
	cache  Cache
	logger *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// New builds a provider over the given store and cache.
func New(st Store, c Cache, opts ...Option) *Provider {
	p := &Provider{
		store:  st,
		cache:  c,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ActivePromotions returns every promotion evaluable in the country at
// t, sorted by promotion creation time then id so both the cache and
// store paths yield the same order.
func (p *Provider) ActivePromotions(ctx context.Context, countryISO string, t time.Time) ([]Active, error) {
	countryISO, err := domain.NormalizeCountry(countryISO)
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		active, err := p.fromCache(ctx, countryISO, t)
		if err != nil {
			p.logger.Warn("cache path failed, falling back to store",
				"country", countryISO, "error", err)
		}
		if err == nil && active != nil {
			sortActive(active)
			return active, nil
		}
	}

	active, err := p.fromStore(ctx, countryISO, t)
	if err != nil {
		return nil, err
	}
	sortActive(active)
	return active, nil
}

// fromCache walks the warmed layout. It returns nil (no error) when the
// active set is empty, which sends the caller to the store; any error
// on any member does the same.
func (p *Provider) fromCache(ctx context.Context, countryISO string, t time.Time) ([]Active, error) {
	ids, err := p.cache.ActivePromotions(ctx, countryISO)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	active := make([]Active, 0, len(ids))
	for _, id := range ids {
		version, err := p.cache.LatestVersion(ctx, countryISO, id)
		if err != nil {
			return nil, err
		}
		manifestBytes, err := p.cache.GetManifest(ctx, id, countryISO, version)
		if err != nil {
			return nil, err
		}
		manifest := p.parseManifest(id, manifestBytes)
		if manifest != nil && !manifest.ActiveAt(t) {
			continue
		}

		workflowBytes, err := p.cache.GetWorkflow(ctx, id, countryISO, version)
		if err != nil {
			return nil, err
		}
		workflow, err := rules.ParseWorkflow(workflowBytes)
		if err != nil {
			p.logger.Warn("skipping promotion with unreadable workflow",
				"promotion_id", id, "version", version, "error", err)
			continue
		}

		// Slow-changing metadata comes from the store, once per id
		// (set members are unique).
		promo, err := p.store.GetPromotion(ctx, id)
		if err != nil {
			return nil, err
		}
		active = append(active, Active{
			Promotion:   *promo,
			Version:     version,
			CountryISO:  countryISO,
			Workflow:    workflow,
			Manifest:    manifest,
			WorkflowRaw: workflowBytes,
			ManifestRaw: manifestBytes,
		})
	}
	return active, nil
}

// fromStore uses the store's active-promotions query, which applies the
// validity-window filter in SQL.
func (p *Provider) fromStore(ctx context.Context, countryISO string, t time.Time) ([]Active, error) {
	rows, err := p.store.ActivePromotions(ctx, countryISO, t)
	if err != nil {
		return nil, err
	}
	active := make([]Active, 0, len(rows))
	for _, r := range rows {
		workflow, err := rules.ParseWorkflow(r.WorkflowPayload)
		if err != nil {
			p.logger.Warn("skipping promotion with unreadable workflow",
				"promotion_id", r.Promotion.ID, "version", r.Version, "error", err)
			continue
		}
		active = append(active, Active{
			Promotion:   r.Promotion,
			Version:     r.Version,
			CountryISO:  r.CountryISO,
			Workflow:    workflow,
			Manifest:    p.parseManifest(r.Promotion.ID, r.ManifestPayload),
			WorkflowRaw: r.WorkflowPayload,
			ManifestRaw: r.ManifestPayload,
		})
	}
	return active, nil
}

// parseManifest is lenient: a missing or corrupt manifest downgrades to
// nil rather than dropping the promotion.
func (p *Provider) parseManifest(id uuid.UUID, payload []byte) *rules.Manifest {
	if len(payload) == 0 {
		return nil
	}
	m, err := rules.ParseManifest(payload)
	if err != nil {
		p.logger.Warn("promotion manifest unreadable, using defaults",
			"promotion_id", id, "error", err)
		return nil
	}
	return m
}

func sortActive(active []Active) {
	sort.Slice(active, func(i, j int) bool {
		if !active[i].Promotion.CreatedAt.Equal(active[j].Promotion.CreatedAt) {
			return active[i].Promotion.CreatedAt.Before(active[j].Promotion.CreatedAt)
		}
		return active[i].Promotion.ID.String() < active[j].Promotion.ID.String()
	})
}
