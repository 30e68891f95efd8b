// Package evaluator walks the active promotions of a country for one
// contact event and grants the rewards of every rule that fires. It is
// the hot path: promotions come from the provider (cache first),
// segment membership gates up front, then tiers and groups are walked
// in order with at most one group firing per tier.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tiendalab/promoengine/cache"
	"github.com/tiendalab/promoengine/domain"
	"github.com/tiendalab/promoengine/engine"
	"github.com/tiendalab/promoengine/grant"
	"github.com/tiendalab/promoengine/provider"
	"github.com/tiendalab/promoengine/rules"
	"github.com/tiendalab/promoengine/segment"
)

// Request is one evaluation call: a contact event in a country at an
// instant. AsOfUTC is the single clock for every cooldown comparison
// in the request; zero means now.
type Request struct {
	ContactID    string         `json:"contactId"`
	CountryISO   string         `json:"countryIso"`
	AsOfUTC      time.Time      `json:"asOfUtc"`
	EventContext map[string]any `json:"eventContext"`
}

// Result is one awarded (promotion, tier, group).
type Result struct {
	PromotionID       uuid.UUID   `json:"promotionId"`
	Version           int         `json:"version"`
	CountryISO        string      `json:"countryIso"`
	AwardedTier       int         `json:"awardedTier"`
	ExpressionGroupID uuid.UUID   `json:"expressionGroupId"`
	RewardIDs         []uuid.UUID `json:"rewardIds"`
}

// Store is the slice of the persistence layer the evaluator reads.
type Store interface {
	HasGrantedForEvent(ctx context.Context, contactID string, promotionID uuid.UUID, sourceEventID string) (bool, error)
	LastGranted(ctx context.Context, contactID string, promotionID uuid.UUID) (*domain.ContactReward, error)
	LastGrantedForTier(ctx context.Context, contactID string, promotionID uuid.UUID, tierLevel int) (*domain.ContactReward, error)
	TiersForPromotion(ctx context.Context, promotionID uuid.UUID) ([]*domain.RuleTier, error)
	GroupsForTier(ctx context.Context, tierID uuid.UUID) ([]*domain.RuleExpressionGroup, error)
	GroupRewardIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	GlobalRewardIDs(ctx context.Context, promotionID uuid.UUID) ([]uuid.UUID, error)
}

// Provider resolves the active promotions for a country at an instant.
type Provider interface {
	ActivePromotions(ctx context.Context, countryISO string, t time.Time) ([]provider.Active, error)
}

// Granter persists awards.
type Granter interface {
	Grant(ctx context.Context, req grant.Request) ([]*domain.ContactReward, error)
}

// Warmer refreshes the cache for a promotion that just fired. May be
// nil when no cache is wired.
type Warmer interface {
	Warm(ctx context.Context, e cache.Entry) error
}

// Evaluator runs the per-promotion evaluation loop.
type Evaluator struct {
	store    Store
	provider Provider
	segments segment.Service
	engine   engine.Engine
	granter  Granter
	warmer   Warmer
	logger   *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// WithWarmer sets the cache warmer used after awards.
func WithWarmer(w Warmer) Option {
	return func(e *Evaluator) {
		e.warmer = w
	}
}

// New builds an evaluator over its collaborators.
func New(st Store, p Provider, segments segment.Service, eng engine.Engine, granter Granter, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:    st,
		provider: p,
		segments: segments,
		engine:   eng,
		granter:  granter,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate walks every active promotion for the request. A failing
// promotion is logged and skipped; the rest continue. On cancellation
// the results accumulated so far are returned with the context error.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) ([]Result, error) {
	if req.ContactID == "" {
		return nil, &domain.ValidationError{Field: "contactId", Message: "contact id is required"}
	}
	countryISO, err := domain.NormalizeCountry(req.CountryISO)
	if err != nil {
		return nil, err
	}
	asOf := req.AsOfUTC.UTC()
	if req.AsOfUTC.IsZero() {
		asOf = time.Now().UTC()
	}

	evaluationsTotal.Inc()

	var (
		actives     []provider.Active
		memberships []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		actives, err = e.provider.ActivePromotions(gctx, countryISO, asOf)
		if err != nil {
			return fmt.Errorf("resolve active promotions: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		segments, err := e.segments.SegmentsForContact(gctx, req.ContactID, countryISO)
		if err != nil {
			// Lookup failure degrades to an empty membership set:
			// promotions without segment requirements still evaluate.
			e.logger.Warn("segment lookup failed, using empty memberships",
				"contact_id", req.ContactID, "error", err)
			return nil
		}
		memberships = segments
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	input := buildContext(req.EventContext)
	eventID := eventIDFrom(req.EventContext)

	results := make([]Result, 0, 1)
	for _, p := range actives {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		promoResults, exclusiveAwarded, err := e.evaluatePromotion(ctx, p, req.ContactID, memberships, input, eventID, asOf)
		results = append(results, promoResults...)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			promotionsSkippedTotal.WithLabelValues("error").Inc()
			e.logger.Warn("promotion evaluation failed, skipping",
				"promotion_id", p.Promotion.ID, "error", err)
			continue
		}
		if exclusiveAwarded {
			break
		}
	}
	return results, nil
}

// evaluatePromotion runs the gates and the tier walk for one promotion.
// The second return reports an award under exclusive policy, which
// stops the whole evaluation.
func (e *Evaluator) evaluatePromotion(ctx context.Context, p provider.Active, contactID string, memberships []string, input map[string]any, eventID string, asOf time.Time) ([]Result, bool, error) {
	// Manifest policies win over promotion metadata; a missing
	// manifest falls back to metadata and the safe exclusivity default.
	exclusive := true
	globalDays := p.Promotion.GlobalCooldownDays
	var required []string
	if p.Manifest != nil {
		exclusive = p.Manifest.Policies.ExclusivePerEvent
		globalDays = p.Manifest.Policies.GlobalCooldownDays
		required = p.Manifest.Segments
	}

	if !segment.Intersects(required, memberships) {
		promotionsSkippedTotal.WithLabelValues("segment").Inc()
		return nil, false, nil
	}

	if eventID != "" {
		granted, err := e.store.HasGrantedForEvent(ctx, contactID, p.Promotion.ID, eventID)
		if err != nil {
			return nil, false, fmt.Errorf("idempotency probe: %w", err)
		}
		if granted {
			promotionsSkippedTotal.WithLabelValues("event").Inc()
			return nil, false, nil
		}
	}

	last, err := e.store.LastGranted(ctx, contactID, p.Promotion.ID)
	if err != nil {
		return nil, false, fmt.Errorf("last granted lookup: %w", err)
	}
	canTier1 := last == nil || !last.GrantedAt.AddDate(0, 0, globalDays).After(asOf)

	tiers, err := e.store.TiersForPromotion(ctx, p.Promotion.ID)
	if err != nil {
		return nil, false, fmt.Errorf("tiers lookup: %w", err)
	}

	// The grant's cooldown arithmetic must use the same global days as
	// the tier-1 gate.
	promo := p.Promotion
	promo.GlobalCooldownDays = globalDays

	var results []Result
	for _, tier := range tiers {
		if tier.TierLevel == 1 && !canTier1 {
			continue
		}
		if tier.TierLevel > 1 {
			prev, err := e.store.LastGrantedForTier(ctx, contactID, p.Promotion.ID, tier.TierLevel-1)
			if err != nil {
				return results, false, fmt.Errorf("prior tier lookup: %w", err)
			}
			if prev == nil {
				// The prior tier must be earned first.
				continue
			}
			if tier.CooldownDays != nil && prev.GrantedAt.AddDate(0, 0, *tier.CooldownDays).After(asOf) {
				continue
			}
		}

		groups, err := e.store.GroupsForTier(ctx, tier.ID)
		if err != nil {
			return results, false, fmt.Errorf("groups lookup for tier %d: %w", tier.TierLevel, err)
		}

		tierAwarded := false
		for _, group := range groups {
			ruleName := rules.RuleName(tier.TierLevel, group.Order)
			matched, err := e.engine.Evaluate(ctx, p.Workflow, ruleName, input)
			if err != nil {
				if errors.Is(err, engine.ErrRuleNotFound) {
					e.logger.Debug("rule absent from workflow, treating as non-matching",
						"promotion_id", p.Promotion.ID, "rule", ruleName)
				} else {
					e.logger.Warn("rule evaluation failed, treating as non-matching",
						"promotion_id", p.Promotion.ID, "rule", ruleName, "error", err)
				}
				continue
			}
			if !matched {
				continue
			}

			rewardIDs, err := e.store.GroupRewardIDs(ctx, group.ID)
			if err != nil {
				return results, false, fmt.Errorf("group rewards lookup: %w", err)
			}
			if len(rewardIDs) == 0 {
				rewardIDs, err = e.store.GlobalRewardIDs(ctx, p.Promotion.ID)
				if err != nil {
					return results, false, fmt.Errorf("global rewards lookup: %w", err)
				}
			}

			if _, err := e.granter.Grant(ctx, grant.Request{
				ContactID:        contactID,
				Promotion:        promo,
				Version:          p.Version,
				CountryISO:       p.CountryISO,
				TierLevel:        tier.TierLevel,
				TierCooldownDays: tier.CooldownDays,
				GroupID:          group.ID,
				RewardIDs:        rewardIDs,
				GrantedAt:        asOf,
				SourceEventID:    eventID,
			}); err != nil {
				return results, false, fmt.Errorf("grant tier %d: %w", tier.TierLevel, err)
			}

			results = append(results, Result{
				PromotionID:       p.Promotion.ID,
				Version:           p.Version,
				CountryISO:        p.CountryISO,
				AwardedTier:       tier.TierLevel,
				ExpressionGroupID: group.ID,
				RewardIDs:         rewardIDs,
			})
			awardsTotal.Inc()
			e.rewarm(ctx, p)

			// At most one group fires per tier.
			tierAwarded = true
			break
		}

		if tierAwarded && exclusive {
			return results, true, nil
		}
	}
	return results, false, nil
}

// rewarm refreshes the cache entry of a promotion that just fired, so
// hot promotions stay warmed. Best effort.
func (e *Evaluator) rewarm(ctx context.Context, p provider.Active) {
	if e.warmer == nil {
		return
	}
	err := e.warmer.Warm(ctx, cache.Entry{
		PromotionID:        p.Promotion.ID,
		CountryISO:         p.CountryISO,
		Version:            p.Version,
		Workflow:           p.WorkflowRaw,
		Manifest:           p.ManifestRaw,
		Name:               p.Promotion.Name,
		Timezone:           p.Promotion.Timezone,
		GlobalCooldownDays: p.Promotion.GlobalCooldownDays,
	})
	if err != nil {
		e.logger.Warn("cache warm failed",
			"promotion_id", p.Promotion.ID, "version", p.Version, "error", err)
	}
}
