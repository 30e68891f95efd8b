// Package authoring turns draft requests into compiled, persisted
// promotion versions and drives the publish and retire transitions,
// keeping the cache in step with the store.
package authoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tiendalab/promoengine/cache"
	"github.com/tiendalab/promoengine/catalog"
	"github.com/tiendalab/promoengine/domain"
	"github.com/tiendalab/promoengine/rules"
	"github.com/tiendalab/promoengine/store"
)

// ErrCompileFailed is returned when a draft authored with groups
// produced no executable rule at all.
var ErrCompileFailed = errors.New("no rule compiled from draft")

// Store is the slice of the persistence layer the authoring service
// uses.
type Store interface {
	NextVersion(ctx context.Context, promotionID uuid.UUID, countryISO string) (int, error)
	SaveDraft(ctx context.Context, w store.DraftWrite) error
	PublishVersion(ctx context.Context, promotionID uuid.UUID, countryISO string, at time.Time) (version int, changed bool, err error)
	RetireVersion(ctx context.Context, promotionID uuid.UUID, countryISO string, at time.Time) (version int, err error)
	GetVersion(ctx context.Context, promotionID uuid.UUID, countryISO string, version int) (*domain.PromotionVersion, error)
	GetPromotion(ctx context.Context, id uuid.UUID) (*domain.Promotion, error)
	InsertReward(ctx context.Context, reward *domain.Reward) error
	ListRewards(ctx context.Context) ([]*domain.Reward, error)
}

// Cache warms published versions and drops retired ones. May be nil
// when no cache is wired.
type Cache interface {
	Warm(ctx context.Context, e cache.Entry) error
	Invalidate(ctx context.Context, promotionID uuid.UUID, countryISO string) error
}

// Service implements the authoring operations.
type Service struct {
	store    Store
	compiler *rules.Compiler
	cache    Cache
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithCache sets the cache kept in step on publish and retire.
func WithCache(c Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService builds the authoring service over a store and the
// attribute/operator catalogs the compiler validates against.
func NewService(st Store, cat *catalog.Catalog, opts ...Option) *Service {
	s := &Service{
		store:    st,
		compiler: rules.NewCompiler(cat),
		logger:   slog.Default(),
		validate: newValidator(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DraftResult reports a saved draft.
type DraftResult struct {
	PromotionID  uuid.UUID `json:"promotionId"`
	Version      int       `json:"version"`
	CountryISO   string    `json:"countryIso"`
	WorkflowName string    `json:"workflowName"`
	Warnings     []string  `json:"warnings,omitempty"`
}

// UpsertDraft validates and compiles a draft request, allocates the
// next version number for (promotion, country) and persists the draft.
// Compilation warnings are returned with the result; a draft whose
// groups all failed to compile is rejected with ErrCompileFailed.
func (s *Service) UpsertDraft(ctx context.Context, req DraftRequest) (*DraftResult, error) {
	if err := asValidationError(s.validate.Struct(req)); err != nil {
		return nil, err
	}
	countryISO, err := domain.NormalizeCountry(req.CountryISO)
	if err != nil {
		return nil, err
	}
	window, err := domain.NewValidityWindow(req.Window.ValidFromUtc, req.Window.ValidToUtc)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	promo, err := domain.NewPromotion(req.PromotionID, req.Name, req.Timezone, req.GlobalCooldownDays, now)
	if err != nil {
		return nil, err
	}

	next, err := s.store.NextVersion(ctx, promo.ID, countryISO)
	if err != nil {
		return nil, err
	}
	version, err := domain.NewPromotionVersion(uuid.Nil, promo.ID, next, countryISO, req.Timezone, req.GlobalCooldownDays, window, now)
	if err != nil {
		return nil, err
	}

	specs, groupsAuthored, err := s.buildTiers(promo.ID, version, req.Tiers)
	if err != nil {
		return nil, err
	}

	wf, warnings := s.compiler.Compile(promo.ID, countryISO, specs)
	if groupsAuthored > 0 && len(wf.Rules) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCompileFailed, joinWarnings(warnings))
	}

	exclusive := true
	if req.ExclusivePerEvent != nil {
		exclusive = *req.ExclusivePerEvent
	}
	manifest := &rules.Manifest{
		Policies: rules.ManifestPolicies{
			GlobalCooldownDays: req.GlobalCooldownDays,
			ExclusivePerEvent:  exclusive,
			Country:            countryISO,
		},
		Window: rules.ManifestWindow{
			ValidFromUtc: req.Window.ValidFromUtc,
			ValidToUtc:   req.Window.ValidToUtc,
		},
		Segments: req.Segments,
	}
	if version.ManifestPayload, err = manifest.Marshal(); err != nil {
		return nil, err
	}
	if version.WorkflowPayload, err = wf.Marshal(); err != nil {
		return nil, err
	}

	if err := s.store.SaveDraft(ctx, store.DraftWrite{
		Promotion:       promo,
		Version:         version,
		GlobalRewardIDs: req.GlobalRewardIDs,
	}); err != nil {
		return nil, err
	}

	warningStrings := make([]string, 0, len(warnings))
	for _, w := range warnings {
		warningStrings = append(warningStrings, w.String())
	}
	s.logger.Info("draft saved",
		"promotion_id", promo.ID,
		"country", countryISO,
		"version", next,
		"rules", len(wf.Rules),
		"warnings", len(warnings))

	return &DraftResult{
		PromotionID:  promo.ID,
		Version:      next,
		CountryISO:   countryISO,
		WorkflowName: wf.WorkflowName,
		Warnings:     warningStrings,
	}, nil
}

// buildTiers materializes the tier/group tree onto the draft version,
// enforcing level and order uniqueness, and collects the compiler
// specs. Returns the number of groups authored so the caller can tell
// an empty draft from one that compiled to nothing.
func (s *Service) buildTiers(promotionID uuid.UUID, version *domain.PromotionVersion, tiers []TierRequest) ([]rules.TierSpec, int, error) {
	specs := make([]rules.TierSpec, 0, len(tiers))
	groupsAuthored := 0
	for _, tr := range tiers {
		tier, err := domain.NewRuleTier(uuid.Nil, promotionID, tr.TierLevel, tr.Order, tr.CooldownDays)
		if err != nil {
			return nil, 0, err
		}
		if err := version.AddTier(tier); err != nil {
			return nil, 0, fmt.Errorf("tier level %d: %w", tr.TierLevel, err)
		}

		spec := rules.TierSpec{TierLevel: tr.TierLevel, Order: tr.Order}
		for _, gr := range tr.Groups {
			group, err := domain.NewRuleExpressionGroup(uuid.Nil, promotionID, tier.ID, gr.Order, gr.Expression, gr.RewardIDs)
			if err != nil {
				return nil, 0, err
			}
			if err := tier.AddGroup(group); err != nil {
				return nil, 0, fmt.Errorf("tier level %d, group order %d: %w", tr.TierLevel, gr.Order, err)
			}
			groupsAuthored++
			spec.Groups = append(spec.Groups, rules.GroupSpec{Order: gr.Order, Expression: gr.Expression})
		}
		specs = append(specs, spec)
	}
	return specs, groupsAuthored, nil
}

// PublishResult reports a publish transition. Changed is false when the
// latest version was already published.
type PublishResult struct {
	PromotionID uuid.UUID `json:"promotionId"`
	CountryISO  string    `json:"countryIso"`
	Version     int       `json:"version"`
	Changed     bool      `json:"changed"`
}

// Publish flips the latest draft of (promotion, country) to published
// and warms the cache. The cache warm is best effort: readers fall back
// to the store until the next successful warm.
func (s *Service) Publish(ctx context.Context, promotionID uuid.UUID, countryISO string) (*PublishResult, error) {
	countryISO, err := domain.NormalizeCountry(countryISO)
	if err != nil {
		return nil, err
	}
	version, changed, err := s.store.PublishVersion(ctx, promotionID, countryISO, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.logger.Info("promotion published",
		"promotion_id", promotionID, "country", countryISO, "version", version, "changed", changed)

	// Re-warming an already published version heals a cold or stale
	// cache, so warm regardless of changed.
	s.warmPublished(ctx, promotionID, countryISO, version)

	return &PublishResult{
		PromotionID: promotionID,
		CountryISO:  countryISO,
		Version:     version,
		Changed:     changed,
	}, nil
}

func (s *Service) warmPublished(ctx context.Context, promotionID uuid.UUID, countryISO string, versionNum int) {
	if s.cache == nil {
		return
	}
	version, err := s.store.GetVersion(ctx, promotionID, countryISO, versionNum)
	if err != nil {
		s.logger.Warn("load version for cache warm failed",
			"promotion_id", promotionID, "country", countryISO, "version", versionNum, "error", err)
		return
	}
	promo, err := s.store.GetPromotion(ctx, promotionID)
	if err != nil {
		s.logger.Warn("load promotion for cache warm failed",
			"promotion_id", promotionID, "error", err)
		return
	}
	err = s.cache.Warm(ctx, cache.Entry{
		PromotionID:        promotionID,
		CountryISO:         countryISO,
		Version:            versionNum,
		Workflow:           version.WorkflowPayload,
		Manifest:           version.ManifestPayload,
		Name:               promo.Name,
		Timezone:           promo.Timezone,
		GlobalCooldownDays: promo.GlobalCooldownDays,
	})
	if err != nil {
		s.logger.Warn("cache warm failed",
			"promotion_id", promotionID, "country", countryISO, "version", versionNum, "error", err)
		return
	}
	s.logger.Debug("cache warmed",
		"promotion_id", promotionID, "country", countryISO, "version", versionNum)
}

// RetireResult reports a retire transition.
type RetireResult struct {
	PromotionID uuid.UUID `json:"promotionId"`
	CountryISO  string    `json:"countryIso"`
	Version     int       `json:"version"`
}

// Retire closes the validity window of the latest published version
// and drops the promotion from the cache.
func (s *Service) Retire(ctx context.Context, promotionID uuid.UUID, countryISO string) (*RetireResult, error) {
	countryISO, err := domain.NormalizeCountry(countryISO)
	if err != nil {
		return nil, err
	}
	version, err := s.store.RetireVersion(ctx, promotionID, countryISO, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.logger.Info("promotion retired",
		"promotion_id", promotionID, "country", countryISO, "version", version)

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, promotionID, countryISO); err != nil {
			s.logger.Warn("cache invalidate failed",
				"promotion_id", promotionID, "country", countryISO, "error", err)
		}
	}
	return &RetireResult{
		PromotionID: promotionID,
		CountryISO:  countryISO,
		Version:     version,
	}, nil
}

// CreateReward adds a reward catalog entry.
func (s *Service) CreateReward(ctx context.Context, req RewardRequest) (*domain.Reward, error) {
	if err := asValidationError(s.validate.Struct(req)); err != nil {
		return nil, err
	}
	kind, err := domain.ParseRewardKind(req.Kind)
	if err != nil {
		return nil, err
	}
	value, err := domain.NewMonetaryValue(req.Amount, req.Unit)
	if err != nil {
		return nil, err
	}
	reward, err := domain.NewReward(uuid.Nil, req.Name, kind, value, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertReward(ctx, reward); err != nil {
		return nil, err
	}
	s.logger.Info("reward created", "reward_id", reward.ID, "kind", reward.Kind)
	return reward, nil
}

// ListRewards returns the reward catalog, newest first.
func (s *Service) ListRewards(ctx context.Context) ([]*domain.Reward, error) {
	return s.store.ListRewards(ctx)
}

func joinWarnings(warnings []rules.Warning) string {
	parts := make([]string, 0, len(warnings))
	for _, w := range warnings {
		parts = append(parts, w.String())
	}
	return strings.Join(parts, "; ")
}
