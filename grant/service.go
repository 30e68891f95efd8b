// Package grant persists the rewards a fired rule awards to a contact.
// Grants are written Pending together with their outbox event in one
// transaction; a downstream consumer computes the actual value and
// flips the status exactly once.
package grant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tiendalab/promoengine/domain"
)

// Store is the slice of the persistence layer the grant service needs.
type Store interface {
	HasGrantedForEvent(ctx context.Context, contactID string, promotionID uuid.UUID, sourceEventID string) (bool, error)
	SaveGrants(ctx context.Context, grants []*domain.ContactReward, msg *domain.OutboxMessage) error
	UpdateGrantStatus(ctx context.Context, grantID uuid.UUID, target domain.GrantStatus) error
}

// Request describes one fired (contact, promotion, tier, group).
type Request struct {
	ContactID        string
	Promotion        domain.Promotion
	Version          int
	CountryISO       string
	TierLevel        int
	TierCooldownDays *int
	GroupID          uuid.UUID
	RewardIDs        []uuid.UUID
	GrantedAt        time.Time
	SourceEventID    string
}

// Service writes grants and their outbox events.
type Service struct {
	store  Store
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService builds a grant service over the given store.
func NewService(st Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// grantedEvent is the outbox payload a downstream valuation system
// consumes.
type grantedEvent struct {
	PromotionID   uuid.UUID   `json:"promotionId"`
	CountryISO    string      `json:"countryIso"`
	Version       int         `json:"version"`
	ContactID     string      `json:"contactId"`
	TierLevel     int         `json:"tierLevel"`
	GroupID       *uuid.UUID  `json:"expressionGroupId"`
	GrantIDs      []uuid.UUID `json:"grantIds"`
	RewardIDs     []uuid.UUID `json:"rewardIds"`
	SourceEventID string      `json:"sourceEventId,omitempty"`
	GrantedAt     time.Time   `json:"grantedAt"`
}

// Grant persists one grant per reward (or a single placeholder grant
// when the reward list is empty) plus the reward.granted outbox message
// in one transaction. A concurrent writer that already granted for the
// same source event makes this call a silent no-op returning no grants.
func (s *Service) Grant(ctx context.Context, req Request) ([]*domain.ContactReward, error) {
	if req.SourceEventID != "" {
		granted, err := s.store.HasGrantedForEvent(ctx, req.ContactID, req.Promotion.ID, req.SourceEventID)
		if err != nil {
			return nil, fmt.Errorf("idempotency probe: %w", err)
		}
		if granted {
			s.logger.Debug("event already granted, skipping",
				"contact_id", req.ContactID,
				"promotion_id", req.Promotion.ID,
				"source_event_id", req.SourceEventID)
			return nil, nil
		}
	}

	days := domain.EffectiveCooldownDays(req.TierCooldownDays, req.Promotion.GlobalCooldownDays)
	until := domain.CooldownUntil(req.GrantedAt, days)

	var groupID *uuid.UUID
	if req.GroupID != uuid.Nil {
		g := req.GroupID
		groupID = &g
	}

	var grants []*domain.ContactReward
	if len(req.RewardIDs) == 0 {
		// Calculated-grant placeholder: the reward is resolved
		// downstream from the outbox event.
		g, err := domain.NewContactReward(uuid.Nil, req.ContactID, req.Promotion.ID,
			nil, groupID, req.TierLevel, req.GrantedAt, req.SourceEventID, until)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	} else {
		for _, rewardID := range req.RewardIDs {
			r := rewardID
			g, err := domain.NewContactReward(uuid.Nil, req.ContactID, req.Promotion.ID,
				&r, groupID, req.TierLevel, req.GrantedAt, req.SourceEventID, until)
			if err != nil {
				return nil, err
			}
			grants = append(grants, g)
		}
	}

	grantIDs := make([]uuid.UUID, len(grants))
	for i, g := range grants {
		grantIDs[i] = g.ID
	}
	payload, err := json.Marshal(grantedEvent{
		PromotionID:   req.Promotion.ID,
		CountryISO:    req.CountryISO,
		Version:       req.Version,
		ContactID:     req.ContactID,
		TierLevel:     req.TierLevel,
		GroupID:       groupID,
		GrantIDs:      grantIDs,
		RewardIDs:     req.RewardIDs,
		SourceEventID: req.SourceEventID,
		GrantedAt:     req.GrantedAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal granted event: %w", err)
	}
	msg, err := domain.NewOutboxMessage(domain.EventRewardGranted, payload, req.GrantedAt)
	if err != nil {
		return nil, err
	}

	if err := s.store.SaveGrants(ctx, grants, msg); err != nil {
		if errors.Is(err, domain.ErrDuplicateGrant) {
			s.logger.Info("concurrent grant for same event, treating as no-op",
				"contact_id", req.ContactID,
				"promotion_id", req.Promotion.ID,
				"source_event_id", req.SourceEventID)
			return nil, nil
		}
		return nil, fmt.Errorf("save grants: %w", err)
	}

	s.logger.Debug("grants written",
		"contact_id", req.ContactID,
		"promotion_id", req.Promotion.ID,
		"tier_level", req.TierLevel,
		"grants", len(grants),
		"cooldown_days", days)
	return grants, nil
}

// UpdateStatus flips a grant to Granted or Rejected, enforcing the
// domain's one-way transition rules.
func (s *Service) UpdateStatus(ctx context.Context, grantID uuid.UUID, target domain.GrantStatus) error {
	return s.store.UpdateGrantStatus(ctx, grantID, target)
}
