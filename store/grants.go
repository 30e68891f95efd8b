package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tiendalab/promoengine/domain"
)

type grantRow struct {
	ID                 uuid.UUID  `db:"id"`
	ContactID          string     `db:"contact_id"`
	PromotionID        uuid.UUID  `db:"promotion_id"`
	RewardID           *uuid.UUID `db:"reward_id"`
	GroupID            *uuid.UUID `db:"group_id"`
	TierLevel          int        `db:"tier_level"`
	GrantedAt          time.Time  `db:"granted_at"`
	Status             string     `db:"status"`
	GrantedValueAmount float64    `db:"granted_value_amount"`
	GrantedValueUnit   string     `db:"granted_value_unit"`
	CooldownUntil      *time.Time `db:"cooldown_until"`
	SourceEventID      string     `db:"source_event_id"`
}

func (r grantRow) toDomain() *domain.ContactReward {
	return &domain.ContactReward{
		ID:            r.ID,
		ContactID:     r.ContactID,
		PromotionID:   r.PromotionID,
		RewardID:      r.RewardID,
		GroupID:       r.GroupID,
		TierLevel:     r.TierLevel,
		GrantedAt:     r.GrantedAt,
		Status:        domain.GrantStatus(r.Status),
		GrantedValue:  domain.MonetaryValue{Amount: r.GrantedValueAmount, Unit: r.GrantedValueUnit},
		CooldownUntil: r.CooldownUntil,
		SourceEventID: r.SourceEventID,
	}
}

func grantRowFrom(g *domain.ContactReward) grantRow {
	return grantRow{
		ID:                 g.ID,
		ContactID:          g.ContactID,
		PromotionID:        g.PromotionID,
		RewardID:           g.RewardID,
		GroupID:            g.GroupID,
		TierLevel:          g.TierLevel,
		GrantedAt:          g.GrantedAt,
		Status:             string(g.Status),
		GrantedValueAmount: g.GrantedValue.Amount,
		GrantedValueUnit:   g.GrantedValue.Unit,
		CooldownUntil:      g.CooldownUntil,
		SourceEventID:      g.SourceEventID,
	}
}

const grantColumns = `id, contact_id, promotion_id, reward_id, group_id, tier_level,
	granted_at, status, granted_value_amount, granted_value_unit, cooldown_until, source_event_id`

// LastGranted returns the most recent granted reward for the contact
// and promotion, or nil when none exists.
func (s *Store) LastGranted(ctx context.Context, contactID string, promotionID uuid.UUID) (*domain.ContactReward, error) {
	var row grantRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+grantColumns+`
		 FROM promo.contact_reward
		 WHERE contact_id = $1 AND promotion_id = $2 AND status = 'granted'
		 ORDER BY granted_at DESC
		 LIMIT 1`,
		contactID, promotionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last granted: %w", err)
	}
	return row.toDomain(), nil
}

// LastGrantedForTier returns the most recent granted reward for the
// contact, promotion and tier level, or nil when none exists.
func (s *Store) LastGrantedForTier(ctx context.Context, contactID string, promotionID uuid.UUID, tierLevel int) (*domain.ContactReward, error) {
	var row grantRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+grantColumns+`
		 FROM promo.contact_reward
		 WHERE contact_id = $1 AND promotion_id = $2 AND tier_level = $3 AND status = 'granted'
		 ORDER BY granted_at DESC
		 LIMIT 1`,
		contactID, promotionID, tierLevel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last granted for tier: %w", err)
	}
	return row.toDomain(), nil
}

// HasGrantedForEvent is the idempotency probe: does a granted reward
// already exist for (contact, promotion, source event)?
func (s *Store) HasGrantedForEvent(ctx context.Context, contactID string, promotionID uuid.UUID, sourceEventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (
		     SELECT 1 FROM promo.contact_reward
		     WHERE contact_id = $1 AND promotion_id = $2
		       AND source_event_id = $3 AND status = 'granted'
		 )`,
		contactID, promotionID, sourceEventID)
	if err != nil {
		return false, fmt.Errorf("probe granted event: %w", err)
	}
	return exists, nil
}

// SaveGrants writes the grants of one firing together with its outbox
// message in a single transaction. A unique-index conflict surfaces
// domain.ErrDuplicateGrant so the caller can treat the write as a
// no-op.
func (s *Store) SaveGrants(ctx context.Context, grants []*domain.ContactReward, msg *domain.OutboxMessage) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, g := range grants {
			_, err := tx.NamedExecContext(ctx,
				`INSERT INTO promo.contact_reward
				     (id, contact_id, promotion_id, reward_id, group_id, tier_level,
				      granted_at, status, granted_value_amount, granted_value_unit,
				      cooldown_until, source_event_id)
				 VALUES (:id, :contact_id, :promotion_id, :reward_id, :group_id, :tier_level,
				         :granted_at, :status, :granted_value_amount, :granted_value_unit,
				         :cooldown_until, :source_event_id)`,
				grantRowFrom(g))
			if isUniqueViolation(err) {
				return domain.ErrDuplicateGrant
			}
			if err != nil {
				return fmt.Errorf("insert grant: %w", err)
			}
		}
		if msg != nil {
			return insertOutboxTx(ctx, tx, msg)
		}
		return nil
	})
}

// UpdateGrantStatus transitions one grant's status, enforcing the
// domain transition rules. A conflicting granted record for the same
// source event surfaces domain.ErrDuplicateGrant.
func (s *Store) UpdateGrantStatus(ctx context.Context, grantID uuid.UUID, target domain.GrantStatus) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row grantRow
		err := tx.GetContext(ctx, &row,
			`SELECT `+grantColumns+`
			 FROM promo.contact_reward WHERE id = $1 FOR UPDATE`, grantID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("grant %s: %w", grantID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load grant: %w", err)
		}

		grant := row.toDomain()
		switch target {
		case domain.GrantGranted:
			err = grant.MarkGranted()
		case domain.GrantRejected:
			err = grant.MarkRejected()
		default:
			return &domain.ValidationError{Field: "status", Message: fmt.Sprintf("unknown target status %q", target)}
		}
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE promo.contact_reward SET status = $2 WHERE id = $1`, grantID, string(grant.Status))
		if isUniqueViolation(err) {
			return domain.ErrDuplicateGrant
		}
		if err != nil {
			return fmt.Errorf("update grant status: %w", err)
		}
		return nil
	})
}
