package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tiendalab/promoengine/domain"
)

type tierRow struct {
	ID           uuid.UUID `db:"id"`
	PromotionID  uuid.UUID `db:"promotion_id"`
	TierLevel    int       `db:"tier_level"`
	SortOrder    int       `db:"sort_order"`
	CooldownDays *int      `db:"cooldown_days"`
}

type groupRow struct {
	ID                uuid.UUID `db:"id"`
	PromotionID       uuid.UUID `db:"promotion_id"`
	TierID            uuid.UUID `db:"tier_id"`
	SortOrder         int       `db:"sort_order"`
	ExpressionPayload string    `db:"expression_payload"`
}

// TiersForPromotion returns the promotion's tiers ordered by
// (tier-level, order). Groups are loaded separately per tier.
func (s *Store) TiersForPromotion(ctx context.Context, promotionID uuid.UUID) ([]*domain.RuleTier, error) {
	var rows []tierRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, promotion_id, tier_level, sort_order, cooldown_days
		 FROM promo.rule_tier
		 WHERE promotion_id = $1
		 ORDER BY tier_level, sort_order`, promotionID)
	if err != nil {
		return nil, fmt.Errorf("query tiers: %w", err)
	}

	tiers := make([]*domain.RuleTier, 0, len(rows))
	for _, r := range rows {
		tiers = append(tiers, &domain.RuleTier{
			ID:           r.ID,
			PromotionID:  r.PromotionID,
			TierLevel:    r.TierLevel,
			Order:        r.SortOrder,
			CooldownDays: r.CooldownDays,
		})
	}
	return tiers, nil
}

// GroupsForTier returns the tier's expression groups ordered by order.
// Reward links are resolved separately through GroupRewardIDs.
func (s *Store) GroupsForTier(ctx context.Context, tierID uuid.UUID) ([]*domain.RuleExpressionGroup, error) {
	var rows []groupRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, promotion_id, tier_id, sort_order, COALESCE(expression_payload, '') AS expression_payload
		 FROM promo.rule_expression_group
		 WHERE tier_id = $1
		 ORDER BY sort_order`, tierID)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}

	groups := make([]*domain.RuleExpressionGroup, 0, len(rows))
	for _, r := range rows {
		groups = append(groups, &domain.RuleExpressionGroup{
			ID:                r.ID,
			PromotionID:       r.PromotionID,
			TierID:            r.TierID,
			Order:             r.SortOrder,
			ExpressionPayload: []byte(r.ExpressionPayload),
		})
	}
	return groups, nil
}

// GlobalRewardIDs returns the promotion's global reward pool.
func (s *Store) GlobalRewardIDs(ctx context.Context, promotionID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.SelectContext(ctx, &ids,
		`SELECT reward_id FROM promo.promotion_reward
		 WHERE promotion_id = $1 ORDER BY reward_id`, promotionID)
	if err != nil {
		return nil, fmt.Errorf("query global rewards: %w", err)
	}
	return ids, nil
}

// GroupRewardIDs returns the rewards linked to one expression group.
func (s *Store) GroupRewardIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.SelectContext(ctx, &ids,
		`SELECT reward_id FROM promo.rule_group_reward
		 WHERE group_id = $1 ORDER BY reward_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query group rewards: %w", err)
	}
	return ids, nil
}

// replaceTiersTx swaps the promotion's tier, group and group-reward
// rows for the draft's set. Runs inside the draft transaction.
func replaceTiersTx(ctx context.Context, tx *sqlx.Tx, promotionID uuid.UUID, tiers []*domain.RuleTier) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM promo.rule_group_reward
		 WHERE group_id IN (SELECT id FROM promo.rule_expression_group WHERE promotion_id = $1)`,
		promotionID); err != nil {
		return fmt.Errorf("clear group rewards: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM promo.rule_expression_group WHERE promotion_id = $1`, promotionID); err != nil {
		return fmt.Errorf("clear groups: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM promo.rule_tier WHERE promotion_id = $1`, promotionID); err != nil {
		return fmt.Errorf("clear tiers: %w", err)
	}

	for _, tier := range tiers {
		_, err := tx.NamedExecContext(ctx,
			`INSERT INTO promo.rule_tier (id, promotion_id, tier_level, sort_order, cooldown_days)
			 VALUES (:id, :promotion_id, :tier_level, :sort_order, :cooldown_days)`,
			tierRow{
				ID:           tier.ID,
				PromotionID:  tier.PromotionID,
				TierLevel:    tier.TierLevel,
				SortOrder:    tier.Order,
				CooldownDays: tier.CooldownDays,
			})
		if isUniqueViolation(err) {
			return domain.ErrDuplicateTier
		}
		if err != nil {
			return fmt.Errorf("insert tier: %w", err)
		}

		for _, group := range tier.Groups() {
			_, err := tx.NamedExecContext(ctx,
				`INSERT INTO promo.rule_expression_group (id, promotion_id, tier_id, sort_order, expression_payload)
				 VALUES (:id, :promotion_id, :tier_id, :sort_order, :expression_payload)`,
				groupRow{
					ID:                group.ID,
					PromotionID:       group.PromotionID,
					TierID:            group.TierID,
					SortOrder:         group.Order,
					ExpressionPayload: string(group.ExpressionPayload),
				})
			if isUniqueViolation(err) {
				return domain.ErrDuplicateGroup
			}
			if err != nil {
				return fmt.Errorf("insert group: %w", err)
			}

			for _, rewardID := range group.RewardIDs {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO promo.rule_group_reward (group_id, reward_id) VALUES ($1, $2)
					 ON CONFLICT DO NOTHING`,
					group.ID, rewardID); err != nil {
					return fmt.Errorf("link group reward: %w", err)
				}
			}
		}
	}
	return nil
}

// replaceGlobalRewardsTx swaps the promotion's global reward links.
func replaceGlobalRewardsTx(ctx context.Context, tx *sqlx.Tx, promotionID uuid.UUID, rewardIDs []uuid.UUID) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM promo.promotion_reward WHERE promotion_id = $1`, promotionID); err != nil {
		return fmt.Errorf("clear global rewards: %w", err)
	}
	for _, rewardID := range rewardIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO promo.promotion_reward (promotion_id, reward_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			promotionID, rewardID); err != nil {
			return fmt.Errorf("link global reward: %w", err)
		}
	}
	return nil
}
