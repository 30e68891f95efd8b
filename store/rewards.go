package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tiendalab/promoengine/domain"
)

type rewardRow struct {
	ID          uuid.UUID `db:"id"`
	Name        string    `db:"name"`
	Kind        string    `db:"kind"`
	ValueAmount float64   `db:"value_amount"`
	ValueUnit   string    `db:"value_unit"`
	Active      bool      `db:"active"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r rewardRow) toDomain() *domain.Reward {
	return &domain.Reward{
		ID:        r.ID,
		Name:      r.Name,
		Kind:      domain.RewardKind(r.Kind),
		Value:     domain.MonetaryValue{Amount: r.ValueAmount, Unit: r.ValueUnit},
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
	}
}

// InsertReward stores a new reward catalog entry.
func (s *Store) InsertReward(ctx context.Context, reward *domain.Reward) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO promo.reward (id, name, kind, value_amount, value_unit, active, created_at)
		 VALUES (:id, :name, :kind, :value_amount, :value_unit, :active, :created_at)`,
		rewardRow{
			ID:          reward.ID,
			Name:        reward.Name,
			Kind:        string(reward.Kind),
			ValueAmount: reward.Value.Amount,
			ValueUnit:   reward.Value.Unit,
			Active:      reward.Active,
			CreatedAt:   reward.CreatedAt,
		})
	if err != nil {
		return fmt.Errorf("insert reward: %w", err)
	}
	return nil
}

// GetReward loads one reward.
func (s *Store) GetReward(ctx context.Context, id uuid.UUID) (*domain.Reward, error) {
	var row rewardRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, name, kind, value_amount, value_unit, active, created_at
		 FROM promo.reward WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reward %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get reward: %w", err)
	}
	return row.toDomain(), nil
}

// ListRewards returns all rewards, newest first.
func (s *Store) ListRewards(ctx context.Context) ([]*domain.Reward, error) {
	var rows []rewardRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, name, kind, value_amount, value_unit, active, created_at
		 FROM promo.reward ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	rewards := make([]*domain.Reward, 0, len(rows))
	for _, r := range rows {
		rewards = append(rewards, r.toDomain())
	}
	return rewards, nil
}
