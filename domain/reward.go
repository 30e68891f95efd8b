package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RewardKind classifies what a reward pays out.
type RewardKind string

// Supported reward kinds.
const (
	RewardCoupon   RewardKind = "coupon"
	RewardPoints   RewardKind = "points"
	RewardGift     RewardKind = "gift"
	RewardCashback RewardKind = "cashback"
)

// ParseRewardKind normalizes and validates a reward kind string.
func ParseRewardKind(s string) (RewardKind, error) {
	switch RewardKind(strings.ToLower(strings.TrimSpace(s))) {
	case RewardCoupon:
		return RewardCoupon, nil
	case RewardPoints:
		return RewardPoints, nil
	case RewardGift:
		return RewardGift, nil
	case RewardCashback:
		return RewardCashback, nil
	default:
		return "", &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown reward kind %q", s)}
	}
}

// Reward is a catalog entry referenced by promotions and groups.
type Reward struct {
	ID        uuid.UUID
	Name      string
	Kind      RewardKind
	Value     MonetaryValue
	Active    bool
	CreatedAt time.Time
}

// NewReward builds a validated reward. A zero id mints a new one.
func NewReward(id uuid.UUID, name string, kind RewardKind, value MonetaryValue, createdAt time.Time) (*Reward, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "name is required"}
	}
	if _, err := ParseRewardKind(string(kind)); err != nil {
		return nil, err
	}
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &Reward{
		ID:        id,
		Name:      name,
		Kind:      kind,
		Value:     value,
		Active:    true,
		CreatedAt: createdAt.UTC(),
	}, nil
}
