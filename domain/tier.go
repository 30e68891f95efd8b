package domain

import "github.com/google/uuid"

// RuleTier is one level within a promotion. Tiers evaluate in
// (tier-level, order) order; levels above one are gated on a grant for
// the level below.
type RuleTier struct {
	ID           uuid.UUID
	PromotionID  uuid.UUID
	TierLevel    int
	Order        int
	CooldownDays *int

	groups []*RuleExpressionGroup
}

// NewRuleTier builds a validated tier. A zero id mints a new one.
func NewRuleTier(id, promotionID uuid.UUID, tierLevel, order int, cooldownDays *int) (*RuleTier, error) {
	if promotionID == uuid.Nil {
		return nil, &ValidationError{Field: "promotionId", Message: "promotion id is required"}
	}
	if tierLevel < 1 {
		return nil, &ValidationError{Field: "tierLevel", Message: "tier level must be at least 1"}
	}
	if order < 0 {
		return nil, &ValidationError{Field: "order", Message: "order must not be negative"}
	}
	if cooldownDays != nil && *cooldownDays < 0 {
		return nil, &ValidationError{Field: "cooldownDays", Message: "cooldown days must not be negative"}
	}
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &RuleTier{
		ID:           id,
		PromotionID:  promotionID,
		TierLevel:    tierLevel,
		Order:        order,
		CooldownDays: cooldownDays,
	}, nil
}

// AddGroup attaches an expression group, enforcing order uniqueness
// within the tier.
func (t *RuleTier) AddGroup(g *RuleExpressionGroup) error {
	if g.TierID != t.ID {
		return &ValidationError{Field: "tierId", Message: "group belongs to another tier"}
	}
	for _, existing := range t.groups {
		if existing.Order == g.Order {
			return ErrDuplicateGroup
		}
	}
	t.groups = append(t.groups, g)
	return nil
}

// Groups returns the attached groups in insertion order.
func (t *RuleTier) Groups() []*RuleExpressionGroup {
	return t.groups
}
