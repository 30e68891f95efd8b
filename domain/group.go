package domain

import "github.com/google/uuid"

// RuleExpressionGroup is one rule inside a tier: the authored expression
// tree plus the rewards that fire with it. When RewardIDs is empty the
// promotion's global reward pool applies instead.
type RuleExpressionGroup struct {
	ID                uuid.UUID
	PromotionID       uuid.UUID
	TierID            uuid.UUID
	Order             int
	ExpressionPayload []byte
	RewardIDs         []uuid.UUID
}

// NewRuleExpressionGroup builds a validated group. A zero id mints a
// new one.
func NewRuleExpressionGroup(id, promotionID, tierID uuid.UUID, order int, expressionPayload []byte, rewardIDs []uuid.UUID) (*RuleExpressionGroup, error) {
	if promotionID == uuid.Nil {
		return nil, &ValidationError{Field: "promotionId", Message: "promotion id is required"}
	}
	if tierID == uuid.Nil {
		return nil, &ValidationError{Field: "tierId", Message: "tier id is required"}
	}
	if order < 0 {
		return nil, &ValidationError{Field: "order", Message: "order must not be negative"}
	}
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &RuleExpressionGroup{
		ID:                id,
		PromotionID:       promotionID,
		TierID:            tierID,
		Order:             order,
		ExpressionPayload: expressionPayload,
		RewardIDs:         rewardIDs,
	}, nil
}
