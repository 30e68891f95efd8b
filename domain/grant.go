package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// GrantStatus is the lifecycle state of a contact reward.
type GrantStatus string

// Grant statuses. Pending may move to Granted or Rejected exactly once;
// the terminal states never cross over.
const (
	GrantPending  GrantStatus = "pending"
	GrantGranted  GrantStatus = "granted"
	GrantRejected GrantStatus = "rejected"
)

// ContactReward records that a reward was awarded to a contact for a
// promotion tier/group at a point in time. Once written, only the
// status field may transition.
type ContactReward struct {
	ID            uuid.UUID
	ContactID     string
	PromotionID   uuid.UUID
	RewardID      *uuid.UUID
	GroupID       *uuid.UUID
	TierLevel     int
	GrantedAt     time.Time
	Status        GrantStatus
	GrantedValue  MonetaryValue
	CooldownUntil *time.Time
	SourceEventID string
}

// NewContactReward builds a pending grant. RewardID may be nil for a
// calculated-grant placeholder. A zero id mints a new one.
func NewContactReward(id uuid.UUID, contactID string, promotionID uuid.UUID, rewardID, groupID *uuid.UUID, tierLevel int, grantedAt time.Time, sourceEventID string, cooldownUntil *time.Time) (*ContactReward, error) {
	if strings.TrimSpace(contactID) == "" {
		return nil, &ValidationError{Field: "contactId", Message: "contact id is required"}
	}
	if promotionID == uuid.Nil {
		return nil, &ValidationError{Field: "promotionId", Message: "promotion id is required"}
	}
	if tierLevel < 1 {
		return nil, &ValidationError{Field: "tierLevel", Message: "tier level must be at least 1"}
	}
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &ContactReward{
		ID:            id,
		ContactID:     contactID,
		PromotionID:   promotionID,
		RewardID:      rewardID,
		GroupID:       groupID,
		TierLevel:     tierLevel,
		GrantedAt:     grantedAt.UTC(),
		Status:        GrantPending,
		GrantedValue:  ZeroValue(),
		CooldownUntil: cooldownUntil,
		SourceEventID: sourceEventID,
	}, nil
}

// MarkGranted transitions Pending to Granted. Re-marking a granted
// record is a no-op so retried writers stay effect-once.
func (c *ContactReward) MarkGranted() error {
	switch c.Status {
	case GrantGranted:
		return nil
	case GrantPending:
		c.Status = GrantGranted
		return nil
	default:
		return ErrIllegalTransition
	}
}

// MarkRejected transitions Pending to Rejected. Re-marking a rejected
// record is a no-op.
func (c *ContactReward) MarkRejected() error {
	switch c.Status {
	case GrantRejected:
		return nil
	case GrantPending:
		c.Status = GrantRejected
		return nil
	default:
		return ErrIllegalTransition
	}
}

// EffectiveCooldownDays resolves the cooldown for a grant: the tier
// override when present, else the promotion's global days.
func EffectiveCooldownDays(tierDays *int, globalDays int) int {
	if tierDays != nil {
		return *tierDays
	}
	return globalDays
}

// CooldownUntil computes the earliest next-grant instant, or nil when
// no cooldown applies.
func CooldownUntil(grantedAt time.Time, days int) *time.Time {
	if days <= 0 {
		return nil
	}
	until := grantedAt.UTC().AddDate(0, 0, days)
	return &until
}
