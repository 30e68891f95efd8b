package authoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tiendalab/promoengine/domain"
)

// DraftRequest is one authoring upsert: the promotion metadata, the
// per-country policies and window, and the full tier/group tree. Each
// accepted request produces a new draft version.
type DraftRequest struct {
	PromotionID        uuid.UUID      `json:"promotionId"`
	Name               string         `json:"name" validate:"required"`
	Timezone           string         `json:"timezone" validate:"required"`
	CountryISO         string         `json:"countryIso" validate:"required,len=2"`
	GlobalCooldownDays int            `json:"globalCooldownDays" validate:"min=0"`
	ExclusivePerEvent  *bool          `json:"exclusivePerEvent"`
	Segments           []string       `json:"segments"`
	Window             WindowRequest  `json:"window"`
	GlobalRewardIDs    []uuid.UUID    `json:"globalRewardIds"`
	Tiers              []TierRequest  `json:"tiers" validate:"required,min=1,dive"`
}

// WindowRequest bounds the draft's validity. Null bounds are open.
type WindowRequest struct {
	ValidFromUtc *time.Time `json:"validFromUtc"`
	ValidToUtc   *time.Time `json:"validToUtc"`
}

// TierRequest is one authored tier.
type TierRequest struct {
	TierLevel    int            `json:"tierLevel" validate:"min=1"`
	Order        int            `json:"order" validate:"min=0"`
	CooldownDays *int           `json:"cooldownDays" validate:"omitempty,min=0"`
	Groups       []GroupRequest `json:"groups" validate:"dive"`
}

// GroupRequest is one authored expression group. Expression carries the
// raw tree payload handed to the compiler.
type GroupRequest struct {
	Order      int             `json:"order" validate:"min=0"`
	RewardIDs  []uuid.UUID     `json:"rewardIds"`
	Expression json.RawMessage `json:"expression"`
}

// RewardRequest creates a reward catalog entry.
type RewardRequest struct {
	Name   string  `json:"name" validate:"required"`
	Kind   string  `json:"kind" validate:"required"`
	Amount float64 `json:"amount" validate:"min=0"`
	Unit   string  `json:"unit" validate:"required"`
}

// newValidator builds the request validator, reporting fields by their
// json names so HTTP callers see the names they sent.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// asValidationError converts the first validator failure into the
// domain's validation error shape.
func asValidationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &domain.ValidationError{
			Field:   fe.Field(),
			Message: fmt.Sprintf("fails validation rule %q", fe.Tag()),
		}
	}
	return err
}
