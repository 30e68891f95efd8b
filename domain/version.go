package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PromotionVersion is a country-scoped snapshot of a promotion. It is
// created as a draft and becomes immutable once published.
type PromotionVersion struct {
	ID                 uuid.UUID
	PromotionID        uuid.UUID
	Version            int
	CountryISO         string
	IsDraft            bool
	WorkflowPayload    []byte
	ManifestPayload    []byte
	Timezone           string
	GlobalCooldownDays int
	Window             ValidityWindow
	CreatedAt          time.Time

	tiers []*RuleTier
}

// NewPromotionVersion builds a validated draft version. A zero id mints
// a new one; the country code is normalized to uppercase.
func NewPromotionVersion(id, promotionID uuid.UUID, version int, countryISO, timezone string, globalCooldownDays int, window ValidityWindow, createdAt time.Time) (*PromotionVersion, error) {
	if promotionID == uuid.Nil {
		return nil, &ValidationError{Field: "promotionId", Message: "promotion id is required"}
	}
	if version < 1 {
		return nil, &ValidationError{Field: "version", Message: "version must be at least 1"}
	}
	country, err := NormalizeCountry(countryISO)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(timezone) == "" {
		return nil, &ValidationError{Field: "timezone", Message: "timezone is required"}
	}
	if globalCooldownDays < 0 {
		return nil, &ValidationError{Field: "globalCooldownDays", Message: "cooldown days must not be negative"}
	}
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &PromotionVersion{
		ID:                 id,
		PromotionID:        promotionID,
		Version:            version,
		CountryISO:         country,
		IsDraft:            true,
		Timezone:           timezone,
		GlobalCooldownDays: globalCooldownDays,
		Window:             window,
		CreatedAt:          createdAt.UTC(),
	}, nil
}

// Publish flips the draft flag. Publishing is one-way; re-publishing an
// already published version reports false and changes nothing.
func (v *PromotionVersion) Publish() bool {
	if !v.IsDraft {
		return false
	}
	v.IsDraft = false
	return true
}

// AddTier attaches a tier, enforcing tier-level uniqueness. Published
// versions reject mutation.
func (v *PromotionVersion) AddTier(t *RuleTier) error {
	if !v.IsDraft {
		return ErrVersionImmutable
	}
	if t.PromotionID != v.PromotionID {
		return &ValidationError{Field: "promotionId", Message: "tier belongs to another promotion"}
	}
	for _, existing := range v.tiers {
		if existing.TierLevel == t.TierLevel {
			return ErrDuplicateTier
		}
	}
	v.tiers = append(v.tiers, t)
	return nil
}

// Tiers returns the attached tiers in insertion order.
func (v *PromotionVersion) Tiers() []*RuleTier {
	return v.tiers
}

// ActiveAt reports whether the version is published and inside its
// validity window at t.
func (v *PromotionVersion) ActiveAt(t time.Time) bool {
	return !v.IsDraft && v.Window.ActiveAt(t)
}

// NormalizeCountry uppercases a two-letter ISO-3166 country code.
func NormalizeCountry(iso string) (string, error) {
	iso = strings.TrimSpace(iso)
	if len(iso) != 2 {
		return "", &ValidationError{Field: "countryIso", Message: "country must be a two-letter ISO code"}
	}
	return strings.ToUpper(iso), nil
}
