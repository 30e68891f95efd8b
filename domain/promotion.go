// Package domain defines the promotion aggregate: promotions, versions,
// tiers, expression groups, rewards, grants and outbox messages, together
// with the invariants the rest of the engine relies on. Mutation of owned
// children goes through the aggregate methods so uniqueness is enforced
// before anything reaches the store.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Promotion is a named, versioned bundle of rules and rewards. Versions
// are owned exclusively and added through AddVersion.
type Promotion struct {
	ID                 uuid.UUID
	Name               string
	Timezone           string
	GlobalCooldownDays int
	CreatedAt          time.Time

	versions []*PromotionVersion
}

// NewPromotion builds a validated promotion. A zero id mints a new one.
func NewPromotion(id uuid.UUID, name, timezone string, globalCooldownDays int, createdAt time.Time) (*Promotion, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "name is required"}
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
	return &Promotion{
		ID:                 id,
		Name:               name,
		Timezone:           timezone,
		GlobalCooldownDays: globalCooldownDays,
		CreatedAt:          createdAt.UTC(),
	}, nil
}

// AddVersion attaches a version, enforcing that (country, version) is
// unique within the promotion.
func (p *Promotion) AddVersion(v *PromotionVersion) error {
	if v.PromotionID != p.ID {
		return &ValidationError{Field: "promotionId", Message: "version belongs to another promotion"}
	}
	for _, existing := range p.versions {
		if existing.CountryISO == v.CountryISO && existing.Version == v.Version {
			return ErrVersionConflict
		}
	}
	p.versions = append(p.versions, v)
	return nil
}

// Versions returns the attached versions in insertion order.
func (p *Promotion) Versions() []*PromotionVersion {
	return p.versions
}

// LatestVersion returns the highest version for a country, or nil.
func (p *Promotion) LatestVersion(countryISO string) *PromotionVersion {
	var latest *PromotionVersion
	for _, v := range p.versions {
		if v.CountryISO != countryISO {
			continue
		}
		if latest == nil || v.Version > latest.Version {
			latest = v
		}
	}
	return latest
}
