package rules

import (
	"encoding/json"
	"fmt"
	"time"
)

// ManifestPolicies carries the evaluation policies of a promotion
// version.
type ManifestPolicies struct {
	GlobalCooldownDays int    `json:"globalCooldownDays"`
	ExclusivePerEvent  bool   `json:"exclusivePerEvent"`
	Country            string `json:"country"`
}

// ManifestWindow bounds when the version may fire. Null bounds are
// open.
type ManifestWindow struct {
	ValidFromUtc *time.Time `json:"validFromUtc"`
	ValidToUtc   *time.Time `json:"validToUtc"`
}

// Manifest is the per-version evaluation metadata persisted alongside
// the workflow and served from the cache on the hot path.
type Manifest struct {
	Policies ManifestPolicies `json:"policies"`
	Window   ManifestWindow   `json:"window"`
	Segments []string         `json:"segments"`
}

// ParseManifest decodes a persisted manifest payload.
func ParseManifest(payload []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Marshal encodes the manifest to its persisted JSON form.
func (m *Manifest) Marshal() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return data, nil
}

// ActiveAt reports whether t falls inside the manifest window. A
// missing bound is open on that side.
func (m *Manifest) ActiveAt(t time.Time) bool {
	if m.Window.ValidFromUtc != nil && t.Before(*m.Window.ValidFromUtc) {
		return false
	}
	if m.Window.ValidToUtc != nil && t.After(*m.Window.ValidToUtc) {
		return false
	}
	return true
}
