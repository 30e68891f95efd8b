// Package segment resolves the audience segments a contact belongs to.
// The engine only gates on segment membership; resolution itself lives
// behind the Service interface so deployments can plug their own
// audience system.
package segment

import (
	"context"
	"strings"
	"sync"
)

// Service answers segment-membership lookups for the evaluation gate.
type Service interface {
	// SegmentsForContact returns the segment names the contact belongs
	// to in the country. An unknown contact resolves to an empty list,
	// not an error.
	SegmentsForContact(ctx context.Context, contactID, countryISO string) ([]string, error)
}

// Static is a fixed in-memory Service for tests and development.
type Static struct {
	mu       sync.RWMutex
	segments map[string][]string
}

// NewStatic builds a Static service from contactID → segments.
func NewStatic(segments map[string][]string) *Static {
	copied := make(map[string][]string, len(segments))
	for contact, names := range segments {
		copied[contact] = append([]string(nil), names...)
	}
	return &Static{segments: copied}
}

// SegmentsForContact returns the configured segments for the contact.
func (s *Static) SegmentsForContact(ctx context.Context, contactID, countryISO string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.segments[contactID]...), nil
}

// Assign replaces the contact's segments.
func (s *Static) Assign(contactID string, segments ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments[contactID] = append([]string(nil), segments...)
}

// Intersects reports whether any required segment appears in the
// contact's memberships. Comparison is case-insensitive; promotions
// with no required segments match everyone.
func Intersects(required, memberships []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(memberships))
	for _, m := range memberships {
		have[strings.ToLower(m)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[strings.ToLower(r)]; ok {
			return true
		}
	}
	return false
}
