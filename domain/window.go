package domain

import "time"

// ValidityWindow bounds the wall-clock interval in which a promotion
// version may fire. Either side may be open.
type ValidityWindow struct {
	From *time.Time
	To   *time.Time
}

// NewValidityWindow builds a window, rejecting inverted bounds.
func NewValidityWindow(from, to *time.Time) (ValidityWindow, error) {
	if from != nil && to != nil && from.After(*to) {
		return ValidityWindow{}, &ValidationError{Field: "window", Message: "valid-from must not be after valid-to"}
	}
	return ValidityWindow{From: from, To: to}, nil
}

// ActiveAt reports whether t falls inside the window. A missing bound
// is treated as open on that side.
func (w ValidityWindow) ActiveAt(t time.Time) bool {
	if w.From != nil && t.Before(*w.From) {
		return false
	}
	if w.To != nil && t.After(*w.To) {
		return false
	}
	return true
}

// IsOpen reports whether the window has no bounds at all.
func (w ValidityWindow) IsOpen() bool {
	return w.From == nil && w.To == nil
}
