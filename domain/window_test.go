package domain

import (
	"testing"
	"time"
)

func TestNewValidityWindow(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		from    *time.Time
		to      *time.Time
		wantErr bool
	}{
		{name: "open window", from: nil, to: nil},
		{name: "half bounded from", from: &from, to: nil},
		{name: "half bounded to", from: nil, to: &to},
		{name: "ordered bounds", from: &from, to: &to},
		{name: "inverted bounds", from: &to, to: &from, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewValidityWindow(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewValidityWindow() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidityWindowActiveAt(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	bounded, err := NewValidityWindow(&from, &to)
	if err != nil {
		t.Fatalf("NewValidityWindow() error = %v", err)
	}

	tests := []struct {
		name string
		w    ValidityWindow
		at   time.Time
		want bool
	}{
		{name: "open window always active", w: ValidityWindow{}, at: time.Now(), want: true},
		{name: "before from", w: bounded, at: from.Add(-time.Second), want: false},
		{name: "at from", w: bounded, at: from, want: true},
		{name: "inside", w: bounded, at: from.AddDate(0, 0, 10), want: true},
		{name: "at to", w: bounded, at: to, want: true},
		{name: "after to", w: bounded, at: to.Add(time.Second), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.w.ActiveAt(tt.at); got != tt.want {
				t.Errorf("ActiveAt(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestNewMonetaryValue(t *testing.T) {
	tests := []struct {
		name     string
		amount   float64
		unit     string
		wantUnit string
		wantErr  bool
	}{
		{name: "valid", amount: 10.5, unit: "EUR", wantUnit: "EUR"},
		{name: "trims unit", amount: 0, unit: "  pts ", wantUnit: "pts"},
		{name: "negative amount", amount: -1, unit: "EUR", wantErr: true},
		{name: "empty unit", amount: 1, unit: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewMonetaryValue(tt.amount, tt.unit)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewMonetaryValue() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got.Unit != tt.wantUnit {
				t.Errorf("Unit = %q, want %q", got.Unit, tt.wantUnit)
			}
		})
	}
}
