package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestContactRewardTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    GrantStatus
		mark    string
		want    GrantStatus
		wantErr error
	}{
		{name: "pending to granted", from: GrantPending, mark: "granted", want: GrantGranted},
		{name: "pending to rejected", from: GrantPending, mark: "rejected", want: GrantRejected},
		{name: "granted stays granted", from: GrantGranted, mark: "granted", want: GrantGranted},
		{name: "rejected stays rejected", from: GrantRejected, mark: "rejected", want: GrantRejected},
		{name: "granted cannot reject", from: GrantGranted, mark: "rejected", want: GrantGranted, wantErr: ErrIllegalTransition},
		{name: "rejected cannot grant", from: GrantRejected, mark: "granted", want: GrantRejected, wantErr: ErrIllegalTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grant, err := NewContactReward(uuid.Nil, "contact-1", uuid.New(), nil, nil, 1, time.Now(), "", nil)
			if err != nil {
				t.Fatalf("NewContactReward() error = %v", err)
			}
			grant.Status = tt.from

			if tt.mark == "granted" {
				err = grant.MarkGranted()
			} else {
				err = grant.MarkRejected()
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("transition error = %v, want %v", err, tt.wantErr)
			}
			if grant.Status != tt.want {
				t.Errorf("status = %q, want %q", grant.Status, tt.want)
			}
		})
	}
}

func TestNewContactRewardDefaults(t *testing.T) {
	grantedAt := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	grant, err := NewContactReward(uuid.Nil, "contact-1", uuid.New(), nil, nil, 2, grantedAt, "e1", nil)
	if err != nil {
		t.Fatalf("NewContactReward() error = %v", err)
	}
	if grant.Status != GrantPending {
		t.Errorf("status = %q, want pending", grant.Status)
	}
	if grant.GrantedValue.Amount != 0 || grant.GrantedValue.Unit != DefaultCurrencyUnit {
		t.Errorf("granted value = %+v, want zero placeholder", grant.GrantedValue)
	}
	if grant.RewardID != nil {
		t.Errorf("reward id = %v, want nil placeholder", grant.RewardID)
	}
}

func TestEffectiveCooldownDays(t *testing.T) {
	three := 3
	zero := 0

	tests := []struct {
		name     string
		tierDays *int
		global   int
		want     int
	}{
		{name: "tier override wins", tierDays: &three, global: 7, want: 3},
		{name: "explicit zero override wins", tierDays: &zero, global: 7, want: 0},
		{name: "global fallback", tierDays: nil, global: 7, want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EffectiveCooldownDays(tt.tierDays, tt.global); got != tt.want {
				t.Errorf("EffectiveCooldownDays() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCooldownUntil(t *testing.T) {
	grantedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if got := CooldownUntil(grantedAt, 0); got != nil {
		t.Errorf("CooldownUntil(0) = %v, want nil", got)
	}
	if got := CooldownUntil(grantedAt, -1); got != nil {
		t.Errorf("CooldownUntil(-1) = %v, want nil", got)
	}
	got := CooldownUntil(grantedAt, 7)
	if got == nil {
		t.Fatal("CooldownUntil(7) = nil, want value")
	}
	want := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("CooldownUntil(7) = %v, want %v", got, want)
	}
}
