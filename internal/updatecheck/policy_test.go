package updatecheck

import (
	"testing"
	"time"
)

func TestIsUpdateRequired(t *testing.T) {
	now := time.Date(2024, 3, 15, 14, 0, 0, 0, time.Local)

	tests := []struct {
		name        string
		lastUpdated time.Time
		policy      string
		want        bool
		wantWarning bool
	}{
		{"always", now.Add(-time.Minute), PolicyAlways, true, false},
		{"never", now.Add(-365 * 24 * time.Hour), PolicyNever, false, false},
		{"daily updated today", now.Add(-time.Hour), PolicyDaily, false, false},
		{"daily updated yesterday", now.Add(-24 * time.Hour), PolicyDaily, true, false},
		{"interval fresh", now.Add(-5 * time.Minute), "interval:10", false, false},
		{"interval expired", now.Add(-15 * time.Minute), "interval:10", true, false},
		{"interval zero always refetches", now.Add(-time.Second), "interval:0", true, false},
		{"unknown policy warns", now.Add(-time.Hour), "hourly", false, true},
		{"zero lastUpdated always required", time.Time{}, PolicyNever, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, warning := IsUpdateRequired(now, tt.lastUpdated, tt.policy)
			if got != tt.want {
				t.Errorf("IsUpdateRequired() = %v, want %v", got, tt.want)
			}
			if (warning != "") != tt.wantWarning {
				t.Errorf("warning = %q, wantWarning %v", warning, tt.wantWarning)
			}
		})
	}
}

func TestIntervalMinutes(t *testing.T) {
	if n, ok := IntervalMinutes("interval:90"); !ok || n != 90 {
		t.Errorf("Expected (90, true), got (%d, %v)", n, ok)
	}
	if _, ok := IntervalMinutes("daily"); ok {
		t.Error("daily is not an interval policy")
	}
	if _, ok := IntervalMinutes("interval:abc"); ok {
		t.Error("Malformed interval should not parse")
	}
}

func TestEffectiveIntervalPolicy(t *testing.T) {
	tests := []struct {
		name string
		p1   string
		p2   string
		want string
	}{
		{"always wins over daily", PolicyAlways, PolicyDaily, PolicyAlways},
		{"shorter interval wins", "interval:10", "interval:60", "interval:10"},
		{"never loses to interval", PolicyNever, "interval:120", "interval:120"},
		{"never vs never", PolicyNever, PolicyNever, PolicyNever},
		{"daily vs short interval", PolicyDaily, "interval:30", "interval:30"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EffectiveIntervalPolicy(tt.p1, tt.p2); got != tt.want {
				t.Errorf("EffectiveIntervalPolicy(%q, %q) = %q, want %q", tt.p1, tt.p2, got, tt.want)
			}
		})
	}
}
