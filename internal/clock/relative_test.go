package clock

import (
	"testing"
	"time"
)

func TestParseDeliverAtRelative(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"plus hours", "+2h", now.Add(2 * time.Hour)},
		{"plus compound", "+1Y2M3D", now.AddDate(1, 2, 3)},
		{"minus minutes", "-30m", now.Add(-30 * time.Minute)},
		{"plus seconds", "+45s", now.Add(45 * time.Second)},
		{"mixed calendar and clock", "+1D12h", now.AddDate(0, 0, 1).Add(12 * time.Hour)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseDeliverAt(tc.raw, now)
			if err != nil {
				t.Fatalf("ParseDeliverAt(%q): %v", tc.raw, err)
			}
			if !got.Equal(tc.want) {
				t.Errorf("ParseDeliverAt(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestParseDeliverAtISO8601(t *testing.T) {
	got, err := ParseDeliverAt("2026-03-05T09:00:00+09:00", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseDeliverAtInvalid(t *testing.T) {
	for _, raw := range []string{"", "2h", "+2x", "+", "not-a-time"} {
		if _, err := ParseDeliverAt(raw, time.Now()); err == nil {
			t.Errorf("ParseDeliverAt(%q): expected error, got nil", raw)
		}
	}
}

func TestClampTimer(t *testing.T) {
	if got := ClampTimer(30 * 24 * time.Hour); got >= 25*24*time.Hour {
		t.Errorf("ClampTimer did not clamp: %v", got)
	}
	if got := ClampTimer(time.Hour); got != time.Hour {
		t.Errorf("ClampTimer clamped a small duration: %v", got)
	}
	if got := ClampTimer(-time.Hour); got != 0 {
		t.Errorf("ClampTimer did not floor a negative duration: %v", got)
	}
}
