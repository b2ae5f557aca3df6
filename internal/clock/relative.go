package clock

import (
	"strconv"
	"time"

	"github.com/hiboss/hiboss/internal/kerrors"
)

// ParseDeliverAt parses a deliverAt value per spec §6: either a relative
// duration ("+2h", "-1Y2M3D") or any ISO-8601 timestamp carrying an offset.
// now is the reference instant for relative values.
func ParseDeliverAt(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return time.Time{}, kerrors.New(kerrors.Validation, "deliverAt must not be empty")
	}
	if raw[0] == '+' || raw[0] == '-' {
		return parseRelative(raw, now)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, kerrors.Newf(kerrors.Validation, "invalid ISO-8601 timestamp %q: %v", raw, err)
	}
	return t.UTC(), nil
}

// parseRelative implements the RelTime ABNF grammar from spec §6:
//
//	RelTime = ("+"/"-") 1*( 1*DIGIT Unit )
//	Unit    = "Y" / "M" / "D" / "h" / "m" / "s"   ; case-sensitive
func parseRelative(raw string, now time.Time) (time.Time, error) {
	sign := 1
	if raw[0] == '-' {
		sign = -1
	}
	body := raw[1:]
	if body == "" {
		return time.Time{}, kerrors.Newf(kerrors.Validation, "invalid relative duration %q", raw)
	}

	var years, months, days int
	var dur time.Duration
	i := 0
	matchedAny := false
	for i < len(body) {
		start := i
		for i < len(body) && body[i] >= '0' && body[i] <= '9' {
			i++
		}
		if i == start {
			return time.Time{}, kerrors.Newf(kerrors.Validation, "invalid relative duration %q: expected digits at position %d", raw, start)
		}
		n, err := strconv.Atoi(body[start:i])
		if err != nil {
			return time.Time{}, kerrors.Newf(kerrors.Validation, "invalid relative duration %q: %v", raw, err)
		}
		if i >= len(body) {
			return time.Time{}, kerrors.Newf(kerrors.Validation, "invalid relative duration %q: missing unit after %d", raw, n)
		}
		unit := body[i]
		i++
		switch unit {
		case 'Y':
			years += n
		case 'M':
			months += n
		case 'D':
			days += n
		case 'h':
			dur += time.Duration(n) * time.Hour
		case 'm':
			dur += time.Duration(n) * time.Minute
		case 's':
			dur += time.Duration(n) * time.Second
		default:
			return time.Time{}, kerrors.Newf(kerrors.Validation, "invalid relative duration %q: unknown unit %q", raw, unit)
		}
		matchedAny = true
	}
	if !matchedAny {
		return time.Time{}, kerrors.Newf(kerrors.Validation, "invalid relative duration %q", raw)
	}

	t := now.UTC()
	if sign < 0 {
		years, months, days = -years, -months, -days
		dur = -dur
	}
	t = t.AddDate(years, months, days).Add(dur)
	return t, nil
}

// FormatOffset renders t in the given location as a local ISO-8601 string
// with numeric offset, the display convention required by spec §3 and the
// envelope instruction rendering in spec §6.
func FormatOffset(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("2006-01-02T15:04:05-07:00")
}

// MaxTimerDuration is the largest duration a Go timer can reliably represent
// (spec §4.4: "clamp to max representable timer, ~24.8 days").
const MaxTimerDuration = time.Duration(1<<63 - 1)

// ClampTimer clamps d to a safe upper bound (spec uses ~24.8 days as the
// practical ceiling so a single timer always fires and the scheduler
// re-evaluates rather than scheduling one enormous sleep).
func ClampTimer(d time.Duration) time.Duration {
	const maxPractical = 24*24*time.Hour + 19*time.Hour + 12*time.Minute // ~24.8 days
	if d > maxPractical {
		return maxPractical
	}
	if d < 0 {
		return 0
	}
	return d
}
