// Package clock centralizes time handling: the injectable wall clock used
// throughout the kernel (so tests don't depend on time.Now), timezone
// conversion for display, and the relative-duration / ISO-8601 grammar from
// spec §6.
package clock

import "time"

// Clock abstracts time.Now so schedulers and the executor are testable.
type Clock interface {
	Now() time.Time
}

// System is the production Clock backed by time.Now.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// NowMillis returns the current time as Unix epoch milliseconds UTC, the
// storage representation used for every timestamp field in spec §3.
func NowMillis(c Clock) int64 {
	return ToMillis(c.Now())
}

// ToMillis converts a time.Time to Unix epoch milliseconds UTC.
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts Unix epoch milliseconds UTC back to a time.Time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// InZone renders a UTC-millis timestamp in the given IANA timezone, falling
// back to UTC if the zone fails to load (loc == nil or invalid name).
func InZone(ms int64, loc *time.Location) time.Time {
	t := FromMillis(ms)
	if loc == nil {
		return t
	}
	return t.In(loc)
}

// LoadZone loads an IANA timezone name, treating "" and "local" as "inherit
// the caller's default" (returns nil, nil in that case — spec §4.7).
func LoadZone(name string) (*time.Location, error) {
	if name == "" || name == "local" {
		return nil, nil
	}
	return time.LoadLocation(name)
}
