// Package timeutil provides calendar-day arithmetic for bucketing
// activity stats by the day they belong to in a user's timezone.
package timeutil

import "time"

// DateKeyLayout is the wire format for calendar day keys.
const DateKeyLayout = "2006-01-02"

// ToDateKey converts an instant into a calendar-day key ("YYYY-MM-DD")
// in the given IANA timezone. An empty or unresolvable timezone falls
// back to UTC rather than failing, so callers always get a usable key.
func ToDateKey(instant time.Time, timezone string) string {
	return instant.In(resolveLocation(timezone)).Format(DateKeyLayout)
}

func resolveLocation(timezone string) *time.Location {
	if timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
