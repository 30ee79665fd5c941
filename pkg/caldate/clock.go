package caldate

import "time"

// TodayFunc returns the reference date for "today".
type TodayFunc func() Date

// TodayIn builds a TodayFunc that reduces now() to a calendar date in loc.
func TodayIn(now func() time.Time, loc *time.Location) TodayFunc {
	return func() Date { return FromTimeIn(now(), loc) }
}

// Fixed returns a TodayFunc that always reports d.
func Fixed(d Date) TodayFunc {
	return func() Date { return d }
}
