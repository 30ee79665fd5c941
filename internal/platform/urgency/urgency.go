// Package urgency classifies a due date relative to a reference day.
package urgency

import (
	"time"

	"github.com/caretrack/caretrack/pkg/caldate"
)

type Status string

const (
	StatusOverdue  Status = "overdue"
	StatusToday    Status = "today"
	StatusUpcoming Status = "upcoming"
	StatusFuture   Status = "future"
)

type Tier string

const (
	TierCritical Tier = "critical"
	TierHigh     Tier = "high"
	TierMedium   Tier = "medium"
	TierLow      Tier = "low"
)

// UpcomingWindowDays is the last day offset still classified as upcoming.
const UpcomingWindowDays = 7

// Classification is the result of Classify.
type Classification struct {
	Status       Status `json:"status"`
	Tier         Tier   `json:"urgency"`
	DaysUntilDue int    `json:"days_until_due"`
}

// Classify compares two calendar dates. The first matching rule wins:
// past due is overdue/critical, same day is today/high, within
// UpcomingWindowDays is upcoming/medium, anything later is future/low.
func Classify(due, today caldate.Date) Classification {
	days := due.Sub(today)
	c := Classification{DaysUntilDue: days}
	switch {
	case days < 0:
		c.Status, c.Tier = StatusOverdue, TierCritical
	case days == 0:
		c.Status, c.Tier = StatusToday, TierHigh
	case days <= UpcomingWindowDays:
		c.Status, c.Tier = StatusUpcoming, TierMedium
	default:
		c.Status, c.Tier = StatusFuture, TierLow
	}
	return c
}

// ClassifyTime classifies two instants after reducing both to their calendar
// day in loc. Time of day never affects the result.
func ClassifyTime(due, now time.Time, loc *time.Location) Classification {
	return Classify(caldate.FromTimeIn(due, loc), caldate.FromTimeIn(now, loc))
}
