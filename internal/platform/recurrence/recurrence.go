// Package recurrence computes due dates for recurring care items.
//
// A period is a whole number of weeks or calendar months. Month arithmetic
// clamps to the last day of the target month (Jan 31 + 1 month = Feb 28/29)
// and never rolls over into the following month.
package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/caretrack/caretrack/internal/platform/careerr"
	"github.com/caretrack/caretrack/pkg/caldate"
)

// Unit is the granularity of a recurrence period.
type Unit string

const (
	Weeks  Unit = "weeks"
	Months Unit = "months"
)

const (
	MaxWeeks  = 520
	MaxMonths = 120

	// DefaultSeriesCount is the projection length used when none is given.
	DefaultSeriesCount = 12
	MaxSeriesCount     = 520
)

// ParseUnit accepts the canonical unit names and their singular forms.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "weeks", "week":
		return Weeks, nil
	case "months", "month":
		return Months, nil
	default:
		return "", careerr.InvalidArgument("unknown period unit %q", s)
	}
}

// Period is the interval between two occurrences of a care item.
type Period struct {
	Value int  `json:"value"`
	Unit  Unit `json:"unit"`
}

// Validate checks the unit and the per-unit value bounds.
func (p Period) Validate() error {
	var max int
	switch p.Unit {
	case Weeks:
		max = MaxWeeks
	case Months:
		max = MaxMonths
	default:
		return careerr.InvalidArgument("unknown period unit %q", p.Unit)
	}
	if p.Value < 1 || p.Value > max {
		return careerr.InvalidArgument("period value must be between 1 and %d %s, got %d", max, p.Unit, p.Value)
	}
	return nil
}

func (p Period) String() string {
	return fmt.Sprintf("%d %s", p.Value, p.Unit)
}

// NextDate returns the occurrence one period after base.
func NextDate(base caldate.Date, p Period) (caldate.Date, error) {
	if !base.Valid() {
		return caldate.Date{}, careerr.InvalidArgument("base date is not a valid calendar date")
	}
	if err := p.Validate(); err != nil {
		return caldate.Date{}, err
	}

	if p.Unit == Weeks {
		next := base.AddDays(7 * p.Value)
		if !next.Valid() {
			return caldate.Date{}, careerr.InvalidArgument("next date out of range: %s + %s", base, p)
		}
		return next, nil
	}

	months := base.Year()*12 + int(base.Month()-time.January) + p.Value
	year, month := months/12, time.Month(months%12)+time.January
	day := base.Day()
	if last := caldate.DaysIn(year, month); day > last {
		day = last
	}
	next, err := caldate.New(year, month, day)
	if err != nil {
		return caldate.Date{}, careerr.InvalidArgument("next date out of range: %v", err)
	}
	return next, nil
}

// ProjectSeries applies NextDate count times, each step starting from the
// previous result. The returned dates are strictly increasing and do not
// include first. A count of zero selects DefaultSeriesCount.
func ProjectSeries(first caldate.Date, p Period, count int) ([]caldate.Date, error) {
	if count == 0 {
		count = DefaultSeriesCount
	}
	if count < 0 || count > MaxSeriesCount {
		return nil, careerr.InvalidArgument("series count must be between 1 and %d, got %d", MaxSeriesCount, count)
	}

	series := make([]caldate.Date, 0, count)
	cur := first
	for i := 0; i < count; i++ {
		next, err := NextDate(cur, p)
		if err != nil {
			return nil, err
		}
		series = append(series, next)
		cur = next
	}
	return series, nil
}
