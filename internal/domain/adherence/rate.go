package adherence

import (
	"context"

	"github.com/caretrack/caretrack/internal/domain/careitem"
	"github.com/caretrack/caretrack/internal/domain/schedule"
	"github.com/caretrack/caretrack/internal/platform/careerr"
	"github.com/caretrack/caretrack/pkg/caldate"
)

// CompletionRate is the share of occurrences in a window that were completed.
// RatePercent is already rounded to one decimal.
type CompletionRate struct {
	RatePercent    float64 `json:"rate_percent"`
	CompletedCount int     `json:"completed_count"`
	TotalCount     int     `json:"total_count"`
}

// Rate counts the records scheduled within window, bounds included, whatever
// their status, and the completed ones among them. Records outside the
// window are ignored. An empty input yields the zero rate.
func Rate(records []*schedule.HistoryRecord, window caldate.Range) CompletionRate {
	var r CompletionRate
	for _, rec := range records {
		if rec == nil || !window.Contains(rec.ScheduledDate) {
			continue
		}
		r.TotalCount++
		if rec.Status == schedule.StatusCompleted {
			r.CompletedCount++
		}
	}
	r.RatePercent = percent(r.CompletedCount, r.TotalCount)
	return r
}

// percent returns 100*num/den rounded half away from zero to one decimal,
// or 0 when den is 0. Rounding is done on integer tenths so that 1/100
// yields exactly 1 and 2/3 yields 66.7.
func percent(num, den int) float64 {
	if den <= 0 || num <= 0 {
		return 0
	}
	tenths := (2000*int64(num) + int64(den)) / (2 * int64(den))
	return float64(tenths) / 10
}

// RateCalculator computes completion rates against a history source.
type RateCalculator struct {
	history HistorySource
}

func NewRateCalculator(history HistorySource) *RateCalculator {
	return &RateCalculator{history: history}
}

// Compute fetches the records scheduled in window, optionally limited to one
// category, and rates them. Fetch errors are returned as ErrFetchFailure.
func (c *RateCalculator) Compute(ctx context.Context, window caldate.Range, category *careitem.Category) (CompletionRate, error) {
	if err := window.Validate(); err != nil {
		return CompletionRate{}, careerr.InvalidArgument("window: %v", err)
	}
	records, err := c.history.FetchHistory(ctx, schedule.HistoryFilter{Category: category}, window)
	if err != nil {
		return CompletionRate{}, fetchFailure("fetch history "+window.String(), err)
	}
	return Rate(records, window), nil
}
