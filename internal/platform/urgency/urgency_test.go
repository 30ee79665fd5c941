package urgency

import (
	"testing"
	"time"

	"github.com/caretrack/caretrack/pkg/caldate"
)

func TestClassify(t *testing.T) {
	today := caldate.MustNew(2025, time.June, 10)

	tests := []struct {
		name       string
		offset     int
		wantStatus Status
		wantTier   Tier
	}{
		{"five days overdue", -5, StatusOverdue, TierCritical},
		{"one day overdue", -1, StatusOverdue, TierCritical},
		{"due today", 0, StatusToday, TierHigh},
		{"due tomorrow", 1, StatusUpcoming, TierMedium},
		{"due in three days", 3, StatusUpcoming, TierMedium},
		{"due in seven days", 7, StatusUpcoming, TierMedium},
		{"due in eight days", 8, StatusFuture, TierLow},
		{"due in ten days", 10, StatusFuture, TierLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(today.AddDays(tt.offset), today)
			if got.Status != tt.wantStatus || got.Tier != tt.wantTier {
				t.Errorf("Classify(today%+d) = {%s, %s}, want {%s, %s}",
					tt.offset, got.Status, got.Tier, tt.wantStatus, tt.wantTier)
			}
			if got.DaysUntilDue != tt.offset {
				t.Errorf("DaysUntilDue = %d, want %d", got.DaysUntilDue, tt.offset)
			}
		})
	}
}

func TestClassify_CrossesMonthAndYear(t *testing.T) {
	got := Classify(caldate.MustNew(2026, time.January, 2), caldate.MustNew(2025, time.December, 30))
	if got.Status != StatusUpcoming || got.DaysUntilDue != 3 {
		t.Errorf("unexpected classification %+v", got)
	}
}

func TestClassifyTime_IgnoresTimeOfDay(t *testing.T) {
	// Due early in the morning, checked late at night the same day: still today.
	due := time.Date(2025, 6, 10, 0, 5, 0, 0, time.UTC)
	now := time.Date(2025, 6, 10, 23, 55, 0, 0, time.UTC)
	if got := ClassifyTime(due, now, time.UTC); got.Status != StatusToday {
		t.Errorf("expected today, got %s", got.Status)
	}

	// Less than 24h apart but on consecutive days: upcoming, not today.
	due = time.Date(2025, 6, 11, 0, 5, 0, 0, time.UTC)
	if got := ClassifyTime(due, now, time.UTC); got.Status != StatusUpcoming || got.DaysUntilDue != 1 {
		t.Errorf("expected upcoming in 1 day, got %+v", got)
	}
}

func TestClassifyTime_UsesLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	due := time.Date(2025, 6, 10, 16, 0, 0, 0, time.UTC) // June 11 01:00 in Tokyo
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC) // June 10 19:00 in Tokyo
	if got := ClassifyTime(due, now, tokyo); got.DaysUntilDue != 1 {
		t.Errorf("expected 1 day in Tokyo, got %d", got.DaysUntilDue)
	}
	if got := ClassifyTime(due, now, time.UTC); got.DaysUntilDue != 0 {
		t.Errorf("expected 0 days in UTC, got %d", got.DaysUntilDue)
	}
}
