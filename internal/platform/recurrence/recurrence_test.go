package recurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/caretrack/caretrack/internal/platform/careerr"
	"github.com/caretrack/caretrack/pkg/caldate"
)

func date(y int, m time.Month, d int) caldate.Date {
	return caldate.MustNew(y, m, d)
}

func TestNextDate_Months(t *testing.T) {
	tests := []struct {
		name   string
		base   caldate.Date
		period Period
		want   caldate.Date
	}{
		{"jan 31 clamps to feb 28", date(2025, 1, 31), Period{1, Months}, date(2025, 2, 28)},
		{"jan 31 clamps to feb 29 in leap year", date(2024, 1, 31), Period{1, Months}, date(2024, 2, 29)},
		{"leap day plus one month", date(2024, 2, 29), Period{1, Months}, date(2024, 3, 29)},
		{"leap day plus twelve months", date(2024, 2, 29), Period{12, Months}, date(2025, 2, 28)},
		{"leap day plus 48 months", date(2024, 2, 29), Period{48, Months}, date(2028, 2, 29)},
		{"year carry", date(2025, 11, 15), Period{3, Months}, date(2026, 2, 15)},
		{"march 31 to april 30", date(2025, 3, 31), Period{1, Months}, date(2025, 4, 30)},
		{"december to january", date(2025, 12, 31), Period{1, Months}, date(2026, 1, 31)},
		{"max months", date(2025, 1, 1), Period{120, Months}, date(2035, 1, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextDate(tt.base, tt.period)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("NextDate(%s, %s) = %s, want %s", tt.base, tt.period, got, tt.want)
			}
		})
	}
}

func TestNextDate_MonthsProperty(t *testing.T) {
	base := date(2023, 1, 1)
	for offset := 0; offset < 3*366; offset += 7 {
		b := base.AddDays(offset)
		for value := 1; value <= 25; value++ {
			got, err := NextDate(b, Period{value, Months})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			months := b.Year()*12 + int(b.Month()-1) + value
			wantYear, wantMonth := months/12, time.Month(months%12+1)
			if got.Year() != wantYear || got.Month() != wantMonth {
				t.Fatalf("NextDate(%s, %d months) = %s, want %04d-%02d", b, value, got, wantYear, wantMonth)
			}
			wantDay := b.Day()
			if last := caldate.DaysIn(wantYear, wantMonth); wantDay > last {
				wantDay = last
			}
			if got.Day() != wantDay {
				t.Fatalf("NextDate(%s, %d months) day = %d, want %d", b, value, got.Day(), wantDay)
			}
		}
	}
}

func TestNextDate_WeeksProperty(t *testing.T) {
	base := date(2024, 2, 20)
	for value := 1; value <= MaxWeeks; value += 13 {
		got, err := NextDate(base, Period{value, Weeks})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Sub(base) != 7*value {
			t.Errorf("NextDate(%s, %d weeks) = %s, %d days apart", base, value, got, got.Sub(base))
		}
	}
}

func TestNextDate_InvalidArguments(t *testing.T) {
	tests := []struct {
		name   string
		base   caldate.Date
		period Period
	}{
		{"zero value", date(2025, 1, 1), Period{0, Weeks}},
		{"negative value", date(2025, 1, 1), Period{-1, Months}},
		{"too many weeks", date(2025, 1, 1), Period{MaxWeeks + 1, Weeks}},
		{"too many months", date(2025, 1, 1), Period{MaxMonths + 1, Months}},
		{"unknown unit", date(2025, 1, 1), Period{1, Unit("days")}},
		{"zero base", caldate.Date{}, Period{1, Weeks}},
		{"weeks past year 9999", date(9999, 12, 30), Period{1, Weeks}},
		{"months past year 9999", date(9999, 12, 15), Period{1, Months}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NextDate(tt.base, tt.period)
			if !errors.Is(err, careerr.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestProjectSeries_Weeks(t *testing.T) {
	got, err := ProjectSeries(date(2025, 1, 1), Period{4, Weeks}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []caldate.Date{date(2025, 1, 29), date(2025, 2, 26), date(2025, 3, 26)}
	if len(got) != len(want) {
		t.Fatalf("expected %d dates, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("series[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestProjectSeries_AppliesToPreviousResult(t *testing.T) {
	// Clamping carries forward: Jan 31 -> Feb 28 -> Mar 28, not Mar 31.
	got, err := ProjectSeries(date(2025, 1, 31), Period{1, Months}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0] != date(2025, 2, 28) || got[1] != date(2025, 3, 28) {
		t.Errorf("unexpected series %v", got)
	}
}

func TestProjectSeries_DefaultCountAndOrder(t *testing.T) {
	got, err := ProjectSeries(date(2025, 1, 15), Period{1, Months}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != DefaultSeriesCount {
		t.Fatalf("expected %d dates, got %d", DefaultSeriesCount, len(got))
	}
	prev := date(2025, 1, 15)
	for i, d := range got {
		if !d.After(prev) {
			t.Errorf("series[%d] = %s is not after %s", i, d, prev)
		}
		prev = d
	}
}

func TestProjectSeries_InvalidCount(t *testing.T) {
	for _, count := range []int{-1, MaxSeriesCount + 1} {
		if _, err := ProjectSeries(date(2025, 1, 1), Period{1, Weeks}, count); !errors.Is(err, careerr.ErrInvalidArgument) {
			t.Errorf("count %d: expected ErrInvalidArgument, got %v", count, err)
		}
	}
}

func TestParseUnit(t *testing.T) {
	for in, want := range map[string]Unit{"weeks": Weeks, "Week": Weeks, "months": Months, " month ": Months} {
		got, err := ParseUnit(in)
		if err != nil || got != want {
			t.Errorf("ParseUnit(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseUnit("days"); !errors.Is(err, careerr.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for days, got %v", err)
	}
}
