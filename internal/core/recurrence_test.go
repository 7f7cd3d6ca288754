package core

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextOccurrence(t *testing.T) {
	tests := []struct {
		name     string
		from     time.Time
		interval RecurringInterval
		want     time.Time
	}{
		{
			name:     "daily advances one day",
			from:     date(2024, time.January, 15),
			interval: Daily,
			want:     date(2024, time.January, 16),
		},
		{
			name:     "daily crosses month boundary",
			from:     date(2024, time.January, 31),
			interval: Daily,
			want:     date(2024, time.February, 1),
		},
		{
			name:     "weekly advances seven days",
			from:     date(2024, time.January, 15),
			interval: Weekly,
			want:     date(2024, time.January, 22),
		},
		{
			name:     "weekly crosses year boundary",
			from:     date(2023, time.December, 28),
			interval: Weekly,
			want:     date(2024, time.January, 4),
		},
		{
			name:     "monthly preserves day of month",
			from:     date(2024, time.March, 15),
			interval: Monthly,
			want:     date(2024, time.April, 15),
		},
		{
			name:     "monthly clamps Jan 31 to Feb 29 in leap year",
			from:     date(2024, time.January, 31),
			interval: Monthly,
			want:     date(2024, time.February, 29),
		},
		{
			name:     "monthly clamps Jan 31 to Feb 28 in non-leap year",
			from:     date(2023, time.January, 31),
			interval: Monthly,
			want:     date(2023, time.February, 28),
		},
		{
			name:     "monthly clamps May 31 to Jun 30",
			from:     date(2024, time.May, 31),
			interval: Monthly,
			want:     date(2024, time.June, 30),
		},
		{
			name:     "monthly from Dec rolls into next year",
			from:     date(2024, time.December, 31),
			interval: Monthly,
			want:     date(2025, time.January, 31),
		},
		{
			name:     "yearly advances one year",
			from:     date(2024, time.June, 10),
			interval: Yearly,
			want:     date(2025, time.June, 10),
		},
		{
			name:     "yearly clamps Feb 29 to Feb 28 in non-leap year",
			from:     date(2024, time.February, 29),
			interval: Yearly,
			want:     date(2025, time.February, 28),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextOccurrence(tt.from, tt.interval)
			if !got.Equal(tt.want) {
				t.Errorf("NextOccurrence(%v, %s) = %v, want %v", tt.from, tt.interval, got, tt.want)
			}
		})
	}
}

// Repeated application must strictly advance the date for every interval,
// including across month-end clamps.
func TestNextOccurrence_StrictlyAdvances(t *testing.T) {
	starts := []time.Time{
		date(2024, time.January, 1),
		date(2024, time.January, 31),
		date(2024, time.February, 29),
		date(2023, time.December, 31),
	}

	for _, interval := range []RecurringInterval{Daily, Weekly, Monthly, Yearly} {
		for _, start := range starts {
			cur := start
			for i := 0; i < 50; i++ {
				next := NextOccurrence(cur, interval)
				if !next.After(cur) {
					t.Fatalf("interval %s from %v: occurrence %d did not advance (%v -> %v)",
						interval, start, i, cur, next)
				}
				cur = next
			}
		}
	}
}

func TestNextOccurrence_PreservesTimeOfDay(t *testing.T) {
	from := time.Date(2024, time.January, 31, 9, 30, 15, 0, time.UTC)
	got := NextOccurrence(from, Monthly)
	want := time.Date(2024, time.February, 29, 9, 30, 15, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextOccurrence = %v, want %v", got, want)
	}
}

func TestNextOccurrence_UnknownIntervalPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown interval")
		}
	}()
	NextOccurrence(date(2024, time.January, 1), RecurringInterval("FORTNIGHTLY"))
}

func TestMonthWindow(t *testing.T) {
	tests := []struct {
		name      string
		at        time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "mid month",
			at:        time.Date(2024, time.March, 17, 13, 45, 0, 0, time.UTC),
			wantStart: date(2024, time.March, 1),
			wantEnd:   date(2024, time.April, 1),
		},
		{
			name:      "december wraps year",
			at:        date(2023, time.December, 31),
			wantStart: date(2023, time.December, 1),
			wantEnd:   date(2024, time.January, 1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := MonthWindow(tt.at)
			if !start.Equal(tt.wantStart) || !end.Equal(tt.wantEnd) {
				t.Errorf("MonthWindow(%v) = (%v, %v), want (%v, %v)",
					tt.at, start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestSameMonth(t *testing.T) {
	tests := []struct {
		name string
		a, b time.Time
		want bool
	}{
		{"same month", date(2024, time.May, 1), date(2024, time.May, 31), true},
		{"different month", date(2024, time.May, 31), date(2024, time.June, 1), false},
		{"same month different year", date(2023, time.May, 10), date(2024, time.May, 10), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SameMonth(tt.a, tt.b); got != tt.want {
				t.Errorf("SameMonth(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
