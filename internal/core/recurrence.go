package core

import (
	"fmt"
	"time"
)

// NextOccurrence returns the occurrence date that follows from for the given
// interval. Monthly steps preserve the day of month, clamping to the last day
// when the target month is shorter (Jan 31 -> Feb 28); yearly steps clamp
// Feb 29 to Feb 28 in non-leap years. The result never lands in the month
// after the intended one.
//
// The interval is validated at the input boundary; an unrecognized value here
// is a programming error and panics.
func NextOccurrence(from time.Time, interval RecurringInterval) time.Time {
	switch interval {
	case Daily:
		return from.AddDate(0, 0, 1)
	case Weekly:
		return from.AddDate(0, 0, 7)
	case Monthly:
		return addMonthsClamped(from, 1)
	case Yearly:
		return addMonthsClamped(from, 12)
	}
	panic(fmt.Sprintf("unknown recurring interval %q", interval))
}

// addMonthsClamped advances by whole calendar months. time.AddDate would
// normalize Jan 31 + 1 month into Mar 2/3; computing the target month first
// and clamping the day avoids that overflow.
func addMonthsClamped(t time.Time, months int) time.Time {
	h, min, sec := t.Clock()
	firstOfTarget := time.Date(t.Year(), t.Month()+time.Month(months), 1, 0, 0, 0, 0, t.Location())

	day := t.Day()
	if last := lastDayOfMonth(firstOfTarget); day > last {
		day = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, h, min, sec, t.Nanosecond(), t.Location())
}

// lastDayOfMonth uses day zero of the following month, which time.Date
// normalizes to the final day of t's month.
func lastDayOfMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// MonthWindow returns the inclusive start and exclusive end of the calendar
// month containing t, in t's location.
func MonthWindow(t time.Time) (start, end time.Time) {
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	end = start.AddDate(0, 1, 0)
	return start, end
}

// SameMonth reports whether two instants fall in the same calendar month of
// the same year.
func SameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
