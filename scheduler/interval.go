package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IntervalUnit is the unit of a repeat interval.
type IntervalUnit string

const (
	UnitDay   IntervalUnit = "day"
	UnitWeek  IntervalUnit = "week"
	UnitMonth IntervalUnit = "month"
)

// Interval is a parsed repeat interval such as "1 week".
type Interval struct {
	Count int
	Unit  IntervalUnit
}

// ParseInterval parses "N day(s)", "N week(s)" or "N month(s)". N must be
// a positive integer; the unit is case-insensitive.
func ParseInterval(s string) (Interval, error) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) != 2 {
		return Interval{}, fmt.Errorf("invalid repeat interval %q", s)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return Interval{}, fmt.Errorf("invalid repeat interval %q: count must be a positive integer", s)
	}
	unit := IntervalUnit(strings.TrimSuffix(fields[1], "s"))
	switch unit {
	case UnitDay, UnitWeek, UnitMonth:
	default:
		return Interval{}, fmt.Errorf("invalid repeat interval %q: unknown unit %q", s, fields[1])
	}
	return Interval{Count: n, Unit: unit}, nil
}

// String returns the interval in the form ParseInterval accepts.
func (iv Interval) String() string {
	if iv.Count == 1 {
		return fmt.Sprintf("1 %s", iv.Unit)
	}
	return fmt.Sprintf("%d %ss", iv.Count, iv.Unit)
}

// AddTo returns t plus the interval in calendar terms.
func (iv Interval) AddTo(t time.Time) time.Time {
	switch iv.Unit {
	case UnitWeek:
		return t.AddDate(0, 0, 7*iv.Count)
	case UnitMonth:
		return t.AddDate(0, iv.Count, 0)
	default:
		return t.AddDate(0, 0, iv.Count)
	}
}

// NextRun returns anchor plus the interval, stepping further until the
// result is after now so a lagging anchor never schedules into the past.
func (iv Interval) NextRun(anchor, now time.Time) time.Time {
	next := iv.AddTo(anchor)
	for !next.After(now) {
		next = iv.AddTo(next)
	}
	return next
}
