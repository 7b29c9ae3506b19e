package model

import "fmt"

// Interval is an inclusive range of calendar dates. Start is never after End.
type Interval struct {
	Start Date
	End   Date
}

// NewInterval validates and returns the interval [start, end].
func NewInterval(start, end Date) (Interval, error) {
	if start.IsZero() || end.IsZero() {
		return Interval{}, fmt.Errorf("interval bounds must be set")
	}
	if start.After(end) {
		return Interval{}, fmt.Errorf("interval start %s is after end %s", start, end)
	}
	return Interval{Start: start, End: end}, nil
}

// Day returns the one-day interval [d, d].
func Day(d Date) Interval {
	return Interval{Start: d, End: d}
}

// Days returns the inclusive number of days covered.
func (i Interval) Days() int {
	return i.Start.DaysUntil(i.End) + 1
}

// Contains reports whether d falls inside the interval.
func (i Interval) Contains(d Date) bool {
	return !d.Before(i.Start) && !d.After(i.End)
}

func (i Interval) String() string {
	return i.Start.String() + ".." + i.End.String()
}
