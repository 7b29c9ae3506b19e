// Package model holds the value types shared by the planner, the job machinery and
// the sync state: calendar dates, inclusive date intervals and account identities.
package model

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the ISO text form used in state documents and report parameters.
const DateLayout = "2006-01-02"

// Date is a day-granularity calendar date with no time zone.
// The zero value is not a valid date; use IsZero to detect it.
type Date struct {
	t time.Time
}

// NewDate returns the date for year, month and day. Out-of-range values are
// normalized the way time.Date does.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate accepts YYYY-MM-DD and RFC 3339 timestamps. The time-of-day part of a
// timestamp is discarded.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return DateOf(t), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return DateOf(t), nil
	}
	return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
}

// MustParseDate is ParseDate for constants and tests.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) IsZero() bool { return d.t.IsZero() }

func (d Date) Year() int          { return d.t.Year() }
func (d Date) Month() time.Month  { return d.t.Month() }
func (d Date) Day() int           { return d.t.Day() }
func (d Date) Time() time.Time    { return d.t }
func (d Date) String() string     { return d.t.Format(DateLayout) }
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// AddMonths moves the date by n months, clamping to the last day of the target
// month: 2024-03-31 minus one month is 2024-02-29.
func (d Date) AddMonths(n int) Date {
	y, m, day := d.t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return NewDate(first.Year(), first.Month(), day)
}

// DaysUntil returns the number of days from d to other (negative when other is earlier).
func (d Date) DaysUntil(other Date) int {
	return int(other.t.Sub(d.t).Hours() / 24)
}

func (d Date) Before(other Date) bool { return d.t.Before(other.t) }
func (d Date) After(other Date) bool  { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool  { return d.t.Equal(other.t) }

// Compare returns -1, 0 or +1, for use with slices.SortFunc.
func (d Date) Compare(other Date) int { return d.t.Compare(other.t) }

// MaxDate returns the latest of the given dates, ignoring zero values.
func MaxDate(dates ...Date) Date {
	var out Date
	for _, d := range dates {
		if d.IsZero() {
			continue
		}
		if out.IsZero() || d.After(out) {
			out = d
		}
	}
	return out
}

// MinDate returns the earliest of the given dates, ignoring zero values.
func MinDate(dates ...Date) Date {
	var out Date
	for _, d := range dates {
		if d.IsZero() {
			continue
		}
		if out.IsZero() || d.Before(out) {
			out = d
		}
	}
	return out
}

func (d Date) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("cannot marshal zero date")
	}
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
