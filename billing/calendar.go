package billing

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - A calendar day with no time-of-day component
// =============================================================================

// Date is a calendar day. The underlying instant is always 12:00 UTC so that
// adding days never crosses a daylight-saving boundary or lands on the
// neighbouring day when read back in another timezone.
type Date struct {
	t time.Time
}

const (
	anchorHour = 12
	dateLayout = "2006-01-02"
)

// NewDate builds a Date from its calendar fields. Out-of-range values are
// normalised the same way time.Date does (e.g. Jan 32 -> Feb 1).
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, anchorHour, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t as observed in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return DateOf(t), nil
}

// MustParseDate is ParseDate for literals in tests and fixtures.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Arithmetic
func (d Date) AddDays(n int) Date {
	y, m, day := d.t.Date()
	return NewDate(y, m, day+n)
}

// Ordering is the result of comparing two calendar days.
type Ordering int

const (
	Before Ordering = -1
	Same   Ordering = 0
	After  Ordering = 1
)

func (o Ordering) String() string {
	switch o {
	case Before:
		return "before"
	case After:
		return "after"
	default:
		return "same"
	}
}

// Compare orders two calendar days. Only year, month and day take part.
func (d Date) Compare(other Date) Ordering {
	a, b := d.ordinal(), other.ordinal()
	switch {
	case a < b:
		return Before
	case a > b:
		return After
	default:
		return Same
	}
}

func (d Date) Before(other Date) bool        { return d.Compare(other) == Before }
func (d Date) After(other Date) bool         { return d.Compare(other) == After }
func (d Date) Equal(other Date) bool         { return d.Compare(other) == Same }
func (d Date) BeforeOrEqual(other Date) bool { return d.Compare(other) != After }
func (d Date) AfterOrEqual(other Date) bool  { return d.Compare(other) != Before }

func (d Date) ordinal() int {
	y, m, day := d.t.Date()
	return y*10000 + int(m)*100 + day
}

// Properties
func (d Date) Year() int             { return d.t.Year() }
func (d Date) Month() time.Month     { return d.t.Month() }
func (d Date) Day() int              { return d.t.Day() }
func (d Date) Weekday() time.Weekday { return d.t.Weekday() }
func (d Date) IsZero() bool          { return d.t.IsZero() }

// Time returns the anchored instant (12:00 UTC).
func (d Date) Time() time.Time { return d.t }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(dateLayout)
}

// DaysBetween returns the number of calendar days from `from` to `to`.
// Negative when `to` is before `from`. Both sides sit at noon UTC, so the
// difference in Unix seconds is a whole number of days.
func DaysBetween(from, to Date) int {
	return int((to.t.Unix() - from.t.Unix()) / secondsPerDay)
}

const secondsPerDay = 24 * 60 * 60

// =============================================================================
// CLOCK - The single source of "today"
// =============================================================================

// Clock supplies the current business day.
type Clock interface {
	Today() Date
}

// SystemClock reads the wall clock in the business timezone.
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Today() Date {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(time.Now().In(loc))
}

// FixedClock always reports the same day.
type FixedClock struct {
	Day Date
}

func (c FixedClock) Today() Date { return c.Day }

// =============================================================================
// PERIOD - Inclusive range of calendar days
// =============================================================================

// Period is an inclusive [Start, End] range of days.
type Period struct {
	Start Date
	End   Date
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Length returns the number of days in the period.
func (p Period) Length() int {
	return DaysBetween(p.Start, p.End) + 1
}

// Days returns every day of the period in order.
func (p Period) Days() []Date {
	var days []Date
	for cur := p.Start; cur.BeforeOrEqual(p.End); cur = cur.AddDays(1) {
		days = append(days, cur)
	}
	return days
}

// Next returns the period of the same length starting the day after End.
func (p Period) Next() Period {
	start := p.End.AddDays(1)
	return Period{Start: start, End: start.AddDays(p.Length() - 1)}
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
