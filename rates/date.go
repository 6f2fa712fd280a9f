package rates

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Calendar day (rates are effective per day, never per instant)
// =============================================================================

// DateLayout is the wire and storage format for every Date.
const DateLayout = "2006-01-02"

// Date is a civil calendar day in UTC. The zero value means "not set".
type Date struct {
	Time time.Time
}

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date {
	return DateOf(time.Now().UTC())
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return DateOf(t), nil
}

// MustParseDate is for tests and fixtures.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(other Date) bool        { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool         { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool         { return d.Time.Equal(other.Time) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{Time: d.Time.AddDate(0, 0, n)} }

func (d Date) IsZero() bool { return d.Time.IsZero() }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time.Format(DateLayout)
}

// =============================================================================
// DATE RANGE - Inclusive interval, nil End = open-ended
// =============================================================================

// DateRange is [Start, End] with both ends inclusive. A nil End extends to +∞.
type DateRange struct {
	Start Date
	End   *Date
}

// Contains returns true if d is within [Start, End ?? +∞].
func (r DateRange) Contains(d Date) bool {
	if d.Before(r.Start) {
		return false
	}
	return r.End == nil || d.BeforeOrEqual(*r.End)
}

// IsOpen reports whether the range has no end.
func (r DateRange) IsOpen() bool { return r.End == nil }

// Overlaps reports whether two ranges share at least one day.
func (r DateRange) Overlaps(other DateRange) bool {
	if r.End != nil && r.End.Before(other.Start) {
		return false
	}
	if other.End != nil && other.End.Before(r.Start) {
		return false
	}
	return true
}

// Valid reports whether End is not before Start.
func (r DateRange) Valid() bool {
	return r.End == nil || !r.End.Before(r.Start)
}

func (r DateRange) String() string {
	end := "open"
	if r.End != nil {
		end = r.End.String()
	}
	return "[" + r.Start.String() + ", " + end + "]"
}

// DatePtr returns a pointer to d; handy for optional End values.
func DatePtr(d Date) *Date { return &d }
