// Package schedule holds the calendar primitives shared by availability
// templates and appointments: a calendar Date, a wall-clock Clock and the
// half-open TimeRange overlap test.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTimeRange reports a malformed date or time window, a start that
// is not before the end, or a slot that already lies in the past.
var ErrInvalidTimeRange = errors.New("invalid time range")

const dateLayout = "2006-01-02"

// Date is a calendar day with no time-of-day or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidTimeRange, s)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) IsZero() bool { return d == Date{} }

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) Weekday() time.Weekday { return d.In(time.UTC).Weekday() }

func (d Date) AddDays(n int) Date { return DateOf(d.In(time.UTC).AddDate(0, 0, n)) }

func (d Date) Before(o Date) bool { return d.In(time.UTC).Before(o.In(time.UTC)) }

func (d Date) String() string { return d.In(time.UTC).Format(dateLayout) }

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Clock is a wall-clock time of day in minutes since midnight.
type Clock int

const minutesPerDay = 24 * 60

// ParseClock parses "HH:MM" (24-hour).
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidTimeRange, s)
	}
	h, errH := strconv.Atoi(hh)
	m, errM := strconv.Atoi(mm)
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: time %q out of range", ErrInvalidTimeRange, s)
	}
	return Clock(h*60 + m), nil
}

func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) Valid() bool { return c >= 0 && c < minutesPerDay }

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60) }

func (c Clock) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// TimeRange is the half-open interval [Start, End) within one day.
type TimeRange struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

// Validate requires Start < End, both within the same day.
func (r TimeRange) Validate() error {
	if !r.Start.Valid() || !r.End.Valid() {
		return fmt.Errorf("%w: times must fall within one day", ErrInvalidTimeRange)
	}
	if r.Start >= r.End {
		return fmt.Errorf("%w: start %s must be before end %s", ErrInvalidTimeRange, r.Start, r.End)
	}
	return nil
}

// Overlaps reports whether the half-open ranges intersect. Ranges that only
// touch (r.End == o.Start) do not overlap.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return !(r.End <= o.Start || r.Start >= o.End)
}

func (r TimeRange) Contains(o TimeRange) bool {
	return r.Start <= o.Start && o.End <= r.End
}

func (r TimeRange) Minutes() int { return int(r.End - r.Start) }

func (r TimeRange) String() string { return r.Start.String() + "-" + r.End.String() }

// Slot is a time range on a specific calendar day.
type Slot struct {
	Date Date `json:"date"`
	TimeRange
}

// StartsAt is the absolute instant the slot begins in loc.
func (s Slot) StartsAt(loc *time.Location) time.Time {
	return time.Date(s.Date.Year, s.Date.Month, s.Date.Day, int(s.Start)/60, int(s.Start)%60, 0, 0, loc)
}

// NotBefore rejects slots that start at or before now.
func (s Slot) NotBefore(now time.Time, loc *time.Location) error {
	if !s.StartsAt(loc).After(now) {
		return fmt.Errorf("%w: slot %s %s is in the past", ErrInvalidTimeRange, s.Date, s.TimeRange)
	}
	return nil
}

func (s Slot) String() string { return s.Date.String() + " " + s.TimeRange.String() }
