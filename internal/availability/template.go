// Package availability stores each faculty member's declared weekly
// template. The template is advisory: it feeds slot suggestions shown to
// students and is never consulted for conflict detection.
package availability

import (
	"fmt"
	"sort"
	"time"

	"github.com/hackgods/office-hours-scheduling/internal/schedule"
)

// WeekTemplate is one faculty member's recurring week. Days absent from the
// template have no declared availability.
type WeekTemplate struct {
	Days []DaySchedule `json:"days"`
}

// DaySchedule is the availability for one weekday (0 = Sunday .. 6 = Saturday).
type DaySchedule struct {
	Day    int                  `json:"day"`
	Slots  []schedule.TimeRange `json:"slots"`
	Breaks []Break              `json:"breaks"`
}

type Break struct {
	schedule.TimeRange
	Label string `json:"label,omitempty"`
}

// Validate checks weekday bounds, duplicate weekdays, every range, and that
// no two slots of one day overlap.
func (w WeekTemplate) Validate() error {
	seen := make(map[int]bool, len(w.Days))
	for _, d := range w.Days {
		if d.Day < 0 || d.Day > 6 {
			return fmt.Errorf("%w: day %d must be 0..6", schedule.ErrInvalidTimeRange, d.Day)
		}
		if seen[d.Day] {
			return fmt.Errorf("%w: day %d declared twice", schedule.ErrInvalidTimeRange, d.Day)
		}
		seen[d.Day] = true

		for i, s := range d.Slots {
			if err := s.Validate(); err != nil {
				return fmt.Errorf("day %d slot: %w", d.Day, err)
			}
			for _, prev := range d.Slots[:i] {
				if s.Overlaps(prev) {
					return fmt.Errorf("%w: day %d slots %s and %s overlap", schedule.ErrInvalidTimeRange, d.Day, prev, s)
				}
			}
		}
		for _, b := range d.Breaks {
			if err := b.Validate(); err != nil {
				return fmt.Errorf("day %d break: %w", d.Day, err)
			}
		}
	}
	return nil
}

// Normalized returns a copy sorted by weekday with slots and breaks sorted by
// start, and nil lists replaced by empty ones.
func (w WeekTemplate) Normalized() WeekTemplate {
	out := WeekTemplate{Days: make([]DaySchedule, 0, len(w.Days))}
	for _, d := range w.Days {
		nd := DaySchedule{
			Day:    d.Day,
			Slots:  append([]schedule.TimeRange{}, d.Slots...),
			Breaks: append([]Break{}, d.Breaks...),
		}
		sort.Slice(nd.Slots, func(i, j int) bool { return nd.Slots[i].Start < nd.Slots[j].Start })
		sort.Slice(nd.Breaks, func(i, j int) bool { return nd.Breaks[i].Start < nd.Breaks[j].Start })
		out.Days = append(out.Days, nd)
	}
	sort.Slice(out.Days, func(i, j int) bool { return out.Days[i].Day < out.Days[j].Day })
	return out
}

// ForWeekday returns the schedule declared for wd, or an empty one.
func (w WeekTemplate) ForWeekday(wd time.Weekday) DaySchedule {
	for _, d := range w.Days {
		if d.Day == int(wd) {
			return d
		}
	}
	return DaySchedule{Day: int(wd)}
}
