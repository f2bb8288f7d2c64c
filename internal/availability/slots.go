package availability

import "github.com/hackgods/office-hours-scheduling/internal/schedule"

// FreeSlots returns back-to-back windows of durationMinutes inside the day's
// declared slots that avoid breaks and busy ranges and start no earlier than
// earliest. Windows are generated on a durationMinutes step from each slot's
// start.
func FreeSlots(day DaySchedule, busy []schedule.TimeRange, durationMinutes int, earliest schedule.Clock) []schedule.TimeRange {
	if durationMinutes <= 0 {
		return nil
	}

	blocked := make([]schedule.TimeRange, 0, len(busy)+len(day.Breaks))
	blocked = append(blocked, busy...)
	for _, b := range day.Breaks {
		blocked = append(blocked, b.TimeRange)
	}

	var out []schedule.TimeRange
	step := schedule.Clock(durationMinutes)
	for _, window := range day.Slots {
		for start := window.Start; start+step <= window.End; start += step {
			if start < earliest {
				continue
			}
			candidate := schedule.TimeRange{Start: start, End: start + step}
			if !overlapsAny(candidate, blocked) {
				out = append(out, candidate)
			}
		}
	}
	return out
}

func overlapsAny(r schedule.TimeRange, ranges []schedule.TimeRange) bool {
	for _, o := range ranges {
		if r.Overlaps(o) {
			return true
		}
	}
	return false
}
