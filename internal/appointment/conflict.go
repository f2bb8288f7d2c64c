package appointment

import (
	"github.com/google/uuid"

	"github.com/hackgods/office-hours-scheduling/internal/schedule"
)

// FindConflict returns the first appointment in existing, other than
// excludeID, that holds a slot overlapping candidate. It is a linear scan
// over one faculty member's day, which stays small at slot granularity.
func FindConflict(candidate schedule.Slot, existing []Appointment, excludeID uuid.UUID) *Appointment {
	for i := range existing {
		a := &existing[i]
		if a.ID == excludeID {
			continue
		}
		for _, held := range a.occupied() {
			if held.Date == candidate.Date && held.Overlaps(candidate.TimeRange) {
				return a
			}
		}
	}
	return nil
}

// busyRanges flattens the slots held on date into time ranges.
func busyRanges(date schedule.Date, existing []Appointment) []schedule.TimeRange {
	var out []schedule.TimeRange
	for i := range existing {
		for _, held := range existing[i].occupied() {
			if held.Date == date {
				out = append(out, held.TimeRange)
			}
		}
	}
	return out
}
