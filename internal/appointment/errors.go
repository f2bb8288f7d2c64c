package appointment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/office-hours-scheduling/internal/schedule"
)

// Error classes reported by the engine. Callers branch on these with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("slot conflict")
	ErrInvalidState = errors.New("invalid state transition")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("store unavailable")

	ErrInvalidTimeRange = schedule.ErrInvalidTimeRange
)

var (
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
	ErrFacultyNotFound     = fmt.Errorf("faculty %w", ErrNotFound)
	ErrStudentNotFound     = fmt.Errorf("student %w", ErrNotFound)
)

// SlotConflictError names the blocking appointment a candidate slot overlaps.
type SlotConflictError struct {
	Slot          schedule.Slot
	AppointmentID uuid.UUID
}

func (e *SlotConflictError) Error() string {
	if e.AppointmentID == uuid.Nil {
		return fmt.Sprintf("slot %s is no longer available", e.Slot)
	}
	return fmt.Sprintf("slot %s overlaps appointment %s", e.Slot, e.AppointmentID)
}

func (e *SlotConflictError) Unwrap() error { return ErrConflict }

// isDomainError reports whether err already belongs to the engine taxonomy.
func isDomainError(err error) bool {
	for _, target := range []error{ErrNotFound, ErrForbidden, ErrConflict, ErrInvalidState, ErrInvalidInput, ErrInvalidTimeRange, ErrUnavailable} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
