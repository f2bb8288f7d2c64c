package appointment

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/office-hours-scheduling/internal/schedule"
)

type Status string

const (
	StatusPending             Status = "pending"
	StatusAccepted            Status = "accepted"
	StatusRescheduleRequested Status = "reschedule_requested"
	StatusRejected            Status = "rejected"
	StatusCancelled           Status = "cancelled"
	StatusCompleted           Status = "completed"
)

// blockingStatuses occupy a faculty slot. The Postgres filter and the
// partial indexes in schema.sql list the same set.
var blockingStatuses = []Status{StatusPending, StatusAccepted, StatusRescheduleRequested}

func (s Status) Blocking() bool {
	return slices.Contains(blockingStatuses, s)
}

func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusCompleted:
		return true
	default:
		return false
	}
}

type Role string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
)

type User struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID          uuid.UUID
	StudentID   uuid.UUID
	FacultyID   uuid.UUID
	Title       string
	Description *string
	Location    *string

	Date            schedule.Date
	StartTime       schedule.Clock
	EndTime         schedule.Clock
	DurationMinutes int

	Status Status

	// RescheduleFrom holds the agreed slot while a reschedule is in flight.
	RescheduleFrom         *schedule.Slot
	FacultyResponseMessage *string
	CancelReason           *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Appointment) Slot() schedule.Slot {
	return schedule.Slot{
		Date:      a.Date,
		TimeRange: schedule.TimeRange{Start: a.StartTime, End: a.EndTime},
	}
}

func (a *Appointment) setSlot(s schedule.Slot) {
	a.Date = s.Date
	a.StartTime = s.Start
	a.EndTime = s.End
	a.DurationMinutes = s.Minutes()
}

// occupied lists the slots a blocking appointment holds. During a reschedule
// both the proposed slot and the agreed one it may revert to are held.
func (a *Appointment) occupied() []schedule.Slot {
	if !a.Status.Blocking() {
		return nil
	}
	slots := []schedule.Slot{a.Slot()}
	if a.Status == StatusRescheduleRequested && a.RescheduleFrom != nil {
		slots = append(slots, *a.RescheduleFrom)
	}
	return slots
}

// party reports which side of the appointment userID is on.
func (a *Appointment) party(userID uuid.UUID) (Role, bool) {
	switch userID {
	case a.StudentID:
		return RoleStudent, true
	case a.FacultyID:
		return RoleFaculty, true
	default:
		return "", false
	}
}

// counterparty returns the other side of the appointment from userID.
func (a *Appointment) counterparty(userID uuid.UUID) uuid.UUID {
	if userID == a.StudentID {
		return a.FacultyID
	}
	return a.StudentID
}

func (a *Appointment) clone() *Appointment {
	c := *a
	if a.RescheduleFrom != nil {
		from := *a.RescheduleFrom
		c.RescheduleFrom = &from
	}
	return &c
}
