package appointment

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/office-hours-scheduling/internal/schedule"
)

// Repository contains all store interactions needed by the service.
type Repository interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	ListAppointmentsByStudent(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAppointmentsByFaculty(ctx context.Context, facultyID uuid.UUID, limit, offset int) ([]Appointment, error)

	// ListBlocking returns the faculty's blocking appointments that hold a
	// slot on date, including reschedules whose agreed slot is on date.
	ListBlocking(ctx context.Context, facultyID uuid.UUID, date schedule.Date) ([]Appointment, error)

	// WithinTx runs fn as one atomic unit. Either every write fn makes
	// commits or none does; store failures surface as ErrUnavailable and
	// lost races as ErrConflict.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional view used by lifecycle transitions.
type Tx interface {
	// LockFaculty serialises writers for one faculty until the unit ends.
	LockFaculty(ctx context.Context, facultyID uuid.UUID) error
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListBlocking(ctx context.Context, facultyID uuid.UUID, date schedule.Date) ([]Appointment, error)
	InsertAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointment(ctx context.Context, a *Appointment) error
}
