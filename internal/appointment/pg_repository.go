package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/office-hours-scheduling/internal/db"
	"github.com/hackgods/office-hours-scheduling/internal/schedule"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `
	id, student_id, faculty_id, title, description, location,
	date, start_minute, end_minute, duration_minutes, status,
	reschedule_from_date, reschedule_from_start, reschedule_from_end,
	faculty_response_message, cancel_reason, created_at, updated_at`

var blockingFilter = statusInClause(blockingStatuses)

func statusInClause(statuses []Status) string {
	quoted := make([]string, len(statuses))
	for i, s := range statuses {
		quoted[i] = "'" + string(s) + "'"
	}
	return "status IN (" + strings.Join(quoted, ", ") + ")"
}

// Helpers

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string

	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&role,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.Role = Role(role)
	return &u, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a                  Appointment
		date               time.Time
		start, end         int16
		status             string
		fromDate           *time.Time
		fromStart, fromEnd *int16
	)

	err := row.Scan(
		&a.ID,
		&a.StudentID,
		&a.FacultyID,
		&a.Title,
		&a.Description,
		&a.Location,
		&date,
		&start,
		&end,
		&a.DurationMinutes,
		&status,
		&fromDate,
		&fromStart,
		&fromEnd,
		&a.FacultyResponseMessage,
		&a.CancelReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Date = schedule.DateOf(date)
	a.StartTime = schedule.Clock(start)
	a.EndTime = schedule.Clock(end)
	a.Status = Status(status)

	if fromDate != nil && fromStart != nil && fromEnd != nil {
		a.RescheduleFrom = &schedule.Slot{
			Date:      schedule.DateOf(*fromDate),
			TimeRange: schedule.TimeRange{Start: schedule.Clock(*fromStart), End: schedule.Clock(*fromEnd)},
		}
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// mapStoreError translates driver errors into the engine taxonomy and
// leaves errors that already belong to it untouched.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case isDomainError(err):
		return err
	case db.IsConflict(err):
		return fmt.Errorf("%w: concurrent write to the same faculty schedule", ErrConflict)
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func dateParam(d schedule.Date) time.Time { return d.In(time.UTC) }

// Interface methods

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, role, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	u, err := scanUser(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return nil, mapStoreError(err)
	}
	return u, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointmentOrNotFound(row)
}

func (r *PgRepository) ListAppointmentsByStudent(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE student_id = $1
		ORDER BY date DESC, start_minute DESC
		LIMIT $2 OFFSET $3
	`, studentID, limit, offset)
	if err != nil {
		return nil, mapStoreError(err)
	}
	out, err := collectAppointments(rows)
	return out, mapStoreError(err)
}

func (r *PgRepository) ListAppointmentsByFaculty(ctx context.Context, facultyID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE faculty_id = $1
		ORDER BY date DESC, start_minute DESC
		LIMIT $2 OFFSET $3
	`, facultyID, limit, offset)
	if err != nil {
		return nil, mapStoreError(err)
	}
	out, err := collectAppointments(rows)
	return out, mapStoreError(err)
}

func (r *PgRepository) ListBlocking(ctx context.Context, facultyID uuid.UUID, date schedule.Date) ([]Appointment, error) {
	out, err := listBlocking(ctx, r.pool, facultyID, date)
	return out, mapStoreError(err)
}

func (r *PgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := db.InTx(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
	return mapStoreError(err)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listBlocking(ctx context.Context, q querier, facultyID uuid.UUID, date schedule.Date) ([]Appointment, error) {
	rows, err := q.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE faculty_id = $1
		  AND `+blockingFilter+`
		  AND (date = $2 OR (status = 'reschedule_requested' AND reschedule_from_date = $2))
		ORDER BY start_minute
	`, facultyID, dateParam(date))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func scanAppointmentOrNotFound(row pgx.Row) (*Appointment, error) {
	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, mapStoreError(err)
	}
	return a, nil
}

// pgTx implements Tx on an open pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockFaculty(ctx context.Context, facultyID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, facultyID.String())
	if err != nil {
		return fmt.Errorf("lock faculty schedule: %w", err)
	}
	return nil
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointmentOrNotFound(row)
}

func (t *pgTx) ListBlocking(ctx context.Context, facultyID uuid.UUID, date schedule.Date) ([]Appointment, error) {
	return listBlocking(ctx, t.tx, facultyID, date)
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	fromDate, fromStart, fromEnd := rescheduleParams(a.RescheduleFrom)

	row := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (
			id, student_id, faculty_id, title, description, location,
			date, start_minute, end_minute, duration_minutes, status,
			reschedule_from_date, reschedule_from_start, reschedule_from_end,
			faculty_response_message, cancel_reason, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now(), now())
		RETURNING created_at, updated_at
	`, a.ID, a.StudentID, a.FacultyID, a.Title, a.Description, a.Location,
		dateParam(a.Date), int(a.StartTime), int(a.EndTime), a.DurationMinutes, string(a.Status),
		fromDate, fromStart, fromEnd,
		a.FacultyResponseMessage, a.CancelReason)

	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateAppointment(ctx context.Context, a *Appointment) error {
	fromDate, fromStart, fromEnd := rescheduleParams(a.RescheduleFrom)

	row := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET date = $2,
		    start_minute = $3,
		    end_minute = $4,
		    duration_minutes = $5,
		    status = $6,
		    reschedule_from_date = $7,
		    reschedule_from_start = $8,
		    reschedule_from_end = $9,
		    faculty_response_message = $10,
		    cancel_reason = $11,
		    updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, a.ID, dateParam(a.Date), int(a.StartTime), int(a.EndTime), a.DurationMinutes, string(a.Status),
		fromDate, fromStart, fromEnd, a.FacultyResponseMessage, a.CancelReason)

	if err := row.Scan(&a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAppointmentNotFound
		}
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

func rescheduleParams(from *schedule.Slot) (*time.Time, *int, *int) {
	if from == nil {
		return nil, nil, nil
	}
	d := dateParam(from.Date)
	start, end := int(from.Start), int(from.End)
	return &d, &start, &end
}
