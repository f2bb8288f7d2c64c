package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/office-hours-scheduling/internal/availability"
	"github.com/hackgods/office-hours-scheduling/internal/metrics"
	"github.com/hackgods/office-hours-scheduling/internal/notify"
	redisclient "github.com/hackgods/office-hours-scheduling/internal/redis"
	"github.com/hackgods/office-hours-scheduling/internal/schedule"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type Options struct {
	Location *time.Location // campus wall-clock zone, UTC when nil
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	Now      func() time.Time
}

type Service struct {
	repo         Repository
	availability availability.Store
	locker       redisclient.Locker
	notifier     notify.Notifier
	metrics      *metrics.Metrics
	logger       zerolog.Logger
	loc          *time.Location
	now          func() time.Time
}

func NewService(repo Repository, avail availability.Store, locker redisclient.Locker, notifier notify.Notifier, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Service{
		repo:         repo,
		availability: avail,
		locker:       locker,
		notifier:     notifier,
		metrics:      opts.Metrics,
		logger:       opts.Logger.With().Str("component", "appointment_engine").Logger(),
		loc:          opts.Location,
		now:          opts.Now,
	}
}

type CreateRequest struct {
	FacultyID       uuid.UUID
	Title           string
	Description     *string
	Location        *string
	Date            schedule.Date
	StartTime       schedule.Clock
	EndTime         schedule.Clock
	DurationMinutes int // zero derives it from the window
}

type RescheduleRequest struct {
	Date      schedule.Date
	StartTime schedule.Clock
	EndTime   schedule.Clock
}

func (r RescheduleRequest) slot() schedule.Slot {
	return schedule.Slot{Date: r.Date, TimeRange: schedule.TimeRange{Start: r.StartTime, End: r.EndTime}}
}

// validateSlot checks the window shape and that it has not started yet.
func (s *Service) validateSlot(slot schedule.Slot) error {
	if slot.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidTimeRange)
	}
	if err := slot.Validate(); err != nil {
		return err
	}
	return slot.NotBefore(s.now(), s.loc)
}

// CreateAppointment books a pending appointment for the acting student. The
// overlap check and the insert run in one unit of work under the faculty's
// schedule lock.
func (s *Service) CreateAppointment(ctx context.Context, actorID uuid.UUID, req CreateRequest) (appt *Appointment, err error) {
	started := time.Now()
	defer func() { s.observe(ActionCreate, started, err) }()

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	slot := schedule.Slot{Date: req.Date, TimeRange: schedule.TimeRange{Start: req.StartTime, End: req.EndTime}}
	if err := s.validateSlot(slot); err != nil {
		return nil, err
	}
	if req.DurationMinutes != 0 && req.DurationMinutes != slot.Minutes() {
		return nil, fmt.Errorf("%w: duration %d does not match %s", ErrInvalidTimeRange, req.DurationMinutes, slot.TimeRange)
	}

	student, err := s.repo.GetUserByID(ctx, actorID)
	if err != nil {
		return nil, userLookupError(err, ErrStudentNotFound)
	}
	if student.Role != RoleStudent {
		return nil, fmt.Errorf("%w: only students can book appointments", ErrForbidden)
	}
	if err := s.requireFaculty(ctx, req.FacultyID); err != nil {
		return nil, err
	}

	candidate := &Appointment{
		ID:          uuid.New(),
		StudentID:   student.ID,
		FacultyID:   req.FacultyID,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Status:      StatusPending,
	}
	candidate.setSlot(slot)

	err = s.withScheduleLock(ctx, req.FacultyID, slot.Date, func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := tx.LockFaculty(ctx, req.FacultyID); err != nil {
				return err
			}
			if err := s.checkOverlap(ctx, tx, ActionCreate, candidate); err != nil {
				return err
			}
			if err := tx.InsertAppointment(ctx, candidate); err != nil {
				return err
			}
			s.notify(ctx, notify.Notification{
				UserID:        candidate.FacultyID,
				Type:          notify.TypeAppointmentRequested,
				Message:       fmt.Sprintf("New appointment request %q for %s", candidate.Title, slot),
				AppointmentID: candidate.ID,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", candidate.ID.String()).
		Str("student_id", candidate.StudentID.String()).
		Str("faculty_id", candidate.FacultyID.String()).
		Str("slot", slot.String()).
		Msg("appointment requested")

	return candidate, nil
}

func (s *Service) AcceptAppointment(ctx context.Context, actorID, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, actorID, id, ActionAccept, nil, func(a *Appointment) notify.Notification {
		return notify.Notification{
			UserID:  a.StudentID,
			Type:    notify.TypeAppointmentAccepted,
			Message: fmt.Sprintf("Your appointment %q on %s was accepted", a.Title, a.Slot()),
		}
	})
}

func (s *Service) RejectAppointment(ctx context.Context, actorID, id uuid.UUID, message *string) (*Appointment, error) {
	return s.transition(ctx, actorID, id, ActionReject, nil, func(a *Appointment) notify.Notification {
		a.FacultyResponseMessage = trimmed(message)
		msg := fmt.Sprintf("Your appointment %q on %s was declined", a.Title, a.Slot())
		if a.FacultyResponseMessage != nil {
			msg += ": " + *a.FacultyResponseMessage
		}
		return notify.Notification{UserID: a.StudentID, Type: notify.TypeAppointmentRejected, Message: msg}
	})
}

// RequestReschedule moves an accepted appointment to a proposed slot and
// keeps the agreed slot in RescheduleFrom until the faculty decides.
func (s *Service) RequestReschedule(ctx context.Context, actorID, id uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	proposed := req.slot()
	return s.transition(ctx, actorID, id, ActionRequestReschedule, &proposed, func(a *Appointment) notify.Notification {
		agreed := a.Slot()
		a.RescheduleFrom = &agreed
		a.setSlot(proposed)
		return notify.Notification{
			UserID:  a.FacultyID,
			Type:    notify.TypeRescheduleRequested,
			Message: fmt.Sprintf("Reschedule requested for %q: %s -> %s", a.Title, agreed, proposed),
		}
	})
}

func (s *Service) ApproveReschedule(ctx context.Context, actorID, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, actorID, id, ActionApproveReschedule, nil, func(a *Appointment) notify.Notification {
		a.RescheduleFrom = nil
		return notify.Notification{
			UserID:  a.StudentID,
			Type:    notify.TypeRescheduleApproved,
			Message: fmt.Sprintf("Your appointment %q is now on %s", a.Title, a.Slot()),
		}
	})
}

func (s *Service) RejectReschedule(ctx context.Context, actorID, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, actorID, id, ActionRejectReschedule, nil, func(a *Appointment) notify.Notification {
		a.restoreAgreedSlot()
		return notify.Notification{
			UserID:  a.StudentID,
			Type:    notify.TypeRescheduleRejected,
			Message: fmt.Sprintf("Reschedule declined; %q stays on %s", a.Title, a.Slot()),
		}
	})
}

// CancelAppointment lets either party cancel. A reschedule still in flight
// is dropped and the agreed slot is kept on record.
func (s *Service) CancelAppointment(ctx context.Context, actorID, id uuid.UUID, reason *string) (*Appointment, error) {
	return s.transition(ctx, actorID, id, ActionCancel, nil, func(a *Appointment) notify.Notification {
		a.restoreAgreedSlot()
		a.CancelReason = trimmed(reason)
		msg := fmt.Sprintf("Appointment %q on %s was cancelled", a.Title, a.Slot())
		if a.CancelReason != nil {
			msg += ": " + *a.CancelReason
		}
		return notify.Notification{UserID: a.counterparty(actorID), Type: notify.TypeAppointmentCancelled, Message: msg}
	})
}

func (s *Service) CompleteAppointment(ctx context.Context, actorID, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, actorID, id, ActionComplete, nil, func(a *Appointment) notify.Notification {
		return notify.Notification{
			UserID:  a.StudentID,
			Type:    notify.TypeAppointmentCompleted,
			Message: fmt.Sprintf("Appointment %q on %s was marked completed", a.Title, a.Slot()),
		}
	})
}

func (a *Appointment) restoreAgreedSlot() {
	if a.RescheduleFrom != nil {
		a.setSlot(*a.RescheduleFrom)
		a.RescheduleFrom = nil
	}
}

// transition applies action to an existing appointment in one unit of work:
// lock, reload, authorise, advance the state, re-check overlap when the
// resulting status blocks a slot, persist, and queue the notification.
// target is the slot the action claims, if any: it is validated once the
// actor and status are known to permit the action, and its day selects the
// schedule lock. nil means the appointment's current day.
func (s *Service) transition(
	ctx context.Context,
	actorID, id uuid.UUID,
	action Action,
	target *schedule.Slot,
	apply func(a *Appointment) notify.Notification,
) (result *Appointment, err error) {
	started := time.Now()
	defer func() { s.observe(action, started, err) }()

	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actorID, current, action); err != nil {
		return nil, err
	}
	if _, err := NextStatus(current.Status, action); err != nil {
		return nil, err
	}

	day := current.Date
	if target != nil {
		if err := s.validateSlot(*target); err != nil {
			return nil, err
		}
		day = target.Date
	}

	var from Status
	err = s.withScheduleLock(ctx, current.FacultyID, day, func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := tx.LockFaculty(ctx, current.FacultyID); err != nil {
				return err
			}
			a, err := tx.GetAppointmentForUpdate(ctx, id)
			if err != nil {
				return err
			}
			from = a.Status

			next, err := NextStatus(a.Status, action)
			if err != nil {
				return err
			}

			n := apply(a)
			a.Status = next

			if needsOverlapCheck(action) {
				if err := s.checkOverlap(ctx, tx, action, a); err != nil {
					return err
				}
			}

			if err := tx.UpdateAppointment(ctx, a); err != nil {
				return err
			}

			n.AppointmentID = a.ID
			s.notify(ctx, n)
			result = a
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("actor_id", actorID.String()).
		Str("action", string(action)).
		Str("from", string(from)).
		Str("to", string(result.Status)).
		Msg("appointment transition")

	return result, nil
}

// needsOverlapCheck lists the actions that claim a slot not already held.
func needsOverlapCheck(action Action) bool {
	switch action {
	case ActionCreate, ActionAccept, ActionRequestReschedule:
		return true
	default:
		return false
	}
}

func (s *Service) checkOverlap(ctx context.Context, tx Tx, action Action, a *Appointment) error {
	existing, err := tx.ListBlocking(ctx, a.FacultyID, a.Date)
	if err != nil {
		return err
	}
	if hit := FindConflict(a.Slot(), existing, a.ID); hit != nil {
		s.metrics.IncConflict(string(action))
		s.logger.Warn().
			Str("action", string(action)).
			Str("faculty_id", a.FacultyID.String()).
			Str("slot", a.Slot().String()).
			Str("conflicts_with", hit.ID.String()).
			Msg("slot conflict")
		return &SlotConflictError{Slot: a.Slot(), AppointmentID: hit.ID}
	}
	return nil
}

func (s *Service) withScheduleLock(ctx context.Context, facultyID uuid.UUID, day schedule.Date, fn func(ctx context.Context) error) error {
	err := s.locker.WithScheduleLock(ctx, facultyID, day.String(), fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return fmt.Errorf("%w: schedule for %s is busy, retry shortly", ErrUnavailable, day)
	}
	if err != nil && !isDomainError(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// notify is best effort: a failure is logged and counted but never undoes
// the transition.
func (s *Service) notify(ctx context.Context, n notify.Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.metrics.IncNotificationFailure()
		s.logger.Error().
			Err(err).
			Str("user_id", n.UserID.String()).
			Str("type", string(n.Type)).
			Str("appointment_id", n.AppointmentID.String()).
			Msg("failed to enqueue notification")
	}
}

func (s *Service) observe(action Action, started time.Time, err error) {
	s.metrics.ObserveTransition(string(action), outcome(err), started)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidTimeRange):
		return "invalid_input"
	default:
		return "unavailable"
	}
}

// GetAppointment returns an appointment to one of its parties.
func (s *Service) GetAppointment(ctx context.Context, actorID, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := a.party(actorID); !ok {
		return nil, fmt.Errorf("%w: user %s is not a party to appointment %s", ErrForbidden, actorID, id)
	}
	return a, nil
}

// ListAppointments lists the actor's appointments as student or faculty.
func (s *Service) ListAppointments(ctx context.Context, actorID uuid.UUID, role Role, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	var (
		out []Appointment
		err error
	)
	switch role {
	case RoleStudent:
		out, err = s.repo.ListAppointmentsByStudent(ctx, actorID, limit, offset)
	case RoleFaculty:
		out, err = s.repo.ListAppointmentsByFaculty(ctx, actorID, limit, offset)
	default:
		return nil, fmt.Errorf("%w: role must be student or faculty", ErrInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	if out == nil {
		out = []Appointment{}
	}
	return out, nil
}

// SuggestSlots proposes free windows of durationMinutes on date from the
// faculty's availability template. The result is a hint; booking still runs
// the overlap check.
func (s *Service) SuggestSlots(ctx context.Context, facultyID uuid.UUID, date schedule.Date, durationMinutes int) ([]schedule.Slot, error) {
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidTimeRange)
	}
	if err := s.requireFaculty(ctx, facultyID); err != nil {
		return nil, err
	}

	now := s.now().In(s.loc)
	today := schedule.DateOf(now)
	if date.Before(today) {
		return []schedule.Slot{}, nil
	}
	earliest := schedule.Clock(0)
	if date == today {
		earliest = schedule.Clock(now.Hour()*60 + now.Minute() + 1)
	}

	tpl, err := s.availability.Get(ctx, facultyID)
	if err != nil {
		return nil, storeError("load availability", err)
	}
	existing, err := s.repo.ListBlocking(ctx, facultyID, date)
	if err != nil {
		return nil, storeError("load faculty schedule", err)
	}

	free := availability.FreeSlots(tpl.ForWeekday(date.Weekday()), busyRanges(date, existing), durationMinutes, earliest)
	out := make([]schedule.Slot, 0, len(free))
	for _, r := range free {
		out = append(out, schedule.Slot{Date: date, TimeRange: r})
	}
	return out, nil
}

func (s *Service) GetAvailability(ctx context.Context, facultyID uuid.UUID) (availability.WeekTemplate, error) {
	if err := s.requireFaculty(ctx, facultyID); err != nil {
		return availability.WeekTemplate{}, err
	}
	tpl, err := s.availability.Get(ctx, facultyID)
	if err != nil {
		return availability.WeekTemplate{}, storeError("load availability", err)
	}
	return tpl, nil
}

// ReplaceAvailability overwrites the template; only its owner may do so.
func (s *Service) ReplaceAvailability(ctx context.Context, actorID, facultyID uuid.UUID, tpl availability.WeekTemplate) (availability.WeekTemplate, error) {
	if actorID != facultyID {
		return availability.WeekTemplate{}, fmt.Errorf("%w: availability can only be changed by its owner", ErrForbidden)
	}
	if err := s.requireFaculty(ctx, facultyID); err != nil {
		return availability.WeekTemplate{}, err
	}
	saved, err := s.availability.Replace(ctx, facultyID, tpl)
	if err != nil {
		return availability.WeekTemplate{}, storeError("replace availability", err)
	}
	s.logger.Info().Str("faculty_id", facultyID.String()).Int("days", len(saved.Days)).Msg("availability replaced")
	return saved, nil
}

func (s *Service) requireFaculty(ctx context.Context, facultyID uuid.UUID) error {
	u, err := s.repo.GetUserByID(ctx, facultyID)
	if err != nil {
		return userLookupError(err, ErrFacultyNotFound)
	}
	if u.Role != RoleFaculty {
		return ErrFacultyNotFound
	}
	return nil
}

// storeError keeps engine errors and reports any other store failure as
// Unavailable.
func storeError(op string, err error) error {
	if isDomainError(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func userLookupError(err, notFound error) error {
	if errors.Is(err, ErrNotFound) {
		return notFound
	}
	return fmt.Errorf("load user: %w", err)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
