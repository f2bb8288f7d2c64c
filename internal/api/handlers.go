package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/office-hours-scheduling/internal/appointment"
	"github.com/hackgods/office-hours-scheduling/internal/availability"
	"github.com/hackgods/office-hours-scheduling/internal/schedule"
)

// Service is the slice of the scheduling engine the HTTP adapter drives.
type Service interface {
	CreateAppointment(ctx context.Context, actorID uuid.UUID, req appointment.CreateRequest) (*appointment.Appointment, error)
	AcceptAppointment(ctx context.Context, actorID, id uuid.UUID) (*appointment.Appointment, error)
	RejectAppointment(ctx context.Context, actorID, id uuid.UUID, message *string) (*appointment.Appointment, error)
	RequestReschedule(ctx context.Context, actorID, id uuid.UUID, req appointment.RescheduleRequest) (*appointment.Appointment, error)
	ApproveReschedule(ctx context.Context, actorID, id uuid.UUID) (*appointment.Appointment, error)
	RejectReschedule(ctx context.Context, actorID, id uuid.UUID) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, actorID, id uuid.UUID, reason *string) (*appointment.Appointment, error)
	CompleteAppointment(ctx context.Context, actorID, id uuid.UUID) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, actorID, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, actorID uuid.UUID, role appointment.Role, limit, offset int) ([]appointment.Appointment, error)
	SuggestSlots(ctx context.Context, facultyID uuid.UUID, date schedule.Date, durationMinutes int) ([]schedule.Slot, error)
	GetAvailability(ctx context.Context, facultyID uuid.UUID) (availability.WeekTemplate, error)
	ReplaceAvailability(ctx context.Context, actorID, facultyID uuid.UUID, tpl availability.WeekTemplate) (availability.WeekTemplate, error)
}

func createAppointmentHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}

		facultyID, err := uuid.Parse(req.FacultyID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_faculty_id", "faculty_id must be a valid UUID")
			return
		}
		slot, err := parseSlot(req.Date, req.StartTime, req.EndTime)
		if err != nil {
			writeServiceError(w, r, err, nil)
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), actorFromContext(r.Context()), appointment.CreateRequest{
			FacultyID:       facultyID,
			Title:           req.Title,
			Description:     req.Description,
			Location:        req.Location,
			Date:            slot.Date,
			StartTime:       slot.Start,
			EndTime:         slot.End,
			DurationMinutes: req.DurationMinutes,
		})
		if err != nil {
			writeServiceError(w, r, err, conflictSuggestions(r, svc, err, facultyID, slot))
			return
		}

		writeJSON(w, http.StatusCreated, newAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), actorFromContext(r.Context()), id)
		if err != nil {
			writeServiceError(w, r, err, nil)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		role := appointment.Role(q.Get("role"))
		if role == "" {
			role = appointment.RoleStudent
		}
		limit, err := queryInt(q.Get("limit"), 20)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
		offset, err := queryInt(q.Get("offset"), 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be an integer")
			return
		}

		appts, err := svc.ListAppointments(r.Context(), actorFromContext(r.Context()), role, limit, offset)
		if err != nil {
			writeServiceError(w, r, err, nil)
			return
		}

		items := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			items = append(items, newAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, AppointmentListResponse{Items: items, Limit: limit, Offset: offset})
	}
}

// transitionHandler serves the body-less state transitions.
func transitionHandler(apply func(ctx context.Context, actorID, id uuid.UUID) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := apply(r.Context(), actorFromContext(r.Context()), id)
		if err != nil {
			writeServiceError(w, r, err, nil)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func rejectAppointmentHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req RejectAppointmentRequest
		if !decodeJSON(w, r, &req, true) {
			return
		}

		appt, err := svc.RejectAppointment(r.Context(), actorFromContext(r.Context()), id, req.Message)
		if err != nil {
			writeServiceError(w, r, err, nil)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req CancelAppointmentRequest
		if !decodeJSON(w, r, &req, true) {
			return
		}

		appt, err := svc.CancelAppointment(r.Context(), actorFromContext(r.Context()), id, req.Reason)
		if err != nil {
			writeServiceError(w, r, err, nil)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func requestRescheduleHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req RescheduleAppointmentRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}
		slot, err := parseSlot(req.Date, req.StartTime, req.EndTime)
		if err != nil {
			writeServiceError(w, r, err, nil)
			return
		}

		actorID := actorFromContext(r.Context())
		appt, err := svc.RequestReschedule(r.Context(), actorID, id, appointment.RescheduleRequest{
			Date:      slot.Date,
			StartTime: slot.Start,
			EndTime:   slot.End,
		})
		if err != nil {
			var suggestions []schedule.Slot
			if errors.Is(err, appointment.ErrConflict) {
				if current, getErr := svc.GetAppointment(r.Context(), actorID, id); getErr == nil {
					suggestions = conflictSuggestions(r, svc, err, current.FacultyID, slot)
				}
			}
			writeServiceError(w, r, err, suggestions)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func getAvailabilityHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		facultyID, ok := facultyIDParam(w, r)
		if !ok {
			return
		}

		tpl, err := svc.GetAvailability(r.Context(), facultyID)
		if err != nil {
			writeServiceError(w, r, err, nil)
			return
		}

		writeJSON(w, http.StatusOK, tpl)
	}
}

func replaceAvailabilityHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		facultyID, ok := facultyIDParam(w, r)
		if !ok {
			return
		}
		var tpl availability.WeekTemplate
		if !decodeJSON(w, r, &tpl, false) {
			return
		}

		saved, err := svc.ReplaceAvailability(r.Context(), actorFromContext(r.Context()), facultyID, tpl)
		if err != nil {
			writeServiceError(w, r, err, nil)
			return
		}

		writeJSON(w, http.StatusOK, saved)
	}
}

func suggestSlotsHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		facultyID, ok := facultyIDParam(w, r)
		if !ok {
			return
		}
		date, err := schedule.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeServiceError(w, r, err, nil)
			return
		}
		duration, err := queryInt(r.URL.Query().Get("duration"), 30)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be an integer number of minutes")
			return
		}

		slots, err := svc.SuggestSlots(r.Context(), facultyID, date, duration)
		if err != nil {
			writeServiceError(w, r, err, nil)
			return
		}

		writeJSON(w, http.StatusOK, SlotSuggestionsResponse{
			FacultyID:       facultyID,
			Date:            date.String(),
			DurationMinutes: duration,
			Slots:           newSlotResponses(slots),
		})
	}
}

// conflictSuggestions looks up alternative free slots of the same length on
// the same day. Failures are logged and yield no suggestions.
func conflictSuggestions(r *http.Request, svc Service, err error, facultyID uuid.UUID, slot schedule.Slot) []schedule.Slot {
	if !errors.Is(err, appointment.ErrConflict) {
		return nil
	}
	slots, sugErr := svc.SuggestSlots(r.Context(), facultyID, slot.Date, slot.Minutes())
	if sugErr != nil {
		zerolog.Ctx(r.Context()).Warn().Err(sugErr).Str("faculty_id", facultyID.String()).Msg("slot suggestions unavailable")
		return nil
	}
	return slots
}

func parseSlot(date, start, end string) (schedule.Slot, error) {
	d, err := schedule.ParseDate(date)
	if err != nil {
		return schedule.Slot{}, err
	}
	s, err := schedule.ParseClock(start)
	if err != nil {
		return schedule.Slot{}, err
	}
	e, err := schedule.ParseClock(end)
	if err != nil {
		return schedule.Slot{}, err
	}
	return schedule.Slot{Date: d, TimeRange: schedule.TimeRange{Start: s, End: e}}, nil
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func facultyIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "facultyID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_faculty_id", "faculty id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
