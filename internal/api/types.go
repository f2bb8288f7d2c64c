package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/office-hours-scheduling/internal/appointment"
	"github.com/hackgods/office-hours-scheduling/internal/schedule"
)

type CreateAppointmentRequest struct {
	FacultyID       string  `json:"faculty_id" validate:"required,uuid"`
	Title           string  `json:"title" validate:"required,max=200"`
	Description     *string `json:"description" validate:"omitempty,max=2000"`
	Location        *string `json:"location" validate:"omitempty,max=200"`
	Date            string  `json:"date" validate:"required"`
	StartTime       string  `json:"start_time" validate:"required"`
	EndTime         string  `json:"end_time" validate:"required"`
	DurationMinutes int     `json:"duration_minutes" validate:"gte=0,lte=1440"`
}

type RescheduleAppointmentRequest struct {
	Date      string `json:"date" validate:"required"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
}

type RejectAppointmentRequest struct {
	Message *string `json:"message" validate:"omitempty,max=1000"`
}

type CancelAppointmentRequest struct {
	Reason *string `json:"reason" validate:"omitempty,max=1000"`
}

type SlotResponse struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func newSlotResponse(s schedule.Slot) SlotResponse {
	return SlotResponse{Date: s.Date.String(), StartTime: s.Start.String(), EndTime: s.End.String()}
}

func newSlotResponses(slots []schedule.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, newSlotResponse(s))
	}
	return out
}

type AppointmentResponse struct {
	ID                     uuid.UUID     `json:"id"`
	StudentID              uuid.UUID     `json:"student_id"`
	FacultyID              uuid.UUID     `json:"faculty_id"`
	Title                  string        `json:"title"`
	Description            *string       `json:"description,omitempty"`
	Location               *string       `json:"location,omitempty"`
	Date                   string        `json:"date"`
	StartTime              string        `json:"start_time"`
	EndTime                string        `json:"end_time"`
	DurationMinutes        int           `json:"duration_minutes"`
	Status                 string        `json:"status"`
	RescheduleFrom         *SlotResponse `json:"reschedule_from,omitempty"`
	FacultyResponseMessage *string       `json:"faculty_response_message,omitempty"`
	CancelReason           *string       `json:"cancel_reason,omitempty"`
	CreatedAt              time.Time     `json:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at"`
}

func newAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:                     a.ID,
		StudentID:              a.StudentID,
		FacultyID:              a.FacultyID,
		Title:                  a.Title,
		Description:            a.Description,
		Location:               a.Location,
		Date:                   a.Date.String(),
		StartTime:              a.StartTime.String(),
		EndTime:                a.EndTime.String(),
		DurationMinutes:        a.DurationMinutes,
		Status:                 string(a.Status),
		FacultyResponseMessage: a.FacultyResponseMessage,
		CancelReason:           a.CancelReason,
		CreatedAt:              a.CreatedAt,
		UpdatedAt:              a.UpdatedAt,
	}
	if a.RescheduleFrom != nil {
		from := newSlotResponse(*a.RescheduleFrom)
		resp.RescheduleFrom = &from
	}
	return resp
}

type AppointmentListResponse struct {
	Items  []AppointmentResponse `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type SlotSuggestionsResponse struct {
	FacultyID       uuid.UUID      `json:"faculty_id"`
	Date            string         `json:"date"`
	DurationMinutes int            `json:"duration_minutes"`
	Slots           []SlotResponse `json:"slots"`
}

type ErrorResponse struct {
	Error       string         `json:"error"`
	Details     string         `json:"details,omitempty"`
	Suggestions []SlotResponse `json:"suggestions,omitempty"`
}
