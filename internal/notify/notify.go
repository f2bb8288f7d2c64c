// Package notify carries appointment events to the counterparty. The engine
// only calls the Notifier port; how a notification reaches the user (outbox
// relay, Redis pub/sub, anything else) is chosen when the service is wired.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeAppointmentRequested Type = "appointment_requested"
	TypeAppointmentAccepted  Type = "appointment_accepted"
	TypeAppointmentRejected  Type = "appointment_rejected"
	TypeAppointmentCancelled Type = "appointment_cancelled"
	TypeAppointmentCompleted Type = "appointment_completed"
	TypeRescheduleRequested  Type = "reschedule_requested"
	TypeRescheduleApproved   Type = "reschedule_approved"
	TypeRescheduleRejected   Type = "reschedule_rejected"
)

type Notification struct {
	UserID        uuid.UUID `json:"user_id"`
	Type          Type      `json:"type"`
	Message       string    `json:"message"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Notifier records that UserID should be told about an event. It is called
// synchronously from inside the engine's unit of work.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Publisher pushes a notification to a live transport.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(context.Context, Notification) error { return nil }
