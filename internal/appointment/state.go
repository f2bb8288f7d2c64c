package appointment

import (
	"fmt"

	"github.com/google/uuid"
)

type Action string

const (
	ActionCreate            Action = "create"
	ActionAccept            Action = "accept"
	ActionReject            Action = "reject"
	ActionRequestReschedule Action = "request_reschedule"
	ActionApproveReschedule Action = "approve_reschedule"
	ActionRejectReschedule  Action = "reject_reschedule"
	ActionCancel            Action = "cancel"
	ActionComplete          Action = "complete"
)

// NextStatus returns the status an appointment in from moves to under
// action, or ErrInvalidState when the lifecycle does not allow it.
// Terminal statuses have no outgoing transitions.
func NextStatus(from Status, action Action) (Status, error) {
	next, ok := nextStatus(from, action)
	if !ok {
		return "", fmt.Errorf("%w: cannot %s an appointment that is %s", ErrInvalidState, action, from)
	}
	return next, nil
}

func nextStatus(from Status, action Action) (Status, bool) {
	switch action {
	case ActionAccept:
		return StatusAccepted, from == StatusPending
	case ActionReject:
		return StatusRejected, from == StatusPending
	case ActionRequestReschedule:
		return StatusRescheduleRequested, from == StatusAccepted
	case ActionApproveReschedule, ActionRejectReschedule:
		return StatusAccepted, from == StatusRescheduleRequested
	case ActionCancel:
		return StatusCancelled, from == StatusPending || from == StatusAccepted || from == StatusRescheduleRequested
	case ActionComplete:
		return StatusCompleted, from == StatusAccepted
	case ActionCreate:
		return StatusPending, from == ""
	default:
		return "", false
	}
}

// requiredParty is who may perform action on an existing appointment. An
// empty role means either party.
func requiredParty(action Action) Role {
	switch action {
	case ActionAccept, ActionReject, ActionApproveReschedule, ActionRejectReschedule, ActionComplete:
		return RoleFaculty
	case ActionRequestReschedule, ActionCreate:
		return RoleStudent
	default:
		return ""
	}
}

// Authorize is the single ownership check for every action on an existing
// appointment.
func Authorize(actorID uuid.UUID, a *Appointment, action Action) error {
	role, ok := a.party(actorID)
	if !ok {
		return fmt.Errorf("%w: user %s is not a party to appointment %s", ErrForbidden, actorID, a.ID)
	}
	if want := requiredParty(action); want != "" && want != role {
		return fmt.Errorf("%w: only the %s may %s this appointment", ErrForbidden, want, action)
	}
	return nil
}
