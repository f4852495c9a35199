package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateIdle    State = "idle"
	StateEngaged State = "engaged"
)

var (
	ErrRejectedFrame = errors.New("rejected frame")
	ErrNotOwner      = errors.New("robot is owned by another control station")
	ErrBurst         = errors.New("frame arrived inside the minimum spacing")
)

type EventKind string

const (
	EventWake          EventKind = "wake"
	EventSleep         EventKind = "sleep"
	EventFailsafeBegin EventKind = "failsafe_begin"
	EventFailsafeEnd   EventKind = "failsafe_end"
	EventRejected      EventKind = "ownership_rejected"
	EventReconfigured  EventKind = "reconfigured"
)

// Event is a notable session transition, published to observers.
type Event struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Kind      EventKind `json:"kind"`
	Station   string    `json:"station,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

func NewEvent(kind EventKind, sessionID uuid.UUID, station, detail string, at time.Time) Event {
	return Event{
		ID:        uuid.New(),
		SessionID: sessionID,
		Kind:      kind,
		Station:   station,
		Detail:    detail,
		At:        at,
	}
}
