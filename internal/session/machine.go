package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Machine decides which control station may set targets. It is not safe
// for concurrent use; the engine loop owns it.
type Machine struct {
	logger *zap.Logger

	inactivity time.Duration
	minSpacing time.Duration

	owner        string
	engaged      bool
	sessionID    uuid.UUID
	lastAccepted time.Time
	lastFrame    time.Time
}

// NewMachine creates an idle machine. Frames closer than minSpacing are
// dropped; an engaged session with no frame for inactivity goes idle.
func NewMachine(inactivity, minSpacing time.Duration, logger *zap.Logger) *Machine {
	return &Machine{
		logger:     logger,
		inactivity: inactivity,
		minSpacing: minSpacing,
	}
}

// Authorize checks ownership without mutating anything.
func (m *Machine) Authorize(station string) error {
	if m.owner != "" && m.owner != station {
		return fmt.Errorf("%w: %w (owner %s)", ErrRejectedFrame, ErrNotOwner, m.owner)
	}
	return nil
}

// Admit applies the burst filter and records the frame arrival.
func (m *Machine) Admit(now time.Time) error {
	if !m.lastFrame.IsZero() && now.Sub(m.lastFrame) < m.minSpacing {
		return fmt.Errorf("%w: %w", ErrRejectedFrame, ErrBurst)
	}
	m.lastFrame = now
	return nil
}

// Engage grants ownership to station and resets the inactivity timer. It
// reports whether the session woke up.
func (m *Machine) Engage(station string, now time.Time) bool {
	m.lastAccepted = now
	if m.engaged {
		return false
	}

	m.owner = station
	m.engaged = true
	m.sessionID = uuid.New()

	m.logger.Info("Session engaged",
		zap.String("station", station),
		zap.String("session_id", m.sessionID.String()))
	return true
}

// Expired reports whether the inactivity window has elapsed.
func (m *Machine) Expired(now time.Time) bool {
	return m.engaged && now.Sub(m.lastAccepted) > m.inactivity
}

// Release returns to idle and clears ownership. It reports whether a
// transition happened.
func (m *Machine) Release(reason string) bool {
	if !m.engaged {
		return false
	}

	m.logger.Info("Session released",
		zap.String("station", m.owner),
		zap.String("session_id", m.sessionID.String()),
		zap.String("reason", reason))

	m.owner = ""
	m.engaged = false
	return true
}

// Disconnect releases the session when station is the owner.
func (m *Machine) Disconnect(station string) bool {
	if !m.engaged || m.owner != station {
		return false
	}
	return m.Release("disconnected")
}

func (m *Machine) State() State {
	if m.engaged {
		return StateEngaged
	}
	return StateIdle
}

func (m *Machine) Owner() string {
	return m.owner
}

func (m *Machine) Engaged() bool {
	return m.engaged
}

// SessionID identifies the current or most recent engagement.
func (m *Machine) SessionID() uuid.UUID {
	return m.sessionID
}
