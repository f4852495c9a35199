package engine

import (
	"time"

	"github.com/efeuentertainment/vigiclient/internal/mixer"
	"github.com/efeuentertainment/vigiclient/internal/ramp"
	"github.com/efeuentertainment/vigiclient/internal/session"
	"github.com/efeuentertainment/vigiclient/internal/types"
)

type CommandState struct {
	Name    string  `json:"name"`
	Target  float64 `json:"target"`
	Current float64 `json:"current"`
}

// Snapshot is a read-only copy of the engine state, published after every
// frame and tick.
type Snapshot struct {
	Initialized  bool          `json:"initialized"`
	State        session.State `json:"state"`
	Owner        string        `json:"owner,omitempty"`
	SessionID    string        `json:"session_id,omitempty"`
	Running      bool          `json:"running"`
	LatencyAlarm bool          `json:"latency_alarm"`
	LatencyMs    int64         `json:"latency_ms"`
	Camera       uint8         `json:"camera"`
	Dropped      uint64        `json:"dropped_events"`

	Commands16 []CommandState      `json:"commands16"`
	Commands8  []CommandState      `json:"commands8"`
	Commands1  []CommandState      `json:"commands1"`
	Outputs    []mixer.OutputState `json:"outputs"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func commandStates(ds []types.CommandDescriptor, b *ramp.Bank) []CommandState {
	states := make([]CommandState, b.Len())
	for i := range states {
		states[i] = CommandState{Target: b.Target(i), Current: b.Current(i)}
		if i < len(ds) {
			states[i].Name = ds[i].Name
		}
	}
	return states
}

func (e *Engine) publishSnapshot() {
	now := e.now()
	s := &Snapshot{
		Initialized:  e.rt != nil,
		State:        e.session.State(),
		Owner:        e.session.Owner(),
		Running:      e.running,
		LatencyAlarm: e.alarm.Active(),
		Dropped:      e.dropped.Load(),
		UpdatedAt:    now,
	}
	if e.session.Engaged() {
		s.SessionID = e.session.SessionID().String()
	}
	if !e.lastTimestamp.IsZero() {
		s.LatencyMs = now.Sub(e.lastTimestamp).Milliseconds()
	}

	if rt := e.rt; rt != nil {
		s.Camera = rt.camera
		s.Commands16 = commandStates(rt.profile.Commands16, rt.c16)
		s.Commands8 = commandStates(rt.profile.Commands8, rt.c8)
		s.Commands1 = commandStates(rt.profile.Commands1, rt.c1)
		s.Outputs = rt.mixer.Snapshot()
	}

	e.snapshot.Store(s)
}
