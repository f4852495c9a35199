package session

import (
	"fmt"
	"time"
)

// LatencyAlarm raises above begin and clears only below end.
type LatencyAlarm struct {
	begin  time.Duration
	end    time.Duration
	active bool
}

func NewLatencyAlarm(begin, end time.Duration) (*LatencyAlarm, error) {
	if end >= begin {
		return nil, fmt.Errorf("latency alarm end (%s) must be below begin (%s)", end, begin)
	}
	return &LatencyAlarm{begin: begin, end: end}, nil
}

// Update feeds one latency sample and reports whether the alarm changed.
func (a *LatencyAlarm) Update(latency time.Duration) bool {
	switch {
	case a.active && latency < a.end:
		a.active = false
		return true
	case !a.active && latency > a.begin:
		a.active = true
		return true
	}
	return false
}

func (a *LatencyAlarm) Active() bool {
	return a.active
}
