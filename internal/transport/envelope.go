package transport

import (
	"encoding/json"
	"time"
)

// EventName is the event field of an envelope.
type EventName string

const (
	// Control station to robot.
	EventCommand   EventName = "clientsrobottx"
	EventConfigure EventName = "clientsrobotconf"
	EventEcho      EventName = "echo"

	// Robot to control station.
	EventTelemetry EventName = "serveurrobotrx"
	EventTrace     EventName = "serveurrobottrace"
	EventLogin     EventName = "serveurrobotlogin"
)

// Envelope is the JSON message exchanged with a control station. Data
// carries binary frames, base64 encoded by encoding/json.
type Envelope struct {
	Event     EventName       `json:"event"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Client    int64           `json:"client,omitempty"`
	Data      []byte          `json:"data,omitempty"`
	Text      string          `json:"text,omitempty"`
	Mandatory bool            `json:"mandatory,omitempty"`
	Profile   json.RawMessage `json:"profile,omitempty"`
	Login     *Login          `json:"login,omitempty"`
}

// Login announces the robot after every connection.
type Login struct {
	Version     string   `json:"version"`
	Hostname    string   `json:"hostname"`
	Addresses   []string `json:"addresses,omitempty"`
	ProcessTime int64    `json:"process_time"`
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
