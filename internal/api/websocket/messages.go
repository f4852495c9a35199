package websocket

import (
	"time"

	"github.com/efeuentertainment/vigiclient/internal/session"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeSessionEvent MessageType = "session_event"
	MessageTypeSnapshot     MessageType = "snapshot"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewSessionEventMessage(ev session.Event) Message {
	return NewMessage(MessageTypeSessionEvent, ev)
}

func NewSnapshotMessage(snapshot any) Message {
	return NewMessage(MessageTypeSnapshot, snapshot)
}
