package websocket

import (
	"time"

	"github.com/KevinKickass/OpenHeatTelemetry/internal/poller"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Poll cycle messages
	MessageTypeCycleCompleted MessageType = "cycle_completed"
	MessageTypeCycleFailed    MessageType = "cycle_failed"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// SystemStateData represents a lifecycle state change
type SystemStateData struct {
	State    string `json:"state"`
	Previous string `json:"previous_state"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewCycleMessage wraps a finished poll. Cycles that produced no values
// are sent as cycle_failed.
func NewCycleMessage(res poller.CycleResult) Message {
	msgType := MessageTypeCycleCompleted
	if res.Failed() {
		msgType = MessageTypeCycleFailed
	}
	return NewMessage(msgType, res)
}

func NewSystemStateMessage(newState, previousState string) Message {
	return NewMessage(MessageTypeSystemStatus, SystemStateData{
		State:    newState,
		Previous: previousState,
	})
}
