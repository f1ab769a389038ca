// Package router carries typed command messages between the presentation
// layer and the engine: validation, duplicate suppression, dispatch to
// registered handlers, and latency accounting.
package router

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source identifies the origin of a message.
const (
	SourceUI     = "ui"
	SourceEngine = "engine"
)

// Message is a command request from the presentation layer.
type Message struct {
	Command   string          `json:"command"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId"`
	Timestamp int64           `json:"timestamp"`
	Source    string          `json:"source"`
}

// Response is the correlated reply for a dispatched message.
type Response struct {
	RequestID        string `json:"requestId"`
	Success          bool   `json:"success"`
	Data             any    `json:"data,omitempty"`
	Error            string `json:"error,omitempty"`
	Code             Code   `json:"code,omitempty"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
}

// NewMessage builds a message with a generated request id and current
// timestamp.
func NewMessage(command string, payload any, source string) (Message, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("failed to marshal payload: %w", err)
		}
		raw = data
	}
	return Message{
		Command:   command,
		Payload:   raw,
		RequestID: NewRequestID(),
		Timestamp: time.Now().UnixMilli(),
		Source:    source,
	}, nil
}

// NewRequestID returns a collision-resistant request id combining a
// millisecond timestamp with a random component.
func NewRequestID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// validate rejects malformed messages before dispatch.
func (m *Message) validate() error {
	if m.Command == "" {
		return fmt.Errorf("command is required")
	}
	if m.RequestID == "" {
		return fmt.Errorf("requestId is required")
	}
	if m.Timestamp <= 0 {
		return fmt.Errorf("timestamp must be positive (got %d)", m.Timestamp)
	}
	if m.Source != SourceUI && m.Source != SourceEngine {
		return fmt.Errorf("source must be %q or %q (got %q)", SourceUI, SourceEngine, m.Source)
	}
	return nil
}
