// Package message defines the envelope exchanged between the engine and its
// clients, plus the typed payloads carried inside it.
//
// Every message is JSON: a type tag, the owning session id, a payload object,
// an ISO-8601 timestamp and a message id.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type tags a message envelope.
type Type string

// Message types.
const (
	TypeBrowserAction  Type = "browser_action"
	TypeWorkflowUpdate Type = "workflow_update"
	TypeUserInput      Type = "user_input"
	TypeAgentThought   Type = "agent_thought"
	TypeSystemEvent    Type = "system_event"
	TypeError          Type = "error"
	TypePing           Type = "ping"
	TypePong           Type = "pong"
)

// Valid reports whether t is one of the known message types.
func (t Type) Valid() bool {
	switch t {
	case TypeBrowserAction, TypeWorkflowUpdate, TypeUserInput, TypeAgentThought,
		TypeSystemEvent, TypeError, TypePing, TypePong:
		return true
	}
	return false
}

// SystemSessionID is used for messages that are not tied to a session.
const SystemSessionID = "system"

// Message is the wire envelope.
//
// Payload holds a typed payload struct on outbound messages. Decoded inbound
// messages carry the raw JSON object instead; use DecodePayload to read it.
type Message struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"message_id"`
}

// New builds an envelope with a fresh id and the current time.
func New(t Type, sessionID string, payload any) Message {
	if payload == nil {
		payload = map[string]any{}
	}
	return Message{
		Type:      t,
		SessionID: sessionID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		MessageID: uuid.NewString(),
	}
}

// UnmarshalJSON keeps the payload as raw JSON so callers can decode it into
// the payload type matching Type.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type      Type            `json:"type"`
		SessionID string          `json:"session_id"`
		Payload   json.RawMessage `json:"payload"`
		Timestamp *time.Time      `json:"timestamp"`
		MessageID string          `json:"message_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Type = raw.Type
	m.SessionID = raw.SessionID
	m.MessageID = raw.MessageID
	m.Timestamp = time.Time{}
	if raw.Timestamp != nil {
		m.Timestamp = *raw.Timestamp
	}
	m.Payload = nil
	if len(raw.Payload) > 0 && string(raw.Payload) != "null" {
		m.Payload = raw.Payload
	}
	return nil
}

// DecodePayload decodes the payload into v.
func (m Message) DecodePayload(v any) error {
	var data []byte
	switch p := m.Payload.(type) {
	case nil:
		data = []byte("{}")
	case json.RawMessage:
		data = p
	case []byte:
		data = p
	default:
		var err error
		data, err = json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Parse decodes and validates an inbound envelope.
func Parse(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, &InvalidError{Reason: "malformed JSON", Err: err}
	}
	if !m.Type.Valid() {
		return Message{}, &InvalidError{Reason: fmt.Sprintf("unknown message type %q", m.Type)}
	}
	if m.MessageID == "" {
		m.MessageID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return m, nil
}

// InvalidError reports an inbound message that could not be accepted.
type InvalidError struct {
	Reason string
	Err    error
}

func (e *InvalidError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid message: %s: %v", e.Reason, e.Err)
	}
	return "invalid message: " + e.Reason
}

func (e *InvalidError) Unwrap() error { return e.Err }

// Code implements Coder.
func (e *InvalidError) Code() Code { return CodeInvalidMessage }
