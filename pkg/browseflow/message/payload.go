package message

import "time"

// Severity of a system event.
type Severity string

// Severities.
const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// System event types emitted by the engine and the server.
const (
	EventWorkflowCreated  = "workflow_created"
	EventWorkflowCleaned  = "workflow_cleaned_up"
	EventInputTimeout     = "input_timeout"
	EventSessionConnected = "session_connected"
	EventSessionClosed    = "session_closed"
	EventServerShutdown   = "server_shutdown"
)

// SystemEvent is the payload of a system_event message.
type SystemEvent struct {
	EventType string         `json:"event_type"`
	Details   map[string]any `json:"details"`
	Severity  Severity       `json:"severity"`
}

// ErrorPayload is the payload of an error message.
type ErrorPayload struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// AgentThought is the payload of an agent_thought message.
type AgentThought struct {
	Thought   string   `json:"thought"`
	Reasoning string   `json:"reasoning,omitempty"`
	Plan      []string `json:"plan,omitempty"`
	NodeID    string   `json:"node_id,omitempty"`
}

// InputRequest describes what a suspended workflow is waiting for.
type InputRequest struct {
	Prompt    string         `json:"prompt"`
	InputType string         `json:"input_type"`
	Options   []string       `json:"options,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	// Timeout is the number of seconds the workflow waits before failing; zero waits forever.
	Timeout int `json:"timeout,omitempty"`
}

// InputRequestPayload is the payload of an outbound user_input message.
type InputRequestPayload struct {
	WorkflowID string       `json:"workflow_id"`
	NodeID     string       `json:"node_id"`
	Request    InputRequest `json:"request"`
}

// UserInput is the payload of an inbound user_input message.
type UserInput struct {
	WorkflowID string         `json:"workflow_id"`
	Input      map[string]any `json:"input"`
}

// WorkflowUpdate is the payload of a workflow_update message.
type WorkflowUpdate struct {
	WorkflowID string         `json:"workflow_id"`
	Status     string         `json:"status"`
	Outcome    string         `json:"outcome,omitempty"`
	NodeID     string         `json:"node_id,omitempty"`
	State      any            `json:"state,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
}

// BrowserActionRequest is the payload of an inbound browser_action message.
type BrowserActionRequest struct {
	Action  string         `json:"action"`
	Params  map[string]any `json:"params"`
	Timeout int            `json:"timeout,omitempty"`
}

// BrowserActionResponse reports the outcome of one browser action.
type BrowserActionResponse struct {
	Success     bool           `json:"success"`
	Action      string         `json:"action"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Disposition string         `json:"disposition,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Control actions carried in an inbound system_event payload.
const (
	ControlCreateWorkflow  = "create_workflow"
	ControlRunWorkflow     = "run_workflow"
	ControlCleanupWorkflow = "cleanup_workflow"
	ControlCloseSession    = "close_session"
)

// ControlRequest is the payload of an inbound system_event message.
type ControlRequest struct {
	Action     string `json:"action"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Goal       string `json:"goal,omitempty"`
	// Run starts the workflow immediately after create_workflow.
	Run bool `json:"run,omitempty"`
}

// NewError builds an error message addressed to the system session.
func NewError(code Code, msg string, details map[string]any) Message {
	return New(TypeError, SystemSessionID, ErrorPayload{Code: code, Message: msg, Details: details})
}

// NewSessionError builds an error message addressed to a session.
func NewSessionError(sessionID string, code Code, msg string, details map[string]any) Message {
	return New(TypeError, sessionID, ErrorPayload{Code: code, Message: msg, Details: details})
}

// FromError builds an error message for err using CodeOf.
func FromError(sessionID string, err error, details map[string]any) Message {
	return NewSessionError(sessionID, CodeOf(err), err.Error(), details)
}

// NewSystemEvent builds a system_event message.
func NewSystemEvent(sessionID, eventType string, details map[string]any, severity Severity) Message {
	if severity == "" {
		severity = SeverityInfo
	}
	return New(TypeSystemEvent, sessionID, SystemEvent{EventType: eventType, Details: details, Severity: severity})
}

// NewAgentThought builds an agent_thought message.
func NewAgentThought(sessionID string, thought AgentThought) Message {
	return New(TypeAgentThought, sessionID, thought)
}

// NewInputRequest builds an outbound user_input message.
func NewInputRequest(sessionID string, p InputRequestPayload) Message {
	return New(TypeUserInput, sessionID, p)
}

// NewWorkflowUpdate builds a workflow_update message.
func NewWorkflowUpdate(sessionID string, u WorkflowUpdate) Message {
	return New(TypeWorkflowUpdate, sessionID, u)
}

// NewBrowserAction builds a browser_action message reporting an action result.
func NewBrowserAction(sessionID string, r BrowserActionResponse) Message {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	return New(TypeBrowserAction, sessionID, r)
}

// NewPong answers a ping.
func NewPong(sessionID string) Message {
	return New(TypePong, sessionID, nil)
}
