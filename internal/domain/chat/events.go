package chat

import (
	"encoding/json"
	"time"
)

// EventKind identifies the type of a classified stream event. The transport
// multiplexes four kinds over one channel; the classifier turns each raw
// notification into zero or more of these.
type EventKind string

const (
	// EventText carries one accepted prose fragment.
	EventText EventKind = "text"
	// EventTool carries one tool lifecycle observation.
	EventTool EventKind = "tool"
	// EventBoundary marks a segment boundary: an agent handoff, the end of
	// the current agent's output, or a tool-processing pause.
	EventBoundary EventKind = "boundary"
	// EventTerminal marks the end of the stream for the turn.
	EventTerminal EventKind = "terminal"
)

// BoundaryKind discriminates boundary events.
type BoundaryKind string

const (
	// BoundaryMessageStart announces a new agent taking over. It must not
	// carry text in the same notification.
	BoundaryMessageStart BoundaryKind = "message_start"
	// BoundaryMessageComplete closes the current agent's output; the turn
	// is not finished until a terminal event or a new message_start.
	BoundaryMessageComplete BoundaryKind = "message_complete"
	// BoundaryToolProcessing signals that the stream is paused while tools
	// run server-side.
	BoundaryToolProcessing BoundaryKind = "tool_processing"
)

// StreamEvent is the tagged envelope for one classified stream unit. Exactly
// one payload field matching Kind is populated.
type StreamEvent struct {
	Kind     EventKind
	Text     string
	Tool     *ToolEvent
	Boundary *BoundaryEvent
	Terminal *TerminalEvent
}

// ToolEvent is the wire shape of one tool lifecycle observation.
type ToolEvent struct {
	Name       string
	Phase      ToolPhase
	AgentID    string
	Parameters map[string]any
	Result     map[string]any
	Error      string
	Timestamp  time.Time
}

// BoundaryEvent describes a segment boundary.
type BoundaryEvent struct {
	Kind      BoundaryKind
	AgentID   string
	AgentName string
}

// TerminalEvent carries the end-of-stream metadata for a turn.
type TerminalEvent struct {
	// Forced marks a completion synthesized by the orchestrator (stream
	// teardown sentinel, cancellation) rather than announced by the wire.
	Forced   bool
	Metadata TerminalMetadata
}

// TerminalMetadata is the terminal bag of tool-call results and stream
// statistics inspected by the artifact resolver.
type TerminalMetadata struct {
	Model               string           `json:"model,omitempty"`
	TokenCount          int              `json:"token_count,omitempty"`
	FunctionResults     []FunctionResult `json:"function_results,omitempty"`
	Artifacts           []map[string]any `json:"artifacts,omitempty"`
	AgentSwitchOccurred bool             `json:"agent_switch_occurred,omitempty"`
	FullContent         string           `json:"full_content,omitempty"`
}

// FunctionResult is one tool-call outcome reported in terminal metadata.
// Result stays raw because upstream tool output is occasionally truncated
// mid-object; consumers decode it tolerantly.
type FunctionResult struct {
	Function string          `json:"function"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// UIEventKind identifies the type of an outbound UI event.
type UIEventKind string

const (
	UIMessageUpdated UIEventKind = "message_updated"
	UIMessageRemoved UIEventKind = "message_removed"
	UIToolActivity   UIEventKind = "tool_activity"
	UINotice         UIEventKind = "notice"
	UITurnComplete   UIEventKind = "turn_complete"
	UITurnError      UIEventKind = "turn_error"

	// Refresh signals: consumers re-fetch from their stores, nothing is
	// pushed alongside them.
	UIArtifactsRefresh UIEventKind = "artifacts_refresh"
	UIAgentRefresh     UIEventKind = "active_agent_refresh"
)

// UIEvent is one outbound notification for rendering layers. Message carries
// a snapshot of the visible message for message_updated; RemovedID names the
// message for message_removed.
type UIEvent struct {
	Kind      UIEventKind
	SessionID string
	TurnID    string
	Message   *StreamingMessage
	RemovedID string
	Tool      *ToolInvocation
	Notice    string
	Err       string
	Retryable bool
}

// UIListener consumes UI events emitted during a turn. Implementations must
// not block: events are delivered synchronously from the turn loop.
type UIListener interface {
	OnUIEvent(event UIEvent)
}

// NoopUIListener discards all UI events.
type NoopUIListener struct{}

// OnUIEvent discards the event without processing.
func (NoopUIListener) OnUIEvent(UIEvent) {}
