package http

import (
	"time"

	"github.com/rfpez/rfpez/internal/domain/chat"
)

// wireEvent is the JSON shape of one outbound stream event, shared by the
// SSE chat response and the websocket feed.
type wireEvent struct {
	Kind      string          `json:"kind"`
	SessionID string          `json:"session_id"`
	TurnID    string          `json:"turn_id,omitempty"`
	Message   *wireMessage    `json:"message,omitempty"`
	RemovedID string          `json:"removed_id,omitempty"`
	Tool      *wireInvocation `json:"tool,omitempty"`
	Notice    string          `json:"notice,omitempty"`
	Error     string          `json:"error,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
}

type wireMessage struct {
	ID           string                   `json:"id"`
	AgentID      string                   `json:"agent_id,omitempty"`
	AgentName    string                   `json:"agent_name,omitempty"`
	Content      string                   `json:"content"`
	Complete     bool                     `json:"complete,omitempty"`
	Placeholder  bool                     `json:"placeholder,omitempty"`
	Tools        []wireInvocation         `json:"tools,omitempty"`
	ArtifactRefs []chat.ArtifactReference `json:"artifact_refs,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
}

type wireInvocation struct {
	ToolName string         `json:"tool_name"`
	Phase    chat.ToolPhase `json:"phase"`
	AgentID  string         `json:"agent_id,omitempty"`
	Result   map[string]any `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func toWireEvent(event chat.UIEvent) wireEvent {
	out := wireEvent{
		Kind:      string(event.Kind),
		SessionID: event.SessionID,
		TurnID:    event.TurnID,
		RemovedID: event.RemovedID,
		Notice:    event.Notice,
		Error:     event.Err,
		Retryable: event.Retryable,
	}
	if event.Message != nil {
		out.Message = toWireMessage(event.Message)
	}
	if event.Tool != nil {
		inv := toWireInvocation(*event.Tool)
		out.Tool = &inv
	}
	return out
}

func toWireMessage(msg *chat.StreamingMessage) *wireMessage {
	out := &wireMessage{
		ID:           msg.ID,
		AgentID:      msg.AgentID,
		AgentName:    msg.AgentName,
		Content:      msg.Content,
		Complete:     msg.Complete,
		Placeholder:  msg.Placeholder,
		ArtifactRefs: msg.ArtifactRefs,
		CreatedAt:    msg.CreatedAt,
	}
	for _, inv := range msg.Tools {
		out.Tools = append(out.Tools, toWireInvocation(inv))
	}
	return out
}

func toWireInvocation(inv chat.ToolInvocation) wireInvocation {
	return wireInvocation{
		ToolName: inv.ToolName,
		Phase:    inv.Phase,
		AgentID:  inv.AgentID,
		Result:   inv.Result,
		Error:    inv.Error,
	}
}
