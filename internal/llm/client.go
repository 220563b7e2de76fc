package llm

import (
	"context"
	"errors"

	"github.com/rfpez/rfpez/internal/domain/chat"
)

// ErrStreamClosedOK is the sentinel some client libraries raise as their way
// of signaling successful stream teardown rather than returning normally.
// Callers must treat it as success: finalize and persist accumulated content.
var ErrStreamClosedOK = errors.New("stream closed after successful completion")

// Message is one conversation message sent as context to the AI service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request contains all parameters for one streaming chat completion.
type Request struct {
	SessionID   string    `json:"session_id,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// SegmentMetadata carries out-of-band markers attached to a notification.
// MessageStart announces a new agent taking over and must carry no text in
// the same notification. Terminal is present only on the final notification.
type SegmentMetadata struct {
	MessageStart    *chat.BoundaryEvent
	MessageComplete bool
	Terminal        *chat.TerminalMetadata
	Aborted         bool
}

// Notification is the raw inbound streaming callback unit. The handler is
// invoked repeatedly and sequentially from a single goroutine.
type Notification struct {
	Text            string
	SegmentComplete bool
	ToolProcessing  bool
	ToolEvent       *chat.ToolEvent
	ForceCompletion bool
	Metadata        *SegmentMetadata
}

// StreamHandler consumes one notification. It must not block; any wait is
// expressed by the orchestrator as a scheduled continuation.
type StreamHandler func(n Notification)

// Client streams chat completions from the AI backend. StreamChat returns
// after the stream ends; it may return ErrStreamClosedOK on success (see the
// sentinel above), a context error on cancellation, or a transport error.
type Client interface {
	StreamChat(ctx context.Context, req Request, handler StreamHandler) error
}
