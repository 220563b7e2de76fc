package chat

import "time"

// Role identifies the author kind of a persisted message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ArtifactType enumerates the kinds of generated artifacts a message can
// reference.
type ArtifactType string

const (
	ArtifactDocument ArtifactType = "document"
	ArtifactText     ArtifactType = "text"
	ArtifactImage    ArtifactType = "image"
	ArtifactForm     ArtifactType = "form"
	ArtifactBidView  ArtifactType = "bid-view"
	ArtifactOther    ArtifactType = "other"
)

// ToolPhase is one lifecycle phase of a tool execution.
type ToolPhase string

const (
	ToolStart    ToolPhase = "start"
	ToolProgress ToolPhase = "progress"
	ToolComplete ToolPhase = "complete"
	ToolError    ToolPhase = "error"
)

// Terminal reports whether the phase closes a tool execution.
func (p ToolPhase) Terminal() bool {
	return p == ToolComplete || p == ToolError
}

// ToolInvocation is one lifecycle observation for a tool call. The owning
// agent is assigned when the event is observed, not inferred later.
type ToolInvocation struct {
	ToolName   string         `json:"tool_name"`
	Phase      ToolPhase      `json:"phase"`
	AgentID    string         `json:"agent_id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Duration   time.Duration  `json:"duration,omitempty"`
}

// ArtifactReference links a chat message to a generated artifact stored
// externally. References are unique per (message, artifact) pair.
type ArtifactReference struct {
	ArtifactID  string       `json:"artifact_id"`
	Name        string       `json:"artifact_name"`
	Type        ArtifactType `json:"artifact_type"`
	Created     bool         `json:"is_created,omitempty"`
	DisplayText string       `json:"display_text,omitempty"`
}

// StreamingMessage is the mutable, in-progress representation of one
// assistant message being assembled from stream deltas. Content is the
// authoritative accumulated text; the orchestrator's chunk buffer holds
// unflushed text separately and never exposes it.
type StreamingMessage struct {
	ID        string
	AgentID   string
	AgentName string

	// Content is the accumulated, flushed text shown to the user.
	Content string

	// Complete marks the message as retired to immutable history.
	Complete bool

	// Hidden suppresses the message until its first non-empty flush,
	// preventing an empty bubble when a handoff produces no output.
	Hidden bool

	// Placeholder marks a transient "tool processing" indicator that is
	// replaced or removed when content resumes.
	Placeholder bool

	Tools        []ToolInvocation
	ArtifactRefs []ArtifactReference
	CreatedAt    time.Time
}

// Visible reports whether the message should currently appear in history.
func (m *StreamingMessage) Visible() bool {
	return m != nil && !m.Hidden
}

// Session is one conversation with its active agent assignment.
type Session struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id,omitempty"`
	Title         string            `json:"title,omitempty"`
	ActiveAgentID string            `json:"active_agent_id,omitempty"`
	ActiveAgent   string            `json:"active_agent_name,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// PersistedMessage is the durable record of one chat message.
type PersistedMessage struct {
	ID           string              `json:"id"`
	SessionID    string              `json:"session_id"`
	AuthorID     string              `json:"author_id,omitempty"`
	Role         Role                `json:"role"`
	Content      string              `json:"content"`
	AgentID      string              `json:"agent_id,omitempty"`
	AgentName    string              `json:"agent_name,omitempty"`
	Metadata     map[string]any      `json:"metadata,omitempty"`
	AIMetadata   map[string]any      `json:"ai_metadata,omitempty"`
	ArtifactRefs []ArtifactReference `json:"artifact_refs,omitempty"`
	Ordinal      int                 `json:"ordinal"`
	CreatedAt    time.Time           `json:"created_at"`
}

// MessageRecord is the write-side shape accepted by the message store.
type MessageRecord struct {
	SessionID    string
	AuthorID     string
	Content      string
	Role         Role
	AgentID      string
	AgentName    string
	Metadata     map[string]any
	AIMetadata   map[string]any
	ArtifactRefs []ArtifactReference
}

// Artifact is a generated document/form/object stored outside the chat
// transcript and referenced from messages.
type Artifact struct {
	ID        string       `json:"id"`
	SessionID string       `json:"session_id,omitempty"`
	MessageID string       `json:"message_id,omitempty"`
	Name      string       `json:"name"`
	Type      ArtifactType `json:"type"`
	Content   string       `json:"content,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Agent is one entry in the agent directory.
type Agent struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Instructions  string `json:"instructions,omitempty"`
	InitialPrompt string `json:"initial_prompt,omitempty"`
	Default       bool   `json:"is_default"`
}
