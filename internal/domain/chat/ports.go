package chat

import (
	"context"
	"errors"
)

// Store errors shared by all implementations.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrAgentNotFound    = errors.New("agent not found")
)

// SessionStore manages conversation sessions.
type SessionStore interface {
	Create(ctx context.Context) (*Session, error)
	Get(ctx context.Context, sessionID string) (*Session, error)
	Save(ctx context.Context, session *Session) error
	List(ctx context.Context) ([]Session, error)
	Delete(ctx context.Context, sessionID string) error
}

// MessageStore is the keyed durable store for chat messages. AddMessage must
// be idempotent-safe to call with empty artifact references. GetMessages
// returns messages in persisted order.
type MessageStore interface {
	AddMessage(ctx context.Context, rec MessageRecord) (*PersistedMessage, error)
	GetMessages(ctx context.Context, sessionID string) ([]PersistedMessage, error)
}

// ArtifactStore holds generated artifact content outside the transcript.
type ArtifactStore interface {
	Save(ctx context.Context, artifact *Artifact) error
	Get(ctx context.Context, artifactID string) (*Artifact, error)
	ListBySession(ctx context.Context, sessionID string) ([]Artifact, error)
}

// AgentDirectory resolves agents and per-session active agent assignments.
type AgentDirectory interface {
	List(ctx context.Context) ([]Agent, error)
	Get(ctx context.Context, agentID string) (*Agent, error)
	Default(ctx context.Context) (*Agent, error)
	ActiveForSession(ctx context.Context, sessionID string) (*Agent, error)
	SetActiveForSession(ctx context.Context, sessionID, agentID string) error
}

// RefreshNotifier broadcasts cross-component refresh signals. Consumers
// re-fetch from their respective stores; the orchestrator never pushes
// artifact content itself.
type RefreshNotifier interface {
	ArtifactsChanged(sessionID string)
	ActiveAgentChanged(sessionID string)
}

// NoopRefreshNotifier discards refresh signals.
type NoopRefreshNotifier struct{}

func (NoopRefreshNotifier) ArtifactsChanged(string)   {}
func (NoopRefreshNotifier) ActiveAgentChanged(string) {}
