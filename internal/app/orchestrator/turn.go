package orchestrator

import (
	"context"
	"time"

	"github.com/rfpez/rfpez/internal/domain/chat"
	"github.com/rfpez/rfpez/internal/shared/utils/id"
)

// turnPhase is the coordinator state for one turn. Transitions happen only
// on the turn loop goroutine; no other goroutine touches turn state.
type turnPhase int

const (
	phaseStreaming turnPhase = iota
	phaseToolProcessing
	phaseToolTimedOut
	phaseComplete
)

// Turn is the handle for one in-flight request, registered for single-flight
// enforcement and cancellation.
type Turn struct {
	ID        string
	SessionID string
	StartedAt time.Time
	cancel    context.CancelFunc
}

// turnState is the mutable working set of one turn: the message being
// assembled, retired messages from earlier segments, the chunk buffer and
// the tool ledger. Owned exclusively by the turn loop.
type turnState struct {
	turnID    string
	sessionID string
	agent     chat.Agent

	phase    turnPhase
	buffer   *ChunkBuffer
	ledger   *ToolLedger
	messages []*chat.StreamingMessage
	active   *chat.StreamingMessage
	// placeholder is the transient "working on it" bubble shown while the
	// stream is paused for tools. Never enters messages.
	placeholder *chat.StreamingMessage

	handoffOccurred bool

	terminal *chat.TerminalMetadata
	forced   bool
}

func newTurnState(turnID, sessionID string, agent chat.Agent, flushThreshold int) *turnState {
	st := &turnState{
		turnID:    turnID,
		sessionID: sessionID,
		agent:     agent,
		buffer:    NewChunkBuffer(flushThreshold),
		ledger:    NewToolLedger(),
	}
	st.startMessage(false)
	return st
}

// startMessage opens a new assistant message owned by the current agent.
// Hidden messages stay out of the UI until their first non-empty flush.
func (st *turnState) startMessage(hidden bool) *chat.StreamingMessage {
	msg := &chat.StreamingMessage{
		ID:        id.NewMessageID(),
		AgentID:   st.agent.ID,
		AgentName: st.agent.Name,
		Hidden:    hidden,
		CreatedAt: time.Now(),
	}
	st.messages = append(st.messages, msg)
	st.active = msg
	return msg
}

// closeActive retires the active message, attaching the tool entries its
// agent owns. An empty message with no tool activity is dropped from the
// turn instead; the returned flag reports whether it was dropped.
func (st *turnState) closeActive() (dropped *chat.StreamingMessage) {
	msg := st.active
	if msg == nil {
		return nil
	}
	msg.Tools = append(msg.Tools, st.ledger.Release(msg.AgentID)...)
	if msg.Content == "" && len(msg.Tools) == 0 {
		st.messages = st.messages[:len(st.messages)-1]
		st.active = nil
		return msg
	}
	msg.Complete = true
	st.active = nil
	return nil
}

// visibleContent reports whether any message in the turn has flushed text.
func (st *turnState) visibleContent() bool {
	for _, m := range st.messages {
		if m.Visible() && m.Content != "" {
			return true
		}
	}
	return false
}

// lastVisible returns the most recent visible message, or nil.
func (st *turnState) lastVisible() *chat.StreamingMessage {
	for i := len(st.messages) - 1; i >= 0; i-- {
		if st.messages[i].Visible() {
			return st.messages[i]
		}
	}
	return nil
}

// snapshot copies a message for delivery to listeners so later mutation on
// the turn loop cannot race a renderer.
func snapshot(m *chat.StreamingMessage) *chat.StreamingMessage {
	cp := *m
	cp.Tools = append([]chat.ToolInvocation(nil), m.Tools...)
	cp.ArtifactRefs = append([]chat.ArtifactReference(nil), m.ArtifactRefs...)
	return &cp
}
