package orchestrator

import (
	"time"

	"github.com/rfpez/rfpez/internal/domain/chat"
)

// ToolLedger tracks tool invocations for the current turn. A completion or
// error updates its start entry in place so the history shows one entry per
// execution, ordered by start time, never a start/complete pair.
type ToolLedger struct {
	entries []chat.ToolInvocation
}

func NewToolLedger() *ToolLedger {
	return &ToolLedger{}
}

// Observe records one tool event and returns the resulting ledger entry.
// Start and progress phases append or refresh an open entry; terminal phases
// resolve the most recent open entry with the same tool name. A terminal
// phase with no matching open entry is kept as a standalone record rather
// than dropped.
func (l *ToolLedger) Observe(ev chat.ToolEvent, agentID string) chat.ToolInvocation {
	if ev.AgentID != "" {
		agentID = ev.AgentID
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	switch ev.Phase {
	case chat.ToolStart:
		inv := chat.ToolInvocation{
			ToolName:   ev.Name,
			Phase:      chat.ToolStart,
			AgentID:    agentID,
			Parameters: ev.Parameters,
			StartedAt:  ts,
			Timestamp:  ts,
		}
		l.entries = append(l.entries, inv)
		return inv

	case chat.ToolProgress:
		if i := l.lastOpen(ev.Name); i >= 0 {
			e := &l.entries[i]
			e.Phase = chat.ToolProgress
			e.Timestamp = ts
			if ev.Parameters != nil {
				e.Parameters = ev.Parameters
			}
			return *e
		}
		inv := chat.ToolInvocation{
			ToolName:  ev.Name,
			Phase:     chat.ToolProgress,
			AgentID:   agentID,
			StartedAt: ts,
			Timestamp: ts,
		}
		l.entries = append(l.entries, inv)
		return inv

	default: // complete or error
		if i := l.lastOpen(ev.Name); i >= 0 {
			e := &l.entries[i]
			e.Phase = ev.Phase
			e.Result = ev.Result
			e.Error = ev.Error
			e.Timestamp = ts
			if !e.StartedAt.IsZero() {
				e.Duration = ts.Sub(e.StartedAt)
			}
			return *e
		}
		inv := chat.ToolInvocation{
			ToolName:  ev.Name,
			Phase:     ev.Phase,
			AgentID:   agentID,
			Result:    ev.Result,
			Error:     ev.Error,
			Timestamp: ts,
		}
		l.entries = append(l.entries, inv)
		return inv
	}
}

// lastOpen returns the index of the most recent non-terminal entry for name,
// or -1.
func (l *ToolLedger) lastOpen(name string) int {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].ToolName == name && !l.entries[i].Phase.Terminal() {
			return i
		}
	}
	return -1
}

// OpenCount reports how many entries are still awaiting a terminal phase.
func (l *ToolLedger) OpenCount() int {
	n := 0
	for _, e := range l.entries {
		if !e.Phase.Terminal() {
			n++
		}
	}
	return n
}

// ForceTimeout resolves every open entry as errored and returns the entries
// it touched.
func (l *ToolLedger) ForceTimeout(now time.Time) []chat.ToolInvocation {
	var timed []chat.ToolInvocation
	for i := range l.entries {
		e := &l.entries[i]
		if e.Phase.Terminal() {
			continue
		}
		e.Phase = chat.ToolError
		e.Error = "tool execution timed out"
		e.Timestamp = now
		if !e.StartedAt.IsZero() {
			e.Duration = now.Sub(e.StartedAt)
		}
		timed = append(timed, *e)
	}
	return timed
}

// Release removes and returns the entries owned by agentID, preserving
// order. Closing messages call this so each message carries only its own
// agent's tool activity.
func (l *ToolLedger) Release(agentID string) []chat.ToolInvocation {
	var released, kept []chat.ToolInvocation
	for _, e := range l.entries {
		if e.AgentID == agentID {
			released = append(released, e)
		} else {
			kept = append(kept, e)
		}
	}
	l.entries = kept
	return released
}

// Remaining returns the entries not yet released to any message.
func (l *ToolLedger) Remaining() []chat.ToolInvocation {
	out := make([]chat.ToolInvocation, len(l.entries))
	copy(out, l.entries)
	return out
}
