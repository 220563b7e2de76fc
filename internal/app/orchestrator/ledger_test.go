package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfpez/rfpez/internal/domain/chat"
)

func TestLedgerCompleteResolvesInPlace(t *testing.T) {
	l := NewToolLedger()
	start := time.Now()

	l.Observe(chat.ToolEvent{Name: "get_suppliers", Phase: chat.ToolStart, Timestamp: start}, "sourcing")
	l.Observe(chat.ToolEvent{
		Name:      "get_suppliers",
		Phase:     chat.ToolComplete,
		Result:    map[string]any{"count": float64(3)},
		Timestamp: start.Add(120 * time.Millisecond),
	}, "sourcing")

	entries := l.Remaining()
	require.Len(t, entries, 1, "completion must replace its start, not append")
	assert.Equal(t, chat.ToolComplete, entries[0].Phase)
	assert.Equal(t, 120*time.Millisecond, entries[0].Duration)
	assert.Equal(t, 0, l.OpenCount())
}

func TestLedgerMatchesMostRecentStart(t *testing.T) {
	l := NewToolLedger()

	l.Observe(chat.ToolEvent{Name: "search", Phase: chat.ToolStart}, "a")
	l.Observe(chat.ToolEvent{Name: "search", Phase: chat.ToolStart}, "a")
	l.Observe(chat.ToolEvent{Name: "search", Phase: chat.ToolError, Error: "boom"}, "a")

	entries := l.Remaining()
	require.Len(t, entries, 2)
	assert.Equal(t, chat.ToolStart, entries[0].Phase, "older start stays open")
	assert.Equal(t, chat.ToolError, entries[1].Phase)
	assert.Equal(t, 1, l.OpenCount())
}

func TestLedgerStandaloneCompletion(t *testing.T) {
	l := NewToolLedger()

	inv := l.Observe(chat.ToolEvent{Name: "update_form_artifact", Phase: chat.ToolComplete}, "designer")
	assert.Equal(t, chat.ToolComplete, inv.Phase)
	assert.Zero(t, inv.Duration)
	require.Len(t, l.Remaining(), 1)
}

func TestLedgerOwnerFromEventWins(t *testing.T) {
	l := NewToolLedger()
	inv := l.Observe(chat.ToolEvent{Name: "search", Phase: chat.ToolStart, AgentID: "pricing"}, "designer")
	assert.Equal(t, "pricing", inv.AgentID)
}

func TestLedgerRelease(t *testing.T) {
	l := NewToolLedger()
	l.Observe(chat.ToolEvent{Name: "a", Phase: chat.ToolStart}, "designer")
	l.Observe(chat.ToolEvent{Name: "b", Phase: chat.ToolStart}, "pricing")
	l.Observe(chat.ToolEvent{Name: "a", Phase: chat.ToolComplete}, "designer")

	released := l.Release("designer")
	require.Len(t, released, 1)
	assert.Equal(t, "a", released[0].ToolName)

	remaining := l.Remaining()
	require.Len(t, remaining, 1)
	assert.Equal(t, "pricing", remaining[0].AgentID)
}

func TestLedgerForceTimeout(t *testing.T) {
	l := NewToolLedger()
	l.Observe(chat.ToolEvent{Name: "slow", Phase: chat.ToolStart, Timestamp: time.Now().Add(-time.Minute)}, "designer")
	l.Observe(chat.ToolEvent{Name: "done", Phase: chat.ToolComplete}, "designer")

	timed := l.ForceTimeout(time.Now())
	require.Len(t, timed, 1)
	assert.Equal(t, "slow", timed[0].ToolName)
	assert.Equal(t, chat.ToolError, timed[0].Phase)
	assert.Contains(t, timed[0].Error, "timed out")
	assert.Equal(t, 0, l.OpenCount())
}
