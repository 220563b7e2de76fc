package id

import (
	"strings"
	"testing"
)

func TestNewSessionIDPrefix(t *testing.T) {
	sessionID := NewSessionID()
	if !strings.HasPrefix(sessionID, "session-") {
		t.Fatalf("expected session prefix, got %q", sessionID)
	}
}

func TestStrategySwitch(t *testing.T) {
	defer SetStrategy(StrategyKSUID)

	SetStrategy(StrategyUUIDv7)
	turnID := NewTurnID()
	if !strings.HasPrefix(turnID, "turn-") {
		t.Fatalf("expected turn prefix, got %q", turnID)
	}
	// UUIDv7 bodies contain dashes beyond the prefix separator.
	if strings.Count(turnID, "-") < 5 {
		t.Fatalf("expected uuidv7-shaped body, got %q", turnID)
	}
}

func TestIdentifiersAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewMessageID()
		if seen[id] {
			t.Fatalf("duplicate identifier %q", id)
		}
		seen[id] = true
	}
}
