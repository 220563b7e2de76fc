// Package agents resolves the specialist roster and each session's active
// agent assignment.
package agents

import (
	"context"
	"sync"

	"github.com/rfpez/rfpez/internal/domain/chat"
)

// Defaults is the built-in roster used when no directory rows exist.
func Defaults() []chat.Agent {
	return []chat.Agent{
		{
			ID:            "rfp-designer",
			Name:          "RFP Designer",
			Description:   "Shapes a buying need into a structured request with intake forms.",
			Instructions:  "You help buyers turn a purchasing need into a complete, well-structured request. Ask for missing requirements, then create intake forms and request documents with your tools.",
			InitialPrompt: "What are you looking to buy?",
			Default:       true,
		},
		{
			ID:           "sourcing",
			Name:         "Sourcing",
			Description:  "Finds and qualifies suppliers for an open request.",
			Instructions: "You identify suppliers that can fulfil the buyer's request and summarize their qualifications.",
		},
		{
			ID:           "pricing",
			Name:         "Pricing",
			Description:  "Benchmarks prices and evaluates quotes.",
			Instructions: "You analyze market pricing for the requested goods or services and evaluate incoming quotes against it.",
		},
		{
			ID:           "bid-analyst",
			Name:         "Bid Analyst",
			Description:  "Compares submitted bids against the request.",
			Instructions: "You compare submitted bids, flag gaps against the request, and recommend a shortlist.",
		},
	}
}

// MemoryDirectory is an in-process chat.AgentDirectory over a fixed roster.
type MemoryDirectory struct {
	mu     sync.RWMutex
	agents []chat.Agent
	active map[string]string
}

func NewMemoryDirectory(roster ...chat.Agent) *MemoryDirectory {
	if len(roster) == 0 {
		roster = Defaults()
	}
	return &MemoryDirectory{
		agents: roster,
		active: make(map[string]string),
	}
}

func (d *MemoryDirectory) List(context.Context) ([]chat.Agent, error) {
	out := make([]chat.Agent, len(d.agents))
	copy(out, d.agents)
	return out, nil
}

func (d *MemoryDirectory) Get(_ context.Context, agentID string) (*chat.Agent, error) {
	for i := range d.agents {
		if d.agents[i].ID == agentID {
			agent := d.agents[i]
			return &agent, nil
		}
	}
	return nil, chat.ErrAgentNotFound
}

func (d *MemoryDirectory) Default(context.Context) (*chat.Agent, error) {
	for i := range d.agents {
		if d.agents[i].Default {
			agent := d.agents[i]
			return &agent, nil
		}
	}
	if len(d.agents) > 0 {
		agent := d.agents[0]
		return &agent, nil
	}
	return nil, chat.ErrAgentNotFound
}

func (d *MemoryDirectory) ActiveForSession(ctx context.Context, sessionID string) (*chat.Agent, error) {
	d.mu.RLock()
	agentID, ok := d.active[sessionID]
	d.mu.RUnlock()
	if !ok {
		return nil, chat.ErrAgentNotFound
	}
	return d.Get(ctx, agentID)
}

func (d *MemoryDirectory) SetActiveForSession(ctx context.Context, sessionID, agentID string) error {
	if _, err := d.Get(ctx, agentID); err != nil {
		return err
	}
	d.mu.Lock()
	d.active[sessionID] = agentID
	d.mu.Unlock()
	return nil
}
