package llm

import (
	"context"
	"sync"
)

// MockClient replays a scripted notification sequence. Used by orchestrator
// and handler tests; the script is delivered sequentially from the calling
// goroutine, matching the real client's delivery contract.
type MockClient struct {
	mu sync.Mutex

	// Script is delivered in order on each StreamChat call.
	Script []Notification
	// Err is returned after the script is delivered (ErrStreamClosedOK to
	// exercise the cleanup-success path, nil for a normal return).
	Err error
	// StepHook, when set, runs before each notification is delivered.
	StepHook func(i int, n Notification)

	// Requests records every request received.
	Requests []Request
}

// StreamChat replays the script, honoring context cancellation between
// notifications the way the transport checks its token between chunks.
func (m *MockClient) StreamChat(ctx context.Context, req Request, handler StreamHandler) error {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	script := make([]Notification, len(m.Script))
	copy(script, m.Script)
	hook := m.StepHook
	err := m.Err
	m.mu.Unlock()

	for i, n := range script {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if hook != nil {
			hook(i, n)
		}
		handler(n)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// LastRequest returns the most recent request, or the zero value.
func (m *MockClient) LastRequest() Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return Request{}
	}
	return m.Requests[len(m.Requests)-1]
}
