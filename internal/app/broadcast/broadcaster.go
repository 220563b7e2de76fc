// Package broadcast fans turn events out to connected clients. The
// orchestrator emits UI events synchronously from its turn loop; the
// broadcaster decouples delivery so a slow SSE or websocket consumer can
// never stall a stream.
package broadcast

import (
	"sync"

	"github.com/rfpez/rfpez/internal/domain/chat"
	"github.com/rfpez/rfpez/internal/logging"
)

const (
	// ClientBuffer is the per-client channel capacity handed to Register.
	ClientBuffer = 128

	highVolumeLogBatch = 25
	defaultMaxHistory  = 500
)

// Broadcaster distributes UI events to per-session subscriber channels. It
// implements chat.UIListener for turn events and chat.RefreshNotifier for
// the post-persistence refresh signals.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string][]chan chat.UIEvent

	historyMu  sync.RWMutex
	history    map[string][]chat.UIEvent
	maxHistory int

	highVolumeMu       sync.Mutex
	highVolumeCounters map[string]int

	metrics broadcasterMetrics
	logger  logging.Logger
}

type broadcasterMetrics struct {
	mu sync.Mutex

	eventsSent        int64
	droppedEvents     int64
	totalConnections  int64
	activeConnections int64
}

func New() *Broadcaster {
	return &Broadcaster{
		clients:            make(map[string][]chan chat.UIEvent),
		history:            make(map[string][]chat.UIEvent),
		highVolumeCounters: make(map[string]int),
		maxHistory:         defaultMaxHistory,
		logger:             logging.NewComponentLogger("Broadcaster"),
	}
}

// OnUIEvent implements chat.UIListener.
func (b *Broadcaster) OnUIEvent(event chat.UIEvent) {
	if event.SessionID == "" {
		b.logger.Warn("event %s without session id dropped", event.Kind)
		return
	}
	suppress := event.Kind == chat.UIMessageUpdated
	if suppress {
		b.trackHighVolume(event.SessionID)
	} else {
		b.logger.Debug("event %s for session %s", event.Kind, event.SessionID)
	}
	if persistToHistory(event) {
		b.storeHistory(event)
	}

	b.mu.RLock()
	clients := b.clients[event.SessionID]
	b.mu.RUnlock()
	for i, ch := range clients {
		select {
		case ch <- event:
			b.metrics.sent()
		default:
			if b.deliverCritical(event, ch) {
				continue
			}
			b.logger.Warn("client %d/%d buffer full for session %s, dropping %s",
				i+1, len(clients), event.SessionID, event.Kind)
			b.metrics.dropped()
		}
	}
}

// ArtifactsChanged implements chat.RefreshNotifier.
func (b *Broadcaster) ArtifactsChanged(sessionID string) {
	b.OnUIEvent(chat.UIEvent{Kind: chat.UIArtifactsRefresh, SessionID: sessionID})
}

// ActiveAgentChanged implements chat.RefreshNotifier.
func (b *Broadcaster) ActiveAgentChanged(sessionID string) {
	b.OnUIEvent(chat.UIEvent{Kind: chat.UIAgentRefresh, SessionID: sessionID})
}

// deliverCritical forces terminal events through a saturated buffer by
// evicting the oldest queued event. A client that never learns the turn
// ended would spin forever; stale message repaints are expendable.
func (b *Broadcaster) deliverCritical(event chat.UIEvent, ch chan chat.UIEvent) bool {
	switch event.Kind {
	case chat.UITurnComplete, chat.UITurnError:
	default:
		return false
	}
	select {
	case ch <- event:
		b.metrics.sent()
		return true
	default:
	}
	select {
	case <-ch:
	default:
		return false
	}
	select {
	case ch <- event:
		b.logger.Warn("evicted oldest event to deliver %s for session %s", event.Kind, event.SessionID)
		b.metrics.sent()
		return true
	default:
		return false
	}
}

// Register subscribes a client channel to a session's events.
func (b *Broadcaster) Register(sessionID string, ch chan chat.UIEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[sessionID] = append(b.clients[sessionID], ch)
	b.metrics.connected()
	b.logger.Info("client registered for session %s (total: %d)", sessionID, len(b.clients[sessionID]))
}

// Unregister removes and closes a client channel.
func (b *Broadcaster) Unregister(sessionID string, ch chan chat.UIEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	clients := b.clients[sessionID]
	for i, client := range clients {
		if client == ch {
			b.clients[sessionID] = append(clients[:i], clients[i+1:]...)
			close(ch)
			b.metrics.disconnected()
			if len(b.clients[sessionID]) == 0 {
				delete(b.clients, sessionID)
				b.clearHighVolume(sessionID)
			}
			b.logger.Info("client unregistered from session %s (remaining: %d)", sessionID, len(b.clients[sessionID]))
			return
		}
	}
}

// ClientCount reports the number of subscribers for a session.
func (b *Broadcaster) ClientCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[sessionID])
}

// History returns the stored events for a session, for replay to a client
// that reconnects mid-turn.
func (b *Broadcaster) History(sessionID string) []chat.UIEvent {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()
	history := b.history[sessionID]
	if len(history) == 0 {
		return nil
	}
	out := make([]chat.UIEvent, len(history))
	copy(out, history)
	return out
}

// ClearHistory drops a session's replay buffer.
func (b *Broadcaster) ClearHistory(sessionID string) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	delete(b.history, sessionID)
}

func (b *Broadcaster) storeHistory(event chat.UIEvent) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	history := append(b.history[event.SessionID], event)
	if len(history) > b.maxHistory {
		history = history[len(history)-b.maxHistory:]
	}
	b.history[event.SessionID] = history
}

// persistToHistory keeps the events a reconnecting client needs to rebuild
// its view. Intermediate repaints are superseded by later ones but cheap to
// keep; refresh signals are point-in-time and not replayed.
func persistToHistory(event chat.UIEvent) bool {
	switch event.Kind {
	case chat.UIArtifactsRefresh, chat.UIAgentRefresh:
		return false
	default:
		return true
	}
}

// trackHighVolume batches logging for repaint events, which arrive at rates
// that would flood the logs one line at a time.
func (b *Broadcaster) trackHighVolume(sessionID string) {
	b.highVolumeMu.Lock()
	b.highVolumeCounters[sessionID]++
	count := b.highVolumeCounters[sessionID]
	b.highVolumeMu.Unlock()
	if count%highVolumeLogBatch == 0 {
		b.logger.Debug("processed %d repaint events for session %s", count, sessionID)
	}
}

func (b *Broadcaster) clearHighVolume(sessionID string) {
	b.highVolumeMu.Lock()
	delete(b.highVolumeCounters, sessionID)
	b.highVolumeMu.Unlock()
}

// Metrics is the broadcaster's counters snapshot for the stats endpoint.
type Metrics struct {
	EventsSent        int64 `json:"events_sent"`
	DroppedEvents     int64 `json:"dropped_events"`
	TotalConnections  int64 `json:"total_connections"`
	ActiveConnections int64 `json:"active_connections"`
	SessionCount      int   `json:"session_count"`
}

// Stats returns a snapshot of the broadcaster's counters.
func (b *Broadcaster) Stats() Metrics {
	b.metrics.mu.Lock()
	m := Metrics{
		EventsSent:        b.metrics.eventsSent,
		DroppedEvents:     b.metrics.droppedEvents,
		TotalConnections:  b.metrics.totalConnections,
		ActiveConnections: b.metrics.activeConnections,
	}
	b.metrics.mu.Unlock()

	b.mu.RLock()
	m.SessionCount = len(b.clients)
	b.mu.RUnlock()
	return m
}

func (m *broadcasterMetrics) sent() {
	m.mu.Lock()
	m.eventsSent++
	m.mu.Unlock()
}

func (m *broadcasterMetrics) dropped() {
	m.mu.Lock()
	m.droppedEvents++
	m.mu.Unlock()
}

func (m *broadcasterMetrics) connected() {
	m.mu.Lock()
	m.totalConnections++
	m.activeConnections++
	m.mu.Unlock()
}

func (m *broadcasterMetrics) disconnected() {
	m.mu.Lock()
	m.activeConnections--
	m.mu.Unlock()
}
