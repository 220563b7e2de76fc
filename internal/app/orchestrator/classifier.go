package orchestrator

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/rfpez/rfpez/internal/domain/chat"
	"github.com/rfpez/rfpez/internal/llm"
	"github.com/rfpez/rfpez/internal/logging"
	"github.com/rfpez/rfpez/internal/observability"
)

// jsonLeakMarkers are structural keys that only appear when a transport-layer
// payload bleeds into the text channel. A fragment carrying one of these is
// never user-facing prose.
var jsonLeakMarkers = []string{
	`"function_results"`,
	`"tool_use"`,
	`"artifact_id"`,
	`"agent_switch_occurred"`,
	`"token_count"`,
	`"form_schema"`,
}

// Classifier turns raw stream notifications into ordered stream events.
// One notification can yield several events; ordering encodes the handoff
// tie-break: a message_start boundary always precedes any text that arrived
// in the same notification, so the text is credited to the incoming agent.
type Classifier struct {
	metrics *observability.MetricsCollector
	logger  logging.Logger
}

func NewClassifier(metrics *observability.MetricsCollector, logger logging.Logger) *Classifier {
	return &Classifier{metrics: metrics, logger: logging.OrNop(logger)}
}

// Classify maps one notification to zero or more events in delivery order.
func (c *Classifier) Classify(ctx context.Context, n llm.Notification) []chat.StreamEvent {
	var events []chat.StreamEvent

	if n.Metadata != nil && n.Metadata.MessageStart != nil {
		b := *n.Metadata.MessageStart
		b.Kind = chat.BoundaryMessageStart
		events = append(events, chat.StreamEvent{Kind: chat.EventBoundary, Boundary: &b})
	}

	if n.ToolEvent != nil {
		ev := *n.ToolEvent
		events = append(events, chat.StreamEvent{Kind: chat.EventTool, Tool: &ev})
	} else if n.ToolProcessing {
		events = append(events, chat.StreamEvent{
			Kind:     chat.EventBoundary,
			Boundary: &chat.BoundaryEvent{Kind: chat.BoundaryToolProcessing},
		})
	}

	if n.Text != "" {
		if reason := rejectReason(n.Text); reason != "" {
			c.metrics.RecordRejectedChunk(ctx, reason)
			c.logger.Debug("classifier: dropped %s fragment (%d bytes)", reason, len(n.Text))
		} else {
			events = append(events, chat.StreamEvent{Kind: chat.EventText, Text: n.Text})
		}
	}

	if n.SegmentComplete && (n.Metadata == nil || n.Metadata.Terminal == nil) {
		events = append(events, chat.StreamEvent{
			Kind:     chat.EventBoundary,
			Boundary: &chat.BoundaryEvent{Kind: chat.BoundaryMessageComplete},
		})
	}

	if n.Metadata != nil && n.Metadata.Terminal != nil {
		events = append(events, chat.StreamEvent{
			Kind:     chat.EventTerminal,
			Terminal: &chat.TerminalEvent{Metadata: *n.Metadata.Terminal},
		})
	} else if n.ForceCompletion || (n.Metadata != nil && n.Metadata.Aborted) {
		events = append(events, chat.StreamEvent{
			Kind:     chat.EventTerminal,
			Terminal: &chat.TerminalEvent{Forced: true},
		})
	}

	return events
}

// rejectReason reports why a text fragment must not reach the user, or ""
// when it is valid prose. Whitespace-only fragments are valid: they separate
// words split across deltas.
func rejectReason(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	if _, err := uuid.Parse(trimmed); err == nil {
		return "uuid_identifier"
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		for _, marker := range jsonLeakMarkers {
			if strings.Contains(trimmed, marker) {
				return "json_fragment"
			}
		}
	}
	return ""
}
