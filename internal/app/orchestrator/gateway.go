package orchestrator

import (
	"context"
	"strings"

	"github.com/rfpez/rfpez/internal/domain/chat"
	"github.com/rfpez/rfpez/internal/logging"
	"github.com/rfpez/rfpez/internal/observability"
)

// Gateway owns the write path to the message store. The user message is
// committed before the AI call so a failed turn never loses the prompt;
// assistant messages are committed once, after the turn reaches a terminal
// state, reading each message's live content at commit time.
type Gateway struct {
	messages chat.MessageStore
	metrics  *observability.MetricsCollector
	logger   logging.Logger
}

func NewGateway(messages chat.MessageStore, metrics *observability.MetricsCollector, logger logging.Logger) *Gateway {
	return &Gateway{messages: messages, metrics: metrics, logger: logging.OrNop(logger)}
}

// CommitUser persists the inbound user message.
func (g *Gateway) CommitUser(ctx context.Context, sessionID, userID, content string) (*chat.PersistedMessage, error) {
	rec := chat.MessageRecord{
		SessionID: sessionID,
		AuthorID:  userID,
		Role:      chat.RoleUser,
		Content:   content,
	}
	persisted, err := g.messages.AddMessage(ctx, rec)
	if err != nil {
		return nil, err
	}
	g.metrics.RecordMessagePersisted(ctx, string(chat.RoleUser))
	return persisted, nil
}

// CommitTurn persists the turn's assistant messages in display order.
// Hidden and empty messages are skipped: a handoff that produced no output
// leaves no trace in the transcript. Each message carries only its own
// agent's tool activity; terminal stream statistics go on the last one.
func (g *Gateway) CommitTurn(ctx context.Context, st *turnState, base map[string]any) ([]chat.PersistedMessage, error) {
	last := st.lastVisible()
	var out []chat.PersistedMessage
	for _, m := range st.messages {
		if !m.Visible() || strings.TrimSpace(m.Content) == "" {
			continue
		}
		meta := make(map[string]any, len(base)+3)
		for k, v := range base {
			meta[k] = v
		}
		if len(m.Tools) > 0 {
			meta["tool_invocations"] = m.Tools
		}
		if m == last && st.terminal != nil {
			if st.terminal.Model != "" {
				meta["model"] = st.terminal.Model
			}
			if st.terminal.TokenCount > 0 {
				meta["token_count"] = st.terminal.TokenCount
			}
		}
		rec := chat.MessageRecord{
			SessionID:    st.sessionID,
			Role:         chat.RoleAssistant,
			Content:      m.Content,
			AgentID:      m.AgentID,
			AgentName:    m.AgentName,
			AIMetadata:   meta,
			ArtifactRefs: m.ArtifactRefs,
		}
		persisted, err := g.messages.AddMessage(ctx, rec)
		if err != nil {
			g.logger.Error("persist assistant message for session %s: %v", st.sessionID, err)
			return out, err
		}
		g.metrics.RecordMessagePersisted(ctx, string(chat.RoleAssistant))
		out = append(out, *persisted)
	}
	return out, nil
}
