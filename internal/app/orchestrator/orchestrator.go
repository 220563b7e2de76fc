// Package orchestrator drives one conversation turn end to end: it streams
// the AI backend's response, classifies and buffers the raw notifications,
// coordinates mid-turn agent handoffs and tool pauses, resolves artifact
// references from the terminal metadata, and commits the finished turn.
//
// All turn state is owned by a single loop goroutine per turn. Stream
// notifications, flush ticks and the tool timeout arrive over channels and
// are applied sequentially, so no component here takes a lock.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rfpez/rfpez/internal/config"
	"github.com/rfpez/rfpez/internal/domain/chat"
	"github.com/rfpez/rfpez/internal/llm"
	"github.com/rfpez/rfpez/internal/logging"
	"github.com/rfpez/rfpez/internal/observability"
	"github.com/rfpez/rfpez/internal/shared/utils/id"
)

const sessionTitleLimit = 50

// Options wires the orchestrator's collaborators. Client, Sessions, Messages
// and Agents are required; the rest default to no-ops.
type Options struct {
	Client    llm.Client
	Sessions  chat.SessionStore
	Messages  chat.MessageStore
	Artifacts chat.ArtifactStore
	Agents    chat.AgentDirectory
	Notifier  chat.RefreshNotifier
	Metrics   *observability.MetricsCollector
	Logger    logging.Logger
	Streaming config.StreamingConfig
	LLM       config.LLMConfig
}

// Orchestrator serializes turns per session and runs each one on its own
// loop goroutine.
type Orchestrator struct {
	client    llm.Client
	sessions  chat.SessionStore
	agents    chat.AgentDirectory
	notifier  chat.RefreshNotifier
	metrics   *observability.MetricsCollector
	logger    logging.Logger
	streaming config.StreamingConfig
	llmCfg    config.LLMConfig

	classifier *Classifier
	resolver   *ArtifactResolver
	gateway    *Gateway

	mu     sync.Mutex
	active map[string]*Turn
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("orchestrator")
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = chat.NoopRefreshNotifier{}
	}
	return &Orchestrator{
		client:     opts.Client,
		sessions:   opts.Sessions,
		agents:     opts.Agents,
		notifier:   notifier,
		metrics:    opts.Metrics,
		logger:     logger,
		streaming:  opts.Streaming,
		llmCfg:     opts.LLM,
		classifier: NewClassifier(opts.Metrics, logger),
		resolver:   NewArtifactResolver(opts.Artifacts, logger),
		gateway:    NewGateway(opts.Messages, opts.Metrics, logger),
		active:     make(map[string]*Turn),
	}
}

// Busy reports whether the session has a turn in flight.
func (o *Orchestrator) Busy(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, busy := o.active[sessionID]
	return busy
}

// Cancel aborts the session's in-flight turn, if any. Content already
// delivered stays visible; the turn is committed as abandoned.
func (o *Orchestrator) Cancel(sessionID string) bool {
	o.mu.Lock()
	turn := o.active[sessionID]
	o.mu.Unlock()
	if turn == nil {
		return false
	}
	turn.cancel()
	return true
}

// SendMessage runs one turn synchronously: it persists the user message,
// streams the AI response while emitting UI events to listener, and commits
// the result. It returns ErrTurnInFlight when the session is busy.
func (o *Orchestrator) SendMessage(ctx context.Context, sessionID, userID, content string, listener chat.UIListener) error {
	if listener == nil {
		listener = chat.NoopUIListener{}
	}
	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	tctx, cancel := context.WithCancel(ctx)
	defer cancel()
	turn := &Turn{ID: id.NewTurnID(), SessionID: sessionID, StartedAt: time.Now(), cancel: cancel}

	o.mu.Lock()
	if _, busy := o.active[sessionID]; busy {
		o.mu.Unlock()
		return ErrTurnInFlight
	}
	o.active[sessionID] = turn
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.active, sessionID)
		o.mu.Unlock()
	}()

	tctx = id.WithSessionID(tctx, sessionID)
	tctx = id.WithTurnID(tctx, turn.ID)
	if userID != "" {
		tctx = id.WithUserID(tctx, userID)
	}
	o.metrics.RecordTurnStarted(tctx)

	agent, err := o.resolveAgent(tctx, sessionID)
	if err != nil {
		return err
	}
	history, err := o.gateway.messages.GetMessages(tctx, sessionID)
	if err != nil {
		return err
	}

	// The prompt is durable before the AI service is asked anything.
	if _, err := o.gateway.CommitUser(tctx, sessionID, userID, content); err != nil {
		return err
	}
	if len(history) == 0 {
		session.Title = sessionTitle(content)
		session.UpdatedAt = time.Now()
		if err := o.sessions.Save(tctx, session); err != nil {
			o.logger.Warn("set title for session %s: %v", sessionID, err)
		}
	}

	st := newTurnState(turn.ID, sessionID, *agent, o.streaming.FlushThreshold)
	req := o.buildRequest(st, history, content)
	return o.runTurn(tctx, turn, st, req, listener)
}

func (o *Orchestrator) resolveAgent(ctx context.Context, sessionID string) (*chat.Agent, error) {
	agent, err := o.agents.ActiveForSession(ctx, sessionID)
	if err == nil && agent != nil {
		return agent, nil
	}
	return o.agents.Default(ctx)
}

// buildRequest assembles the completion request: the active agent's
// instructions, the most recent history window and the new user message.
func (o *Orchestrator) buildRequest(st *turnState, history []chat.PersistedMessage, content string) llm.Request {
	window := history
	if w := o.streaming.HistoryWindow; w > 0 && len(window) > w {
		window = window[len(window)-w:]
	}
	msgs := make([]llm.Message, 0, len(window)+1)
	for _, m := range window {
		if m.Content == "" || m.Role == chat.RoleSystem {
			continue
		}
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: string(chat.RoleUser), Content: content})
	return llm.Request{
		SessionID:   st.sessionID,
		System:      st.agent.Instructions,
		Messages:    msgs,
		Model:       o.llmCfg.Model,
		MaxTokens:   o.llmCfg.MaxTokens,
		Temperature: o.llmCfg.Temperature,
	}
}

// toolTimerCtl arms the bounded tool wait only while a tool is running. The
// timer fires into the turn loop like any other event.
type toolTimerCtl struct {
	timer *time.Timer
	armed bool
}

func (tc *toolTimerCtl) arm(d time.Duration) {
	tc.disarm()
	tc.timer.Reset(d)
	tc.armed = true
}

func (tc *toolTimerCtl) disarm() {
	if !tc.timer.Stop() && tc.armed {
		select {
		case <-tc.timer.C:
		default:
		}
	}
	tc.armed = false
}

// runTurn is the turn loop. The stream callback only forwards notifications
// into the channel; every state mutation happens here, in order.
func (o *Orchestrator) runTurn(ctx context.Context, turn *Turn, st *turnState, req llm.Request, listener chat.UIListener) error {
	notifs := make(chan llm.Notification, 256)
	streamErr := make(chan error, 1)
	go func() {
		streamErr <- o.client.StreamChat(ctx, req, func(n llm.Notification) {
			if ctx.Err() != nil {
				return
			}
			select {
			case notifs <- n:
			case <-ctx.Done():
			}
		})
	}()

	ticker := time.NewTicker(o.streaming.FlushInterval)
	defer ticker.Stop()

	tc := &toolTimerCtl{timer: time.NewTimer(o.streaming.ToolWait)}
	tc.disarm()
	defer tc.timer.Stop()

	for {
		var timeout <-chan time.Time
		if tc.armed {
			timeout = tc.timer.C
		}
		select {
		case n := <-notifs:
			o.applyAll(ctx, st, n, listener, tc)
		case <-ticker.C:
			o.flush(ctx, st, "interval", listener)
		case <-timeout:
			tc.armed = false
			o.onToolTimeout(ctx, st, listener)
		case err := <-streamErr:
		drain:
			for {
				select {
				case n := <-notifs:
					o.applyAll(ctx, st, n, listener, tc)
				default:
					break drain
				}
			}
			tc.disarm()
			return o.finishTurn(ctx, turn, st, err, listener)
		}
	}
}

func (o *Orchestrator) applyAll(ctx context.Context, st *turnState, n llm.Notification, listener chat.UIListener, tc *toolTimerCtl) {
	for _, ev := range o.classifier.Classify(ctx, n) {
		o.apply(ctx, st, ev, listener, tc)
	}
}

func (o *Orchestrator) apply(ctx context.Context, st *turnState, ev chat.StreamEvent, listener chat.UIListener, tc *toolTimerCtl) {
	switch ev.Kind {
	case chat.EventText:
		if st.phase == phaseToolProcessing || st.phase == phaseToolTimedOut {
			o.resumeFromTools(st, listener, tc)
		}
		o.metrics.RecordTextFragment(ctx)
		if st.buffer.Append(ev.Text) {
			o.flush(ctx, st, "size", listener)
		}

	case chat.EventTool:
		o.onToolEvent(ctx, st, *ev.Tool, listener, tc)

	case chat.EventBoundary:
		switch ev.Boundary.Kind {
		case chat.BoundaryMessageStart:
			o.onHandoff(ctx, st, *ev.Boundary, listener, tc)
		case chat.BoundaryMessageComplete:
			o.flush(ctx, st, "boundary", listener)
		case chat.BoundaryToolProcessing:
			o.enterToolProcessing(ctx, st, listener, tc)
		}

	case chat.EventTerminal:
		o.flush(ctx, st, "boundary", listener)
		if st.phase == phaseToolProcessing || st.phase == phaseToolTimedOut {
			o.resumeFromTools(st, listener, tc)
		}
		meta := ev.Terminal.Metadata
		st.terminal = &meta
		st.forced = ev.Terminal.Forced
		st.phase = phaseComplete
	}
}

// flush moves pending buffer text onto the active message and repaints it.
// The first non-empty flush reveals a hidden post-handoff message.
func (o *Orchestrator) flush(ctx context.Context, st *turnState, trigger string, listener chat.UIListener) {
	moved := st.buffer.Flush()
	if moved == "" {
		return
	}
	if st.active == nil {
		st.startMessage(false)
	}
	st.active.Content += moved
	if st.active.Hidden && strings.TrimSpace(st.active.Content) != "" {
		st.active.Hidden = false
	}
	o.metrics.RecordBufferFlush(ctx, trigger)
	if st.active.Visible() {
		o.emitMessage(st, listener, st.active)
	}
}

func (o *Orchestrator) onToolEvent(ctx context.Context, st *turnState, ev chat.ToolEvent, listener chat.UIListener, tc *toolTimerCtl) {
	inv := st.ledger.Observe(ev, st.agent.ID)
	listener.OnUIEvent(chat.UIEvent{
		Kind:      chat.UIToolActivity,
		SessionID: st.sessionID,
		TurnID:    st.turnID,
		Tool:      &inv,
	})
	switch {
	case ev.Phase == chat.ToolStart:
		o.enterToolProcessing(ctx, st, listener, tc)
	case ev.Phase.Terminal():
		status := "complete"
		if ev.Phase == chat.ToolError {
			status = "error"
		}
		o.metrics.RecordToolExecution(ctx, inv.ToolName, status, inv.Duration)
		if st.ledger.OpenCount() == 0 {
			tc.disarm()
		}
	}
}

// enterToolProcessing pauses the stream: the buffer is flushed on the
// boundary, a placeholder bubble appears, and the bounded tool wait starts.
// A tool start while already paused just re-arms the wait.
func (o *Orchestrator) enterToolProcessing(ctx context.Context, st *turnState, listener chat.UIListener, tc *toolTimerCtl) {
	if st.phase == phaseComplete {
		return
	}
	o.flush(ctx, st, "boundary", listener)
	if st.phase != phaseToolProcessing {
		st.phase = phaseToolProcessing
		if st.placeholder == nil {
			st.placeholder = &chat.StreamingMessage{
				ID:          id.NewMessageID(),
				AgentID:     st.agent.ID,
				AgentName:   st.agent.Name,
				Content:     "Working on it...",
				Placeholder: true,
				CreatedAt:   time.Now(),
			}
			o.emitMessage(st, listener, st.placeholder)
		}
	}
	tc.arm(o.streaming.ToolWait)
}

// resumeFromTools removes the placeholder and returns to streaming. The
// active message keeps its identity, so post-tool text continues the same
// bubble unless a handoff replaced it in between.
func (o *Orchestrator) resumeFromTools(st *turnState, listener chat.UIListener, tc *toolTimerCtl) {
	if st.placeholder != nil {
		listener.OnUIEvent(chat.UIEvent{
			Kind:      chat.UIMessageRemoved,
			SessionID: st.sessionID,
			TurnID:    st.turnID,
			RemovedID: st.placeholder.ID,
		})
		st.placeholder = nil
	}
	tc.disarm()
	st.phase = phaseStreaming
}

// onHandoff retires the outgoing agent's message and opens a hidden one for
// the incoming agent. Text classified after the boundary in the same
// notification lands on the new message.
func (o *Orchestrator) onHandoff(ctx context.Context, st *turnState, b chat.BoundaryEvent, listener chat.UIListener, tc *toolTimerCtl) {
	o.flush(ctx, st, "boundary", listener)
	if st.phase == phaseToolProcessing || st.phase == phaseToolTimedOut {
		o.resumeFromTools(st, listener, tc)
	}

	if dropped := st.closeActive(); dropped != nil {
		if dropped.Visible() {
			listener.OnUIEvent(chat.UIEvent{
				Kind:      chat.UIMessageRemoved,
				SessionID: st.sessionID,
				TurnID:    st.turnID,
				RemovedID: dropped.ID,
			})
		}
	} else if last := st.lastVisible(); last != nil {
		o.emitMessage(st, listener, last)
	}

	incoming := chat.Agent{ID: b.AgentID, Name: b.AgentName}
	if incoming.ID != "" && incoming.Name == "" && o.agents != nil {
		if a, err := o.agents.Get(ctx, incoming.ID); err == nil {
			incoming = *a
		}
	}
	if incoming.ID == "" {
		incoming = st.agent
	}
	from := st.agent
	st.agent = incoming
	st.startMessage(true)
	st.handoffOccurred = true
	o.metrics.RecordAgentHandoff(ctx)
	o.logger.Info("agent handoff in session %s: %s -> %s", st.sessionID, from.ID, incoming.ID)
}

// onToolTimeout abandons the wait without killing the turn: open ledger
// entries resolve as errored, the user gets an advisory, and the stream is
// free to resume if results arrive late.
func (o *Orchestrator) onToolTimeout(ctx context.Context, st *turnState, listener chat.UIListener) {
	timed := st.ledger.ForceTimeout(time.Now())
	for i := range timed {
		o.metrics.RecordToolTimeout(ctx, timed[i].ToolName)
		listener.OnUIEvent(chat.UIEvent{
			Kind:      chat.UIToolActivity,
			SessionID: st.sessionID,
			TurnID:    st.turnID,
			Tool:      &timed[i],
		})
	}
	if st.placeholder != nil {
		listener.OnUIEvent(chat.UIEvent{
			Kind:      chat.UIMessageRemoved,
			SessionID: st.sessionID,
			TurnID:    st.turnID,
			RemovedID: st.placeholder.ID,
		})
		st.placeholder = nil
	}
	st.phase = phaseToolTimedOut
	listener.OnUIEvent(chat.UIEvent{
		Kind:      chat.UINotice,
		SessionID: st.sessionID,
		TurnID:    st.turnID,
		Notice:    toolTimeoutNotice,
	})
	o.logger.Warn("tool wait exceeded %s in session %s", o.streaming.ToolWait, st.sessionID)
}

// finishTurn routes stream termination to the success, cancellation or
// error path. The stream-cleanup sentinel is a successful completion.
func (o *Orchestrator) finishTurn(ctx context.Context, turn *Turn, st *turnState, err error, listener chat.UIListener) error {
	duration := time.Since(turn.StartedAt)
	if err == nil || errors.Is(err, llm.ErrStreamClosedOK) {
		return o.finishSuccess(ctx, st, duration, listener)
	}
	ce := llm.Categorize(err)
	switch ce.Category {
	case llm.CategoryStreamCleanup:
		return o.finishSuccess(ctx, st, duration, listener)
	case llm.CategoryCancelled:
		return o.finishCancelled(ctx, st, duration, listener)
	default:
		return o.finishError(ctx, st, ce, duration, listener)
	}
}

func (o *Orchestrator) finishSuccess(ctx context.Context, st *turnState, duration time.Duration, listener chat.UIListener) error {
	o.settleMessages(st, listener)

	var resolved []chat.ArtifactReference
	if st.terminal != nil {
		resolved = o.resolver.Resolve(st.terminal)
	}
	target := st.lastVisible()
	var refs []chat.ArtifactReference
	if len(resolved) > 0 && target != nil {
		// Dedup only once a message exists to carry the references;
		// otherwise they stay attachable on a later turn.
		refs = o.resolver.FilterKnown(st.sessionID, resolved)
	}
	if len(refs) > 0 {
		// Creation finishes server-side slightly after the stream ends;
		// give it a beat before the references appear.
		o.wait(ctx, o.streaming.ArtifactAttachDelay)
		for _, ref := range refs {
			if _, err := o.resolver.Lookup(ctx, ref.ArtifactID); err != nil {
				o.logger.Warn("artifact %s not yet readable: %v", ref.ArtifactID, err)
			}
			o.metrics.RecordArtifactResolved(ctx, string(ref.Type))
		}
		target.ArtifactRefs = append(target.ArtifactRefs, refs...)
		o.emitMessage(st, listener, target)
	}

	base := map[string]any{"stream_complete": true}
	if st.forced {
		base["forced_completion"] = true
	}
	if _, err := o.gateway.CommitTurn(context.WithoutCancel(ctx), st, base); err != nil {
		o.logger.Error("commit turn %s: %v", st.turnID, err)
	}
	o.persistAgentSwitch(ctx, st)
	o.scheduleRefresh(st, len(resolved) > 0)

	o.metrics.RecordTurnCompleted(ctx, "success", duration)
	listener.OnUIEvent(chat.UIEvent{Kind: chat.UITurnComplete, SessionID: st.sessionID, TurnID: st.turnID})
	return nil
}

func (o *Orchestrator) finishCancelled(ctx context.Context, st *turnState, duration time.Duration, listener chat.UIListener) error {
	o.settleMessages(st, listener)

	if st.visibleContent() {
		base := map[string]any{"stream_complete": false, "abandoned": true}
		if _, err := o.gateway.CommitTurn(context.WithoutCancel(ctx), st, base); err != nil {
			o.logger.Error("commit abandoned turn %s: %v", st.turnID, err)
		}
	}
	o.metrics.RecordTurnCompleted(ctx, "cancelled", duration)
	listener.OnUIEvent(chat.UIEvent{
		Kind:      chat.UINotice,
		SessionID: st.sessionID,
		TurnID:    st.turnID,
		Notice:    cancelledNotice,
	})
	listener.OnUIEvent(chat.UIEvent{Kind: chat.UITurnComplete, SessionID: st.sessionID, TurnID: st.turnID})
	return nil
}

func (o *Orchestrator) finishError(ctx context.Context, st *turnState, ce llm.CategorizedError, duration time.Duration, listener chat.UIListener) error {
	o.settleMessages(st, listener)
	bg := context.WithoutCancel(ctx)

	if st.visibleContent() {
		base := map[string]any{"stream_complete": false, "abandoned": true}
		if _, err := o.gateway.CommitTurn(bg, st, base); err != nil {
			o.logger.Error("commit partial turn %s: %v", st.turnID, err)
		}
	}

	text := userMessage(ce)
	rec := chat.MessageRecord{
		SessionID: st.sessionID,
		Role:      chat.RoleAssistant,
		Content:   text,
		AgentID:   st.agent.ID,
		AgentName: st.agent.Name,
		AIMetadata: map[string]any{
			"error":          true,
			"error_category": string(ce.Category),
		},
	}
	if _, err := o.gateway.messages.AddMessage(bg, rec); err != nil {
		o.logger.Error("persist error message for turn %s: %v", st.turnID, err)
	} else {
		o.metrics.RecordMessagePersisted(ctx, string(chat.RoleAssistant))
	}

	o.metrics.RecordTurnCompleted(ctx, "error", duration)
	o.logger.Error("turn %s failed: category=%s message=%s", st.turnID, ce.Category, ce.Message)
	listener.OnUIEvent(chat.UIEvent{
		Kind:      chat.UITurnError,
		SessionID: st.sessionID,
		TurnID:    st.turnID,
		Err:       text,
		Retryable: ce.Retryable,
	})
	return nil
}

// settleMessages flushes whatever is pending, clears any tool placeholder
// and retires the active message.
func (o *Orchestrator) settleMessages(st *turnState, listener chat.UIListener) {
	ctx := context.Background()
	o.flush(ctx, st, "boundary", listener)
	if st.placeholder != nil {
		listener.OnUIEvent(chat.UIEvent{
			Kind:      chat.UIMessageRemoved,
			SessionID: st.sessionID,
			TurnID:    st.turnID,
			RemovedID: st.placeholder.ID,
		})
		st.placeholder = nil
	}
	if dropped := st.closeActive(); dropped != nil {
		if dropped.Visible() {
			listener.OnUIEvent(chat.UIEvent{
				Kind:      chat.UIMessageRemoved,
				SessionID: st.sessionID,
				TurnID:    st.turnID,
				RemovedID: dropped.ID,
			})
		}
	} else if last := st.lastVisible(); last != nil {
		o.emitMessage(st, listener, last)
	}
	if rem := st.ledger.Remaining(); len(rem) > 0 {
		o.logger.Debug("turn %s: %d tool entries without a surviving message", st.turnID, len(rem))
	}
}

// persistAgentSwitch records the final agent assignment after a handoff.
func (o *Orchestrator) persistAgentSwitch(ctx context.Context, st *turnState) {
	if !st.handoffOccurred || st.agent.ID == "" {
		return
	}
	bg := context.WithoutCancel(ctx)
	if err := o.agents.SetActiveForSession(bg, st.sessionID, st.agent.ID); err != nil {
		o.logger.Warn("set active agent for session %s: %v", st.sessionID, err)
	}
	if session, err := o.sessions.Get(bg, st.sessionID); err == nil {
		session.ActiveAgentID = st.agent.ID
		session.ActiveAgent = st.agent.Name
		session.UpdatedAt = time.Now()
		if err := o.sessions.Save(bg, session); err != nil {
			o.logger.Warn("save session %s after handoff: %v", st.sessionID, err)
		}
	}
}

// scheduleRefresh fires cross-component refresh signals after the settle
// delay, off the turn loop. Consumers re-fetch; nothing is pushed.
func (o *Orchestrator) scheduleRefresh(st *turnState, artifactActivity bool) {
	if !artifactActivity && !st.handoffOccurred {
		return
	}
	sessionID := st.sessionID
	handoff := st.handoffOccurred
	time.AfterFunc(o.streaming.RefreshSettleDelay, func() {
		if artifactActivity {
			o.notifier.ArtifactsChanged(sessionID)
		}
		if handoff {
			o.notifier.ActiveAgentChanged(sessionID)
		}
	})
}

func (o *Orchestrator) emitMessage(st *turnState, listener chat.UIListener, msg *chat.StreamingMessage) {
	listener.OnUIEvent(chat.UIEvent{
		Kind:      chat.UIMessageUpdated,
		SessionID: st.sessionID,
		TurnID:    st.turnID,
		Message:   snapshot(msg),
	})
}

func (o *Orchestrator) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// sessionTitle derives a session title from the first user message.
func sessionTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	runes := []rune(title)
	if len(runes) > sessionTitleLimit {
		title = strings.TrimSpace(string(runes[:sessionTitleLimit])) + "..."
	}
	return title
}
