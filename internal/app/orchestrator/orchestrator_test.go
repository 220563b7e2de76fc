package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfpez/rfpez/internal/config"
	"github.com/rfpez/rfpez/internal/domain/chat"
	"github.com/rfpez/rfpez/internal/llm"
	"github.com/rfpez/rfpez/internal/shared/utils/id"
)

// --- fakes ---

type memSessions struct {
	mu sync.Mutex
	m  map[string]*chat.Session
}

func newMemSessions() *memSessions { return &memSessions{m: make(map[string]*chat.Session)} }

func (s *memSessions) Create(context.Context) (*chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := &chat.Session{ID: id.NewSessionID(), CreatedAt: time.Now(), UpdatedAt: time.Now()}
	s.m[session.ID] = session
	return session, nil
}

func (s *memSessions) Get(_ context.Context, sessionID string) (*chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.m[sessionID]
	if !ok {
		return nil, chat.ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *memSessions) Save(_ context.Context, session *chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.m[session.ID] = &cp
	return nil
}

func (s *memSessions) List(context.Context) ([]chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []chat.Session
	for _, session := range s.m {
		out = append(out, *session)
	}
	return out, nil
}

func (s *memSessions) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, sessionID)
	return nil
}

type memMessages struct {
	mu        sync.Mutex
	bySession map[string][]chat.PersistedMessage
}

func newMemMessages() *memMessages {
	return &memMessages{bySession: make(map[string][]chat.PersistedMessage)}
}

func (s *memMessages) AddMessage(_ context.Context, rec chat.MessageRecord) (*chat.PersistedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.bySession[rec.SessionID]
	persisted := chat.PersistedMessage{
		ID:           id.NewMessageID(),
		SessionID:    rec.SessionID,
		AuthorID:     rec.AuthorID,
		Role:         rec.Role,
		Content:      rec.Content,
		AgentID:      rec.AgentID,
		AgentName:    rec.AgentName,
		Metadata:     rec.Metadata,
		AIMetadata:   rec.AIMetadata,
		ArtifactRefs: rec.ArtifactRefs,
		Ordinal:      len(msgs) + 1,
		CreatedAt:    time.Now(),
	}
	s.bySession[rec.SessionID] = append(msgs, persisted)
	return &persisted, nil
}

func (s *memMessages) GetMessages(_ context.Context, sessionID string) ([]chat.PersistedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.PersistedMessage, len(s.bySession[sessionID]))
	copy(out, s.bySession[sessionID])
	return out, nil
}

type memAgents struct {
	mu     sync.Mutex
	agents []chat.Agent
	active map[string]string
}

func newMemAgents(agents ...chat.Agent) *memAgents {
	return &memAgents{agents: agents, active: make(map[string]string)}
}

func (d *memAgents) List(context.Context) ([]chat.Agent, error) { return d.agents, nil }

func (d *memAgents) Get(_ context.Context, agentID string) (*chat.Agent, error) {
	for i := range d.agents {
		if d.agents[i].ID == agentID {
			cp := d.agents[i]
			return &cp, nil
		}
	}
	return nil, chat.ErrAgentNotFound
}

func (d *memAgents) Default(ctx context.Context) (*chat.Agent, error) {
	for i := range d.agents {
		if d.agents[i].Default {
			cp := d.agents[i]
			return &cp, nil
		}
	}
	if len(d.agents) > 0 {
		cp := d.agents[0]
		return &cp, nil
	}
	return nil, chat.ErrAgentNotFound
}

func (d *memAgents) ActiveForSession(ctx context.Context, sessionID string) (*chat.Agent, error) {
	d.mu.Lock()
	agentID, ok := d.active[sessionID]
	d.mu.Unlock()
	if !ok {
		return nil, chat.ErrAgentNotFound
	}
	return d.Get(ctx, agentID)
}

func (d *memAgents) SetActiveForSession(_ context.Context, sessionID, agentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active[sessionID] = agentID
	return nil
}

func (d *memAgents) activeID(sessionID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active[sessionID]
}

type memArtifacts struct {
	mu sync.Mutex
	m  map[string]*chat.Artifact
}

func newMemArtifacts(seed ...*chat.Artifact) *memArtifacts {
	s := &memArtifacts{m: make(map[string]*chat.Artifact)}
	for _, a := range seed {
		s.m[a.ID] = a
	}
	return s
}

func (s *memArtifacts) Save(_ context.Context, artifact *chat.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[artifact.ID] = artifact
	return nil
}

func (s *memArtifacts) Get(_ context.Context, artifactID string) (*chat.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	artifact, ok := s.m[artifactID]
	if !ok {
		return nil, chat.ErrArtifactNotFound
	}
	return artifact, nil
}

func (s *memArtifacts) ListBySession(context.Context, string) ([]chat.Artifact, error) {
	return nil, nil
}

type recListener struct {
	mu     sync.Mutex
	events []chat.UIEvent
}

func (l *recListener) OnUIEvent(event chat.UIEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recListener) all() []chat.UIEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]chat.UIEvent(nil), l.events...)
}

func (l *recListener) ofKind(kind chat.UIEventKind) []chat.UIEvent {
	var out []chat.UIEvent
	for _, e := range l.all() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type recNotifier struct {
	mu        sync.Mutex
	artifacts []string
	agents    []string
}

func (n *recNotifier) ArtifactsChanged(sessionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.artifacts = append(n.artifacts, sessionID)
}

func (n *recNotifier) ActiveAgentChanged(sessionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.agents = append(n.agents, sessionID)
}

func (n *recNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.artifacts), len(n.agents)
}

// --- harness ---

type testDeps struct {
	orch      *Orchestrator
	sessions  *memSessions
	messages  *memMessages
	agents    *memAgents
	artifacts *memArtifacts
	notifier  *recNotifier
	session   *chat.Session
}

func testStreaming() config.StreamingConfig {
	return config.StreamingConfig{
		FlushThreshold:      150,
		FlushInterval:       5 * time.Millisecond,
		ToolWait:            250 * time.Millisecond,
		ArtifactAttachDelay: time.Millisecond,
		RefreshSettleDelay:  time.Millisecond,
		HistoryWindow:       10,
	}
}

func newTestDeps(t *testing.T, client llm.Client) *testDeps {
	t.Helper()
	d := &testDeps{
		sessions: newMemSessions(),
		messages: newMemMessages(),
		agents: newMemAgents(
			chat.Agent{ID: "designer", Name: "RFP Designer", Instructions: "You design procurement requests.", Default: true},
			chat.Agent{ID: "pricing", Name: "Pricing", Instructions: "You benchmark prices."},
		),
		artifacts: newMemArtifacts(),
		notifier:  &recNotifier{},
	}
	d.orch = New(Options{
		Client:    client,
		Sessions:  d.sessions,
		Messages:  d.messages,
		Artifacts: d.artifacts,
		Agents:    d.agents,
		Notifier:  d.notifier,
		Streaming: testStreaming(),
		LLM:       config.LLMConfig{Model: "claude-sonnet", MaxTokens: 4096},
	})
	session, err := d.sessions.Create(context.Background())
	require.NoError(t, err)
	d.session = session
	return d
}

func terminalWith(meta chat.TerminalMetadata) llm.Notification {
	return llm.Notification{SegmentComplete: true, Metadata: &llm.SegmentMetadata{Terminal: &meta}}
}

// --- scenarios ---

func TestTurnWithToolAndArtifact(t *testing.T) {
	formResult, err := json.Marshal(map[string]any{
		"success":       true,
		"artifact_id":   "art_form_1",
		"artifact_name": "Office Chair Intake",
		"form_schema":   map[string]any{"fields": []any{"quantity"}},
	})
	require.NoError(t, err)

	client := &llm.MockClient{Script: []llm.Notification{
		{Text: "Sure, creating"},
		{Text: " it now."},
		{ToolProcessing: true, ToolEvent: &chat.ToolEvent{Name: "create_form_artifact", Phase: chat.ToolStart}},
		{ToolEvent: &chat.ToolEvent{Name: "create_form_artifact", Phase: chat.ToolComplete}},
		terminalWith(chat.TerminalMetadata{
			Model:           "claude-sonnet",
			TokenCount:      57,
			FunctionResults: []chat.FunctionResult{{Function: "create_form_artifact", Result: formResult}},
		}),
	}}
	d := newTestDeps(t, client)
	require.NoError(t, d.artifacts.Save(context.Background(), &chat.Artifact{ID: "art_form_1", Name: "Office Chair Intake"}))

	listener := &recListener{}
	err = d.orch.SendMessage(context.Background(), d.session.ID, "user_1", "I need 40 office chairs", listener)
	require.NoError(t, err)

	msgs, err := d.messages.GetMessages(context.Background(), d.session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, "I need 40 office chairs", msgs[0].Content)

	final := msgs[1]
	assert.Equal(t, chat.RoleAssistant, final.Role)
	assert.Equal(t, "Sure, creating it now.", final.Content)
	assert.Equal(t, "designer", final.AgentID)
	assert.Equal(t, true, final.AIMetadata["stream_complete"])
	assert.Equal(t, "claude-sonnet", final.AIMetadata["model"])
	require.Len(t, final.ArtifactRefs, 1)
	assert.Equal(t, "art_form_1", final.ArtifactRefs[0].ArtifactID)
	assert.Equal(t, chat.ArtifactForm, final.ArtifactRefs[0].Type)
	assert.True(t, final.ArtifactRefs[0].Created)

	// the placeholder appeared while the tool ran and was removed after
	removed := listener.ofKind(chat.UIMessageRemoved)
	require.NotEmpty(t, removed)
	assert.Len(t, listener.ofKind(chat.UIToolActivity), 2)
	assert.NotEmpty(t, listener.ofKind(chat.UITurnComplete))
	assert.Empty(t, listener.ofKind(chat.UITurnError))

	require.Eventually(t, func() bool {
		artifacts, _ := d.notifier.counts()
		return artifacts == 1
	}, time.Second, 5*time.Millisecond)

	// session title comes from the first user message
	session, err := d.sessions.Get(context.Background(), d.session.ID)
	require.NoError(t, err)
	assert.Equal(t, "I need 40 office chairs", session.Title)
}

func TestTurnWithAgentHandoff(t *testing.T) {
	client := &llm.MockClient{Script: []llm.Notification{
		{Text: "Let me pull in our pricing specialist."},
		{
			Text:     "Here are the current benchmarks.",
			Metadata: &llm.SegmentMetadata{MessageStart: &chat.BoundaryEvent{AgentID: "pricing", AgentName: "Pricing"}},
		},
		terminalWith(chat.TerminalMetadata{AgentSwitchOccurred: true}),
	}}
	d := newTestDeps(t, client)

	listener := &recListener{}
	err := d.orch.SendMessage(context.Background(), d.session.ID, "user_1", "What would this cost?", listener)
	require.NoError(t, err)

	msgs, err := d.messages.GetMessages(context.Background(), d.session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, "designer", msgs[1].AgentID)
	assert.Equal(t, "Let me pull in our pricing specialist.", msgs[1].Content)
	assert.Equal(t, "pricing", msgs[2].AgentID)
	assert.Equal(t, "Pricing", msgs[2].AgentName)
	assert.Equal(t, "Here are the current benchmarks.", msgs[2].Content)

	assert.Equal(t, "pricing", d.agents.activeID(d.session.ID))
	session, err := d.sessions.Get(context.Background(), d.session.ID)
	require.NoError(t, err)
	assert.Equal(t, "pricing", session.ActiveAgentID)

	require.Eventually(t, func() bool {
		_, agents := d.notifier.counts()
		return agents == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHandoffWithoutOutputLeavesNoTrace(t *testing.T) {
	client := &llm.MockClient{Script: []llm.Notification{
		{Text: "Handing over."},
		{Metadata: &llm.SegmentMetadata{MessageStart: &chat.BoundaryEvent{AgentID: "pricing", AgentName: "Pricing"}}},
		terminalWith(chat.TerminalMetadata{}),
	}}
	d := newTestDeps(t, client)

	listener := &recListener{}
	require.NoError(t, d.orch.SendMessage(context.Background(), d.session.ID, "user_1", "go", listener))

	msgs, err := d.messages.GetMessages(context.Background(), d.session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "the silent agent's hidden message must not persist")
	assert.Equal(t, "Handing over.", msgs[1].Content)

	// the hidden message never reached the UI either
	for _, e := range listener.ofKind(chat.UIMessageUpdated) {
		if e.Message != nil {
			assert.NotEqual(t, "pricing", e.Message.AgentID)
		}
	}
}

func TestCleanupSentinelIsSuccess(t *testing.T) {
	client := &llm.MockClient{
		Script: []llm.Notification{{Text: "Done."}},
		Err:    llm.ErrStreamClosedOK,
	}
	d := newTestDeps(t, client)

	listener := &recListener{}
	require.NoError(t, d.orch.SendMessage(context.Background(), d.session.ID, "user_1", "wrap it up", listener))

	msgs, err := d.messages.GetMessages(context.Background(), d.session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Done.", msgs[1].Content)
	assert.Equal(t, true, msgs[1].AIMetadata["stream_complete"])
	assert.Empty(t, listener.ofKind(chat.UITurnError))
	assert.NotEmpty(t, listener.ofKind(chat.UITurnComplete))
}

func TestUpstreamErrorProducesCategorizedMessage(t *testing.T) {
	client := &llm.MockClient{Err: &llm.StatusError{Code: 429, Message: "rate limit exceeded"}}
	d := newTestDeps(t, client)

	listener := &recListener{}
	require.NoError(t, d.orch.SendMessage(context.Background(), d.session.ID, "user_1", "hello", listener))

	msgs, err := d.messages.GetMessages(context.Background(), d.session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "the user prompt persists even when the AI call fails")
	assert.Equal(t, chat.RoleUser, msgs[0].Role)

	errMsg := msgs[1]
	assert.Equal(t, chat.RoleAssistant, errMsg.Role)
	assert.Equal(t, string(llm.CategoryRateLimited), errMsg.AIMetadata["error_category"])
	assert.Contains(t, errMsg.Content, "high volume")
	assert.Contains(t, errMsg.Content, "saved")

	errs := listener.ofKind(chat.UITurnError)
	require.Len(t, errs, 1)
	assert.True(t, errs[0].Retryable)
}

func TestCancelKeepsDeliveredContent(t *testing.T) {
	d := &testDeps{}
	client := &llm.MockClient{Script: []llm.Notification{
		{Text: "Here is a partial answer."},
		{Text: " And more that never arrives."},
	}}
	client.StepHook = func(i int, _ llm.Notification) {
		if i == 1 {
			// let the first fragment reach the turn loop, then cancel
			time.Sleep(30 * time.Millisecond)
			d.orch.Cancel(d.session.ID)
			time.Sleep(30 * time.Millisecond)
		}
	}
	*d = *newTestDeps(t, client)

	listener := &recListener{}
	require.NoError(t, d.orch.SendMessage(context.Background(), d.session.ID, "user_1", "long question", listener))

	msgs, err := d.messages.GetMessages(context.Background(), d.session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Here is a partial answer.", msgs[1].Content)
	assert.Equal(t, true, msgs[1].AIMetadata["abandoned"])
	assert.Equal(t, false, msgs[1].AIMetadata["stream_complete"])

	notices := listener.ofKind(chat.UINotice)
	require.NotEmpty(t, notices)
	assert.Equal(t, cancelledNotice, notices[len(notices)-1].Notice)
	assert.False(t, d.orch.Busy(d.session.ID))
}

func TestSingleFlightPerSession(t *testing.T) {
	release := make(chan struct{})
	client := &llm.MockClient{Script: []llm.Notification{{Text: "thinking..."}, {Text: "done"}}}
	client.StepHook = func(i int, _ llm.Notification) {
		if i == 1 {
			<-release
		}
	}
	d := newTestDeps(t, client)

	done := make(chan error, 1)
	go func() {
		done <- d.orch.SendMessage(context.Background(), d.session.ID, "user_1", "first", &recListener{})
	}()
	require.Eventually(t, func() bool { return d.orch.Busy(d.session.ID) }, time.Second, time.Millisecond)

	err := d.orch.SendMessage(context.Background(), d.session.ID, "user_1", "second", &recListener{})
	assert.ErrorIs(t, err, ErrTurnInFlight)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, d.orch.Busy(d.session.ID))

	// a new turn is accepted once the first finishes
	err = d.orch.SendMessage(context.Background(), d.session.ID, "user_1", "third", &recListener{})
	require.NoError(t, err)
}

func TestToolTimeoutAbandonsWaitWithoutKillingTurn(t *testing.T) {
	client := &llm.MockClient{Script: []llm.Notification{
		{ToolProcessing: true, ToolEvent: &chat.ToolEvent{Name: "slow_search", Phase: chat.ToolStart}},
		{Text: "Recovered after the wait."},
		terminalWith(chat.TerminalMetadata{}),
	}}
	client.StepHook = func(i int, _ llm.Notification) {
		if i == 1 {
			// outlast the bounded tool wait
			time.Sleep(120 * time.Millisecond)
		}
	}
	d := newTestDeps(t, client)
	d.orch.streaming.ToolWait = 40 * time.Millisecond

	listener := &recListener{}
	require.NoError(t, d.orch.SendMessage(context.Background(), d.session.ID, "user_1", "search everything", listener))

	notices := listener.ofKind(chat.UINotice)
	require.NotEmpty(t, notices)
	assert.Equal(t, toolTimeoutNotice, notices[0].Notice)

	msgs, err := d.messages.GetMessages(context.Background(), d.session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Recovered after the wait.", msgs[1].Content)

	var timedOut bool
	for _, e := range listener.ofKind(chat.UIToolActivity) {
		if e.Tool != nil && e.Tool.Phase == chat.ToolError && strings.Contains(e.Tool.Error, "timed out") {
			timedOut = true
		}
	}
	assert.True(t, timedOut, "the open tool entry must resolve as timed out")
}

func TestHistoryWindowBoundsRequest(t *testing.T) {
	client := &llm.MockClient{Script: []llm.Notification{
		{Text: "ok"},
		terminalWith(chat.TerminalMetadata{}),
	}}
	d := newTestDeps(t, client)
	for i := 0; i < 15; i++ {
		_, err := d.messages.AddMessage(context.Background(), chat.MessageRecord{
			SessionID: d.session.ID,
			Role:      chat.RoleUser,
			Content:   fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
	}

	require.NoError(t, d.orch.SendMessage(context.Background(), d.session.ID, "user_1", "latest", &recListener{}))

	req := client.LastRequest()
	require.Len(t, req.Messages, 11, "ten history messages plus the new prompt")
	assert.Equal(t, "message 5", req.Messages[0].Content)
	assert.Equal(t, "latest", req.Messages[10].Content)
	assert.Equal(t, "You design procurement requests.", req.System)
}

func TestDuplicateArtifactAcrossTurns(t *testing.T) {
	result, err := json.Marshal(map[string]any{"success": true, "artifact_id": "art_same"})
	require.NoError(t, err)
	client := &llm.MockClient{Script: []llm.Notification{
		{Text: "Updated the form."},
		terminalWith(chat.TerminalMetadata{
			FunctionResults: []chat.FunctionResult{{Function: "update_form_artifact", Result: result}},
		}),
	}}
	d := newTestDeps(t, client)
	require.NoError(t, d.artifacts.Save(context.Background(), &chat.Artifact{ID: "art_same"}))

	require.NoError(t, d.orch.SendMessage(context.Background(), d.session.ID, "user_1", "update it", &recListener{}))
	require.NoError(t, d.orch.SendMessage(context.Background(), d.session.ID, "user_1", "update it again", &recListener{}))

	msgs, err := d.messages.GetMessages(context.Background(), d.session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Len(t, msgs[1].ArtifactRefs, 1)
	assert.Empty(t, msgs[3].ArtifactRefs, "a re-reported artifact must not attach twice in the session")
}

func TestRepeatedArtifactUpdateSignalsRefreshEachTurn(t *testing.T) {
	result, err := json.Marshal(map[string]any{"success": true, "artifact_id": "art_same"})
	require.NoError(t, err)
	client := &llm.MockClient{Script: []llm.Notification{
		{Text: "Updated the form."},
		terminalWith(chat.TerminalMetadata{
			FunctionResults: []chat.FunctionResult{{Function: "update_form_artifact", Result: result}},
		}),
	}}
	d := newTestDeps(t, client)
	require.NoError(t, d.artifacts.Save(context.Background(), &chat.Artifact{ID: "art_same"}))

	require.NoError(t, d.orch.SendMessage(context.Background(), d.session.ID, "user_1", "update it", &recListener{}))
	require.NoError(t, d.orch.SendMessage(context.Background(), d.session.ID, "user_1", "update it again", &recListener{}))

	// the second update changes content even though the reference is already
	// attached, so consumers must be told to re-fetch both times
	require.Eventually(t, func() bool {
		artifacts, _ := d.notifier.counts()
		return artifacts == 2
	}, time.Second, 5*time.Millisecond)
}

func TestCancelBeforeFirstFlushLeavesNoAssistantMessage(t *testing.T) {
	d := &testDeps{}
	client := &llm.MockClient{Script: []llm.Notification{
		{Text: "Nothing of this ever reaches the user."},
		terminalWith(chat.TerminalMetadata{}),
	}}
	client.StepHook = func(i int, _ llm.Notification) {
		if i == 0 {
			// cancel before the first fragment is delivered
			d.orch.Cancel(d.session.ID)
			time.Sleep(30 * time.Millisecond)
		}
	}
	*d = *newTestDeps(t, client)

	listener := &recListener{}
	require.NoError(t, d.orch.SendMessage(context.Background(), d.session.ID, "user_1", "never mind", listener))

	msgs, err := d.messages.GetMessages(context.Background(), d.session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "an empty assistant bubble must not survive the cancel")
	assert.Equal(t, chat.RoleUser, msgs[0].Role)

	notices := listener.ofKind(chat.UINotice)
	require.NotEmpty(t, notices)
	assert.Equal(t, cancelledNotice, notices[len(notices)-1].Notice)
	assert.False(t, d.orch.Busy(d.session.ID))
}

func TestArtifactWithoutSurvivingMessageAttachesNextTurn(t *testing.T) {
	result, err := json.Marshal(map[string]any{"success": true, "artifact_id": "art_quiet"})
	require.NoError(t, err)
	// the first turn reports the artifact but produces no visible text, so
	// there is no message to carry the reference
	client := &llm.MockClient{Script: []llm.Notification{
		terminalWith(chat.TerminalMetadata{
			FunctionResults: []chat.FunctionResult{{Function: "generate_request_artifact", Result: result}},
		}),
	}}
	d := newTestDeps(t, client)
	require.NoError(t, d.artifacts.Save(context.Background(), &chat.Artifact{ID: "art_quiet"}))

	require.NoError(t, d.orch.SendMessage(context.Background(), d.session.ID, "user_1", "generate it", &recListener{}))

	msgs, err := d.messages.GetMessages(context.Background(), d.session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "a contentless assistant message must not persist")

	client.Script = []llm.Notification{
		{Text: "Here is the request."},
		terminalWith(chat.TerminalMetadata{
			FunctionResults: []chat.FunctionResult{{Function: "generate_request_artifact", Result: result}},
		}),
	}
	require.NoError(t, d.orch.SendMessage(context.Background(), d.session.ID, "user_1", "show me", &recListener{}))

	msgs, err = d.messages.GetMessages(context.Background(), d.session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Len(t, msgs[2].ArtifactRefs, 1, "the reference stays attachable until a message carries it")
	assert.Equal(t, "art_quiet", msgs[2].ArtifactRefs[0].ArtifactID)
}

func TestMissingSession(t *testing.T) {
	d := newTestDeps(t, &llm.MockClient{})
	err := d.orch.SendMessage(context.Background(), "sess_nope", "user_1", "hi", nil)
	assert.True(t, errors.Is(err, chat.ErrSessionNotFound))
}

func TestSessionTitleTruncation(t *testing.T) {
	client := &llm.MockClient{Script: []llm.Notification{
		{Text: "ok"},
		terminalWith(chat.TerminalMetadata{}),
	}}
	d := newTestDeps(t, client)

	long := strings.Repeat("office chairs ", 10)
	require.NoError(t, d.orch.SendMessage(context.Background(), d.session.ID, "user_1", long, &recListener{}))

	session, err := d.sessions.Get(context.Background(), d.session.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(session.Title, "..."))
	assert.LessOrEqual(t, len([]rune(session.Title)), sessionTitleLimit+3)
}
