package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rfpez/rfpez/internal/domain/chat"
	"github.com/rfpez/rfpez/internal/logging"
)

// HTTPClient streams chat completions over Server-Sent Events from the AI
// backend proxy. One wire event maps to one handler notification.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	temp       float64
	httpClient *http.Client
	logger     logging.Logger
}

// HTTPClientConfig configures the SSE client.
type HTTPClientConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// NewHTTPClient creates an SSE streaming client.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		temp:       cfg.Temperature,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger("LLMHTTPClient"),
	}
}

// wireEvent is the decoded shape of one SSE data payload.
type wireEvent struct {
	Type        string         `json:"type"`
	Delta       string         `json:"delta,omitempty"`
	FullContent string         `json:"full_content,omitempty"`
	TokenCount  int            `json:"token_count,omitempty"`
	Model       string         `json:"model,omitempty"`
	AgentID     string         `json:"agent_id,omitempty"`
	AgentName   string         `json:"agent_name,omitempty"`
	Tool        *wireToolEvent `json:"tool_event,omitempty"`
	Error       any            `json:"error,omitempty"`

	FunctionResults     []chat.FunctionResult `json:"function_results,omitempty"`
	Artifacts           []map[string]any      `json:"artifacts,omitempty"`
	AgentSwitchOccurred bool                  `json:"agent_switch_occurred,omitempty"`
}

type wireToolEvent struct {
	Type       string         `json:"type"`
	ToolName   string         `json:"toolName"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	AgentID    string         `json:"agentId,omitempty"`
	Timestamp  string         `json:"timestamp,omitempty"`
}

// StreamChat opens the SSE stream and invokes handler for each wire event in
// arrival order. It returns nil on a clean `complete` event, and may return
// ErrStreamClosedOK when the server tears the stream down after completion.
func (c *HTTPClient) StreamChat(ctx context.Context, req Request, handler StreamHandler) error {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.maxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = c.temp
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/stream", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("stream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	completed := false
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		raw := strings.TrimPrefix(line, "data: ")

		var ev wireEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			c.logger.Warn("Failed to parse SSE payload: %v", err)
			continue
		}

		switch ev.Type {
		case "start":
			// Stream opened; nothing to deliver yet.

		case "content_delta":
			handler(Notification{Text: ev.Delta})

		case "tool_event":
			if ev.Tool == nil {
				continue
			}
			handler(Notification{ToolProcessing: true, ToolEvent: decodeToolEvent(ev.Tool)})

		case "message_start":
			handler(Notification{Metadata: &SegmentMetadata{
				MessageStart: &chat.BoundaryEvent{
					Kind:      chat.BoundaryMessageStart,
					AgentID:   ev.AgentID,
					AgentName: ev.AgentName,
				},
			}})

		case "message_complete":
			handler(Notification{SegmentComplete: true, Metadata: &SegmentMetadata{MessageComplete: true}})

		case "complete":
			completed = true
			handler(Notification{
				SegmentComplete: true,
				Metadata: &SegmentMetadata{
					Terminal: &chat.TerminalMetadata{
						Model:               ev.Model,
						TokenCount:          ev.TokenCount,
						FunctionResults:     ev.FunctionResults,
						Artifacts:           ev.Artifacts,
						AgentSwitchOccurred: ev.AgentSwitchOccurred,
						FullContent:         ev.FullContent,
					},
				},
			})

		case "error":
			return fmt.Errorf("stream error: %s", formatWireError(ev.Error))

		default:
			c.logger.Debug("Unknown SSE event type: %s", ev.Type)
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if completed {
			// The body failed only after the terminal event; the proxy
			// tears connections down abruptly on success.
			return ErrStreamClosedOK
		}
		return fmt.Errorf("read stream: %w", err)
	}

	if !completed {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("stream ended without terminal event")
	}
	return nil
}

func decodeToolEvent(w *wireToolEvent) *chat.ToolEvent {
	phase := chat.ToolPhase(strings.TrimPrefix(w.Type, "tool_"))
	ts := time.Now()
	if w.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, w.Timestamp); err == nil {
			ts = parsed
		}
	}
	return &chat.ToolEvent{
		Name:       w.ToolName,
		Phase:      phase,
		AgentID:    w.AgentID,
		Parameters: w.Parameters,
		Result:     w.Result,
		Error:      w.Error,
		Timestamp:  ts,
	}
}

func formatWireError(v any) string {
	switch e := v.(type) {
	case string:
		return e
	case map[string]any:
		if msg, ok := e["message"].(string); ok {
			return msg
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
