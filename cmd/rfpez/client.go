package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the rfpez-server HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Streaming responses stay open for the whole turn; only the
		// dial is bounded here.
		httpClient: &http.Client{},
	}
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type sessionInfo struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	ActiveAgent string    `json:"active_agent_name"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type proposalInfo struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
	Budget string `json:"budget"`
}

type agentInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	InitialPrompt string `json:"initial_prompt"`
}

// streamEvent mirrors the server's wire event shape.
type streamEvent struct {
	Kind      string         `json:"kind"`
	Message   *streamMessage `json:"message"`
	RemovedID string         `json:"removed_id"`
	Tool      *toolActivity  `json:"tool"`
	Notice    string         `json:"notice"`
	Error     string         `json:"error"`
	Retryable bool           `json:"retryable"`
}

type streamMessage struct {
	ID           string        `json:"id"`
	AgentName    string        `json:"agent_name"`
	Content      string        `json:"content"`
	Placeholder  bool          `json:"placeholder"`
	ArtifactRefs []artifactRef `json:"artifact_refs"`
}

type artifactRef struct {
	ArtifactID  string `json:"artifact_id"`
	Name        string `json:"artifact_name"`
	Type        string `json:"artifact_type"`
	DisplayText string `json:"display_text"`
}

type toolActivity struct {
	ToolName string `json:"tool_name"`
	Phase    string `json:"phase"`
	Error    string `json:"error"`
}

func (c *Client) get(path string, out any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeEnvelope(resp, out)
}

func (c *Client) post(path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeEnvelope(resp, out)
}

func decodeEnvelope(resp *http.Response, out any) error {
	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !envelope.Success {
		return fmt.Errorf("server error: %s", envelope.Error)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

// CreateSession starts a fresh conversation.
func (c *Client) CreateSession() (*sessionInfo, error) {
	var session sessionInfo
	if err := c.post("/api/sessions", struct{}{}, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ActiveAgent returns the session's current agent.
func (c *Client) ActiveAgent(sessionID string) (*agentInfo, error) {
	var agent agentInfo
	if err := c.get("/api/sessions/"+sessionID+"/agent", &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// SendMessage posts a user message and invokes handle for each streamed
// event until the turn finishes.
func (c *Client) SendMessage(sessionID, content string, handle func(streamEvent)) error {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Post(
		c.baseURL+"/api/sessions/"+sessionID+"/messages",
		"application/json",
		bytes.NewReader(payload),
	)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		var envelope apiEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return fmt.Errorf("unexpected response (status %d)", resp.StatusCode)
		}
		return fmt.Errorf("server error: %s", envelope.Error)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event streamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}
		handle(event)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// ListSessions fetches all sessions, newest first.
func (c *Client) ListSessions() ([]sessionInfo, error) {
	var data struct {
		Sessions []sessionInfo `json:"sessions"`
	}
	if err := c.get("/api/sessions", &data); err != nil {
		return nil, err
	}
	return data.Sessions, nil
}

// ListProposals fetches all proposals.
func (c *Client) ListProposals() ([]proposalInfo, error) {
	var data struct {
		Proposals []proposalInfo `json:"proposals"`
	}
	if err := c.get("/api/proposals", &data); err != nil {
		return nil, err
	}
	return data.Proposals, nil
}
