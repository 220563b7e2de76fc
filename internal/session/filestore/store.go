// Package filestore persists sessions as JSON files, one per session. It is
// the zero-dependency fallback when no database is configured.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rfpez/rfpez/internal/domain/chat"
	"github.com/rfpez/rfpez/internal/logging"
	"github.com/rfpez/rfpez/internal/shared/utils/id"
)

// record is the on-disk shape: the session plus its transcript in one file.
type record struct {
	Session  chat.Session           `json:"session"`
	Messages []chat.PersistedMessage `json:"messages"`
}

// Store implements chat.SessionStore and chat.MessageStore on a directory
// of JSON files. A single mutex serializes ordinal assignment; session files
// are small enough that rewriting the whole file per append is fine.
type Store struct {
	mu      sync.Mutex
	baseDir string
	logger  logging.Logger
}

func New(baseDir string) *Store {
	if strings.HasPrefix(baseDir, "~/") {
		home, _ := os.UserHomeDir()
		baseDir = filepath.Join(home, baseDir[2:])
	}
	_ = os.MkdirAll(baseDir, 0755)
	return &Store{
		baseDir: baseDir,
		logger:  logging.NewComponentLogger("SessionFileStore"),
	}
}

func (s *Store) Create(ctx context.Context) (*chat.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now()
	session := chat.Session{
		ID:        id.NewSessionID(),
		UserID:    id.UserIDFromContext(ctx),
		Metadata:  make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.MarshalIndent(record{Session: session, Messages: []chat.PersistedMessage{}}, "", "  ")
	if err != nil {
		return nil, err
	}

	// Exclusive create so an ID collision never overwrites a session.
	f, err := os.OpenFile(s.path(session.ID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create session file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write session: %w", err)
	}
	return &session, nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.load(sessionID)
	if err != nil {
		return nil, err
	}
	session := rec.Session
	return &session, nil
}

func (s *Store) Save(ctx context.Context, session *chat.Session) error {
	if session == nil {
		return fmt.Errorf("session cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.load(session.ID)
	if err != nil {
		return err
	}
	session.UpdatedAt = time.Now()
	rec.Session = *session
	return s.write(rec)
}

func (s *Store) List(ctx context.Context) ([]chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}
	var sessions []chat.Session
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := s.load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			logging.OrNop(s.logger).Error("Skipping unreadable session file %s: %v", entry.Name(), err)
			continue
		}
		sessions = append(sessions, rec.Session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// AddMessage appends the message with the next ordinal and rewrites the
// session file.
func (s *Store) AddMessage(ctx context.Context, msg chat.MessageRecord) (*chat.PersistedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.load(msg.SessionID)
	if err != nil {
		return nil, err
	}

	persisted := chat.PersistedMessage{
		ID:           id.NewMessageID(),
		SessionID:    msg.SessionID,
		AuthorID:     msg.AuthorID,
		Role:         msg.Role,
		Content:      msg.Content,
		AgentID:      msg.AgentID,
		AgentName:    msg.AgentName,
		Metadata:     msg.Metadata,
		AIMetadata:   msg.AIMetadata,
		ArtifactRefs: msg.ArtifactRefs,
		Ordinal:      len(rec.Messages) + 1,
		CreatedAt:    time.Now(),
	}
	rec.Messages = append(rec.Messages, persisted)
	rec.Session.UpdatedAt = persisted.CreatedAt
	if err := s.write(rec); err != nil {
		return nil, err
	}
	return &persisted, nil
}

func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]chat.PersistedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.load(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]chat.PersistedMessage, len(rec.Messages))
	copy(out, rec.Messages)
	return out, nil
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s.json", sessionID))
}

func (s *Store) load(sessionID string) (*record, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		return nil, chat.ErrSessionNotFound
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		logging.OrNop(s.logger).Error("Failed to decode session file %s: %v. Preview: %s", sessionID, err, previewJSON(data))
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return &rec, nil
}

func (s *Store) write(rec *record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(rec.Session.ID), data, 0644)
}

func previewJSON(data []byte) string {
	const maxPreview = 512
	preview := strings.TrimSpace(string(data))
	preview = strings.ReplaceAll(preview, "\n", " ")
	preview = strings.ReplaceAll(preview, "\t", " ")
	if len(preview) > maxPreview {
		preview = preview[:maxPreview] + "... (truncated)"
	}
	return preview
}
