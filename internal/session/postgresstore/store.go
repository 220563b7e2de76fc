// Package postgresstore persists sessions and chat messages in Postgres.
package postgresstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rfpez/rfpez/internal/domain/chat"
	"github.com/rfpez/rfpez/internal/logging"
	"github.com/rfpez/rfpez/internal/shared/utils/id"
)

const (
	sessionTable = "chat_sessions"
	messageTable = "chat_messages"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Store implements chat.SessionStore and chat.MessageStore on a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:   pool,
		logger: logging.NewComponentLogger("SessionPostgresStore"),
	}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("session store not initialized")
	}

	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    active_agent_id TEXT NOT NULL DEFAULT '',
    active_agent_name TEXT NOT NULL DEFAULT '',
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated_at ON %[1]s (updated_at DESC);

CREATE TABLE IF NOT EXISTS %[2]s (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES %[1]s (id) ON DELETE CASCADE,
    author_id TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    agent_id TEXT NOT NULL DEFAULT '',
    agent_name TEXT NOT NULL DEFAULT '',
    metadata JSONB,
    ai_metadata JSONB,
    artifact_refs JSONB,
    ordinal INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    UNIQUE (session_id, ordinal)
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON %[2]s (session_id, ordinal);
`, sessionTable, messageTable)

	_, err := s.pool.Exec(ctx, query)
	return err
}

// Create allocates a new session row.
func (s *Store) Create(ctx context.Context) (*chat.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("session store not initialized")
	}

	for attempt := 0; attempt < 3; attempt++ {
		sessionID := id.NewSessionID()
		if !isSafeID(sessionID) {
			return nil, fmt.Errorf("invalid session ID")
		}
		now := time.Now()
		session := &chat.Session{
			ID:        sessionID,
			Metadata:  make(map[string]string),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.upsert(ctx, session, false); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				continue
			}
			return nil, err
		}
		return session, nil
	}
	return nil, fmt.Errorf("failed to allocate unique session ID")
}

// Get retrieves a session by ID.
func (s *Store) Get(ctx context.Context, sessionID string) (*chat.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !isSafeID(sessionID) {
		return nil, chat.ErrSessionNotFound
	}
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("session store not initialized")
	}

	query := fmt.Sprintf(`
SELECT id, user_id, title, active_agent_id, active_agent_name, metadata, created_at, updated_at
FROM %s
WHERE id = $1
`, sessionTable)

	var (
		session      chat.Session
		metadataJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, sessionID).Scan(
		&session.ID,
		&session.UserID,
		&session.Title,
		&session.ActiveAgentID,
		&session.ActiveAgent,
		&metadataJSON,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chat.ErrSessionNotFound
		}
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &session.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &session, nil
}

// Save upserts a session record.
func (s *Store) Save(ctx context.Context, session *chat.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("session cannot be nil")
	}
	if !isSafeID(session.ID) {
		return fmt.Errorf("invalid session ID")
	}
	if s == nil || s.pool == nil {
		return fmt.Errorf("session store not initialized")
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	session.UpdatedAt = time.Now()
	return s.upsert(ctx, session, true)
}

// List returns all sessions, most recently updated first.
func (s *Store) List(ctx context.Context) ([]chat.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("session store not initialized")
	}

	query := fmt.Sprintf(`
SELECT id, user_id, title, active_agent_id, active_agent_name, metadata, created_at, updated_at
FROM %s
ORDER BY updated_at DESC
`, sessionTable)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []chat.Session
	for rows.Next() {
		var (
			session      chat.Session
			metadataJSON []byte
		)
		if err := rows.Scan(
			&session.ID,
			&session.UserID,
			&session.Title,
			&session.ActiveAgentID,
			&session.ActiveAgent,
			&metadataJSON,
			&session.CreatedAt,
			&session.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &session.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// Delete removes a session and, via the foreign key, its messages.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !isSafeID(sessionID) {
		return chat.ErrSessionNotFound
	}
	if s == nil || s.pool == nil {
		return fmt.Errorf("session store not initialized")
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, sessionTable), sessionID)
	return err
}

// AddMessage appends a message with the next ordinal for its session. The
// ordinal subquery and the unique constraint together keep concurrent
// writers from interleaving.
func (s *Store) AddMessage(ctx context.Context, rec chat.MessageRecord) (*chat.PersistedMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !isSafeID(rec.SessionID) {
		return nil, chat.ErrSessionNotFound
	}
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("session store not initialized")
	}

	metadata, err := optionalJSON(rec.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	aiMetadata, err := optionalJSON(rec.AIMetadata)
	if err != nil {
		return nil, fmt.Errorf("encode ai metadata: %w", err)
	}
	var refsParam any
	if len(rec.ArtifactRefs) > 0 {
		refs, err := json.Marshal(rec.ArtifactRefs)
		if err != nil {
			return nil, fmt.Errorf("encode artifact refs: %w", err)
		}
		refsParam = refs
	}

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
		CreatedAt:    time.Now(),
	}

	query := fmt.Sprintf(`
INSERT INTO %[1]s (id, session_id, author_id, role, content, agent_id, agent_name, metadata, ai_metadata, artifact_refs, ordinal, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10::jsonb,
    (SELECT COALESCE(MAX(ordinal), 0) + 1 FROM %[1]s WHERE session_id = $2),
    $11)
RETURNING ordinal
`, messageTable)

	err = s.pool.QueryRow(ctx, query,
		persisted.ID,
		persisted.SessionID,
		persisted.AuthorID,
		string(persisted.Role),
		persisted.Content,
		persisted.AgentID,
		persisted.AgentName,
		metadata,
		aiMetadata,
		refsParam,
		persisted.CreatedAt,
	).Scan(&persisted.Ordinal)
	if err != nil {
		logging.OrNop(s.logger).Error("Failed to persist message for session %s: %v", rec.SessionID, err)
		return nil, err
	}

	touch := fmt.Sprintf(`UPDATE %s SET updated_at = $2 WHERE id = $1`, sessionTable)
	if _, err := s.pool.Exec(ctx, touch, rec.SessionID, persisted.CreatedAt); err != nil {
		logging.OrNop(s.logger).Warn("Failed to touch session %s: %v", rec.SessionID, err)
	}
	return &persisted, nil
}

// GetMessages returns a session's messages in ordinal order.
func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]chat.PersistedMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !isSafeID(sessionID) {
		return nil, chat.ErrSessionNotFound
	}
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("session store not initialized")
	}

	query := fmt.Sprintf(`
SELECT id, session_id, author_id, role, content, agent_id, agent_name, metadata, ai_metadata, artifact_refs, ordinal, created_at
FROM %s
WHERE session_id = $1
ORDER BY ordinal ASC
`, messageTable)

	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []chat.PersistedMessage
	for rows.Next() {
		var (
			msg            chat.PersistedMessage
			role           string
			metadataJSON   []byte
			aiMetadataJSON []byte
			refsJSON       []byte
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&msg.AuthorID,
			&role,
			&msg.Content,
			&msg.AgentID,
			&msg.AgentName,
			&metadataJSON,
			&aiMetadataJSON,
			&refsJSON,
			&msg.Ordinal,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		msg.Role = chat.Role(role)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &msg.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		if len(aiMetadataJSON) > 0 {
			if err := json.Unmarshal(aiMetadataJSON, &msg.AIMetadata); err != nil {
				return nil, fmt.Errorf("decode ai metadata: %w", err)
			}
		}
		if len(refsJSON) > 0 {
			if err := json.Unmarshal(refsJSON, &msg.ArtifactRefs); err != nil {
				return nil, fmt.Errorf("decode artifact refs: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *Store) upsert(ctx context.Context, session *chat.Session, upsert bool) error {
	metadata := session.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, user_id, title, active_agent_id, active_agent_name, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
`, sessionTable)
	if upsert {
		query += "ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id, title = EXCLUDED.title, active_agent_id = EXCLUDED.active_agent_id, active_agent_name = EXCLUDED.active_agent_name, metadata = EXCLUDED.metadata, updated_at = EXCLUDED.updated_at"
	}

	_, err = s.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.Title,
		session.ActiveAgentID,
		session.ActiveAgent,
		metadataJSON,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		logging.OrNop(s.logger).Error("Failed to persist session %s: %v", session.ID, err)
	}
	return err
}

func optionalJSON(value map[string]any) (any, error) {
	if len(value) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func isSafeID(id string) bool {
	return identifierPattern.MatchString(id)
}
