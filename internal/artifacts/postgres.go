// Package artifacts stores generated artifacts outside the chat transcript.
// Messages hold references; the content lives here.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rfpez/rfpez/internal/domain/chat"
	"github.com/rfpez/rfpez/internal/logging"
	"github.com/rfpez/rfpez/internal/shared/utils/id"
)

const artifactTable = "artifacts"

// PostgresStore implements chat.ArtifactStore on a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logging.NewComponentLogger("ArtifactPostgresStore"),
	}
}

// EnsureSchema creates the artifact table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("artifact store not initialized")
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL DEFAULT '',
    message_id TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_session ON %[1]s (session_id, updated_at DESC);
`, artifactTable)
	_, err := s.pool.Exec(ctx, query)
	return err
}

// Save upserts an artifact, allocating an id when the caller has none.
func (s *PostgresStore) Save(ctx context.Context, artifact *chat.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if artifact == nil {
		return fmt.Errorf("artifact cannot be nil")
	}
	if s == nil || s.pool == nil {
		return fmt.Errorf("artifact store not initialized")
	}
	if artifact.ID == "" {
		artifact.ID = id.NewArtifactID()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now()
	}
	artifact.UpdatedAt = time.Now()

	query := fmt.Sprintf(`
INSERT INTO %s (id, session_id, message_id, name, type, content, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    session_id = EXCLUDED.session_id,
    message_id = EXCLUDED.message_id,
    name = EXCLUDED.name,
    type = EXCLUDED.type,
    content = EXCLUDED.content,
    updated_at = EXCLUDED.updated_at
`, artifactTable)
	_, err := s.pool.Exec(ctx, query,
		artifact.ID,
		artifact.SessionID,
		artifact.MessageID,
		artifact.Name,
		string(artifact.Type),
		artifact.Content,
		artifact.CreatedAt,
		artifact.UpdatedAt,
	)
	if err != nil {
		logging.OrNop(s.logger).Error("Failed to persist artifact %s: %v", artifact.ID, err)
	}
	return err
}

// Get retrieves an artifact by id.
func (s *PostgresStore) Get(ctx context.Context, artifactID string) (*chat.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("artifact store not initialized")
	}
	query := fmt.Sprintf(`
SELECT id, session_id, message_id, name, type, content, created_at, updated_at
FROM %s
WHERE id = $1
`, artifactTable)

	var (
		artifact chat.Artifact
		typ      string
	)
	err := s.pool.QueryRow(ctx, query, artifactID).Scan(
		&artifact.ID,
		&artifact.SessionID,
		&artifact.MessageID,
		&artifact.Name,
		&typ,
		&artifact.Content,
		&artifact.CreatedAt,
		&artifact.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chat.ErrArtifactNotFound
		}
		return nil, err
	}
	artifact.Type = chat.ArtifactType(typ)
	return &artifact, nil
}

// ListBySession returns a session's artifacts, most recently updated first.
func (s *PostgresStore) ListBySession(ctx context.Context, sessionID string) ([]chat.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("artifact store not initialized")
	}
	query := fmt.Sprintf(`
SELECT id, session_id, message_id, name, type, content, created_at, updated_at
FROM %s
WHERE session_id = $1
ORDER BY updated_at DESC
`, artifactTable)

	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []chat.Artifact
	for rows.Next() {
		var (
			artifact chat.Artifact
			typ      string
		)
		if err := rows.Scan(
			&artifact.ID,
			&artifact.SessionID,
			&artifact.MessageID,
			&artifact.Name,
			&typ,
			&artifact.Content,
			&artifact.CreatedAt,
			&artifact.UpdatedAt,
		); err != nil {
			return nil, err
		}
		artifact.Type = chat.ArtifactType(typ)
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}
