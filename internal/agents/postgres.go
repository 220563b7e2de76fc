package agents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rfpez/rfpez/internal/domain/chat"
	"github.com/rfpez/rfpez/internal/logging"
)

const (
	agentTable        = "agents"
	sessionAgentTable = "session_agents"
)

// PostgresDirectory implements chat.AgentDirectory on a pgx pool. The roster
// lives in the agents table; per-session assignments in session_agents.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{
		pool:   pool,
		logger: logging.NewComponentLogger("AgentDirectory"),
	}
}

// EnsureSchema creates the tables and seeds the default roster into an
// empty directory.
func (d *PostgresDirectory) EnsureSchema(ctx context.Context) error {
	if d == nil || d.pool == nil {
		return fmt.Errorf("agent directory not initialized")
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    instructions TEXT NOT NULL DEFAULT '',
    initial_prompt TEXT NOT NULL DEFAULT '',
    is_default BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS %[2]s (
    session_id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL REFERENCES %[1]s (id),
    updated_at TIMESTAMPTZ NOT NULL
);
`, agentTable, sessionAgentTable)
	if _, err := d.pool.Exec(ctx, query); err != nil {
		return err
	}

	var count int
	if err := d.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, agentTable)).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	for _, agent := range Defaults() {
		insert := fmt.Sprintf(`
INSERT INTO %s (id, name, description, instructions, initial_prompt, is_default)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING
`, agentTable)
		if _, err := d.pool.Exec(ctx, insert,
			agent.ID, agent.Name, agent.Description, agent.Instructions, agent.InitialPrompt, agent.Default,
		); err != nil {
			return err
		}
	}
	logging.OrNop(d.logger).Info("Seeded default agent roster (%d agents)", len(Defaults()))
	return nil
}

func (d *PostgresDirectory) List(ctx context.Context) ([]chat.Agent, error) {
	if d == nil || d.pool == nil {
		return nil, fmt.Errorf("agent directory not initialized")
	}
	query := fmt.Sprintf(`
SELECT id, name, description, instructions, initial_prompt, is_default
FROM %s
ORDER BY is_default DESC, name ASC
`, agentTable)
	rows, err := d.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []chat.Agent
	for rows.Next() {
		var agent chat.Agent
		if err := rows.Scan(
			&agent.ID, &agent.Name, &agent.Description, &agent.Instructions, &agent.InitialPrompt, &agent.Default,
		); err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

func (d *PostgresDirectory) Get(ctx context.Context, agentID string) (*chat.Agent, error) {
	if d == nil || d.pool == nil {
		return nil, fmt.Errorf("agent directory not initialized")
	}
	query := fmt.Sprintf(`
SELECT id, name, description, instructions, initial_prompt, is_default
FROM %s
WHERE id = $1
`, agentTable)
	var agent chat.Agent
	err := d.pool.QueryRow(ctx, query, agentID).Scan(
		&agent.ID, &agent.Name, &agent.Description, &agent.Instructions, &agent.InitialPrompt, &agent.Default,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chat.ErrAgentNotFound
		}
		return nil, err
	}
	return &agent, nil
}

func (d *PostgresDirectory) Default(ctx context.Context) (*chat.Agent, error) {
	if d == nil || d.pool == nil {
		return nil, fmt.Errorf("agent directory not initialized")
	}
	query := fmt.Sprintf(`
SELECT id, name, description, instructions, initial_prompt, is_default
FROM %s
ORDER BY is_default DESC, name ASC
LIMIT 1
`, agentTable)
	var agent chat.Agent
	err := d.pool.QueryRow(ctx, query).Scan(
		&agent.ID, &agent.Name, &agent.Description, &agent.Instructions, &agent.InitialPrompt, &agent.Default,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chat.ErrAgentNotFound
		}
		return nil, err
	}
	return &agent, nil
}

func (d *PostgresDirectory) ActiveForSession(ctx context.Context, sessionID string) (*chat.Agent, error) {
	if d == nil || d.pool == nil {
		return nil, fmt.Errorf("agent directory not initialized")
	}
	query := fmt.Sprintf(`
SELECT a.id, a.name, a.description, a.instructions, a.initial_prompt, a.is_default
FROM %s sa
JOIN %s a ON a.id = sa.agent_id
WHERE sa.session_id = $1
`, sessionAgentTable, agentTable)
	var agent chat.Agent
	err := d.pool.QueryRow(ctx, query, sessionID).Scan(
		&agent.ID, &agent.Name, &agent.Description, &agent.Instructions, &agent.InitialPrompt, &agent.Default,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chat.ErrAgentNotFound
		}
		return nil, err
	}
	return &agent, nil
}

func (d *PostgresDirectory) SetActiveForSession(ctx context.Context, sessionID, agentID string) error {
	if d == nil || d.pool == nil {
		return fmt.Errorf("agent directory not initialized")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (session_id, agent_id, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (session_id) DO UPDATE SET agent_id = EXCLUDED.agent_id, updated_at = EXCLUDED.updated_at
`, sessionAgentTable)
	_, err := d.pool.Exec(ctx, query, sessionID, agentID, time.Now())
	if err != nil {
		logging.OrNop(d.logger).Error("Failed to set active agent for session %s: %v", sessionID, err)
	}
	return err
}
