package procurement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rfpez/rfpez/internal/logging"
	"github.com/rfpez/rfpez/internal/shared/utils/id"
)

const (
	proposalTable = "proposals"
	bidTable      = "bids"
)

// PostgresStore implements ProposalStore and BidStore on a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logging.NewComponentLogger("ProcurementPostgresStore"),
	}
}

// EnsureSchema creates the proposal and bid tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("procurement store not initialized")
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL DEFAULT '',
    artifact_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    budget TEXT NOT NULL DEFAULT '',
    deadline TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_proposals_session ON %[1]s (session_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS %[2]s (
    id TEXT PRIMARY KEY,
    proposal_id TEXT NOT NULL REFERENCES %[1]s (id) ON DELETE CASCADE,
    supplier TEXT NOT NULL,
    amount TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bids_proposal ON %[2]s (proposal_id, created_at);
`, proposalTable, bidTable)
	_, err := s.pool.Exec(ctx, query)
	return err
}

// Save upserts a proposal, allocating an id and status when missing.
func (s *PostgresStore) Save(ctx context.Context, proposal *Proposal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if proposal == nil {
		return fmt.Errorf("proposal cannot be nil")
	}
	if s == nil || s.pool == nil {
		return fmt.Errorf("procurement store not initialized")
	}
	if proposal.ID == "" {
		proposal.ID = id.NewProposalID()
	}
	if proposal.Status == "" {
		proposal.Status = ProposalDraft
	}
	if proposal.CreatedAt.IsZero() {
		proposal.CreatedAt = time.Now()
	}
	proposal.UpdatedAt = time.Now()

	query := fmt.Sprintf(`
INSERT INTO %s (id, session_id, artifact_id, title, description, status, budget, deadline, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
    session_id = EXCLUDED.session_id,
    artifact_id = EXCLUDED.artifact_id,
    title = EXCLUDED.title,
    description = EXCLUDED.description,
    status = EXCLUDED.status,
    budget = EXCLUDED.budget,
    deadline = EXCLUDED.deadline,
    updated_at = EXCLUDED.updated_at
`, proposalTable)
	_, err := s.pool.Exec(ctx, query,
		proposal.ID,
		proposal.SessionID,
		proposal.ArtifactID,
		proposal.Title,
		proposal.Description,
		string(proposal.Status),
		proposal.Budget,
		proposal.Deadline,
		proposal.CreatedAt,
		proposal.UpdatedAt,
	)
	if err != nil {
		logging.OrNop(s.logger).Error("Failed to persist proposal %s: %v", proposal.ID, err)
	}
	return err
}

// Get retrieves a proposal by id.
func (s *PostgresStore) Get(ctx context.Context, proposalID string) (*Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("procurement store not initialized")
	}
	query := fmt.Sprintf(`
SELECT id, session_id, artifact_id, title, description, status, budget, deadline, created_at, updated_at
FROM %s
WHERE id = $1
`, proposalTable)
	proposal, err := scanProposal(s.pool.QueryRow(ctx, query, proposalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProposalNotFound
		}
		return nil, err
	}
	return proposal, nil
}

// List returns all proposals, most recently updated first.
func (s *PostgresStore) List(ctx context.Context) ([]Proposal, error) {
	return s.listProposals(ctx, fmt.Sprintf(`
SELECT id, session_id, artifact_id, title, description, status, budget, deadline, created_at, updated_at
FROM %s
ORDER BY updated_at DESC
`, proposalTable))
}

// ListBySession returns proposals created during one chat session.
func (s *PostgresStore) ListBySession(ctx context.Context, sessionID string) ([]Proposal, error) {
	return s.listProposals(ctx, fmt.Sprintf(`
SELECT id, session_id, artifact_id, title, description, status, budget, deadline, created_at, updated_at
FROM %s
WHERE session_id = $1
ORDER BY updated_at DESC
`, proposalTable), sessionID)
}

func (s *PostgresStore) listProposals(ctx context.Context, query string, args ...any) ([]Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("procurement store not initialized")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var proposals []Proposal
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, *proposal)
	}
	return proposals, rows.Err()
}

// Delete removes a proposal; bids cascade at the database level.
func (s *PostgresStore) Delete(ctx context.Context, proposalID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.pool == nil {
		return fmt.Errorf("procurement store not initialized")
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, proposalTable), proposalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProposalNotFound
	}
	return nil
}

// SaveBid upserts a bid, allocating an id and status when missing. Exposed
// through the BidStore interface via the Bids view.
func (s *PostgresStore) SaveBid(ctx context.Context, bid *Bid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bid == nil {
		return fmt.Errorf("bid cannot be nil")
	}
	if s == nil || s.pool == nil {
		return fmt.Errorf("procurement store not initialized")
	}
	if bid.ID == "" {
		bid.ID = id.NewBidID()
	}
	if bid.Status == "" {
		bid.Status = BidSubmitted
	}
	if bid.CreatedAt.IsZero() {
		bid.CreatedAt = time.Now()
	}
	bid.UpdatedAt = time.Now()

	query := fmt.Sprintf(`
INSERT INTO %s (id, proposal_id, supplier, amount, notes, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    supplier = EXCLUDED.supplier,
    amount = EXCLUDED.amount,
    notes = EXCLUDED.notes,
    status = EXCLUDED.status,
    updated_at = EXCLUDED.updated_at
`, bidTable)
	_, err := s.pool.Exec(ctx, query,
		bid.ID,
		bid.ProposalID,
		bid.Supplier,
		bid.Amount,
		bid.Notes,
		string(bid.Status),
		bid.CreatedAt,
		bid.UpdatedAt,
	)
	if err != nil {
		logging.OrNop(s.logger).Error("Failed to persist bid %s: %v", bid.ID, err)
	}
	return err
}

// GetBid retrieves a bid by id.
func (s *PostgresStore) GetBid(ctx context.Context, bidID string) (*Bid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("procurement store not initialized")
	}
	query := fmt.Sprintf(`
SELECT id, proposal_id, supplier, amount, notes, status, created_at, updated_at
FROM %s
WHERE id = $1
`, bidTable)
	bid, err := scanBid(s.pool.QueryRow(ctx, query, bidID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBidNotFound
		}
		return nil, err
	}
	return bid, nil
}

// ListBidsByProposal returns a proposal's bids in submission order.
func (s *PostgresStore) ListBidsByProposal(ctx context.Context, proposalID string) ([]Bid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("procurement store not initialized")
	}
	query := fmt.Sprintf(`
SELECT id, proposal_id, supplier, amount, notes, status, created_at, updated_at
FROM %s
WHERE proposal_id = $1
ORDER BY created_at
`, bidTable)
	rows, err := s.pool.Query(ctx, query, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []Bid
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, *bid)
	}
	return bids, rows.Err()
}

// DeleteBid removes a bid.
func (s *PostgresStore) DeleteBid(ctx context.Context, bidID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.pool == nil {
		return fmt.Errorf("procurement store not initialized")
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, bidTable), bidID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBidNotFound
	}
	return nil
}

// Bids adapts the combined store to the BidStore interface.
func (s *PostgresStore) Bids() BidStore {
	return postgresBidStore{s}
}

type postgresBidStore struct{ store *PostgresStore }

func (b postgresBidStore) Save(ctx context.Context, bid *Bid) error { return b.store.SaveBid(ctx, bid) }
func (b postgresBidStore) Get(ctx context.Context, bidID string) (*Bid, error) {
	return b.store.GetBid(ctx, bidID)
}
func (b postgresBidStore) ListByProposal(ctx context.Context, proposalID string) ([]Bid, error) {
	return b.store.ListBidsByProposal(ctx, proposalID)
}
func (b postgresBidStore) Delete(ctx context.Context, bidID string) error {
	return b.store.DeleteBid(ctx, bidID)
}

func scanProposal(row pgx.Row) (*Proposal, error) {
	var (
		proposal Proposal
		status   string
	)
	if err := row.Scan(
		&proposal.ID,
		&proposal.SessionID,
		&proposal.ArtifactID,
		&proposal.Title,
		&proposal.Description,
		&status,
		&proposal.Budget,
		&proposal.Deadline,
		&proposal.CreatedAt,
		&proposal.UpdatedAt,
	); err != nil {
		return nil, err
	}
	proposal.Status = ProposalStatus(status)
	return &proposal, nil
}

func scanBid(row pgx.Row) (*Bid, error) {
	var (
		bid    Bid
		status string
	)
	if err := row.Scan(
		&bid.ID,
		&bid.ProposalID,
		&bid.Supplier,
		&bid.Amount,
		&bid.Notes,
		&status,
		&bid.CreatedAt,
		&bid.UpdatedAt,
	); err != nil {
		return nil, err
	}
	bid.Status = BidStatus(status)
	return &bid, nil
}
