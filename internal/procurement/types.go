// Package procurement holds the proposal ("RFP") and bid records the chat
// tools create and the REST surface manages.
package procurement

import (
	"context"
	"errors"
	"time"
)

var (
	ErrProposalNotFound = errors.New("proposal not found")
	ErrBidNotFound      = errors.New("bid not found")
)

// ProposalStatus tracks a proposal through its lifecycle.
type ProposalStatus string

const (
	ProposalDraft     ProposalStatus = "draft"
	ProposalPublished ProposalStatus = "published"
	ProposalClosed    ProposalStatus = "closed"
)

// Proposal is a request-for-proposal document assembled during a chat
// session. The generated document body lives in the artifact store; the
// proposal row carries the structured fields.
type Proposal struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id,omitempty"`
	ArtifactID  string         `json:"artifact_id,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Status      ProposalStatus `json:"status"`
	Budget      string         `json:"budget,omitempty"`
	Deadline    *time.Time     `json:"deadline,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// BidStatus tracks a supplier bid against a proposal.
type BidStatus string

const (
	BidSubmitted BidStatus = "submitted"
	BidShortlist BidStatus = "shortlisted"
	BidAccepted  BidStatus = "accepted"
	BidRejected  BidStatus = "rejected"
)

// Bid is a supplier response to a published proposal.
type Bid struct {
	ID         string    `json:"id"`
	ProposalID string    `json:"proposal_id"`
	Supplier   string    `json:"supplier"`
	Amount     string    `json:"amount,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	Status     BidStatus `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProposalStore persists proposals.
type ProposalStore interface {
	Save(ctx context.Context, proposal *Proposal) error
	Get(ctx context.Context, proposalID string) (*Proposal, error)
	List(ctx context.Context) ([]Proposal, error)
	ListBySession(ctx context.Context, sessionID string) ([]Proposal, error)
	Delete(ctx context.Context, proposalID string) error
}

// BidStore persists bids.
type BidStore interface {
	Save(ctx context.Context, bid *Bid) error
	Get(ctx context.Context, bidID string) (*Bid, error)
	ListByProposal(ctx context.Context, proposalID string) ([]Bid, error)
	Delete(ctx context.Context, bidID string) error
}
