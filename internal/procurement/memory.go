package procurement

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rfpez/rfpez/internal/shared/utils/id"
)

// MemoryStore is an in-memory ProposalStore and BidStore for development
// and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	proposals map[string]Proposal
	bids      map[string]Bid
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		proposals: make(map[string]Proposal),
		bids:      make(map[string]Bid),
	}
}

func (s *MemoryStore) Save(ctx context.Context, proposal *Proposal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if proposal.ID == "" {
		proposal.ID = id.NewProposalID()
	}
	if proposal.Status == "" {
		proposal.Status = ProposalDraft
	}
	if existing, ok := s.proposals[proposal.ID]; ok {
		proposal.CreatedAt = existing.CreatedAt
	} else if proposal.CreatedAt.IsZero() {
		proposal.CreatedAt = time.Now()
	}
	proposal.UpdatedAt = time.Now()
	s.proposals[proposal.ID] = *proposal
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, proposalID string) (*Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	proposal, ok := s.proposals[proposalID]
	if !ok {
		return nil, ErrProposalNotFound
	}
	return &proposal, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Proposal, error) {
	return s.listWhere(ctx, func(Proposal) bool { return true })
}

func (s *MemoryStore) ListBySession(ctx context.Context, sessionID string) ([]Proposal, error) {
	return s.listWhere(ctx, func(p Proposal) bool { return p.SessionID == sessionID })
}

func (s *MemoryStore) listWhere(ctx context.Context, keep func(Proposal) bool) ([]Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var proposals []Proposal
	for _, p := range s.proposals {
		if keep(p) {
			proposals = append(proposals, p)
		}
	}
	sort.Slice(proposals, func(i, j int) bool {
		return proposals[i].UpdatedAt.After(proposals[j].UpdatedAt)
	})
	return proposals, nil
}

func (s *MemoryStore) Delete(ctx context.Context, proposalID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[proposalID]; !ok {
		return ErrProposalNotFound
	}
	delete(s.proposals, proposalID)
	for bidID, bid := range s.bids {
		if bid.ProposalID == proposalID {
			delete(s.bids, bidID)
		}
	}
	return nil
}

func (s *MemoryStore) SaveBid(ctx context.Context, bid *Bid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if bid.ID == "" {
		bid.ID = id.NewBidID()
	}
	if bid.Status == "" {
		bid.Status = BidSubmitted
	}
	if existing, ok := s.bids[bid.ID]; ok {
		bid.CreatedAt = existing.CreatedAt
	} else if bid.CreatedAt.IsZero() {
		bid.CreatedAt = time.Now()
	}
	bid.UpdatedAt = time.Now()
	s.bids[bid.ID] = *bid
	return nil
}

func (s *MemoryStore) GetBid(ctx context.Context, bidID string) (*Bid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	bid, ok := s.bids[bidID]
	if !ok {
		return nil, ErrBidNotFound
	}
	return &bid, nil
}

func (s *MemoryStore) ListBidsByProposal(ctx context.Context, proposalID string) ([]Bid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var bids []Bid
	for _, bid := range s.bids {
		if bid.ProposalID == proposalID {
			bids = append(bids, bid)
		}
	}
	sort.Slice(bids, func(i, j int) bool {
		return bids[i].CreatedAt.Before(bids[j].CreatedAt)
	})
	return bids, nil
}

func (s *MemoryStore) DeleteBid(ctx context.Context, bidID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bids[bidID]; !ok {
		return ErrBidNotFound
	}
	delete(s.bids, bidID)
	return nil
}

// Bids adapts the combined store to the BidStore interface.
func (s *MemoryStore) Bids() BidStore {
	return memoryBidStore{s}
}

type memoryBidStore struct{ store *MemoryStore }

func (b memoryBidStore) Save(ctx context.Context, bid *Bid) error { return b.store.SaveBid(ctx, bid) }
func (b memoryBidStore) Get(ctx context.Context, bidID string) (*Bid, error) {
	return b.store.GetBid(ctx, bidID)
}
func (b memoryBidStore) ListByProposal(ctx context.Context, proposalID string) ([]Bid, error) {
	return b.store.ListBidsByProposal(ctx, proposalID)
}
func (b memoryBidStore) Delete(ctx context.Context, bidID string) error {
	return b.store.DeleteBid(ctx, bidID)
}
