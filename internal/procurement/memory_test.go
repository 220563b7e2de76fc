package procurement

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestProposalRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	deadline := time.Now().Add(14 * 24 * time.Hour)
	p := &Proposal{
		SessionID:   "sess_1",
		Title:       "Office laptop refresh",
		Description: "200 laptops, 3-year warranty",
		Budget:      "250000 USD",
		Deadline:    &deadline,
	}
	if err := s.Save(ctx, p); err != nil {
		t.Fatalf("save proposal: %v", err)
	}
	if p.ID == "" {
		t.Fatal("expected an allocated proposal id")
	}
	if p.Status != ProposalDraft {
		t.Fatalf("expected draft status, got %s", p.Status)
	}

	got, err := s.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}
	if got.Title != p.Title || got.Budget != p.Budget {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Deadline == nil || !got.Deadline.Equal(deadline) {
		t.Fatal("deadline did not survive round trip")
	}
}

func TestProposalUpdateKeepsCreatedAt(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := &Proposal{Title: "Cleaning services"}
	if err := s.Save(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	created := p.CreatedAt

	p.Status = ProposalPublished
	p.CreatedAt = time.Time{}
	if err := s.Save(ctx, p); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != ProposalPublished {
		t.Fatalf("expected published, got %s", got.Status)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatal("update must not change created_at")
	}
}

func TestListBySession(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, sess := range []string{"sess_a", "sess_a", "sess_b"} {
		if err := s.Save(ctx, &Proposal{SessionID: sess, Title: "p"}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	got, err := s.ListBySession(ctx, "sess_a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 proposals for sess_a, got %d", len(got))
	}
}

func TestBidLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := &Proposal{Title: "Fleet maintenance"}
	if err := s.Save(ctx, p); err != nil {
		t.Fatalf("save proposal: %v", err)
	}

	bids := s.Bids()
	first := &Bid{ProposalID: p.ID, Supplier: "Acme Garage", Amount: "12000 USD"}
	if err := bids.Save(ctx, first); err != nil {
		t.Fatalf("save bid: %v", err)
	}
	if first.Status != BidSubmitted {
		t.Fatalf("expected submitted, got %s", first.Status)
	}
	second := &Bid{ProposalID: p.ID, Supplier: "Northside Motors"}
	if err := bids.Save(ctx, second); err != nil {
		t.Fatalf("save bid: %v", err)
	}

	listed, err := bids.ListByProposal(ctx, p.ID)
	if err != nil {
		t.Fatalf("list bids: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 bids, got %d", len(listed))
	}

	first.Status = BidAccepted
	if err := bids.Save(ctx, first); err != nil {
		t.Fatalf("update bid: %v", err)
	}
	got, err := bids.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get bid: %v", err)
	}
	if got.Status != BidAccepted {
		t.Fatalf("expected accepted, got %s", got.Status)
	}
}

func TestDeleteProposalRemovesBids(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := &Proposal{Title: "Catering"}
	if err := s.Save(ctx, p); err != nil {
		t.Fatalf("save proposal: %v", err)
	}
	bid := &Bid{ProposalID: p.ID, Supplier: "Lunch Co"}
	if err := s.Bids().Save(ctx, bid); err != nil {
		t.Fatalf("save bid: %v", err)
	}

	if err := s.Delete(ctx, p.ID); err != nil {
		t.Fatalf("delete proposal: %v", err)
	}
	if _, err := s.Get(ctx, p.ID); !errors.Is(err, ErrProposalNotFound) {
		t.Fatalf("expected ErrProposalNotFound, got %v", err)
	}
	if _, err := s.Bids().Get(ctx, bid.ID); !errors.Is(err, ErrBidNotFound) {
		t.Fatalf("expected ErrBidNotFound after cascade, got %v", err)
	}
}

func TestMissingRecords(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, "proposal-missing"); !errors.Is(err, ErrProposalNotFound) {
		t.Fatalf("expected ErrProposalNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "proposal-missing"); !errors.Is(err, ErrProposalNotFound) {
		t.Fatalf("expected ErrProposalNotFound on delete, got %v", err)
	}
	if _, err := s.Bids().Get(ctx, "bid-missing"); !errors.Is(err, ErrBidNotFound) {
		t.Fatalf("expected ErrBidNotFound, got %v", err)
	}
}
