package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rfpez/rfpez/internal/procurement"
)

// ProcurementHandler exposes proposal and bid CRUD.
type ProcurementHandler struct {
	proposals procurement.ProposalStore
	bids      procurement.BidStore
}

func NewProcurementHandler(proposals procurement.ProposalStore, bids procurement.BidStore) *ProcurementHandler {
	return &ProcurementHandler{proposals: proposals, bids: bids}
}

// ProposalRequest is the create/update body for proposals.
type ProposalRequest struct {
	SessionID   string     `json:"session_id,omitempty"`
	ArtifactID  string     `json:"artifact_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status,omitempty"`
	Budget      string     `json:"budget,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

func (h *ProcurementHandler) CreateProposal(c *gin.Context) {
	var req ProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		respondError(c, http.StatusBadRequest, "proposal title is required")
		return
	}
	proposal := &procurement.Proposal{
		SessionID:   req.SessionID,
		ArtifactID:  req.ArtifactID,
		Title:       req.Title,
		Description: req.Description,
		Status:      procurement.ProposalStatus(req.Status),
		Budget:      req.Budget,
		Deadline:    req.Deadline,
	}
	if err := h.proposals.Save(c.Request.Context(), proposal); err != nil {
		respondMapped(c, err)
		return
	}
	respondCreated(c, proposal)
}

func (h *ProcurementHandler) ListProposals(c *gin.Context) {
	var (
		proposals []procurement.Proposal
		err       error
	)
	if sessionID := c.Query("session_id"); sessionID != "" {
		proposals, err = h.proposals.ListBySession(c.Request.Context(), sessionID)
	} else {
		proposals, err = h.proposals.List(c.Request.Context())
	}
	if err != nil {
		respondMapped(c, err)
		return
	}
	respondOK(c, gin.H{"proposals": proposals, "count": len(proposals)})
}

func (h *ProcurementHandler) GetProposal(c *gin.Context) {
	proposal, err := h.proposals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondMapped(c, err)
		return
	}
	respondOK(c, proposal)
}

func (h *ProcurementHandler) UpdateProposal(c *gin.Context) {
	ctx := c.Request.Context()
	proposal, err := h.proposals.Get(ctx, c.Param("id"))
	if err != nil {
		respondMapped(c, err)
		return
	}

	var req ProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.Title != "" {
		proposal.Title = req.Title
	}
	if req.Description != "" {
		proposal.Description = req.Description
	}
	if req.Status != "" {
		proposal.Status = procurement.ProposalStatus(req.Status)
	}
	if req.Budget != "" {
		proposal.Budget = req.Budget
	}
	if req.Deadline != nil {
		proposal.Deadline = req.Deadline
	}
	if req.ArtifactID != "" {
		proposal.ArtifactID = req.ArtifactID
	}
	if err := h.proposals.Save(ctx, proposal); err != nil {
		respondMapped(c, err)
		return
	}
	respondOK(c, proposal)
}

func (h *ProcurementHandler) DeleteProposal(c *gin.Context) {
	if err := h.proposals.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondMapped(c, err)
		return
	}
	respondOK(c, gin.H{"deleted": true})
}

// BidRequest is the create/update body for bids.
type BidRequest struct {
	Supplier string `json:"supplier"`
	Amount   string `json:"amount,omitempty"`
	Notes    string `json:"notes,omitempty"`
	Status   string `json:"status,omitempty"`
}

func (h *ProcurementHandler) CreateBid(c *gin.Context) {
	ctx := c.Request.Context()
	proposal, err := h.proposals.Get(ctx, c.Param("id"))
	if err != nil {
		respondMapped(c, err)
		return
	}

	var req BidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if strings.TrimSpace(req.Supplier) == "" {
		respondError(c, http.StatusBadRequest, "bid supplier is required")
		return
	}
	bid := &procurement.Bid{
		ProposalID: proposal.ID,
		Supplier:   req.Supplier,
		Amount:     req.Amount,
		Notes:      req.Notes,
		Status:     procurement.BidStatus(req.Status),
	}
	if err := h.bids.Save(ctx, bid); err != nil {
		respondMapped(c, err)
		return
	}
	respondCreated(c, bid)
}

func (h *ProcurementHandler) ListBids(c *gin.Context) {
	ctx := c.Request.Context()
	proposal, err := h.proposals.Get(ctx, c.Param("id"))
	if err != nil {
		respondMapped(c, err)
		return
	}
	bids, err := h.bids.ListByProposal(ctx, proposal.ID)
	if err != nil {
		respondMapped(c, err)
		return
	}
	respondOK(c, gin.H{"bids": bids, "count": len(bids)})
}

func (h *ProcurementHandler) GetBid(c *gin.Context) {
	bid, err := h.bids.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondMapped(c, err)
		return
	}
	respondOK(c, bid)
}

func (h *ProcurementHandler) UpdateBid(c *gin.Context) {
	ctx := c.Request.Context()
	bid, err := h.bids.Get(ctx, c.Param("id"))
	if err != nil {
		respondMapped(c, err)
		return
	}

	var req BidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.Supplier != "" {
		bid.Supplier = req.Supplier
	}
	if req.Amount != "" {
		bid.Amount = req.Amount
	}
	if req.Notes != "" {
		bid.Notes = req.Notes
	}
	if req.Status != "" {
		bid.Status = procurement.BidStatus(req.Status)
	}
	if err := h.bids.Save(ctx, bid); err != nil {
		respondMapped(c, err)
		return
	}
	respondOK(c, bid)
}

func (h *ProcurementHandler) DeleteBid(c *gin.Context) {
	if err := h.bids.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondMapped(c, err)
		return
	}
	respondOK(c, gin.H{"deleted": true})
}
