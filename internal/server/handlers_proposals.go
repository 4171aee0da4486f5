package server

import (
	"net/http"

	"github.com/futarchia/foresight/internal/model"
)

// HandleCreateProposal opens a proposal and its market, locking the
// proposer's bond.
func (h *Handlers) HandleCreateProposal(w http.ResponseWriter, r *http.Request) {
	var req model.CreateProposalRequest
	if !decodeJSON(w, r, &req, h.maxBody) {
		return
	}

	proposer := callerAddress(r)
	created, err := h.market.CreateProposal(r.Context(), proposer, req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.recordMutationAuditBestEffort(r, "proposal.created", "proposal", itoa(created.ID), nil, created,
		map[string]any{"bond": created.MinStake})
	writeJSON(w, r, http.StatusCreated, created)
}

// HandleListProposals lists proposals, optionally filtered by status.
func (h *Handlers) HandleListProposals(w http.ResponseWriter, r *http.Request) {
	var status *model.ProposalStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := model.ProposalStatus(raw)
		switch s {
		case model.StatusActive, model.StatusExecuted, model.StatusFailed, model.StatusExpired:
			status = &s
		default:
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown status filter")
			return
		}
	}

	limit := queryLimit(r)
	offset := queryOffset(r)
	proposals, err := h.market.ListProposals(r.Context(), status, limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "proposal listing failed", err)
		return
	}
	writeList(w, r, proposals, len(proposals), limit, offset)
}

// HandleGetProposal retrieves one proposal.
func (h *Handlers) HandleGetProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid proposal id")
		return
	}
	p, err := h.market.GetProposal(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

// HandleGetMarket retrieves a proposal's market aggregates.
func (h *Handlers) HandleGetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid proposal id")
		return
	}
	m, err := h.market.GetMarket(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, m)
}

// HandleGetPosition retrieves one agent's position on a market.
func (h *Handlers) HandleGetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid proposal id")
		return
	}
	agent := r.PathValue("agent")
	if agent == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "agent address required")
		return
	}
	pos, err := h.market.GetPosition(r.Context(), id, agent)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, pos)
}

type stakeResponse struct {
	Market   model.Market   `json:"market"`
	Position model.Position `json:"position"`
}

// HandlePlaceStake places a YES/NO bet on an open market. Honors the
// Idempotency-Key header.
func (h *Handlers) HandlePlaceStake(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid proposal id")
		return
	}
	var req model.PlaceStakeRequest
	if !decodeJSON(w, r, &req, h.maxBody) {
		return
	}

	agent := callerAddress(r)
	idem, proceed := h.beginIdempotentWrite(w, r, agent, stakesEndpoint(id), req)
	if !proceed {
		return
	}

	m, pos, err := h.market.PlaceStake(r.Context(), agent, id, req)
	if err != nil {
		h.clearIdempotentWrite(r, idem)
		h.writeDomainError(w, r, err)
		return
	}

	resp := stakeResponse{Market: m, Position: pos}
	h.completeIdempotentWriteBestEffort(r, idem, http.StatusCreated, resp)
	h.recordMutationAuditBestEffort(r, "stake.placed", "proposal", itoa(id), nil, pos,
		map[string]any{"side": req.Side, "amount": req.Amount})
	writeJSON(w, r, http.StatusCreated, resp)
}

type executeResponse struct {
	Proposal model.Proposal `json:"proposal"`
	Market   model.Market   `json:"market"`
}

// HandleExecute resolves a proposal whose voting deadline has passed.
func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid proposal id")
		return
	}

	p, m, err := h.market.Execute(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.recordMutationAuditBestEffort(r, "proposal.resolved", "proposal", itoa(id), nil, p,
		map[string]any{"winner": m.Winner, "status": p.Status})
	writeJSON(w, r, http.StatusOK, executeResponse{Proposal: p, Market: m})
}

// HandleReportOutcome records the measured outcome for an executed
// proposal once its measurement window closes.
func (h *Handlers) HandleReportOutcome(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid proposal id")
		return
	}
	var req model.ReportOutcomeRequest
	if !decodeJSON(w, r, &req, h.maxBody) {
		return
	}

	meas, err := h.market.ReportOutcome(r.Context(), id, req.Result)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.recordMutationAuditBestEffort(r, "outcome.reported", "proposal", itoa(id), nil, meas,
		map[string]any{"result": req.Result})
	writeJSON(w, r, http.StatusOK, meas)
}

type claimResponse struct {
	Payout   int64          `json:"payout"`
	Position model.Position `json:"position"`
}

// HandleClaim settles the calling agent's position. Honors the
// Idempotency-Key header; the claimed flag makes replays without a key
// fail with a conflict rather than double-pay.
func (h *Handlers) HandleClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid proposal id")
		return
	}

	agent := callerAddress(r)
	idem, proceed := h.beginIdempotentWrite(w, r, agent, claimsEndpoint(id), struct{}{})
	if !proceed {
		return
	}

	payout, pos, err := h.market.Claim(r.Context(), id, agent)
	if err != nil {
		h.clearIdempotentWrite(r, idem)
		h.writeDomainError(w, r, err)
		return
	}

	resp := claimResponse{Payout: payout, Position: pos}
	h.completeIdempotentWriteBestEffort(r, idem, http.StatusOK, resp)
	h.recordMutationAuditBestEffort(r, "rewards.claimed", "proposal", itoa(id), nil, pos,
		map[string]any{"payout": payout})
	writeJSON(w, r, http.StatusOK, resp)
}
