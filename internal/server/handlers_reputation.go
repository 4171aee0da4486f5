package server

import (
	"encoding/base64"
	"net/http"

	"github.com/futarchia/foresight/internal/model"
)

// HandleVerifyIdentity validates an Ed25519 identity proof for the calling
// agent and binds its platform username. Each proof is single-use.
func (h *Handlers) HandleVerifyIdentity(w http.ResponseWriter, r *http.Request) {
	var req model.VerifyIdentityRequest
	if !decodeJSON(w, r, &req, h.maxBody) {
		return
	}
	if req.Username == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "username is required")
		return
	}
	signature, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "signature must be base64")
		return
	}

	proof := model.IdentityProof{
		Agent:     callerAddress(r),
		Username:  req.Username,
		Timestamp: req.Timestamp,
		Signature: signature,
	}
	rep, err := h.reputation.VerifyIdentity(r.Context(), proof)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.recordMutationAuditBestEffort(r, "identity.verified", "reputation", proof.Agent, nil, rep,
		map[string]any{"username": req.Username})
	writeJSON(w, r, http.StatusOK, rep)
}

// HandleRefreshReputation recomputes the calling agent's activity score.
// Cooldown-limited.
func (h *Handlers) HandleRefreshReputation(w http.ResponseWriter, r *http.Request) {
	agent := callerAddress(r)
	rep, err := h.reputation.Refresh(r.Context(), agent)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rep)
}

// HandleIngestScores folds a social-platform score push into an agent's
// platform score. Bridge role only.
func (h *Handlers) HandleIngestScores(w http.ResponseWriter, r *http.Request) {
	var req model.IngestScoresRequest
	if !decodeJSON(w, r, &req, h.maxBody) {
		return
	}
	if req.Agent == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "agent is required")
		return
	}

	rep, err := h.reputation.IngestScores(r.Context(), model.ExternalScoreUpdate{
		Agent:        req.Agent,
		Karma:        req.Karma,
		Posts:        req.Posts,
		Interactions: req.Interactions,
		Quality:      req.Quality,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.recordMutationAuditBestEffort(r, "reputation.scores_ingested", "reputation", req.Agent, nil, rep, nil)
	writeJSON(w, r, http.StatusOK, rep)
}

// HandleGetReputation retrieves an agent's reputation record.
func (h *Handlers) HandleGetReputation(w http.ResponseWriter, r *http.Request) {
	agent := r.PathValue("agent")
	if agent == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "agent address required")
		return
	}
	rep, err := h.reputation.Get(r.Context(), agent)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rep)
}

// HandleListReputation lists reputation records ordered by weight.
func (h *Handlers) HandleListReputation(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r)
	offset := queryOffset(r)
	reps, err := h.reputation.List(r.Context(), limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "reputation listing failed", err)
		return
	}
	writeList(w, r, reps, len(reps), limit, offset)
}
