package server

import (
	"net/http"

	"github.com/futarchia/foresight/internal/model"
)

// HandleDeposit credits an agent's available balance. Operator only:
// value enters the system exclusively through this edge.
func (h *Handlers) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	var req model.DepositRequest
	if !decodeJSON(w, r, &req, h.maxBody) {
		return
	}
	if req.Agent == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "agent is required")
		return
	}
	if req.Amount <= 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "amount must be positive")
		return
	}

	acct, err := h.treasury.Deposit(r.Context(), req.Agent, req.Amount)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.recordMutationAuditBestEffort(r, "treasury.deposit", "account", req.Agent, nil, acct,
		map[string]any{"amount": req.Amount})
	writeJSON(w, r, http.StatusCreated, acct)
}

type withdrawRequest struct {
	Amount int64 `json:"amount"`
}

// HandleWithdraw debits the calling agent's available balance. Funds
// locked as bonds or escrowed in markets are not withdrawable.
func (h *Handlers) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !decodeJSON(w, r, &req, h.maxBody) {
		return
	}
	if req.Amount <= 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "amount must be positive")
		return
	}

	agent := callerAddress(r)
	acct, err := h.treasury.Withdraw(r.Context(), agent, req.Amount)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.recordMutationAuditBestEffort(r, "treasury.withdrawal", "account", agent, nil, acct,
		map[string]any{"amount": req.Amount})
	writeJSON(w, r, http.StatusOK, acct)
}

// HandleGetAccount retrieves an agent's balance.
func (h *Handlers) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	agent := r.PathValue("agent")
	if agent == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "agent address required")
		return
	}
	acct, err := h.treasury.Account(r.Context(), agent)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, acct)
}

// HandleListStakes lists an agent's stake ledger entries, newest first.
func (h *Handlers) HandleListStakes(w http.ResponseWriter, r *http.Request) {
	agent := r.PathValue("agent")
	if agent == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "agent address required")
		return
	}
	limit := queryLimit(r)
	offset := queryOffset(r)
	stakes, err := h.treasury.Stakes(r.Context(), agent, limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "stake listing failed", err)
		return
	}
	writeList(w, r, stakes, len(stakes), limit, offset)
}

// HandleTreasuryStats aggregates system-wide balances for dashboards.
func (h *Handlers) HandleTreasuryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.treasury.Stats(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "treasury stats failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}
