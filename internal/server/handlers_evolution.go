package server

import (
	"net/http"
	"time"

	"github.com/futarchia/foresight/internal/model"
)

// HandleUpdateMetrics ingests a governance metrics snapshot and runs an
// adaptation pass. Returns the audit entries for any rules that fired.
func (h *Handlers) HandleUpdateMetrics(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateMetricsRequest
	if !decodeJSON(w, r, &req, h.maxBody) {
		return
	}

	snapshot := model.GovernanceMetrics{
		ProposalQuality:   req.ProposalQuality,
		ParticipationRate: req.ParticipationRate,
		OutcomeAccuracy:   req.OutcomeAccuracy,
		ProductDelivery:   req.ProductDelivery,
		TimeToExecution:   req.TimeToExecution,
		StakingEfficiency: req.StakingEfficiency,
		Timestamp:         time.Now().UTC(),
	}
	fired, err := h.evolution.UpdateMetrics(r.Context(), snapshot)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.recordMutationAuditBestEffort(r, "metrics.updated", "metrics", "", nil, snapshot,
		map[string]any{"rules_fired": len(fired)})
	writeJSON(w, r, http.StatusOK, map[string]any{
		"metrics":     snapshot,
		"rules_fired": fired,
	})
}

// HandleCurrentMetrics returns the latest metrics snapshot.
func (h *Handlers) HandleCurrentMetrics(w http.ResponseWriter, r *http.Request) {
	m, ok := h.evolution.Current()
	if !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no metrics recorded yet")
		return
	}
	writeJSON(w, r, http.StatusOK, m)
}

// HandleMetricsHistory returns recent metrics snapshots, oldest first.
func (h *Handlers) HandleMetricsHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r)
	history := h.evolution.History(limit)
	writeList(w, r, history, len(history), limit, 0)
}

// HandleMetricsTrends reports per-metric movement over a recent window.
func (h *Handlers) HandleMetricsTrends(w http.ResponseWriter, r *http.Request) {
	window := queryInt(r, "window", 5, 50)
	if window < 1 {
		window = 5
	}
	writeJSON(w, r, http.StatusOK, h.evolution.AnalyzeTrends(window))
}

// HandleListActions lists evolution audit entries, newest first.
func (h *Handlers) HandleListActions(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r)
	offset := queryOffset(r)
	actions, err := h.evolution.Actions(r.Context(), limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "evolution action listing failed", err)
		return
	}
	writeList(w, r, actions, len(actions), limit, offset)
}

// HandleVerifyActionChain recomputes the audit chain's content hashes.
func (h *Handlers) HandleVerifyActionChain(w http.ResponseWriter, r *http.Request) {
	corrupted, err := h.evolution.VerifyChain(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "action chain verification failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"intact":             corrupted == 0,
		"first_corrupted_id": corrupted,
	})
}

// HandleGetRules returns the active adaptation rule set.
func (h *Handlers) HandleGetRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.evolution.Rules(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "rule listing failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, rules)
}

// HandleReplaceRules installs a new adaptation rule set wholesale.
// Operator only; every rule is bounds-validated before any is written.
func (h *Handlers) HandleReplaceRules(w http.ResponseWriter, r *http.Request) {
	var req model.ReplaceRulesRequest
	if !decodeJSON(w, r, &req, h.maxBody) {
		return
	}
	if len(req.Rules) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "rules must not be empty")
		return
	}

	before, err := h.evolution.Rules(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "rule listing failed", err)
		return
	}
	if err := h.evolution.ReplaceRules(r.Context(), req.Rules); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.recordMutationAuditBestEffort(r, "evolution.rules_replaced", "adaptation_rules", "", before, req.Rules,
		map[string]any{"count": len(req.Rules)})
	writeJSON(w, r, http.StatusOK, req.Rules)
}

// HandleGetParams returns the live governance parameters.
func (h *Handlers) HandleGetParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.evolution.Params())
}
