package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/futarchia/foresight/internal/model"
)

// InsertMetrics appends one metrics snapshot to the durable history.
func (db *DB) InsertMetrics(ctx context.Context, m model.GovernanceMetrics) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO metrics_history
		     (proposal_quality, participation_rate, outcome_accuracy, product_delivery,
		      time_to_execution, staking_efficiency, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ProposalQuality, m.ParticipationRate, m.OutcomeAccuracy, m.ProductDelivery,
		m.TimeToExecution, m.StakingEfficiency, m.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("storage: insert metrics: %w", err)
	}
	return nil
}

// LoadRecentMetrics returns the newest limit snapshots in chronological
// order, oldest first, for replaying into the in-memory window on startup.
func (db *DB) LoadRecentMetrics(ctx context.Context, limit int) ([]model.GovernanceMetrics, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT proposal_quality, participation_rate, outcome_accuracy, product_delivery,
		        time_to_execution, staking_efficiency, recorded_at
		 FROM (SELECT * FROM metrics_history ORDER BY id DESC LIMIT $1) recent
		 ORDER BY id`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load metrics: %w", err)
	}
	defer rows.Close()

	var out []model.GovernanceMetrics
	for rows.Next() {
		var m model.GovernanceMetrics
		if err := rows.Scan(&m.ProposalQuality, &m.ParticipationRate, &m.OutcomeAccuracy,
			&m.ProductDelivery, &m.TimeToExecution, &m.StakingEfficiency, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("storage: scan metrics: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LoadRules returns all adaptation rules, active and inactive.
func (db *DB) LoadRules(ctx context.Context) ([]model.AdaptationRule, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT metric, threshold, inverted, action, factor_pct, cooldown_secs, last_triggered, active
		 FROM adaptation_rules ORDER BY metric`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load rules: %w", err)
	}
	defer rows.Close()

	var out []model.AdaptationRule
	for rows.Next() {
		var r model.AdaptationRule
		var cooldownSecs int64
		if err := rows.Scan(&r.Metric, &r.Threshold, &r.Inverted, &r.Action,
			&r.FactorPct, &cooldownSecs, &r.LastTriggered, &r.Active); err != nil {
			return nil, fmt.Errorf("storage: scan rule: %w", err)
		}
		r.Cooldown = time.Duration(cooldownSecs) * time.Second
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceRules swaps the full rule set in one transaction. Cooldown state
// of rules that survive the swap (same metric) is preserved.
func (db *DB) ReplaceRules(ctx context.Context, rules []model.AdaptationRule) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	prior := map[string]time.Time{}
	rows, err := tx.Query(ctx, `SELECT metric, last_triggered FROM adaptation_rules`)
	if err != nil {
		return fmt.Errorf("storage: read rules: %w", err)
	}
	for rows.Next() {
		var metric string
		var last time.Time
		if err := rows.Scan(&metric, &last); err != nil {
			rows.Close()
			return fmt.Errorf("storage: scan rule state: %w", err)
		}
		prior[metric] = last
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("storage: read rules: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM adaptation_rules`); err != nil {
		return fmt.Errorf("storage: clear rules: %w", err)
	}
	for _, r := range rules {
		last := r.LastTriggered
		if prev, ok := prior[r.Metric]; ok && prev.After(last) {
			last = prev
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO adaptation_rules
			     (metric, threshold, inverted, action, factor_pct, cooldown_secs, last_triggered, active)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			r.Metric, r.Threshold, r.Inverted, r.Action, r.FactorPct,
			int64(r.Cooldown.Seconds()), last, r.Active,
		); err != nil {
			return fmt.Errorf("storage: insert rule %s: %w", r.Metric, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit rules: %w", err)
	}
	return nil
}

// TouchRule advances a rule's cooldown clock.
func (db *DB) TouchRule(ctx context.Context, metric string, triggeredAt time.Time) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE adaptation_rules SET last_triggered = $2 WHERE metric = $1`,
		metric, triggeredAt,
	)
	if err != nil {
		return fmt.Errorf("storage: touch rule %s: %w", metric, err)
	}
	return nil
}

// AppendEvolutionAction writes one audit entry, chaining its content hash
// to the previous entry. The governance_stats row lock serializes writers
// so the chain never forks.
func (db *DB) AppendEvolutionAction(ctx context.Context, a model.EvolutionAction) (model.EvolutionAction, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.EvolutionAction{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var sink int16
	if err := tx.QueryRow(ctx,
		`SELECT id FROM governance_stats WHERE id = 1 FOR UPDATE`,
	).Scan(&sink); err != nil {
		return model.EvolutionAction{}, fmt.Errorf("storage: lock chain: %w", err)
	}

	var prev string
	err = tx.QueryRow(ctx,
		`SELECT content_hash FROM evolution_actions ORDER BY id DESC LIMIT 1`,
	).Scan(&prev)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return model.EvolutionAction{}, fmt.Errorf("storage: read chain head: %w", err)
	}

	a.ContentHash = model.ActionContentHash(prev, a)
	err = tx.QueryRow(ctx,
		`INSERT INTO evolution_actions
		     (rule, action, parameter, old_value, new_value, applied, justification, content_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		a.Rule, a.Action, a.Parameter, a.OldValue, a.NewValue, a.Applied,
		a.Justification, a.ContentHash, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return model.EvolutionAction{}, fmt.Errorf("storage: insert action: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.EvolutionAction{}, fmt.Errorf("storage: commit action: %w", err)
	}
	return a, nil
}

// ListEvolutionActions returns audit entries newest-first.
func (db *DB) ListEvolutionActions(ctx context.Context, limit, offset int) ([]model.EvolutionAction, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, rule, action, parameter, old_value, new_value, applied, justification, content_hash, created_at
		 FROM evolution_actions ORDER BY id DESC LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list actions: %w", err)
	}
	defer rows.Close()

	var out []model.EvolutionAction
	for rows.Next() {
		var a model.EvolutionAction
		if err := rows.Scan(&a.ID, &a.Rule, &a.Action, &a.Parameter, &a.OldValue, &a.NewValue,
			&a.Applied, &a.Justification, &a.ContentHash, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// VerifyActionChain recomputes every entry's hash in id order and returns
// the id of the first entry whose stored hash does not match, or 0 when
// the chain is intact.
func (db *DB) VerifyActionChain(ctx context.Context) (int64, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, rule, action, parameter, old_value, new_value, applied, justification, content_hash, created_at
		 FROM evolution_actions ORDER BY id`,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: verify chain: %w", err)
	}
	defer rows.Close()

	prev := ""
	for rows.Next() {
		var a model.EvolutionAction
		if err := rows.Scan(&a.ID, &a.Rule, &a.Action, &a.Parameter, &a.OldValue, &a.NewValue,
			&a.Applied, &a.Justification, &a.ContentHash, &a.CreatedAt); err != nil {
			return 0, fmt.Errorf("storage: scan action: %w", err)
		}
		if model.ActionContentHash(prev, a) != a.ContentHash {
			return a.ID, nil
		}
		prev = a.ContentHash
	}
	return 0, rows.Err()
}

// GovernanceStats is the running counter row backing derived metrics.
type GovernanceStats struct {
	MeasuredCount int64
	AccurateCount int64
	Reserve       int64
}

// GetGovernanceStats reads the singleton counter row.
func (db *DB) GetGovernanceStats(ctx context.Context) (GovernanceStats, error) {
	var s GovernanceStats
	err := db.pool.QueryRow(ctx,
		`SELECT measured_count, accurate_count, reserve FROM governance_stats WHERE id = 1`,
	).Scan(&s.MeasuredCount, &s.AccurateCount, &s.Reserve)
	if err != nil {
		return GovernanceStats{}, fmt.Errorf("storage: governance stats: %w", err)
	}
	return s, nil
}
