package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/futarchia/foresight/internal/model"
)

// GetReputation retrieves one agent's reputation record.
func (db *DB) GetReputation(ctx context.Context, agent string) (model.AgentReputation, error) {
	return scanReputation(db.pool.QueryRow(ctx, reputationSelect+` WHERE agent = $1`, agent))
}

const reputationSelect = `
	SELECT agent, activity_score, platform_score, governance_weight, verified,
	       platform_username, last_update
	FROM agent_reputation`

func scanReputation(row rowScanner) (model.AgentReputation, error) {
	var r model.AgentReputation
	err := row.Scan(&r.Agent, &r.ActivityScore, &r.PlatformScore, &r.GovernanceWeight,
		&r.Verified, &r.PlatformUsername, &r.LastUpdate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AgentReputation{}, ErrNotFound
		}
		return model.AgentReputation{}, fmt.Errorf("storage: scan reputation: %w", err)
	}
	return r, nil
}

// UpsertReputation writes a full reputation record, creating it on first
// contact. The caller has already recomputed the governance weight.
func (db *DB) UpsertReputation(ctx context.Context, r model.AgentReputation) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO agent_reputation
		     (agent, activity_score, platform_score, governance_weight, verified, platform_username, last_update)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (agent) DO UPDATE SET
		     activity_score = $2, platform_score = $3, governance_weight = $4,
		     verified = $5, platform_username = $6, last_update = $7`,
		r.Agent, r.ActivityScore, r.PlatformScore, r.GovernanceWeight,
		r.Verified, r.PlatformUsername, r.LastUpdate,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert reputation: %w", err)
	}
	return nil
}

// ListReputation returns reputation records ordered by weight, heaviest
// first.
func (db *DB) ListReputation(ctx context.Context, limit, offset int) ([]model.AgentReputation, error) {
	rows, err := db.pool.Query(ctx,
		reputationSelect+` ORDER BY governance_weight DESC, agent LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list reputation: %w", err)
	}
	defer rows.Close()

	var out []model.AgentReputation
	for rows.Next() {
		r, err := scanReputation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BindIdentity atomically consumes a proof hash and binds the username to
// the agent. Rebinding is last-wins: any other agent currently holding the
// username loses it (and its verified flag) in the same transaction.
// Returns ErrProofConsumed when the hash was already spent.
func (db *DB) BindIdentity(ctx context.Context, agent, username, proofHash string, now time.Time) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO consumed_proofs (proof_hash, agent, consumed_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (proof_hash) DO NOTHING`,
		proofHash, agent, now,
	)
	if err != nil {
		return fmt.Errorf("storage: consume proof: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProofConsumed
	}

	if _, err := tx.Exec(ctx,
		`UPDATE agent_reputation
		 SET platform_username = NULL, verified = false, last_update = $2
		 WHERE platform_username = $1 AND agent <> $3`,
		username, now, agent,
	); err != nil {
		return fmt.Errorf("storage: unbind username: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO agent_reputation (agent, verified, platform_username, last_update)
		 VALUES ($1, true, $2, $3)
		 ON CONFLICT (agent) DO UPDATE SET
		     verified = true, platform_username = $2, last_update = $3`,
		agent, username, now,
	); err != nil {
		return fmt.Errorf("storage: bind username: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit identity: %w", err)
	}
	return nil
}

// AgentActivity summarizes one agent's governance ledger for the activity
// score: distinct proposals staked on, proposals created, and how many of
// the agent's resolved stakes backed the winning side.
type AgentActivity struct {
	ProposalsStaked  int
	ProposalsCreated int
	ResolvedStakes   int
	WinningStakes    int
}

// GetAgentActivity aggregates the agent's ledger entries. Only terminal
// proposals count toward the win rate.
func (db *DB) GetAgentActivity(ctx context.Context, agent string) (AgentActivity, error) {
	var act AgentActivity
	err := db.pool.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE p.status <> 'active')
		 FROM positions pos JOIN proposals p ON p.id = pos.proposal_id
		 WHERE pos.agent = $1`, agent,
	).Scan(&act.ProposalsStaked, &act.ResolvedStakes)
	if err != nil {
		return AgentActivity{}, fmt.Errorf("storage: agent activity: %w", err)
	}

	err = db.pool.QueryRow(ctx,
		`SELECT count(*) FROM proposals WHERE proposer = $1`, agent,
	).Scan(&act.ProposalsCreated)
	if err != nil {
		return AgentActivity{}, fmt.Errorf("storage: agent proposals: %w", err)
	}

	err = db.pool.QueryRow(ctx,
		`SELECT count(*)
		 FROM positions pos JOIN markets m ON m.proposal_id = pos.proposal_id
		 WHERE pos.agent = $1
		   AND ((m.winner = 'yes' AND pos.yes_stake > 0) OR (m.winner = 'no' AND pos.no_stake > 0))`,
		agent,
	).Scan(&act.WinningStakes)
	if err != nil {
		return AgentActivity{}, fmt.Errorf("storage: agent wins: %w", err)
	}
	return act, nil
}
