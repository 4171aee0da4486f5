package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/futarchia/foresight/internal/model"
)

// CreateProposal inserts a proposal, its market row, and the proposer's
// bond in one transaction. The bond is moved from the proposer's available
// balance into locked funds and released when the proposal reaches a
// terminal state. Fails with an EligibilityError when the proposer cannot
// cover the bond.
func (db *DB) CreateProposal(ctx context.Context, p model.Proposal) (model.Proposal, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Proposal{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := debitAvailable(ctx, tx, p.Proposer, p.MinStake, true); err != nil {
		return model.Proposal{}, err
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO proposals
		     (title, description, proposer, outcome_tag, execution_payload, deliverable,
		      min_stake, status, created_at, deadline, execution_deadline)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		p.Title, p.Description, p.Proposer, p.OutcomeTag, p.ExecutionPayload, p.Deliverable,
		p.MinStake, p.Status, p.CreatedAt, p.Deadline, p.ExecutionDeadline,
	).Scan(&p.ID)
	if err != nil {
		return model.Proposal{}, fmt.Errorf("storage: insert proposal: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO markets (proposal_id) VALUES ($1)`, p.ID,
	); err != nil {
		return model.Proposal{}, fmt.Errorf("storage: insert market: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO stake_infos (agent, proposal_id, side, amount, locked_at, unlock_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.Proposer, p.ID, model.SideBond, p.MinStake, p.CreatedAt, p.ExecutionDeadline,
	); err != nil {
		return model.Proposal{}, fmt.Errorf("storage: insert bond: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Proposal{}, fmt.Errorf("storage: commit proposal: %w", err)
	}
	return p, nil
}

// GetProposal retrieves a proposal by id.
func (db *DB) GetProposal(ctx context.Context, id int64) (model.Proposal, error) {
	return scanProposal(db.pool.QueryRow(ctx, proposalSelect+` WHERE id = $1`, id))
}

const proposalSelect = `
	SELECT id, title, description, proposer, outcome_tag, execution_payload, deliverable,
	       min_stake, status, created_at, deadline, execution_deadline,
	       executed, execution_ok, predicted_yes, actual_outcome
	FROM proposals`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (model.Proposal, error) {
	var p model.Proposal
	err := row.Scan(
		&p.ID, &p.Title, &p.Description, &p.Proposer, &p.OutcomeTag, &p.ExecutionPayload,
		&p.Deliverable, &p.MinStake, &p.Status, &p.CreatedAt, &p.Deadline,
		&p.ExecutionDeadline, &p.Executed, &p.ExecutionOK, &p.PredictedYes, &p.ActualOutcome,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Proposal{}, ErrNotFound
		}
		return model.Proposal{}, fmt.Errorf("storage: scan proposal: %w", err)
	}
	return p, nil
}

// ListProposals returns proposals ordered newest-first, optionally filtered
// by status.
func (db *DB) ListProposals(ctx context.Context, status *model.ProposalStatus, limit, offset int) ([]model.Proposal, error) {
	query := proposalSelect
	args := []any{}
	if status != nil {
		query += ` WHERE status = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`
		args = append(args, *status, limit, offset)
	} else {
		query += ` ORDER BY id DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list proposals: %w", err)
	}
	defer rows.Close()

	var out []model.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordExecutionResult stores the payload invocation result after a
// resolution has committed. Payload failure never reverts the resolution,
// so this is deliberately a separate, best-effort write.
func (db *DB) RecordExecutionResult(ctx context.Context, id int64, ok bool) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE proposals SET execution_ok = $2 WHERE id = $1 AND status = $3`,
		id, ok, model.StatusExecuted,
	)
	if err != nil {
		return fmt.Errorf("storage: record execution result: %w", err)
	}
	return nil
}

// releaseBond returns the proposer's bond when a proposal reaches a
// terminal state. Callers hold the proposal row lock.
func releaseBond(ctx context.Context, tx pgx.Tx, proposalID int64, proposer string, now time.Time) error {
	tag, err := tx.Exec(ctx,
		`UPDATE stake_infos SET withdrawn = true
		 WHERE proposal_id = $1 AND agent = $2 AND side = $3 AND NOT withdrawn`,
		proposalID, proposer, model.SideBond,
	)
	if err != nil {
		return fmt.Errorf("storage: release bond: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil // already released
	}

	var amount int64
	if err := tx.QueryRow(ctx,
		`SELECT amount FROM stake_infos WHERE proposal_id = $1 AND agent = $2 AND side = $3`,
		proposalID, proposer, model.SideBond,
	).Scan(&amount); err != nil {
		return fmt.Errorf("storage: bond amount: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET locked = locked - $2, available = available + $2, updated_at = $3
		 WHERE agent = $1`,
		proposer, amount, now,
	); err != nil {
		return fmt.Errorf("storage: unlock bond: %w", err)
	}
	return nil
}

// debitAvailable removes amount from an agent's available balance inside
// tx. When lock is true the amount moves to the locked column (bond);
// otherwise the caller moves it into market escrow.
func debitAvailable(ctx context.Context, tx pgx.Tx, agent string, amount int64, lock bool) error {
	var available int64
	err := tx.QueryRow(ctx,
		`SELECT available FROM accounts WHERE agent = $1 FOR UPDATE`, agent,
	).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		available = 0
	} else if err != nil {
		return fmt.Errorf("storage: read account: %w", err)
	}

	if available < amount {
		return &model.EligibilityError{
			Kind:     model.ErrInsufficientFunds,
			Agent:    agent,
			Required: float64(amount),
			Actual:   float64(available),
		}
	}

	target := `available = available - $2`
	if lock {
		target = `available = available - $2, locked = locked + $2`
	}
	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET `+target+`, updated_at = now() WHERE agent = $1`,
		agent, amount,
	); err != nil {
		return fmt.Errorf("storage: debit account: %w", err)
	}
	return nil
}
