package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/futarchia/foresight/internal/model"
)

// GetAccount retrieves an agent's treasury balance. Agents that have never
// held funds get a zero account rather than ErrNotFound.
func (db *DB) GetAccount(ctx context.Context, agent string) (model.Account, error) {
	var acct model.Account
	err := db.pool.QueryRow(ctx,
		`SELECT agent, available, locked, updated_at FROM accounts WHERE agent = $1`, agent,
	).Scan(&acct.Agent, &acct.Available, &acct.Locked, &acct.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{Agent: agent}, nil
	} else if err != nil {
		return model.Account{}, fmt.Errorf("storage: get account: %w", err)
	}
	return acct, nil
}

// Deposit credits an agent's available balance.
func (db *DB) Deposit(ctx context.Context, agent string, amount int64, now time.Time) (model.Account, error) {
	var acct model.Account
	err := db.pool.QueryRow(ctx,
		`INSERT INTO accounts (agent, available, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (agent) DO UPDATE SET available = accounts.available + $2, updated_at = $3
		 RETURNING agent, available, locked, updated_at`,
		agent, amount, now,
	).Scan(&acct.Agent, &acct.Available, &acct.Locked, &acct.UpdatedAt)
	if err != nil {
		return model.Account{}, fmt.Errorf("storage: deposit: %w", err)
	}
	return acct, nil
}

// Withdraw debits an agent's available balance. Locked and escrowed funds
// cannot be withdrawn.
func (db *DB) Withdraw(ctx context.Context, agent string, amount int64, now time.Time) (model.Account, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Account{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := debitAvailable(ctx, tx, agent, amount, false); err != nil {
		return model.Account{}, err
	}

	var acct model.Account
	if err := tx.QueryRow(ctx,
		`SELECT agent, available, locked, updated_at FROM accounts WHERE agent = $1`, agent,
	).Scan(&acct.Agent, &acct.Available, &acct.Locked, &acct.UpdatedAt); err != nil {
		return model.Account{}, fmt.Errorf("storage: read account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Account{}, fmt.Errorf("storage: commit withdrawal: %w", err)
	}
	return acct, nil
}

// ListStakes returns an agent's stake ledger, newest first.
func (db *DB) ListStakes(ctx context.Context, agent string, limit, offset int) ([]model.StakeInfo, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, agent, proposal_id, side, amount, locked_at, unlock_at, withdrawn
		 FROM stake_infos WHERE agent = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		agent, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list stakes: %w", err)
	}
	defer rows.Close()

	var out []model.StakeInfo
	for rows.Next() {
		var s model.StakeInfo
		if err := rows.Scan(&s.ID, &s.Agent, &s.ProposalID, &s.Side, &s.Amount,
			&s.LockedAt, &s.UnlockAt, &s.Withdrawn); err != nil {
			return nil, fmt.Errorf("storage: scan stake: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetTreasuryStats aggregates balances across all accounts, live escrow,
// and the reserve.
func (db *DB) GetTreasuryStats(ctx context.Context) (model.TreasuryStats, error) {
	var stats model.TreasuryStats
	err := db.pool.QueryRow(ctx,
		`SELECT coalesce(sum(available), 0), coalesce(sum(locked), 0), count(*) FROM accounts`,
	).Scan(&stats.TotalAvailable, &stats.TotalLocked, &stats.Accounts)
	if err != nil {
		return model.TreasuryStats{}, fmt.Errorf("storage: treasury accounts: %w", err)
	}

	err = db.pool.QueryRow(ctx,
		`SELECT coalesce(sum(escrow_balance), 0) FROM markets`,
	).Scan(&stats.TotalEscrowed)
	if err != nil {
		return model.TreasuryStats{}, fmt.Errorf("storage: treasury escrow: %w", err)
	}

	err = db.pool.QueryRow(ctx,
		`SELECT reserve FROM governance_stats WHERE id = 1`,
	).Scan(&stats.Reserve)
	if err != nil {
		return model.TreasuryStats{}, fmt.Errorf("storage: treasury reserve: %w", err)
	}
	return stats, nil
}
