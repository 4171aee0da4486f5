package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/futarchia/foresight/internal/model"
)

// GetMarket retrieves the market aggregates for a proposal.
func (db *DB) GetMarket(ctx context.Context, proposalID int64) (model.Market, error) {
	var m model.Market
	var winner *string
	err := db.pool.QueryRow(ctx,
		`SELECT proposal_id, yes_total, no_total, total_staked, participants, escrow_balance, winner
		 FROM markets WHERE proposal_id = $1`, proposalID,
	).Scan(&m.ProposalID, &m.YesTotal, &m.NoTotal, &m.TotalStaked, &m.Participants, &m.EscrowBalance, &winner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Market{}, ErrNotFound
		}
		return model.Market{}, fmt.Errorf("storage: get market: %w", err)
	}
	if winner != nil {
		m.Winner = model.Winner(*winner)
	}
	return m, nil
}

// GetPosition retrieves one agent's position on a market.
func (db *DB) GetPosition(ctx context.Context, proposalID int64, agent string) (model.Position, error) {
	var pos model.Position
	err := db.pool.QueryRow(ctx,
		`SELECT proposal_id, agent, yes_stake, no_stake, claimed, updated_at
		 FROM positions WHERE proposal_id = $1 AND agent = $2`, proposalID, agent,
	).Scan(&pos.ProposalID, &pos.Agent, &pos.YesStake, &pos.NoStake, &pos.Claimed, &pos.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Position{}, ErrNotFound
		}
		return model.Position{}, fmt.Errorf("storage: get position: %w", err)
	}
	return pos, nil
}

// PlaceBet moves amount from the agent's available balance into the
// market's escrow and updates the agent's position and the aggregate
// totals as one unit. The market row lock is the serialization point for
// concurrent bets on the same proposal. Timing and state checks run inside
// the transaction so a bet can never land after the deadline it observed.
func (db *DB) PlaceBet(ctx context.Context, proposalID int64, agent string, side model.Side, amount int64, now time.Time) (model.Market, model.Position, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Market{}, model.Position{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status model.ProposalStatus
	var deadline, executionDeadline time.Time
	err = tx.QueryRow(ctx,
		`SELECT status, deadline, execution_deadline FROM proposals WHERE id = $1`, proposalID,
	).Scan(&status, &deadline, &executionDeadline)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Market{}, model.Position{}, ErrNotFound
	} else if err != nil {
		return model.Market{}, model.Position{}, fmt.Errorf("storage: read proposal: %w", err)
	}

	if status != model.StatusActive {
		return model.Market{}, model.Position{}, &model.TimingError{Kind: model.ErrProposalNotActive, ProposalID: proposalID, Now: now}
	}
	if !now.Before(deadline) {
		return model.Market{}, model.Position{}, &model.TimingError{Kind: model.ErrVotingClosed, ProposalID: proposalID, Now: now, Boundary: deadline}
	}

	// Lock the market row: all aggregate updates for this proposal
	// serialize here.
	var m model.Market
	if err := tx.QueryRow(ctx,
		`SELECT proposal_id, yes_total, no_total, total_staked, participants, escrow_balance
		 FROM markets WHERE proposal_id = $1 FOR UPDATE`, proposalID,
	).Scan(&m.ProposalID, &m.YesTotal, &m.NoTotal, &m.TotalStaked, &m.Participants, &m.EscrowBalance); err != nil {
		return model.Market{}, model.Position{}, fmt.Errorf("storage: lock market: %w", err)
	}

	if err := debitAvailable(ctx, tx, agent, amount, false); err != nil {
		return model.Market{}, model.Position{}, err
	}

	var pos model.Position
	firstStake := false
	err = tx.QueryRow(ctx,
		`SELECT yes_stake, no_stake, claimed FROM positions
		 WHERE proposal_id = $1 AND agent = $2 FOR UPDATE`, proposalID, agent,
	).Scan(&pos.YesStake, &pos.NoStake, &pos.Claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		firstStake = true
	} else if err != nil {
		return model.Market{}, model.Position{}, fmt.Errorf("storage: read position: %w", err)
	}

	pos.ProposalID = proposalID
	pos.Agent = agent
	pos.UpdatedAt = now
	if side == model.SideYes {
		pos.YesStake += amount
		m.YesTotal += amount
	} else {
		pos.NoStake += amount
		m.NoTotal += amount
	}
	m.TotalStaked += amount
	m.EscrowBalance += amount
	if firstStake {
		m.Participants++
	}

	if firstStake {
		_, err = tx.Exec(ctx,
			`INSERT INTO positions (proposal_id, agent, yes_stake, no_stake, updated_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			proposalID, agent, pos.YesStake, pos.NoStake, now,
		)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE positions SET yes_stake = $3, no_stake = $4, updated_at = $5
			 WHERE proposal_id = $1 AND agent = $2`,
			proposalID, agent, pos.YesStake, pos.NoStake, now,
		)
	}
	if err != nil {
		return model.Market{}, model.Position{}, fmt.Errorf("storage: write position: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE markets
		 SET yes_total = $2, no_total = $3, total_staked = $4, participants = $5, escrow_balance = $6
		 WHERE proposal_id = $1`,
		proposalID, m.YesTotal, m.NoTotal, m.TotalStaked, m.Participants, m.EscrowBalance,
	); err != nil {
		return model.Market{}, model.Position{}, fmt.Errorf("storage: update market: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO stake_infos (agent, proposal_id, side, amount, locked_at, unlock_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		agent, proposalID, side, amount, now, executionDeadline,
	); err != nil {
		return model.Market{}, model.Position{}, fmt.Errorf("storage: insert stake: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Market{}, model.Position{}, fmt.Errorf("storage: commit bet: %w", err)
	}
	return m, pos, nil
}

// ResolveProposal applies the strict-majority rule and commits the state
// transition Active → Executed/Failed atomically. For a NO majority or a
// tie the proposal fails; a NO majority additionally opens claims by
// creating the reward distribution (no outcome will ever be measured). A
// YES majority opens the outcome measurement window; its distribution is
// created by ReportOutcome. The proposer's bond is released either way.
//
// rewardPct and measurementWindow are the live evolvable parameters at the
// moment of resolution.
func (db *DB) ResolveProposal(ctx context.Context, proposalID int64, now time.Time, rewardPct int64, measurementWindow time.Duration) (model.Proposal, model.Market, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Proposal{}, model.Market{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := lockProposal(ctx, tx, proposalID)
	if err != nil {
		return model.Proposal{}, model.Market{}, err
	}
	if p.Status != model.StatusActive {
		return model.Proposal{}, model.Market{}, &model.TimingError{Kind: model.ErrProposalNotActive, ProposalID: proposalID, Now: now}
	}
	if now.Before(p.Deadline) {
		return model.Proposal{}, model.Market{}, &model.TimingError{Kind: model.ErrVotingOpen, ProposalID: proposalID, Now: now, Boundary: p.Deadline}
	}
	if now.After(p.ExecutionDeadline) {
		// The window lapsed unused: the proposal is permanently expired
		// and stakes become refundable.
		if err := expireLocked(ctx, tx, &p, now); err != nil {
			return model.Proposal{}, model.Market{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return model.Proposal{}, model.Market{}, fmt.Errorf("storage: commit expiry: %w", err)
		}
		return model.Proposal{}, model.Market{}, &model.TimingError{Kind: model.ErrExecutionExpired, ProposalID: proposalID, Now: now, Boundary: p.ExecutionDeadline}
	}

	var m model.Market
	if err := tx.QueryRow(ctx,
		`SELECT proposal_id, yes_total, no_total, total_staked, participants, escrow_balance
		 FROM markets WHERE proposal_id = $1 FOR UPDATE`, proposalID,
	).Scan(&m.ProposalID, &m.YesTotal, &m.NoTotal, &m.TotalStaked, &m.Participants, &m.EscrowBalance); err != nil {
		return model.Proposal{}, model.Market{}, fmt.Errorf("storage: lock market: %w", err)
	}

	winner := model.Resolve(m.YesTotal, m.NoTotal)
	m.Winner = winner
	predictedYes := winner == model.WinnerYes
	p.PredictedYes = &predictedYes

	switch winner {
	case model.WinnerYes:
		p.Status = model.StatusExecuted
		p.Executed = true
	default:
		p.Status = model.StatusFailed
	}

	if _, err := tx.Exec(ctx,
		`UPDATE proposals SET status = $2, executed = $3, predicted_yes = $4 WHERE id = $1`,
		proposalID, p.Status, p.Executed, predictedYes,
	); err != nil {
		return model.Proposal{}, model.Market{}, fmt.Errorf("storage: update proposal: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE markets SET winner = $2 WHERE proposal_id = $1`, proposalID, winner,
	); err != nil {
		return model.Proposal{}, model.Market{}, fmt.Errorf("storage: update market winner: %w", err)
	}

	if err := releaseBond(ctx, tx, proposalID, p.Proposer, now); err != nil {
		return model.Proposal{}, model.Market{}, err
	}

	switch winner {
	case model.WinnerYes:
		// Open the fixed outcome measurement window.
		if _, err := tx.Exec(ctx,
			`INSERT INTO outcome_measurements (proposal_id, starts_at, ends_at)
			 VALUES ($1, $2, $3)`,
			proposalID, now, now.Add(measurementWindow),
		); err != nil {
			return model.Proposal{}, model.Market{}, fmt.Errorf("storage: open measurement: %w", err)
		}
	case model.WinnerNo:
		if err := createDistribution(ctx, tx, m, model.WinnerNo, rewardPct, now); err != nil {
			return model.Proposal{}, model.Market{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Proposal{}, model.Market{}, fmt.Errorf("storage: commit resolution: %w", err)
	}
	return p, m, nil
}

// ReportOutcome records the measured result exactly once, folds it into
// the running accuracy counters, and opens claims for the YES side by
// creating the reward distribution.
func (db *DB) ReportOutcome(ctx context.Context, proposalID int64, result float64, now time.Time, rewardPct int64) (model.OutcomeMeasurement, bool, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.OutcomeMeasurement{}, false, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := lockProposal(ctx, tx, proposalID)
	if err != nil {
		return model.OutcomeMeasurement{}, false, err
	}
	if !p.Executed {
		return model.OutcomeMeasurement{}, false, &model.TimingError{Kind: model.ErrNotExecuted, ProposalID: proposalID, Now: now}
	}

	var meas model.OutcomeMeasurement
	err = tx.QueryRow(ctx,
		`SELECT proposal_id, starts_at, ends_at, measured, result
		 FROM outcome_measurements WHERE proposal_id = $1 FOR UPDATE`, proposalID,
	).Scan(&meas.ProposalID, &meas.StartsAt, &meas.EndsAt, &meas.Measured, &meas.Result)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.OutcomeMeasurement{}, false, ErrNotFound
	} else if err != nil {
		return model.OutcomeMeasurement{}, false, fmt.Errorf("storage: lock measurement: %w", err)
	}

	if meas.Measured {
		return model.OutcomeMeasurement{}, false, &model.TimingError{Kind: model.ErrAlreadyMeasured, ProposalID: proposalID, Now: now}
	}
	if now.Before(meas.EndsAt) {
		return model.OutcomeMeasurement{}, false, &model.TimingError{Kind: model.ErrMeasurementOpen, ProposalID: proposalID, Now: now, Boundary: meas.EndsAt}
	}

	meas.Measured = true
	meas.Result = &result
	if _, err := tx.Exec(ctx,
		`UPDATE outcome_measurements SET measured = true, result = $2 WHERE proposal_id = $1`,
		proposalID, result,
	); err != nil {
		return model.OutcomeMeasurement{}, false, fmt.Errorf("storage: record measurement: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE proposals SET actual_outcome = $2 WHERE id = $1`, proposalID, result,
	); err != nil {
		return model.OutcomeMeasurement{}, false, fmt.Errorf("storage: record outcome: %w", err)
	}

	// Accuracy: did the market's majority side predict the measured result?
	improved := result >= model.OutcomeSuccessThreshold
	accurate := p.PredictedYes != nil && *p.PredictedYes == improved
	accInc := 0
	if accurate {
		accInc = 1
	}
	if _, err := tx.Exec(ctx,
		`UPDATE governance_stats SET measured_count = measured_count + 1, accurate_count = accurate_count + $1
		 WHERE id = 1`, accInc,
	); err != nil {
		return model.OutcomeMeasurement{}, false, fmt.Errorf("storage: update accuracy: %w", err)
	}

	var m model.Market
	if err := tx.QueryRow(ctx,
		`SELECT proposal_id, yes_total, no_total, total_staked, participants, escrow_balance
		 FROM markets WHERE proposal_id = $1 FOR UPDATE`, proposalID,
	).Scan(&m.ProposalID, &m.YesTotal, &m.NoTotal, &m.TotalStaked, &m.Participants, &m.EscrowBalance); err != nil {
		return model.OutcomeMeasurement{}, false, fmt.Errorf("storage: lock market: %w", err)
	}
	if err := createDistribution(ctx, tx, m, model.WinnerYes, rewardPct, now); err != nil {
		return model.OutcomeMeasurement{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.OutcomeMeasurement{}, false, fmt.Errorf("storage: commit outcome: %w", err)
	}
	return meas, accurate, nil
}

// ClaimRewards settles one agent's position: winners receive principal
// plus their proportional share of the pool, losers forfeit, and refund
// cases (tie, expiry) return principal. Exactly-once is enforced by the
// claimed flag under the position row lock. An Active proposal past its
// execution deadline is expired in the same transaction so funds are never
// silently trapped.
func (db *DB) ClaimRewards(ctx context.Context, proposalID int64, agent string, now time.Time) (int64, model.Position, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, model.Position{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := lockProposal(ctx, tx, proposalID)
	if err != nil {
		return 0, model.Position{}, err
	}

	if p.Status == model.StatusActive {
		if !now.After(p.ExecutionDeadline) {
			return 0, model.Position{}, &model.TimingError{Kind: model.ErrClaimsNotOpen, ProposalID: proposalID, Now: now, Boundary: p.ExecutionDeadline}
		}
		if err := expireLocked(ctx, tx, &p, now); err != nil {
			return 0, model.Position{}, err
		}
	}

	var m model.Market
	var winner *string
	if err := tx.QueryRow(ctx,
		`SELECT proposal_id, yes_total, no_total, total_staked, participants, escrow_balance, winner
		 FROM markets WHERE proposal_id = $1 FOR UPDATE`, proposalID,
	).Scan(&m.ProposalID, &m.YesTotal, &m.NoTotal, &m.TotalStaked, &m.Participants, &m.EscrowBalance, &winner); err != nil {
		return 0, model.Position{}, fmt.Errorf("storage: lock market: %w", err)
	}
	if winner != nil {
		m.Winner = model.Winner(*winner)
	}

	var pos model.Position
	err = tx.QueryRow(ctx,
		`SELECT proposal_id, agent, yes_stake, no_stake, claimed, updated_at
		 FROM positions WHERE proposal_id = $1 AND agent = $2 FOR UPDATE`, proposalID, agent,
	).Scan(&pos.ProposalID, &pos.Agent, &pos.YesStake, &pos.NoStake, &pos.Claimed, &pos.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, model.Position{}, model.ErrNoPosition
	} else if err != nil {
		return 0, model.Position{}, fmt.Errorf("storage: lock position: %w", err)
	}
	if pos.Claimed {
		return 0, model.Position{}, model.ErrAlreadyClaimed
	}

	var payout int64
	switch m.Winner {
	case model.WinnerNone:
		// Tie or expiry: both sides get their principal back.
		payout = pos.YesStake + pos.NoStake
	case model.WinnerYes, model.WinnerNo:
		var dist model.RewardDistribution
		err := tx.QueryRow(ctx,
			`SELECT proposal_id, winner, winning_total, losing_total, pool
			 FROM reward_distributions WHERE proposal_id = $1`, proposalID,
		).Scan(&dist.ProposalID, &dist.Winner, &dist.WinningTotal, &dist.LosingTotal, &dist.Pool)
		if errors.Is(err, pgx.ErrNoRows) {
			// Executed but not yet measured: principal stays locked.
			return 0, model.Position{}, &model.TimingError{Kind: model.ErrClaimsNotOpen, ProposalID: proposalID, Now: now}
		} else if err != nil {
			return 0, model.Position{}, fmt.Errorf("storage: read distribution: %w", err)
		}

		winningStake := pos.YesStake
		if m.Winner == model.WinnerNo {
			winningStake = pos.NoStake
		}
		payout = model.RewardShare(winningStake, dist.WinningTotal, dist.Pool)
	default:
		return 0, model.Position{}, &model.TimingError{Kind: model.ErrClaimsNotOpen, ProposalID: proposalID, Now: now}
	}

	if payout > m.EscrowBalance {
		return 0, model.Position{}, fmt.Errorf("storage: payout %d exceeds escrow %d for proposal %d", payout, m.EscrowBalance, proposalID)
	}

	pos.Claimed = true
	pos.UpdatedAt = now
	if _, err := tx.Exec(ctx,
		`UPDATE positions SET claimed = true, updated_at = $3 WHERE proposal_id = $1 AND agent = $2`,
		proposalID, agent, now,
	); err != nil {
		return 0, model.Position{}, fmt.Errorf("storage: mark claimed: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE markets SET escrow_balance = escrow_balance - $2 WHERE proposal_id = $1`,
		proposalID, payout,
	); err != nil {
		return 0, model.Position{}, fmt.Errorf("storage: debit escrow: %w", err)
	}
	if payout > 0 {
		if _, err := tx.Exec(ctx,
			`INSERT INTO accounts (agent, available, updated_at) VALUES ($1, $2, $3)
			 ON CONFLICT (agent) DO UPDATE SET available = accounts.available + $2, updated_at = $3`,
			agent, payout, now,
		); err != nil {
			return 0, model.Position{}, fmt.Errorf("storage: credit payout: %w", err)
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE stake_infos SET withdrawn = true
		 WHERE proposal_id = $1 AND agent = $2 AND side IN ($3, $4)`,
		proposalID, agent, model.SideYes, model.SideNo,
	); err != nil {
		return 0, model.Position{}, fmt.Errorf("storage: mark stakes withdrawn: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, model.Position{}, fmt.Errorf("storage: commit claim: %w", err)
	}
	return payout, pos, nil
}

// GetMeasurement retrieves the outcome measurement window for a proposal.
func (db *DB) GetMeasurement(ctx context.Context, proposalID int64) (model.OutcomeMeasurement, error) {
	var meas model.OutcomeMeasurement
	err := db.pool.QueryRow(ctx,
		`SELECT proposal_id, starts_at, ends_at, measured, result
		 FROM outcome_measurements WHERE proposal_id = $1`, proposalID,
	).Scan(&meas.ProposalID, &meas.StartsAt, &meas.EndsAt, &meas.Measured, &meas.Result)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.OutcomeMeasurement{}, ErrNotFound
		}
		return model.OutcomeMeasurement{}, fmt.Errorf("storage: get measurement: %w", err)
	}
	return meas, nil
}

// GetDistribution retrieves the reward distribution for a proposal.
func (db *DB) GetDistribution(ctx context.Context, proposalID int64) (model.RewardDistribution, error) {
	var dist model.RewardDistribution
	err := db.pool.QueryRow(ctx,
		`SELECT proposal_id, winner, winning_total, losing_total, pool, created_at
		 FROM reward_distributions WHERE proposal_id = $1`, proposalID,
	).Scan(&dist.ProposalID, &dist.Winner, &dist.WinningTotal, &dist.LosingTotal, &dist.Pool, &dist.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RewardDistribution{}, ErrNotFound
		}
		return model.RewardDistribution{}, fmt.Errorf("storage: get distribution: %w", err)
	}
	return dist, nil
}

// lockProposal reads a proposal under FOR UPDATE inside tx.
func lockProposal(ctx context.Context, tx pgx.Tx, id int64) (model.Proposal, error) {
	p, err := scanProposal(tx.QueryRow(ctx, proposalSelect+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.Proposal{}, err
	}
	return p, nil
}

// expireLocked transitions a locked Active proposal to Expired, records
// the no-winner resolution, and releases the proposer's bond.
func expireLocked(ctx context.Context, tx pgx.Tx, p *model.Proposal, now time.Time) error {
	p.Status = model.StatusExpired
	if _, err := tx.Exec(ctx,
		`UPDATE proposals SET status = $2 WHERE id = $1`, p.ID, model.StatusExpired,
	); err != nil {
		return fmt.Errorf("storage: expire proposal: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE markets SET winner = $2 WHERE proposal_id = $1`, p.ID, model.WinnerNone,
	); err != nil {
		return fmt.Errorf("storage: expire market: %w", err)
	}
	return releaseBond(ctx, tx, p.ID, p.Proposer, now)
}

// createDistribution writes the exactly-once reward distribution and
// sweeps the unrewarded remainder of the losing pool from escrow into the
// treasury reserve. After the sweep, escrow holds exactly the sum of all
// claimable entitlements.
func createDistribution(ctx context.Context, tx pgx.Tx, m model.Market, winner model.Winner, rewardPct int64, now time.Time) error {
	winningTotal, losingTotal := m.YesTotal, m.NoTotal
	if winner == model.WinnerNo {
		winningTotal, losingTotal = m.NoTotal, m.YesTotal
	}
	pool := model.RewardPool(m.TotalStaked, losingTotal, rewardPct)

	tag, err := tx.Exec(ctx,
		`INSERT INTO reward_distributions (proposal_id, winner, winning_total, losing_total, pool, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (proposal_id) DO NOTHING`,
		m.ProposalID, winner, winningTotal, losingTotal, pool, now,
	)
	if err != nil {
		return fmt.Errorf("storage: create distribution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil // already initialized
	}

	sweep := losingTotal - pool
	if sweep > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE markets SET escrow_balance = escrow_balance - $2 WHERE proposal_id = $1`,
			m.ProposalID, sweep,
		); err != nil {
			return fmt.Errorf("storage: sweep escrow: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE governance_stats SET reserve = reserve + $1 WHERE id = 1`, sweep,
		); err != nil {
			return fmt.Errorf("storage: credit reserve: %w", err)
		}
	}
	return nil
}
