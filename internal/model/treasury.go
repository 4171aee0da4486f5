package model

import "time"

// Account is one agent's treasury balance. Available funds can be staked;
// staking moves value into a proposal's escrow, not into Locked — Locked is
// reserved for governance stakes with an explicit unlock time.
type Account struct {
	Agent     string    `json:"agent"`
	Available int64     `json:"available"`
	Locked    int64     `json:"locked"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SideBond marks a proposer's creation bond in the stake ledger. It is not
// a market stake and never counts toward either pool.
const SideBond Side = "bond"

// StakeInfo records one value lock taken against an agent's account.
type StakeInfo struct {
	ID         int64     `json:"id"`
	Agent      string    `json:"agent"`
	ProposalID int64     `json:"proposal_id"`
	Side       Side      `json:"side"`
	Amount     int64     `json:"amount"`
	LockedAt   time.Time `json:"locked_at"`
	UnlockAt   time.Time `json:"unlock_at"`
	Withdrawn  bool      `json:"withdrawn"`
}

// RewardDistribution is the per-proposal payout schedule, created exactly
// once when a proposal's claims open. Pool is already clamped so that
// cumulative payouts cannot exceed the escrowed funds.
type RewardDistribution struct {
	ProposalID   int64     `json:"proposal_id"`
	Winner       Winner    `json:"winner"`
	WinningTotal int64     `json:"winning_total"`
	LosingTotal  int64     `json:"losing_total"`
	Pool         int64     `json:"pool"`
	CreatedAt    time.Time `json:"created_at"`
}

// RewardShare computes agent i's payout for a winning stake:
// principal plus a proportional share of the pool. Integer division floors;
// rounding dust stays in escrow and is swept to the reserve.
func RewardShare(winningStake, winningTotal, pool int64) int64 {
	if winningStake <= 0 || winningTotal <= 0 {
		return 0
	}
	return winningStake + pool*winningStake/winningTotal
}

// RewardPool computes the funded pool for a resolved market:
// totalStaked * rewardPct / 100, clamped to the losing side's total so the
// escrow can always cover every entitlement.
func RewardPool(totalStaked, losingTotal, rewardPct int64) int64 {
	pool := totalStaked * rewardPct / 100
	if pool > losingTotal {
		pool = losingTotal
	}
	return pool
}

// TreasuryStats is the read-only aggregate view for dashboards.
type TreasuryStats struct {
	TotalAvailable int64 `json:"total_available"`
	TotalLocked    int64 `json:"total_locked"`
	TotalEscrowed  int64 `json:"total_escrowed"`
	Reserve        int64 `json:"reserve"`
	Accounts       int   `json:"accounts"`
}
