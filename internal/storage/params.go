package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/futarchia/foresight/internal/params"
)

// SaveParams appends a new governance parameter version. Versions are
// insert-only; the highest version is the live one.
func (db *DB) SaveParams(ctx context.Context, p params.Params) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO governance_params
		     (version, min_proposal_stake, voting_duration_secs, execution_delay_secs,
		      reward_percentage, measurement_window_secs)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.Version, p.MinProposalStake,
		int64(p.VotingDuration.Seconds()), int64(p.ExecutionDelay.Seconds()),
		p.RewardPercentage, int64(p.MeasurementWindow.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("storage: save params version %d: %w", p.Version, err)
	}
	return nil
}

// LoadParams returns the highest committed parameter version, or ErrNotFound
// when the table is empty (first startup).
func (db *DB) LoadParams(ctx context.Context) (params.Params, error) {
	var p params.Params
	var votingSecs, delaySecs, windowSecs int64
	err := db.pool.QueryRow(ctx,
		`SELECT version, min_proposal_stake, voting_duration_secs, execution_delay_secs,
		        reward_percentage, measurement_window_secs
		 FROM governance_params ORDER BY version DESC LIMIT 1`,
	).Scan(&p.Version, &p.MinProposalStake, &votingSecs, &delaySecs, &p.RewardPercentage, &windowSecs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return params.Params{}, ErrNotFound
		}
		return params.Params{}, fmt.Errorf("storage: load params: %w", err)
	}
	p.VotingDuration = time.Duration(votingSecs) * time.Second
	p.ExecutionDelay = time.Duration(delaySecs) * time.Second
	p.MeasurementWindow = time.Duration(windowSecs) * time.Second
	return p, nil
}
