// Package params owns the versioned economic parameters shared by the
// market engine and treasury.
//
// There is exactly one live Params value. The Evolution Engine is the sole
// writer — every mutation goes through a clamped Adjust* method that bumps
// the version and persists write-through before the in-memory value moves.
// Readers always see the latest committed version.
package params

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Clamp bounds for evolvable parameters.
const (
	MinVotingDuration = 3 * 24 * time.Hour
	MaxVotingDuration = 14 * 24 * time.Hour
	MinRewardPct      = 5
	MaxRewardPct      = 25
	// MaxStakeStepPct bounds a single min-stake adjustment to ±50% of the
	// current value.
	MaxStakeStepPct = 50
)

// Params is one immutable version of the governance constants.
type Params struct {
	Version           int64         `json:"version"`
	MinProposalStake  int64         `json:"min_proposal_stake"`
	VotingDuration    time.Duration `json:"voting_duration"`
	ExecutionDelay    time.Duration `json:"execution_delay"`
	RewardPercentage  int64         `json:"reward_percentage"`
	MeasurementWindow time.Duration `json:"measurement_window"`
}

// Defaults returns the seed parameters used on first startup.
func Defaults() Params {
	return Params{
		Version:           1,
		MinProposalStake:  100,
		VotingDuration:    7 * 24 * time.Hour,
		ExecutionDelay:    2 * 24 * time.Hour,
		RewardPercentage:  10,
		MeasurementWindow: 7 * 24 * time.Hour,
	}
}

// Validate checks that p sits inside every clamp. Used on load so a
// hand-edited row cannot smuggle an out-of-bounds value into the running
// system.
func (p Params) Validate() error {
	if p.MinProposalStake < 1 {
		return fmt.Errorf("params: min_proposal_stake must be at least 1, got %d", p.MinProposalStake)
	}
	if p.VotingDuration < MinVotingDuration || p.VotingDuration > MaxVotingDuration {
		return fmt.Errorf("params: voting_duration %s outside [%s, %s]", p.VotingDuration, MinVotingDuration, MaxVotingDuration)
	}
	if p.RewardPercentage < MinRewardPct || p.RewardPercentage > MaxRewardPct {
		return fmt.Errorf("params: reward_percentage %d outside [%d, %d]", p.RewardPercentage, MinRewardPct, MaxRewardPct)
	}
	if p.ExecutionDelay <= 0 {
		return fmt.Errorf("params: execution_delay must be positive")
	}
	if p.MeasurementWindow <= 0 {
		return fmt.Errorf("params: measurement_window must be positive")
	}
	return nil
}

// Persister commits a new parameter version durably. The in-memory value
// only advances after the persister acknowledges.
type Persister interface {
	SaveParams(ctx context.Context, p Params) error
}

// Store is the single live parameter handle passed to the market engine and
// treasury. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	cur     Params
	persist Persister
	logger  *slog.Logger
}

// NewStore creates a Store seeded with initial (already persisted or loaded
// from storage).
func NewStore(initial Params, persist Persister, logger *slog.Logger) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &Store{cur: initial, persist: persist, logger: logger}, nil
}

// Current returns the latest committed parameter version.
func (s *Store) Current() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// AdjustMinStake moves the minimum proposal stake by factorPct percent,
// up or down. The step is clamped to ±50% of the current value and the
// result floors at 1. Returns the old and new values; on persist failure
// the running value is unchanged and the returned error is non-nil.
func (s *Store) AdjustMinStake(ctx context.Context, factorPct float64, increase bool) (int64, int64, error) {
	if factorPct <= 0 || factorPct > MaxStakeStepPct {
		return 0, 0, fmt.Errorf("params: adjustment factor %.1f%% outside (0, %d]", factorPct, MaxStakeStepPct)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cur.MinProposalStake
	step := float64(old) * factorPct / 100
	var next int64
	if increase {
		next = old + int64(step)
	} else {
		next = old - int64(step)
	}
	// Clamp the outcome to ±50% of the current value.
	if next > old+old/2 {
		next = old + old/2
	}
	if next < old-old/2 {
		next = old - old/2
	}
	if next < 1 {
		next = 1
	}

	candidate := s.cur
	candidate.MinProposalStake = next
	return old, next, s.commit(ctx, candidate)
}

// AdjustVotingDuration lengthens or shortens the voting window by factorPct
// percent, clamped to [3, 14] days.
func (s *Store) AdjustVotingDuration(ctx context.Context, factorPct float64, extend bool) (time.Duration, time.Duration, error) {
	if factorPct <= 0 || factorPct > MaxStakeStepPct {
		return 0, 0, fmt.Errorf("params: adjustment factor %.1f%% outside (0, %d]", factorPct, MaxStakeStepPct)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cur.VotingDuration
	step := time.Duration(float64(old) * factorPct / 100)
	next := old - step
	if extend {
		next = old + step
	}
	if next < MinVotingDuration {
		next = MinVotingDuration
	}
	if next > MaxVotingDuration {
		next = MaxVotingDuration
	}

	candidate := s.cur
	candidate.VotingDuration = next
	return old, next, s.commit(ctx, candidate)
}

// AdjustRewardPct raises or lowers the reward percentage by factorPct
// percent of its current value, clamped to [5, 25].
func (s *Store) AdjustRewardPct(ctx context.Context, factorPct float64, increase bool) (int64, int64, error) {
	if factorPct <= 0 || factorPct > MaxStakeStepPct {
		return 0, 0, fmt.Errorf("params: adjustment factor %.1f%% outside (0, %d]", factorPct, MaxStakeStepPct)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cur.RewardPercentage
	step := int64(float64(old) * factorPct / 100)
	if step < 1 {
		step = 1
	}
	next := old - step
	if increase {
		next = old + step
	}
	if next < MinRewardPct {
		next = MinRewardPct
	}
	if next > MaxRewardPct {
		next = MaxRewardPct
	}

	candidate := s.cur
	candidate.RewardPercentage = next
	return old, next, s.commit(ctx, candidate)
}

// commit persists candidate (version+1) and, only on success, publishes it.
// Callers hold s.mu.
func (s *Store) commit(ctx context.Context, candidate Params) error {
	candidate.Version = s.cur.Version + 1
	if s.persist != nil {
		if err := s.persist.SaveParams(ctx, candidate); err != nil {
			s.logger.Error("params: persist failed, keeping running value",
				"version", candidate.Version, "error", err)
			return fmt.Errorf("params: persist version %d: %w", candidate.Version, err)
		}
	}
	s.cur = candidate
	s.logger.Info("params: committed new version",
		"version", candidate.Version,
		"min_stake", candidate.MinProposalStake,
		"voting_duration", candidate.VotingDuration.String(),
		"reward_pct", candidate.RewardPercentage)
	return nil
}
