package params

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPersister struct {
	saved []Params
	fail  bool
}

func (m *memPersister) SaveParams(_ context.Context, p Params) error {
	if m.fail {
		return errors.New("boom")
	}
	m.saved = append(m.saved, p)
	return nil
}

func newTestStore(t *testing.T, p Params) (*Store, *memPersister) {
	t.Helper()
	mp := &memPersister{}
	s, err := NewStore(p, mp, slog.Default())
	require.NoError(t, err)
	return s, mp
}

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestValidateRejectsOutOfBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero min stake", func(p *Params) { p.MinProposalStake = 0 }},
		{"voting too short", func(p *Params) { p.VotingDuration = 2 * 24 * time.Hour }},
		{"voting too long", func(p *Params) { p.VotingDuration = 15 * 24 * time.Hour }},
		{"reward below floor", func(p *Params) { p.RewardPercentage = 4 }},
		{"reward above cap", func(p *Params) { p.RewardPercentage = 26 }},
		{"no execution delay", func(p *Params) { p.ExecutionDelay = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Defaults()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestAdjustMinStake(t *testing.T) {
	s, mp := newTestStore(t, Defaults())

	old, next, err := s.AdjustMinStake(context.Background(), 20, true)
	require.NoError(t, err)
	assert.Equal(t, int64(100), old)
	assert.Equal(t, int64(120), next)
	assert.Equal(t, int64(120), s.Current().MinProposalStake)
	assert.Equal(t, int64(2), s.Current().Version)
	require.Len(t, mp.saved, 1)

	// Clamp law: a single step never exceeds ±50% of the current value.
	old, next, err = s.AdjustMinStake(context.Background(), 50, true)
	require.NoError(t, err)
	assert.Equal(t, int64(120), old)
	assert.Equal(t, int64(180), next)
	assert.LessOrEqual(t, next, old+old/2)
	assert.GreaterOrEqual(t, next, old-old/2)
}

func TestAdjustMinStakeFloorsAtOne(t *testing.T) {
	p := Defaults()
	p.MinProposalStake = 1
	s, _ := newTestStore(t, p)

	_, next, err := s.AdjustMinStake(context.Background(), 50, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)
}

func TestAdjustMinStakeRejectsBadFactor(t *testing.T) {
	s, mp := newTestStore(t, Defaults())

	_, _, err := s.AdjustMinStake(context.Background(), 0, true)
	assert.Error(t, err)
	_, _, err = s.AdjustMinStake(context.Background(), 51, true)
	assert.Error(t, err)
	assert.Empty(t, mp.saved, "rejected factors must not persist anything")
	assert.Equal(t, int64(100), s.Current().MinProposalStake)
}

func TestAdjustVotingDurationClamps(t *testing.T) {
	s, _ := newTestStore(t, Defaults())

	// 7d + 50% = 10.5d, inside the clamp.
	_, next, err := s.AdjustVotingDuration(context.Background(), 50, true)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(float64(7*24*time.Hour)*1.5), next)

	// Another 50% would exceed 14 days; clamps to the ceiling.
	_, next, err = s.AdjustVotingDuration(context.Background(), 50, true)
	require.NoError(t, err)
	assert.Equal(t, MaxVotingDuration, next)

	// Shorten repeatedly; floor at 3 days.
	for i := 0; i < 10; i++ {
		_, next, err = s.AdjustVotingDuration(context.Background(), 50, false)
		require.NoError(t, err)
	}
	assert.Equal(t, MinVotingDuration, next)
}

func TestAdjustRewardPctClamps(t *testing.T) {
	s, _ := newTestStore(t, Defaults())

	for i := 0; i < 20; i++ {
		_, _, err := s.AdjustRewardPct(context.Background(), 25, true)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(MaxRewardPct), s.Current().RewardPercentage)

	for i := 0; i < 30; i++ {
		_, _, err := s.AdjustRewardPct(context.Background(), 25, false)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(MinRewardPct), s.Current().RewardPercentage)
}

func TestPersistFailureKeepsRunningValue(t *testing.T) {
	s, mp := newTestStore(t, Defaults())
	mp.fail = true

	_, _, err := s.AdjustMinStake(context.Background(), 20, true)
	require.Error(t, err)
	assert.Equal(t, int64(100), s.Current().MinProposalStake, "running value must not move on persist failure")
	assert.Equal(t, int64(1), s.Current().Version)
}

func TestVersionIsMonotonic(t *testing.T) {
	s, mp := newTestStore(t, Defaults())

	for i := 0; i < 5; i++ {
		_, _, err := s.AdjustRewardPct(context.Background(), 10, true)
		require.NoError(t, err)
	}
	var last int64 = 1
	for _, p := range mp.saved {
		assert.Greater(t, p.Version, last)
		last = p.Version
	}
}
