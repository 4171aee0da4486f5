package reputation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/futarchia/foresight/internal/storage"
)

func TestPlatformScore(t *testing.T) {
	tests := []struct {
		name                             string
		karma, posts, interactions, qual float64
		want                             float64
	}{
		{"all zero", 0, 0, 0, 0, 0},
		{"karma dominates", 100, 0, 0, 0, 40},
		{"posts weigh least", 0, 100, 0, 0, 10},
		{"full marks capped", 1000, 1000, 1000, 1000, 100},
		{"weighted mix", 50, 10, 20, 30, 50*0.4 + 10*0.1 + 20*0.3 + 30*0.2},
		{"negative clamps to zero", -50, 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PlatformScore(tt.karma, tt.posts, tt.interactions, tt.qual)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestActivityScore(t *testing.T) {
	t.Run("empty ledger scores zero", func(t *testing.T) {
		assert.Zero(t, ActivityScore(storage.AgentActivity{}))
	})

	t.Run("creation weighs most", func(t *testing.T) {
		created := ActivityScore(storage.AgentActivity{ProposalsCreated: 3})
		staked := ActivityScore(storage.AgentActivity{ProposalsStaked: 3})
		assert.Greater(t, created, staked)
	})

	t.Run("win rate adds up to 40 points", func(t *testing.T) {
		all := ActivityScore(storage.AgentActivity{ProposalsStaked: 4, ResolvedStakes: 4, WinningStakes: 4})
		none := ActivityScore(storage.AgentActivity{ProposalsStaked: 4, ResolvedStakes: 4})
		assert.InDelta(t, 40, all-none, 1e-9)
	})

	t.Run("capped at 100", func(t *testing.T) {
		got := ActivityScore(storage.AgentActivity{
			ProposalsCreated: 50, ProposalsStaked: 50, ResolvedStakes: 50, WinningStakes: 50,
		})
		assert.Equal(t, MaxScore, got)
	})
}

func TestCombineWeight(t *testing.T) {
	t.Run("geometric mean scaled", func(t *testing.T) {
		assert.InDelta(t, math.Sqrt(50*80)*WeightMultiplier, CombineWeight(50, 80), 1e-9)
	})

	t.Run("either source zero means zero weight", func(t *testing.T) {
		assert.Zero(t, CombineWeight(0, 90))
		assert.Zero(t, CombineWeight(90, 0))
	})

	t.Run("balanced beats lopsided at equal sum", func(t *testing.T) {
		assert.Greater(t, CombineWeight(50, 50), CombineWeight(95, 5))
	})
}
