package reputation

import (
	"math"

	"github.com/futarchia/foresight/internal/storage"
)

// Score thresholds and combination constants.
const (
	// MinActivityScore and MinPlatformScore are the per-source floors an
	// agent must clear to participate.
	MinActivityScore = 10.0
	MinPlatformScore = 10.0

	// WeightMultiplier scales the combined score into the voting-weight
	// range.
	WeightMultiplier = 10.0

	// MaxScore caps both source scores.
	MaxScore = 100.0
)

// PlatformScore folds the social-platform bridge's raw signals into a
// single 0–100 score. Karma dominates, then interactions, then content
// quality, then raw post volume.
func PlatformScore(karma, posts, interactions, quality float64) float64 {
	score := 0.4*karma + 0.3*interactions + 0.2*quality + 0.1*posts
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// ActivityScore derives the governance-ledger score from an agent's own
// participation record: proposals created weigh most, then breadth of
// staking, then how often the agent backed the winning side.
func ActivityScore(act storage.AgentActivity) float64 {
	score := 10*float64(act.ProposalsCreated) + 2*float64(act.ProposalsStaked)
	if act.ResolvedStakes > 0 {
		winRate := float64(act.WinningStakes) / float64(act.ResolvedStakes)
		score += 40 * winRate
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// CombineWeight is the dual-source voting weight: the geometric mean of
// the two scores, scaled. The geometric mean means neither source alone
// can buy influence — a zero on either side zeroes the weight.
func CombineWeight(activity, platform float64) float64 {
	if activity <= 0 || platform <= 0 {
		return 0
	}
	return math.Sqrt(activity*platform) * WeightMultiplier
}
