package evolution

import (
	"fmt"
	"time"

	"github.com/futarchia/foresight/internal/model"
	"github.com/futarchia/foresight/internal/params"
)

// MinDataPoints is the minimum metrics history before any rule may fire.
// A fresh system must not mutate its economics off one or two noisy
// snapshots.
const MinDataPoints = 5

// HistoryCapacity is the in-memory metrics window size.
const HistoryCapacity = 100

// DefaultRules is the seed rule set installed on first startup. One rule
// per metric; the operator can replace the set wholesale.
func DefaultRules() []model.AdaptationRule {
	return []model.AdaptationRule{
		{
			Metric:    model.MetricProposalQuality,
			Threshold: 40,
			Action:    model.ActionIncreaseMinStake,
			FactorPct: 20,
			Cooldown:  7 * 24 * time.Hour,
			Active:    true,
		},
		{
			Metric:    model.MetricParticipationRate,
			Threshold: 30,
			Action:    model.ActionDecreaseMinStake,
			FactorPct: 25,
			Cooldown:  7 * 24 * time.Hour,
			Active:    true,
		},
		{
			Metric:    model.MetricOutcomeAccuracy,
			Threshold: 50,
			Action:    model.ActionExtendVotingDuration,
			FactorPct: 15,
			Cooldown:  14 * 24 * time.Hour,
			Active:    true,
		},
		{
			// Poor delivery: trim payouts so low-value proposals stop
			// paying for themselves.
			Metric:    model.MetricProductDelivery,
			Threshold: 40,
			Action:    model.ActionDecreaseRewardPct,
			FactorPct: 10,
			Cooldown:  14 * 24 * time.Hour,
			Active:    true,
		},
		{
			// Inverted: fires when execution is slower than two weeks.
			Metric:    model.MetricTimeToExecution,
			Threshold: (14 * 24 * time.Hour).Seconds(),
			Inverted:  true,
			Action:    model.ActionShortenVotingDuration,
			FactorPct: 10,
			Cooldown:  14 * 24 * time.Hour,
			Active:    true,
		},
		{
			Metric:    model.MetricStakingEfficiency,
			Threshold: 35,
			Action:    model.ActionIncreaseRewardPct,
			FactorPct: 20,
			Cooldown:  7 * 24 * time.Hour,
			Active:    true,
		},
	}
}

// Triggered reports whether the rule fires for the given metric value.
// Normal rules fire when the value falls below the threshold; inverted
// rules (lower-is-better metrics) fire when it rises above.
func Triggered(rule model.AdaptationRule, value float64) bool {
	if rule.Inverted {
		return value > rule.Threshold
	}
	return value < rule.Threshold
}

// ValidateRule checks a rule before it enters the active set.
func ValidateRule(rule model.AdaptationRule) error {
	if _, ok := (model.GovernanceMetrics{}).Value(rule.Metric); !ok {
		return fmt.Errorf("evolution: unknown metric %q", rule.Metric)
	}
	if !model.ValidRuleAction(rule.Action) {
		return fmt.Errorf("evolution: unknown action %q", rule.Action)
	}
	if rule.FactorPct <= 0 || rule.FactorPct > params.MaxStakeStepPct {
		return &model.BoundsError{
			Parameter: "factor_pct", Value: rule.FactorPct,
			Min: 0, Max: params.MaxStakeStepPct,
		}
	}
	if rule.Threshold < 0 {
		return &model.BoundsError{Parameter: "threshold", Value: rule.Threshold, Min: 0, Max: 100}
	}
	if !rule.Inverted && rule.Threshold > 100 {
		return &model.BoundsError{Parameter: "threshold", Value: rule.Threshold, Min: 0, Max: 100}
	}
	if rule.Cooldown <= 0 {
		return fmt.Errorf("evolution: cooldown must be positive")
	}
	return nil
}

// trendEpsilon is the relative change below which a metric counts as flat.
const trendEpsilon = 0.02

// Trend computes the read-only movement report for one metric from the
// chronological history. recentN samples are compared against the
// preceding recentN. For inverted metrics a falling value is improvement.
func Trend(history []model.GovernanceMetrics, metricName string, recentN int, inverted bool) model.MetricTrend {
	tr := model.MetricTrend{
		Metric:        metricName,
		SampleCount:   len(history),
		WindowSamples: recentN,
	}
	if len(history) == 0 {
		tr.Direction = model.TrendFlat
		return tr
	}

	var sum float64
	for _, m := range history {
		v, _ := m.Value(metricName)
		sum += v
	}
	tr.LongRunMean = sum / float64(len(history))

	if len(history) < 2*recentN {
		tr.Direction = model.TrendFlat
		tr.RecentMean = mean(history[max(0, len(history)-recentN):], metricName)
		return tr
	}

	tr.RecentMean = mean(history[len(history)-recentN:], metricName)
	tr.EarlierMean = mean(history[len(history)-2*recentN:len(history)-recentN], metricName)

	base := tr.EarlierMean
	if base == 0 {
		base = 1
	}
	delta := (tr.RecentMean - tr.EarlierMean) / base
	switch {
	case delta > trendEpsilon:
		tr.Direction = model.TrendImproving
	case delta < -trendEpsilon:
		tr.Direction = model.TrendDeclining
	default:
		tr.Direction = model.TrendFlat
	}
	if inverted && tr.Direction != model.TrendFlat {
		if tr.Direction == model.TrendImproving {
			tr.Direction = model.TrendDeclining
		} else {
			tr.Direction = model.TrendImproving
		}
	}
	return tr
}

func mean(window []model.GovernanceMetrics, metricName string) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, m := range window {
		v, _ := m.Value(metricName)
		sum += v
	}
	return sum / float64(len(window))
}
