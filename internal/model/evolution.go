package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Metric names the Evolution Engine tracks. time_to_execution is the one
// inverted metric: lower is better, so its rules trigger when the value is
// above threshold rather than below.
const (
	MetricProposalQuality   = "proposal_quality"
	MetricParticipationRate = "participation_rate"
	MetricOutcomeAccuracy   = "outcome_accuracy"
	MetricProductDelivery   = "product_delivery"
	MetricTimeToExecution   = "time_to_execution"
	MetricStakingEfficiency = "staking_efficiency"
)

// GovernanceMetrics is one timestamped snapshot of aggregate governance
// performance. Rate-style metrics are 0–100; TimeToExecution is seconds.
type GovernanceMetrics struct {
	ProposalQuality   float64   `json:"proposal_quality"`
	ParticipationRate float64   `json:"participation_rate"`
	OutcomeAccuracy   float64   `json:"outcome_accuracy"`
	ProductDelivery   float64   `json:"product_delivery"`
	TimeToExecution   float64   `json:"time_to_execution"`
	StakingEfficiency float64   `json:"staking_efficiency"`
	Timestamp         time.Time `json:"timestamp"`
}

// Value returns the snapshot's value for a named metric.
func (g GovernanceMetrics) Value(metric string) (float64, bool) {
	switch metric {
	case MetricProposalQuality:
		return g.ProposalQuality, true
	case MetricParticipationRate:
		return g.ParticipationRate, true
	case MetricOutcomeAccuracy:
		return g.OutcomeAccuracy, true
	case MetricProductDelivery:
		return g.ProductDelivery, true
	case MetricTimeToExecution:
		return g.TimeToExecution, true
	case MetricStakingEfficiency:
		return g.StakingEfficiency, true
	default:
		return 0, false
	}
}

// RuleAction is the bounded adjustment a triggered rule applies.
type RuleAction string

const (
	ActionIncreaseMinStake      RuleAction = "increase_min_stake"
	ActionDecreaseMinStake      RuleAction = "decrease_min_stake"
	ActionExtendVotingDuration  RuleAction = "extend_voting_duration"
	ActionShortenVotingDuration RuleAction = "shorten_voting_duration"
	ActionIncreaseRewardPct     RuleAction = "increase_reward_pct"
	ActionDecreaseRewardPct     RuleAction = "decrease_reward_pct"
)

// ValidRuleAction reports whether a is a known rule action.
func ValidRuleAction(a RuleAction) bool {
	switch a {
	case ActionIncreaseMinStake, ActionDecreaseMinStake,
		ActionExtendVotingDuration, ActionShortenVotingDuration,
		ActionIncreaseRewardPct, ActionDecreaseRewardPct:
		return true
	}
	return false
}

// AdaptationRule is a threshold-triggered policy that mutates one economic
// parameter. Inverted rules trigger when the metric is above threshold.
type AdaptationRule struct {
	Metric        string        `json:"metric"`
	Threshold     float64       `json:"threshold"`
	Inverted      bool          `json:"inverted"`
	Action        RuleAction    `json:"action"`
	FactorPct     float64       `json:"factor_pct"`
	Cooldown      time.Duration `json:"cooldown"`
	LastTriggered time.Time     `json:"last_triggered"`
	Active        bool          `json:"active"`
}

// EvolutionAction is one append-only audit entry for a parameter mutation.
// Never mutated after creation; ids are strictly increasing. Applied is
// false when the rule fired but the durable parameter write failed — the
// cooldown still advances, but monitoring can tell the two apart.
type EvolutionAction struct {
	ID            int64      `json:"id"`
	Rule          string     `json:"rule"`
	Action        RuleAction `json:"action"`
	Parameter     string     `json:"parameter"`
	OldValue      float64    `json:"old_value"`
	NewValue      float64    `json:"new_value"`
	Applied       bool       `json:"applied"`
	Justification string     `json:"justification"`
	// ContentHash chains each entry to its predecessor for tamper evidence.
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// ActionContentHash computes the chain hash for an evolution action given
// its predecessor's hash. The first entry chains from the empty string.
func ActionContentHash(prev string, a EvolutionAction) string {
	payload := fmt.Sprintf("%s|%s|%s|%s|%g|%g|%t|%s|%d",
		prev, a.Rule, a.Action, a.Parameter, a.OldValue, a.NewValue,
		a.Applied, a.Justification, a.CreatedAt.UnixNano())
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// TrendDirection summarizes a metric's recent movement.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDeclining TrendDirection = "declining"
	TrendFlat      TrendDirection = "flat"
)

// MetricTrend is the read-only trend report for one metric.
type MetricTrend struct {
	Metric        string         `json:"metric"`
	RecentMean    float64        `json:"recent_mean"`
	EarlierMean   float64        `json:"earlier_mean"`
	LongRunMean   float64        `json:"long_run_mean"`
	Direction     TrendDirection `json:"direction"`
	SampleCount   int            `json:"sample_count"`
	WindowSamples int            `json:"window_samples"`
}
