// Package evolution implements the self-tuning loop: governance metrics
// feed threshold rules whose triggered actions mutate the economic
// parameters inside hard clamps, with every mutation logged append-only.
package evolution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/futarchia/foresight/internal/model"
	"github.com/futarchia/foresight/internal/params"
	"github.com/futarchia/foresight/internal/ring"
	"github.com/futarchia/foresight/internal/storage"
	"github.com/futarchia/foresight/internal/telemetry"
)

// Service owns the metrics window, the adaptation rules, and the sole
// write path into the parameter store.
type Service struct {
	db     *storage.DB
	params *params.Store
	logger *slog.Logger

	mu      sync.Mutex
	history *ring.Buffer[model.GovernanceMetrics]

	ruleTriggers metric.Int64Counter
}

// New creates an evolution Service, replaying recent durable metrics into
// the in-memory window and seeding the default rule set if none exists.
func New(ctx context.Context, db *storage.DB, ps *params.Store, logger *slog.Logger) (*Service, error) {
	meter := telemetry.Meter("foresight/evolution")
	ruleTriggers, _ := meter.Int64Counter("foresight.evolution.rule_triggers",
		metric.WithDescription("Adaptation rule firings"),
	)

	s := &Service{
		db:           db,
		params:       ps,
		logger:       logger,
		history:      ring.New[model.GovernanceMetrics](HistoryCapacity),
		ruleTriggers: ruleTriggers,
	}

	recent, err := db.LoadRecentMetrics(ctx, HistoryCapacity)
	if err != nil {
		return nil, err
	}
	for _, m := range recent {
		s.history.Push(m)
	}

	rules, err := db.LoadRules(ctx)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		if err := db.ReplaceRules(ctx, DefaultRules()); err != nil {
			return nil, err
		}
		logger.Info("evolution: seeded default adaptation rules", "count", len(DefaultRules()))
	}
	return s, nil
}

// UpdateMetrics appends a snapshot to the durable history and the
// in-memory window, then runs an evaluation pass. Returns the audit
// entries for any rules that fired.
func (s *Service) UpdateMetrics(ctx context.Context, m model.GovernanceMetrics) ([]model.EvolutionAction, error) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	if err := s.db.InsertMetrics(ctx, m); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.history.Push(m)
	n := s.history.Len()
	s.mu.Unlock()

	if n < MinDataPoints {
		s.logger.Debug("evolution: holding rules until history fills",
			"have", n, "need", MinDataPoints)
		return nil, nil
	}
	return s.evaluate(ctx, m)
}

// evaluate runs one pass over the active rules against the latest
// snapshot. A triggered rule's cooldown advances whether or not the
// parameter write succeeded — failure is visible as applied=false in the
// audit log, and retrying on the next snapshot would double-fire an
// adjustment that may have half-landed.
func (s *Service) evaluate(ctx context.Context, m model.GovernanceMetrics) ([]model.EvolutionAction, error) {
	rules, err := s.db.LoadRules(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var fired []model.EvolutionAction
	for _, rule := range rules {
		if !rule.Active || now.Sub(rule.LastTriggered) < rule.Cooldown {
			continue
		}
		value, ok := m.Value(rule.Metric)
		if !ok || !Triggered(rule, value) {
			continue
		}

		action, err := s.apply(ctx, rule, value, now)
		if err != nil {
			return fired, err
		}
		fired = append(fired, action)
	}
	return fired, nil
}

// apply executes one triggered rule: parameter adjustment, audit entry,
// cooldown advance.
func (s *Service) apply(ctx context.Context, rule model.AdaptationRule, value float64, now time.Time) (model.EvolutionAction, error) {
	var (
		parameter string
		oldVal    float64
		newVal    float64
		adjErr    error
	)

	switch rule.Action {
	case model.ActionIncreaseMinStake, model.ActionDecreaseMinStake:
		parameter = "min_proposal_stake"
		increase := rule.Action == model.ActionIncreaseMinStake
		o, n, err := s.params.AdjustMinStake(ctx, rule.FactorPct, increase)
		oldVal, newVal, adjErr = float64(o), float64(n), err
	case model.ActionExtendVotingDuration, model.ActionShortenVotingDuration:
		parameter = "voting_duration_secs"
		extend := rule.Action == model.ActionExtendVotingDuration
		o, n, err := s.params.AdjustVotingDuration(ctx, rule.FactorPct, extend)
		oldVal, newVal, adjErr = o.Seconds(), n.Seconds(), err
	case model.ActionIncreaseRewardPct, model.ActionDecreaseRewardPct:
		parameter = "reward_percentage"
		increase := rule.Action == model.ActionIncreaseRewardPct
		o, n, err := s.params.AdjustRewardPct(ctx, rule.FactorPct, increase)
		oldVal, newVal, adjErr = float64(o), float64(n), err
	default:
		return model.EvolutionAction{}, fmt.Errorf("evolution: rule %s has unknown action %q", rule.Metric, rule.Action)
	}

	applied := adjErr == nil
	if adjErr != nil {
		s.logger.Error("evolution: parameter adjustment failed",
			"rule", rule.Metric, "action", rule.Action, "error", adjErr)
	}

	cmp := "below"
	if rule.Inverted {
		cmp = "above"
	}
	entry := model.EvolutionAction{
		Rule:      rule.Metric,
		Action:    rule.Action,
		Parameter: parameter,
		OldValue:  oldVal,
		NewValue:  newVal,
		Applied:   applied,
		Justification: fmt.Sprintf("%s %.2f %s threshold %.2f",
			rule.Metric, value, cmp, rule.Threshold),
		CreatedAt: now,
	}
	entry, err := s.db.AppendEvolutionAction(ctx, entry)
	if err != nil {
		return model.EvolutionAction{}, err
	}

	if err := s.db.TouchRule(ctx, rule.Metric, now); err != nil {
		return model.EvolutionAction{}, err
	}

	s.ruleTriggers.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rule", rule.Metric),
		attribute.Bool("applied", applied),
	))
	s.logger.Info("evolution: rule fired",
		"rule", rule.Metric, "action", rule.Action,
		"old", oldVal, "new", newVal, "applied", applied)
	return entry, nil
}

// Current returns the latest snapshot in the window, if any.
func (s *Service) Current() (model.GovernanceMetrics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.history.Len() == 0 {
		return model.GovernanceMetrics{}, false
	}
	return s.history.At(s.history.Len() - 1), true
}

// History returns up to n recent snapshots, oldest first.
func (s *Service) History(n int) []model.GovernanceMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Last(n)
}

// AnalyzeTrends reports each metric's recent movement from the in-memory
// window. Read-only; never mutates parameters.
func (s *Service) AnalyzeTrends(windowSamples int) []model.MetricTrend {
	s.mu.Lock()
	snapshot := s.history.Snapshot()
	s.mu.Unlock()

	names := []string{
		model.MetricProposalQuality,
		model.MetricParticipationRate,
		model.MetricOutcomeAccuracy,
		model.MetricProductDelivery,
		model.MetricTimeToExecution,
		model.MetricStakingEfficiency,
	}
	out := make([]model.MetricTrend, 0, len(names))
	for _, name := range names {
		inverted := name == model.MetricTimeToExecution
		out = append(out, Trend(snapshot, name, windowSamples, inverted))
	}
	return out
}

// Rules returns the current rule set.
func (s *Service) Rules(ctx context.Context) ([]model.AdaptationRule, error) {
	return s.db.LoadRules(ctx)
}

// ReplaceRules validates and installs a new rule set. Surviving rules
// keep their cooldown state.
func (s *Service) ReplaceRules(ctx context.Context, rules []model.AdaptationRule) error {
	seen := map[string]bool{}
	for _, rule := range rules {
		if err := ValidateRule(rule); err != nil {
			return err
		}
		if seen[rule.Metric] {
			return fmt.Errorf("evolution: duplicate rule for metric %q", rule.Metric)
		}
		seen[rule.Metric] = true
	}
	if err := s.db.ReplaceRules(ctx, rules); err != nil {
		return err
	}
	s.logger.Info("evolution: rule set replaced", "count", len(rules))
	return nil
}

// Actions lists audit entries, newest first.
func (s *Service) Actions(ctx context.Context, limit, offset int) ([]model.EvolutionAction, error) {
	return s.db.ListEvolutionActions(ctx, limit, offset)
}

// VerifyChain recomputes the audit chain; returns the first corrupted
// entry id, or zero if intact.
func (s *Service) VerifyChain(ctx context.Context) (int64, error) {
	return s.db.VerifyActionChain(ctx)
}

// Params returns the live governance parameters.
func (s *Service) Params() params.Params {
	return s.params.Current()
}
