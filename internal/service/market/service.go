// Package market provides the shared business logic for proposal and
// prediction-market operations.
//
// Both the HTTP API and MCP server delegate to this service, so eligibility
// gating, timing enforcement, and escrow accounting behave identically
// across all interfaces.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/futarchia/foresight/internal/model"
	"github.com/futarchia/foresight/internal/params"
	"github.com/futarchia/foresight/internal/storage"
	"github.com/futarchia/foresight/internal/telemetry"
)

// ReputationGate is the reputation service's eligibility surface. Split out
// as an interface so market logic can be tested without the full
// reputation stack.
type ReputationGate interface {
	// CheckEligibility returns nil when the agent clears the minimum
	// reputation bar, or an *model.EligibilityError explaining the gap.
	CheckEligibility(ctx context.Context, agent string) error
}

// Executor invokes an approved proposal's execution payload after the
// market resolves YES. Implementations must be idempotent per proposal:
// resolution commits before invocation and is never rolled back for a
// payload failure.
type Executor interface {
	Execute(ctx context.Context, p model.Proposal) error
}

// LogExecutor is the default Executor: it records the approval and does
// nothing else. Deployments wire a real payload runner here.
type LogExecutor struct {
	Logger *slog.Logger
}

// Execute logs the approved payload.
func (e LogExecutor) Execute(_ context.Context, p model.Proposal) error {
	e.Logger.Info("market: proposal approved for execution",
		"proposal_id", p.ID, "outcome_tag", p.OutcomeTag)
	return nil
}

// Service encapsulates proposal/market business logic.
type Service struct {
	db       *storage.DB
	params   *params.Store
	gate     ReputationGate
	executor Executor
	logger   *slog.Logger

	stakeVolume metric.Int64Counter
	resolutions metric.Int64Counter
	claims      metric.Int64Counter
}

// New creates a market Service.
func New(db *storage.DB, ps *params.Store, gate ReputationGate, executor Executor, logger *slog.Logger) *Service {
	meter := telemetry.Meter("foresight/market")
	stakeVolume, _ := meter.Int64Counter("foresight.market.stake_volume",
		metric.WithDescription("Total stake amount placed"),
	)
	resolutions, _ := meter.Int64Counter("foresight.market.resolutions",
		metric.WithDescription("Proposal resolutions by outcome"),
	)
	claims, _ := meter.Int64Counter("foresight.market.claims",
		metric.WithDescription("Reward claims settled"),
	)
	if executor == nil {
		executor = LogExecutor{Logger: logger}
	}
	return &Service{
		db:          db,
		params:      ps,
		gate:        gate,
		executor:    executor,
		logger:      logger,
		stakeVolume: stakeVolume,
		resolutions: resolutions,
		claims:      claims,
	}
}

// CreateProposal validates the request, gates on reputation, and opens a
// new proposal with its market. The proposer's bond (the current minimum
// proposal stake) is locked for the proposal's lifetime.
func (s *Service) CreateProposal(ctx context.Context, proposer string, req model.CreateProposalRequest) (model.Proposal, error) {
	if err := model.ValidateCreateProposal(req); err != nil {
		return model.Proposal{}, fmt.Errorf("market: %w", err)
	}
	if err := s.gate.CheckEligibility(ctx, proposer); err != nil {
		return model.Proposal{}, err
	}

	cur := s.params.Current()
	now := time.Now().UTC()
	p := model.Proposal{
		Title:             req.Title,
		Description:       req.Description,
		Proposer:          proposer,
		OutcomeTag:        req.OutcomeTag,
		ExecutionPayload:  req.ExecutionPayload,
		Deliverable:       req.Deliverable,
		MinStake:          cur.MinProposalStake,
		Status:            model.StatusActive,
		CreatedAt:         now,
		Deadline:          now.Add(cur.VotingDuration),
		ExecutionDeadline: now.Add(cur.VotingDuration + cur.ExecutionDelay),
	}

	created, err := s.db.CreateProposal(ctx, p)
	if err != nil {
		return model.Proposal{}, err
	}
	s.logger.Info("market: proposal created",
		"proposal_id", created.ID, "proposer", proposer,
		"deadline", created.Deadline, "bond", created.MinStake)
	return created, nil
}

// GetProposal retrieves a proposal.
func (s *Service) GetProposal(ctx context.Context, id int64) (model.Proposal, error) {
	return s.db.GetProposal(ctx, id)
}

// ListProposals lists proposals, optionally filtered by status.
func (s *Service) ListProposals(ctx context.Context, status *model.ProposalStatus, limit, offset int) ([]model.Proposal, error) {
	return s.db.ListProposals(ctx, status, limit, offset)
}

// GetMarket retrieves market aggregates.
func (s *Service) GetMarket(ctx context.Context, proposalID int64) (model.Market, error) {
	return s.db.GetMarket(ctx, proposalID)
}

// GetPosition retrieves one agent's position.
func (s *Service) GetPosition(ctx context.Context, proposalID int64, agent string) (model.Position, error) {
	return s.db.GetPosition(ctx, proposalID, agent)
}

// PlaceStake places a YES/NO bet for the agent. The amount moves from the
// agent's available balance into the market's escrow.
func (s *Service) PlaceStake(ctx context.Context, agent string, proposalID int64, req model.PlaceStakeRequest) (model.Market, model.Position, error) {
	if err := model.ValidateStake(req); err != nil {
		return model.Market{}, model.Position{}, fmt.Errorf("market: %w", err)
	}
	if err := s.gate.CheckEligibility(ctx, agent); err != nil {
		return model.Market{}, model.Position{}, err
	}

	m, pos, err := s.db.PlaceBet(ctx, proposalID, agent, req.Side, req.Amount, time.Now().UTC())
	if err != nil {
		return model.Market{}, model.Position{}, err
	}

	s.stakeVolume.Add(ctx, req.Amount,
		metric.WithAttributes(attribute.String("side", string(req.Side))))
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int64("foresight.proposal_id", proposalID),
		attribute.String("foresight.side", string(req.Side)),
	)
	s.logger.Info("market: stake placed",
		"proposal_id", proposalID, "agent", agent,
		"side", req.Side, "amount", req.Amount,
		"yes_total", m.YesTotal, "no_total", m.NoTotal)
	return m, pos, nil
}

// Execute resolves a proposal whose voting deadline has passed. A strict
// YES majority executes the payload; a NO majority or tie fails the
// proposal and opens refunds or winning-side claims. Resolution commits
// before the payload runs, so a payload failure never reverts the market —
// it is recorded on the proposal instead.
func (s *Service) Execute(ctx context.Context, proposalID int64) (model.Proposal, model.Market, error) {
	cur := s.params.Current()
	p, m, err := s.db.ResolveProposal(ctx, proposalID, time.Now().UTC(), cur.RewardPercentage, cur.MeasurementWindow)
	if err != nil {
		return model.Proposal{}, model.Market{}, err
	}

	s.resolutions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("winner", string(m.Winner))))
	s.logger.Info("market: proposal resolved",
		"proposal_id", proposalID, "winner", m.Winner,
		"yes_total", m.YesTotal, "no_total", m.NoTotal, "status", p.Status)

	if p.Status != model.StatusExecuted {
		return p, m, nil
	}

	execErr := s.executor.Execute(ctx, p)
	ok := execErr == nil
	if execErr != nil {
		s.logger.Error("market: execution payload failed",
			"proposal_id", proposalID, "error", execErr)
	}
	if err := s.db.RecordExecutionResult(ctx, proposalID, ok); err != nil {
		s.logger.Error("market: record execution result failed",
			"proposal_id", proposalID, "error", err)
	}
	execOK := ok
	p.ExecutionOK = &execOK
	return p, m, nil
}

// ReportOutcome records the measured result for an executed proposal once
// the measurement window has elapsed, then opens YES-side claims.
func (s *Service) ReportOutcome(ctx context.Context, proposalID int64, result float64) (model.OutcomeMeasurement, error) {
	if err := model.ValidateOutcome(result); err != nil {
		return model.OutcomeMeasurement{}, fmt.Errorf("market: %w", err)
	}

	cur := s.params.Current()
	meas, accurate, err := s.db.ReportOutcome(ctx, proposalID, result, time.Now().UTC(), cur.RewardPercentage)
	if err != nil {
		return model.OutcomeMeasurement{}, err
	}
	s.logger.Info("market: outcome reported",
		"proposal_id", proposalID, "result", result, "market_accurate", accurate)
	return meas, nil
}

// Claim settles the calling agent's position. Safe to call exactly once
// per (proposal, agent); replays get ErrAlreadyClaimed.
func (s *Service) Claim(ctx context.Context, proposalID int64, agent string) (int64, model.Position, error) {
	payout, pos, err := s.db.ClaimRewards(ctx, proposalID, agent, time.Now().UTC())
	if err != nil {
		return 0, model.Position{}, err
	}

	s.claims.Add(ctx, 1)
	s.logger.Info("market: rewards claimed",
		"proposal_id", proposalID, "agent", agent, "payout", payout)
	return payout, pos, nil
}

// GetMeasurement retrieves a proposal's measurement window.
func (s *Service) GetMeasurement(ctx context.Context, proposalID int64) (model.OutcomeMeasurement, error) {
	return s.db.GetMeasurement(ctx, proposalID)
}

// GetDistribution retrieves a proposal's reward distribution.
func (s *Service) GetDistribution(ctx context.Context, proposalID int64) (model.RewardDistribution, error) {
	return s.db.GetDistribution(ctx, proposalID)
}
