// Package reputation provides the sybil-resistance gate: dual-source
// scores, Ed25519 identity proofs, and the voting-weight computation the
// market engine consults on every write.
package reputation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/metric"

	"github.com/futarchia/foresight/internal/auth"
	"github.com/futarchia/foresight/internal/model"
	"github.com/futarchia/foresight/internal/storage"
	"github.com/futarchia/foresight/internal/telemetry"
)

// UpdateCooldown is the minimum interval between agent-initiated
// reputation refreshes.
const UpdateCooldown = time.Hour

// FreshnessWindow bounds how stale a reputation record may be and still
// count toward eligibility.
const FreshnessWindow = 30 * 24 * time.Hour

const weightCacheSize = 4096

// Service encapsulates reputation business logic.
type Service struct {
	db     *storage.DB
	logger *slog.Logger

	// weights caches computed voting weights; entries expire quickly so a
	// fresh ingest shows up within the TTL even without invalidation.
	weights *expirable.LRU[string, float64]

	verifications metric.Int64Counter
	replays       metric.Int64Counter
}

// New creates a reputation Service. cacheTTL bounds voting-weight cache
// staleness; zero disables expiry.
func New(db *storage.DB, cacheTTL time.Duration, logger *slog.Logger) *Service {
	meter := telemetry.Meter("foresight/reputation")
	verifications, _ := meter.Int64Counter("foresight.reputation.verifications",
		metric.WithDescription("Successful identity proof verifications"),
	)
	replays, _ := meter.Int64Counter("foresight.reputation.proof_replays",
		metric.WithDescription("Rejected replayed identity proofs"),
	)
	return &Service{
		db:            db,
		logger:        logger,
		weights:       expirable.NewLRU[string, float64](weightCacheSize, nil, cacheTTL),
		verifications: verifications,
		replays:       replays,
	}
}

// VerifyIdentity validates an Ed25519 identity proof against the agent's
// registered public key and binds the platform username. Each proof is
// single-use; a consumed hash is rejected with ErrProofReplayed. Username
// rebinding is last-wins: the previous holder loses the binding.
func (s *Service) VerifyIdentity(ctx context.Context, proof model.IdentityProof) (model.AgentReputation, error) {
	agent, err := s.db.GetAgentByAddress(ctx, proof.Agent)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.AgentReputation{}, fmt.Errorf("reputation: unknown agent %s: %w", proof.Agent, model.ErrProofInvalid)
		}
		return model.AgentReputation{}, err
	}

	now := time.Now().UTC()
	if err := auth.VerifyIdentityProof(agent.PublicKey, proof, now); err != nil {
		return model.AgentReputation{}, err
	}

	if err := s.db.BindIdentity(ctx, proof.Agent, proof.Username, auth.ProofHash(proof), now); err != nil {
		if errors.Is(err, storage.ErrProofConsumed) {
			s.replays.Add(ctx, 1)
			return model.AgentReputation{}, fmt.Errorf("reputation: %w", model.ErrProofReplayed)
		}
		return model.AgentReputation{}, err
	}

	s.verifications.Add(ctx, 1)
	s.logger.Info("reputation: identity verified",
		"agent", proof.Agent, "username", proof.Username)
	return s.recompute(ctx, proof.Agent, nil, now)
}

// Refresh recomputes the agent's activity score from the governance
// ledger. Agent-initiated and cooldown-limited.
func (s *Service) Refresh(ctx context.Context, agent string) (model.AgentReputation, error) {
	rep, err := s.db.GetReputation(ctx, agent)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return model.AgentReputation{}, err
	}

	now := time.Now().UTC()
	if err == nil && now.Sub(rep.LastUpdate) < UpdateCooldown {
		return model.AgentReputation{}, fmt.Errorf("reputation: agent %s: next refresh at %s: %w",
			agent, rep.LastUpdate.Add(UpdateCooldown).Format(time.RFC3339), model.ErrUpdateCooldown)
	}
	return s.recompute(ctx, agent, nil, now)
}

// IngestScores folds a social-platform score push into the agent's
// platform score. Restricted to the bridge role; the bridge vouches for
// the numbers, the core only combines them.
func (s *Service) IngestScores(ctx context.Context, update model.ExternalScoreUpdate) (model.AgentReputation, error) {
	platform := PlatformScore(update.Karma, update.Posts, update.Interactions, update.Quality)
	rep, err := s.recompute(ctx, update.Agent, &platform, time.Now().UTC())
	if err != nil {
		return model.AgentReputation{}, err
	}
	s.logger.Info("reputation: external scores ingested",
		"agent", update.Agent, "platform_score", platform, "weight", rep.GovernanceWeight)
	return rep, nil
}

// Get retrieves an agent's reputation record.
func (s *Service) Get(ctx context.Context, agent string) (model.AgentReputation, error) {
	return s.db.GetReputation(ctx, agent)
}

// List returns reputation records ordered by weight.
func (s *Service) List(ctx context.Context, limit, offset int) ([]model.AgentReputation, error) {
	return s.db.ListReputation(ctx, limit, offset)
}

// CheckEligibility reports whether the agent may create proposals or place
// stakes: verified identity, both source scores above their floors, and a
// reputation record fresh within the window.
func (s *Service) CheckEligibility(ctx context.Context, agent string) error {
	rep, err := s.db.GetReputation(ctx, agent)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &model.EligibilityError{
				Kind: model.ErrInsufficientReputation, Agent: agent,
				Required: MinActivityScore, Actual: 0,
			}
		}
		return err
	}
	return eligibility(rep, time.Now().UTC())
}

// eligibility is the pure eligibility rule shared with VotingWeight.
func eligibility(rep model.AgentReputation, now time.Time) error {
	if !rep.Verified {
		return &model.EligibilityError{
			Kind: model.ErrInsufficientReputation, Agent: rep.Agent,
			Required: 1, Actual: 0,
		}
	}
	if rep.ActivityScore < MinActivityScore {
		return &model.EligibilityError{
			Kind: model.ErrInsufficientReputation, Agent: rep.Agent,
			Required: MinActivityScore, Actual: rep.ActivityScore,
		}
	}
	if rep.PlatformScore < MinPlatformScore {
		return &model.EligibilityError{
			Kind: model.ErrInsufficientReputation, Agent: rep.Agent,
			Required: MinPlatformScore, Actual: rep.PlatformScore,
		}
	}
	if now.Sub(rep.LastUpdate) > FreshnessWindow {
		return &model.EligibilityError{
			Kind: model.ErrInsufficientReputation, Agent: rep.Agent,
			Required: 0, Actual: now.Sub(rep.LastUpdate).Hours(),
		}
	}
	return nil
}

// VotingWeight returns the agent's current voting weight, zero when the
// agent is ineligible. Cached with a short TTL.
func (s *Service) VotingWeight(ctx context.Context, agent string) (float64, error) {
	if w, ok := s.weights.Get(agent); ok {
		return w, nil
	}

	rep, err := s.db.GetReputation(ctx, agent)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}

	w := gatedWeight(rep, time.Now().UTC())
	s.weights.Add(agent, w)
	return w, nil
}

// gatedWeight applies the eligibility gate to the stored weight: an
// unverified, under-scored, or stale record carries zero weight no matter
// what was last combined into it.
func gatedWeight(rep model.AgentReputation, now time.Time) float64 {
	if eligibility(rep, now) != nil {
		return 0
	}
	return rep.GovernanceWeight
}

// recompute reloads the agent's ledger activity, optionally replaces the
// platform score, recombines the governance weight, and persists the
// record. The weight cache entry is dropped so readers see the new value
// immediately.
func (s *Service) recompute(ctx context.Context, agent string, platform *float64, now time.Time) (model.AgentReputation, error) {
	rep, err := s.db.GetReputation(ctx, agent)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return model.AgentReputation{}, err
		}
		rep = model.AgentReputation{Agent: agent}
	}

	act, err := s.db.GetAgentActivity(ctx, agent)
	if err != nil {
		return model.AgentReputation{}, err
	}

	rep.ActivityScore = ActivityScore(act)
	if platform != nil {
		rep.PlatformScore = *platform
	}
	rep.GovernanceWeight = CombineWeight(rep.ActivityScore, rep.PlatformScore)
	rep.LastUpdate = now

	if err := s.db.UpsertReputation(ctx, rep); err != nil {
		return model.AgentReputation{}, err
	}
	s.weights.Remove(agent)
	return rep, nil
}
