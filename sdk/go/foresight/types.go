package foresight

import (
	"time"

	"github.com/google/uuid"
)

// Agent is a registered participant credential.
type Agent struct {
	ID        uuid.UUID `json:"id"`
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	PublicKey []byte    `json:"public_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreatedAgent is the one-time creation response carrying the plaintext
// API key. The key is never retrievable again.
type CreatedAgent struct {
	Agent
	APIKey string `json:"api_key"`
}

// CreateAgentRequest is the request body for POST /v1/agents.
// PublicKey is the base64-encoded Ed25519 key identity proofs must verify
// against; required for the agent role, optional otherwise.
type CreateAgentRequest struct {
	Address   string `json:"address"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	PublicKey string `json:"public_key,omitempty"`
}

// Proposal is a described action with a measurable target outcome, subject
// to market-based approval.
type Proposal struct {
	ID                int64          `json:"id"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	Proposer          string         `json:"proposer"`
	OutcomeTag        string         `json:"outcome_tag"`
	ExecutionPayload  map[string]any `json:"execution_payload,omitempty"`
	Deliverable       Deliverable    `json:"deliverable"`
	MinStake          int64          `json:"min_stake"`
	Status            string         `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
	Deadline          time.Time      `json:"deadline"`
	ExecutionDeadline time.Time      `json:"execution_deadline"`
	Executed          bool           `json:"executed"`
	ExecutionOK       *bool          `json:"execution_ok,omitempty"`
	ActualOutcome     *float64       `json:"actual_outcome,omitempty"`
	PredictedYes      *bool          `json:"predicted_yes,omitempty"`
}

// Deliverable is the product commitment attached to a proposal.
type Deliverable struct {
	Type           string      `json:"type"`
	Description    string      `json:"description"`
	Links          []string    `json:"links,omitempty"`
	Milestones     []Milestone `json:"milestones,omitempty"`
	SuccessMetrics []string    `json:"success_metrics,omitempty"`
}

// Milestone is one timestamped checkpoint of a deliverable.
type Milestone struct {
	DueAt     time.Time `json:"due_at"`
	Completed bool      `json:"completed"`
}

// CreateProposalRequest is the request body for POST /v1/proposals.
type CreateProposalRequest struct {
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	OutcomeTag       string         `json:"outcome_tag"`
	ExecutionPayload map[string]any `json:"execution_payload,omitempty"`
	Deliverable      Deliverable    `json:"deliverable"`
}

// Market is the binary stake pool attached to one proposal.
type Market struct {
	ProposalID    int64  `json:"proposal_id"`
	YesTotal      int64  `json:"yes_total"`
	NoTotal       int64  `json:"no_total"`
	TotalStaked   int64  `json:"total_staked"`
	Participants  int    `json:"participants"`
	EscrowBalance int64  `json:"escrow_balance"`
	Winner        string `json:"winner,omitempty"`
}

// Position is one agent's stake on a market.
type Position struct {
	ProposalID int64     `json:"proposal_id"`
	Agent      string    `json:"agent"`
	YesStake   int64     `json:"yes_stake"`
	NoStake    int64     `json:"no_stake"`
	Claimed    bool      `json:"claimed"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// StakeResult is the response of POST /v1/proposals/{id}/stakes.
type StakeResult struct {
	Market   Market   `json:"market"`
	Position Position `json:"position"`
}

// ExecuteResult is the response of POST /v1/proposals/{id}/execute.
type ExecuteResult struct {
	Proposal Proposal `json:"proposal"`
	Market   Market   `json:"market"`
}

// OutcomeMeasurement is the post-execution observation window for one
// proposal.
type OutcomeMeasurement struct {
	ProposalID int64     `json:"proposal_id"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
	Measured   bool      `json:"measured"`
	Result     *float64  `json:"result,omitempty"`
}

// ClaimResult is the response of POST /v1/proposals/{id}/claims.
type ClaimResult struct {
	Payout   int64    `json:"payout"`
	Position Position `json:"position"`
}

// Reputation is the dual-source trust record for one agent.
type Reputation struct {
	Agent            string    `json:"agent"`
	ActivityScore    float64   `json:"activity_score"`
	PlatformScore    float64   `json:"platform_score"`
	GovernanceWeight float64   `json:"governance_weight"`
	Verified         bool      `json:"verified"`
	PlatformUsername *string   `json:"platform_username,omitempty"`
	LastUpdate       time.Time `json:"last_update"`
}

// VerifyIdentityRequest is the request body for POST /v1/identity/verify.
// Signature is base64-encoded Ed25519 over the canonical proof message.
type VerifyIdentityRequest struct {
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
	Signature string    `json:"signature"`
}

// IngestScoresRequest is the request body for POST /v1/reputation/scores.
type IngestScoresRequest struct {
	Agent        string  `json:"agent"`
	Karma        float64 `json:"karma"`
	Posts        float64 `json:"posts"`
	Interactions float64 `json:"interactions"`
	Quality      float64 `json:"quality"`
}

// GovernanceMetrics is one timestamped snapshot of aggregate governance
// performance.
type GovernanceMetrics struct {
	ProposalQuality   float64   `json:"proposal_quality"`
	ParticipationRate float64   `json:"participation_rate"`
	OutcomeAccuracy   float64   `json:"outcome_accuracy"`
	ProductDelivery   float64   `json:"product_delivery"`
	TimeToExecution   float64   `json:"time_to_execution"`
	StakingEfficiency float64   `json:"staking_efficiency"`
	Timestamp         time.Time `json:"timestamp"`
}

// UpdateMetricsRequest is the request body for POST /v1/metrics.
type UpdateMetricsRequest struct {
	ProposalQuality   float64 `json:"proposal_quality"`
	ParticipationRate float64 `json:"participation_rate"`
	OutcomeAccuracy   float64 `json:"outcome_accuracy"`
	ProductDelivery   float64 `json:"product_delivery"`
	TimeToExecution   float64 `json:"time_to_execution"`
	StakingEfficiency float64 `json:"staking_efficiency"`
}

// MetricsUpdateResult is the response of POST /v1/metrics.
type MetricsUpdateResult struct {
	Metrics    GovernanceMetrics `json:"metrics"`
	RulesFired []EvolutionAction `json:"rules_fired"`
}

// AdaptationRule is a threshold-triggered policy that mutates one economic
// parameter.
type AdaptationRule struct {
	Metric        string        `json:"metric"`
	Threshold     float64       `json:"threshold"`
	Inverted      bool          `json:"inverted"`
	Action        string        `json:"action"`
	FactorPct     float64       `json:"factor_pct"`
	Cooldown      time.Duration `json:"cooldown"`
	LastTriggered time.Time     `json:"last_triggered"`
	Active        bool          `json:"active"`
}

// EvolutionAction is one append-only audit entry for a parameter mutation.
type EvolutionAction struct {
	ID            int64     `json:"id"`
	Rule          string    `json:"rule"`
	Action        string    `json:"action"`
	Parameter     string    `json:"parameter"`
	OldValue      float64   `json:"old_value"`
	NewValue      float64   `json:"new_value"`
	Applied       bool      `json:"applied"`
	Justification string    `json:"justification"`
	ContentHash   string    `json:"content_hash"`
	CreatedAt     time.Time `json:"created_at"`
}

// ChainVerification is the response of GET /v1/evolution/actions/verify.
type ChainVerification struct {
	Intact           bool  `json:"intact"`
	FirstCorruptedID int64 `json:"first_corrupted_id"`
}

// MetricTrend is the read-only trend report for one metric.
type MetricTrend struct {
	Metric        string  `json:"metric"`
	RecentMean    float64 `json:"recent_mean"`
	EarlierMean   float64 `json:"earlier_mean"`
	LongRunMean   float64 `json:"long_run_mean"`
	Direction     string  `json:"direction"`
	SampleCount   int     `json:"sample_count"`
	WindowSamples int     `json:"window_samples"`
}

// Params is the committed economic parameter set.
type Params struct {
	Version           int64         `json:"version"`
	MinProposalStake  int64         `json:"min_proposal_stake"`
	VotingDuration    time.Duration `json:"voting_duration"`
	ExecutionDelay    time.Duration `json:"execution_delay"`
	RewardPercentage  int64         `json:"reward_percentage"`
	MeasurementWindow time.Duration `json:"measurement_window"`
}

// Account is one agent's treasury balance.
type Account struct {
	Agent     string    `json:"agent"`
	Available int64     `json:"available"`
	Locked    int64     `json:"locked"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StakeInfo records one value lock taken against an agent's account.
type StakeInfo struct {
	ID         int64     `json:"id"`
	Agent      string    `json:"agent"`
	ProposalID int64     `json:"proposal_id"`
	Side       string    `json:"side"`
	Amount     int64     `json:"amount"`
	LockedAt   time.Time `json:"locked_at"`
	UnlockAt   time.Time `json:"unlock_at"`
	Withdrawn  bool      `json:"withdrawn"`
}

// TreasuryStats is the read-only aggregate treasury view.
type TreasuryStats struct {
	TotalAvailable int64 `json:"total_available"`
	TotalLocked    int64 `json:"total_locked"`
	TotalEscrowed  int64 `json:"total_escrowed"`
	Reserve        int64 `json:"reserve"`
	Accounts       int   `json:"accounts"`
}

// HealthResponse is the response of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
