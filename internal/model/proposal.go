package model

import (
	"time"
)

// ProposalStatus is the lifecycle state of a proposal.
// Transitions: active → executed | failed (via execute) or active → expired
// (execution window lapsed). All three end states are terminal for the
// decision itself; outcome reporting and claims continue afterwards.
type ProposalStatus string

const (
	StatusActive   ProposalStatus = "active"
	StatusExecuted ProposalStatus = "executed"
	StatusFailed   ProposalStatus = "failed"
	StatusExpired  ProposalStatus = "expired"
)

// Side is one half of a binary stake market.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Winner identifies the resolved side of a market. WinnerNone covers ties
// and expired proposals, where principals are refunded to both sides.
type Winner string

const (
	WinnerYes  Winner = "yes"
	WinnerNo   Winner = "no"
	WinnerNone Winner = "none"
)

// Proposal is a described action with a measurable target outcome, subject
// to market-based approval. Immutable after creation except for the status
// and outcome fields, which mutate only through defined transitions.
type Proposal struct {
	ID                int64          `json:"id"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	Proposer          string         `json:"proposer"`
	OutcomeTag        string         `json:"outcome_tag"`
	ExecutionPayload  map[string]any `json:"execution_payload,omitempty"`
	Deliverable       Deliverable    `json:"deliverable"`
	MinStake          int64          `json:"min_stake"`
	Status            ProposalStatus `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
	Deadline          time.Time      `json:"deadline"`
	ExecutionDeadline time.Time      `json:"execution_deadline"`
	Executed          bool           `json:"executed"`
	ExecutionOK       *bool          `json:"execution_ok,omitempty"`
	ActualOutcome     *float64       `json:"actual_outcome,omitempty"`
	// PredictedYes records whether the YES side held the strict majority at
	// resolution time. Set once by executeProposal, compared against the
	// measured outcome for the accuracy metric.
	PredictedYes *bool `json:"predicted_yes,omitempty"`
}

// Deliverable is the product commitment attached to a proposal. Purely
// descriptive — the measurement pipeline scores it, the core only requires
// it to exist and be well-formed.
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

// Market is the binary stake pool attached to one proposal.
//
// Invariant: TotalStaked == YesTotal + NoTotal after every operation.
// EscrowBalance is the custody counterpart: funds move in on placeBet and
// out on claims; it can never go negative.
type Market struct {
	ProposalID    int64  `json:"proposal_id"`
	YesTotal      int64  `json:"yes_total"`
	NoTotal       int64  `json:"no_total"`
	TotalStaked   int64  `json:"total_staked"`
	Participants  int    `json:"participants"`
	EscrowBalance int64  `json:"escrow_balance"`
	Winner        Winner `json:"winner,omitempty"`
}

// Position is one agent's stake on a market. Claimed is monotonic
// false→true and is never reset.
type Position struct {
	ProposalID int64     `json:"proposal_id"`
	Agent      string    `json:"agent"`
	YesStake   int64     `json:"yes_stake"`
	NoStake    int64     `json:"no_stake"`
	Claimed    bool      `json:"claimed"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// OutcomeMeasurement is the post-execution observation window for one
// proposal. Created when the proposal executes; Result is written exactly
// once after the window closes.
type OutcomeMeasurement struct {
	ProposalID int64     `json:"proposal_id"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
	Measured   bool      `json:"measured"`
	Result     *float64  `json:"result,omitempty"`
}

// OutcomeSuccessThreshold is the measured score at or above which an
// executed proposal counts as having improved its target metric.
const OutcomeSuccessThreshold = 0.5

// Resolve applies the strict-majority rule: the side with strictly greater
// total stake wins; a tie resolves to no winner (do not execute).
func Resolve(yesTotal, noTotal int64) Winner {
	switch {
	case yesTotal > noTotal:
		return WinnerYes
	case noTotal > yesTotal:
		return WinnerNo
	default:
		return WinnerNone
	}
}

// CheckInvariant reports whether the market's aggregates are internally
// consistent.
func (m Market) CheckInvariant() bool {
	return m.TotalStaked == m.YesTotal+m.NoTotal && m.EscrowBalance >= 0
}
