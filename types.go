package foresight

import "time"

// Proposal is the public view of a governed proposal, passed to Executor
// implementations. Standalone struct with no internal imports so embedding
// consumers never depend on internal packages.
type Proposal struct {
	ID                int64
	Title             string
	Description       string
	Proposer          string
	OutcomeTag        string
	ExecutionPayload  map[string]any
	Deliverable       Deliverable
	CreatedAt         time.Time
	Deadline          time.Time
	ExecutionDeadline time.Time
}

// Deliverable is the product commitment attached to a proposal.
type Deliverable struct {
	Type           string
	Description    string
	Links          []string
	Milestones     []Milestone
	SuccessMetrics []string
}

// Milestone is one timestamped checkpoint of a deliverable.
type Milestone struct {
	DueAt     time.Time
	Completed bool
}
