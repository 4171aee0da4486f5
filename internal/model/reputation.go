package model

import "time"

// AgentReputation is the dual-source trust record for one agent.
//
// GovernanceWeight is always a pure function of the two source scores —
// it is recomputed on every write and never set independently.
type AgentReputation struct {
	Agent            string    `json:"agent"`
	ActivityScore    float64   `json:"activity_score"` // source A: governance-ledger activity
	PlatformScore    float64   `json:"platform_score"` // source B: social-platform karma
	GovernanceWeight float64   `json:"governance_weight"`
	Verified         bool      `json:"verified"`
	PlatformUsername *string   `json:"platform_username,omitempty"`
	LastUpdate       time.Time `json:"last_update"`
}

// IdentityProof binds an agent address to an external platform username.
// The signature is Ed25519 over the canonical message for
// (agent, username, timestamp) and is single-use: its hash is consumed on
// first successful verification.
type IdentityProof struct {
	Agent     string    `json:"agent"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
	Signature []byte    `json:"signature"`
}

// ExternalScoreUpdate is the social-platform bridge's periodic push for one
// agent. The bridge is solely responsible for the authenticity of these
// numbers; the core only folds them into the platform score.
type ExternalScoreUpdate struct {
	Agent        string  `json:"agent"`
	Karma        float64 `json:"karma"`
	Posts        float64 `json:"posts"`
	Interactions float64 `json:"interactions"`
	Quality      float64 `json:"quality"`
}
