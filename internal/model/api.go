package model

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Field length limits for caller-controlled proposal text. These keep a
// single oversized field from filling TEXT columns with garbage.
const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 16 * 1024 // 16 KB
	MaxOutcomeTagLen  = 100
	MaxLinks          = 16
	MaxMilestones     = 32
	MaxSuccessMetrics = 16
)

// APIResponse is the standard envelope for single-object responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   *int         `json:"total,omitempty"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeIneligible       = "INELIGIBLE"
	ErrCodeTiming           = "TIMING"
	ErrCodeReplay           = "REPLAY"
	ErrCodeBounds           = "BOUNDS_VIOLATION"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeIdempotencyInUse = "IDEMPOTENCY_KEY_IN_USE"
)

// CreateProposalRequest is the request body for POST /v1/proposals.
type CreateProposalRequest struct {
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	OutcomeTag       string         `json:"outcome_tag"`
	ExecutionPayload map[string]any `json:"execution_payload,omitempty"`
	Deliverable      Deliverable    `json:"deliverable"`
}

// PlaceStakeRequest is the request body for POST /v1/proposals/{id}/stakes.
type PlaceStakeRequest struct {
	Side   Side  `json:"side"`
	Amount int64 `json:"amount"`
}

// ReportOutcomeRequest is the request body for POST /v1/proposals/{id}/outcome.
type ReportOutcomeRequest struct {
	Result float64 `json:"result"`
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

// UpdateMetricsRequest is the request body for POST /v1/metrics.
type UpdateMetricsRequest struct {
	ProposalQuality   float64 `json:"proposal_quality"`
	ParticipationRate float64 `json:"participation_rate"`
	OutcomeAccuracy   float64 `json:"outcome_accuracy"`
	ProductDelivery   float64 `json:"product_delivery"`
	TimeToExecution   float64 `json:"time_to_execution"`
	StakingEfficiency float64 `json:"staking_efficiency"`
}

// DepositRequest is the request body for POST /v1/treasury/deposits.
type DepositRequest struct {
	Agent  string `json:"agent"`
	Amount int64  `json:"amount"`
}

// CreateAgentRequest is the request body for POST /v1/agents.
// PublicKey is the base64-encoded Ed25519 key identity proofs must verify
// against; required for the agent role, optional otherwise.
type CreateAgentRequest struct {
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	Role      AgentRole `json:"role"`
	PublicKey string    `json:"public_key,omitempty"`
}

// ReplaceRulesRequest is the request body for PUT /v1/evolution/rules.
type ReplaceRulesRequest struct {
	Rules []AdaptationRule `json:"rules"`
}

// ValidateCreateProposal checks field limits and deliverable shape.
func ValidateCreateProposal(req CreateProposalRequest) error {
	if strings.TrimSpace(req.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if len(req.Title) > MaxTitleLen {
		return fmt.Errorf("title exceeds maximum length of %d characters", MaxTitleLen)
	}
	if len(req.Description) > MaxDescriptionLen {
		return fmt.Errorf("description exceeds maximum length of %d bytes", MaxDescriptionLen)
	}
	if strings.TrimSpace(req.OutcomeTag) == "" {
		return fmt.Errorf("outcome_tag is required")
	}
	if len(req.OutcomeTag) > MaxOutcomeTagLen {
		return fmt.Errorf("outcome_tag exceeds maximum length of %d characters", MaxOutcomeTagLen)
	}
	return ValidateDeliverable(req.Deliverable)
}

// ValidateDeliverable checks that the required product commitment exists
// and its links are well-formed http(s) URLs.
func ValidateDeliverable(d Deliverable) error {
	if strings.TrimSpace(d.Type) == "" {
		return fmt.Errorf("deliverable.type is required")
	}
	if strings.TrimSpace(d.Description) == "" {
		return fmt.Errorf("deliverable.description is required")
	}
	if len(d.Links) > MaxLinks {
		return fmt.Errorf("deliverable.links exceeds maximum of %d entries", MaxLinks)
	}
	if len(d.Milestones) > MaxMilestones {
		return fmt.Errorf("deliverable.milestones exceeds maximum of %d entries", MaxMilestones)
	}
	if len(d.SuccessMetrics) > MaxSuccessMetrics {
		return fmt.Errorf("deliverable.success_metrics exceeds maximum of %d entries", MaxSuccessMetrics)
	}
	for i, link := range d.Links {
		u, err := url.Parse(link)
		if err != nil {
			return fmt.Errorf("deliverable.links[%d]: invalid URL: %w", i, err)
		}
		scheme := strings.ToLower(u.Scheme)
		if scheme != "http" && scheme != "https" {
			return fmt.Errorf("deliverable.links[%d]: must use http or https scheme (got %q)", i, u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("deliverable.links[%d]: must include a host", i)
		}
	}
	return nil
}

// ValidateStake checks a stake request before any state is touched.
func ValidateStake(req PlaceStakeRequest) error {
	if req.Side != SideYes && req.Side != SideNo {
		return fmt.Errorf("side must be %q or %q", SideYes, SideNo)
	}
	if req.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// ValidateOutcome checks a measured result is in range.
func ValidateOutcome(result float64) error {
	if result < 0 || result > 1 {
		return fmt.Errorf("result must be in [0, 1], got %v", result)
	}
	return nil
}
