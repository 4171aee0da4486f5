package model

import (
	"errors"
	"fmt"
	"time"
)

// Domain error kinds. Handlers map these onto HTTP statuses and stable API
// error codes; services attach enough context (proposal id, required vs.
// actual values) that the failures are self-explanatory.
var (
	ErrInsufficientReputation = errors.New("insufficient reputation")
	ErrInsufficientStake      = errors.New("insufficient stake")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrProposalNotActive      = errors.New("proposal not active")
	ErrVotingClosed           = errors.New("voting deadline passed")
	ErrVotingOpen             = errors.New("voting deadline not reached")
	ErrExecutionExpired       = errors.New("execution window expired")
	ErrNotExecuted            = errors.New("proposal not executed")
	ErrAlreadyMeasured        = errors.New("outcome already measured")
	ErrMeasurementOpen        = errors.New("measurement window still open")
	ErrAlreadyClaimed         = errors.New("position already claimed")
	ErrClaimsNotOpen          = errors.New("claims not open")
	ErrNoPosition             = errors.New("no position on this market")
	ErrProofReplayed          = errors.New("identity proof already consumed")
	ErrProofInvalid           = errors.New("identity proof invalid")
	ErrUpdateCooldown         = errors.New("reputation update cooldown")
	ErrBoundsViolation        = errors.New("parameter outside allowed bounds")
)

// EligibilityError rejects an operation before any state change, carrying
// the required-vs-actual pair that explains the rejection.
type EligibilityError struct {
	Kind     error // ErrInsufficientReputation, ErrInsufficientStake, ErrInsufficientFunds
	Agent    string
	Required float64
	Actual   float64
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("%v: agent %s: required %.2f, actual %.2f", e.Kind, e.Agent, e.Required, e.Actual)
}

func (e *EligibilityError) Unwrap() error { return e.Kind }

// TimingError rejects an operation made in the wrong state or outside its
// window. Deadlines are never silently clamped.
type TimingError struct {
	Kind       error
	ProposalID int64
	Now        time.Time
	Boundary   time.Time
}

func (e *TimingError) Error() string {
	if e.Boundary.IsZero() {
		return fmt.Sprintf("%v: proposal %d", e.Kind, e.ProposalID)
	}
	return fmt.Sprintf("%v: proposal %d: at %s, boundary %s",
		e.Kind, e.ProposalID, e.Now.UTC().Format(time.RFC3339), e.Boundary.UTC().Format(time.RFC3339))
}

func (e *TimingError) Unwrap() error { return e.Kind }

// BoundsError rejects a configuration change whose value falls outside the
// allowed clamp. The running value is left untouched.
type BoundsError struct {
	Parameter string
	Value     float64
	Min       float64
	Max       float64
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("%v: %s=%.2f outside [%.2f, %.2f]", ErrBoundsViolation, e.Parameter, e.Value, e.Min, e.Max)
}

func (e *BoundsError) Unwrap() error { return ErrBoundsViolation }
