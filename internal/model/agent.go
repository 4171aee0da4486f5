package model

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// AgentRole is the RBAC role carried in a collaborator's token.
//
// operator: bootstrap/config surface (agent creation, deposits, rule sets).
// agent:    market participants (proposals, stakes, claims, identity).
// bridge:   the social-platform bridge pushing external scores.
// measurer: the measurement pipeline (outcome reports, metrics snapshots).
// reader:   read-only dashboard consumers.
type AgentRole string

const (
	RoleOperator AgentRole = "operator"
	RoleAgent    AgentRole = "agent"
	RoleBridge   AgentRole = "bridge"
	RoleMeasurer AgentRole = "measurer"
	RoleReader   AgentRole = "reader"
)

// ValidRole reports whether r is a known role.
func ValidRole(r AgentRole) bool {
	switch r {
	case RoleOperator, RoleAgent, RoleBridge, RoleMeasurer, RoleReader:
		return true
	}
	return false
}

// Agent is a registered participant credential. Address identifies the
// agent in all governance state; PublicKey is the Ed25519 key its identity
// proofs must verify against.
type Agent struct {
	ID         uuid.UUID `json:"id"`
	Address    string    `json:"address"`
	Name       string    `json:"name"`
	Role       AgentRole `json:"role"`
	APIKeyHash *string   `json:"-"`
	PublicKey  []byte    `json:"public_key,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

var addressRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{2,63}$`)

// ValidateAddress checks the agent address format: lowercase alphanumeric
// plus ._-, 3–64 characters, starting with an alphanumeric.
func ValidateAddress(addr string) error {
	if !addressRe.MatchString(addr) {
		return fmt.Errorf("invalid agent address %q: must match %s", addr, addressRe.String())
	}
	return nil
}
