package auth

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/futarchia/foresight/internal/model"
)

// MaxProofAge bounds how old an identity proof's timestamp may be. Together
// with single-use consumption this closes the replay window.
const MaxProofAge = 10 * time.Minute

// ProofMessage builds the canonical byte string an agent signs to bind its
// address to a platform username. The format is versioned so future
// changes cannot collide with old signatures.
func ProofMessage(agent, username string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("foresight-identity:v1|%s|%s|%d", agent, username, ts.Unix()))
}

// ProofHash is the single-use consumption key for a proof.
func ProofHash(p model.IdentityProof) string {
	sum := sha256.Sum256(append(ProofMessage(p.Agent, p.Username, p.Timestamp), p.Signature...))
	return hex.EncodeToString(sum[:])
}

// VerifyIdentityProof checks the proof signature against the agent's
// registered public key and enforces the freshness bound. Consumption of
// the proof hash is the caller's responsibility.
func VerifyIdentityProof(pub ed25519.PublicKey, p model.IdentityProof, now time.Time) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("auth: agent has no registered public key: %w", model.ErrProofInvalid)
	}
	if p.Timestamp.After(now.Add(time.Minute)) || now.Sub(p.Timestamp) > MaxProofAge {
		return fmt.Errorf("auth: proof timestamp outside freshness window: %w", model.ErrProofInvalid)
	}
	if !ed25519.Verify(pub, ProofMessage(p.Agent, p.Username, p.Timestamp), p.Signature) {
		return fmt.Errorf("auth: signature verification failed: %w", model.ErrProofInvalid)
	}
	return nil
}
