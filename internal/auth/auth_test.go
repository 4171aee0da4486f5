package auth_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/futarchia/foresight/internal/auth"
	"github.com/futarchia/foresight/internal/model"
)

func TestHashAndVerifyAPIKey(t *testing.T) {
	hash, err := auth.HashAPIKey("test-key-123")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	valid, err := auth.VerifyAPIKey("test-key-123", hash)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = auth.VerifyAPIKey("wrong-key", hash)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestJWTIssueAndValidate(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", 1*time.Hour)
	require.NoError(t, err)

	agent := model.Agent{
		Address: "agent-alpha",
		Name:    "Alpha",
		Role:    model.RoleAgent,
	}
	agent.ID = [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

	token, expiresAt, err := mgr.IssueToken(agent)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "agent-alpha", claims.Address)
	assert.Equal(t, model.RoleAgent, claims.Role)
}

// newTestJWTManagerWithKey creates a JWTManager backed by a real Ed25519 key
// pair written to temp PEM files, and returns the raw private key for
// forging tokens.
func newTestJWTManagerWithKey(t *testing.T) (*auth.JWTManager, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	dir := t.TempDir()

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	privPath := filepath.Join(dir, "priv.pem")
	require.NoError(t, os.WriteFile(privPath, privPEM, 0600))

	pubBytes, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	pubPath := filepath.Join(dir, "pub.pem")
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0600))

	mgr, err := auth.NewJWTManager(privPath, pubPath, time.Hour)
	require.NoError(t, err)
	return mgr, priv
}

// forgeToken signs a JWT with the given private key and claims.
func forgeToken(t *testing.T, privKey ed25519.PrivateKey, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(privKey)
	require.NoError(t, err)
	return signed
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	mgr, privKey := newTestJWTManagerWithKey(t)

	now := time.Now().UTC()
	token := forgeToken(t, privKey, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			Issuer:    "not-foresight",
			Audience:  jwt.ClaimStrings{"foresight"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
		Address: "agent-alpha",
		Role:    model.RoleAgent,
	})

	_, err := mgr.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid issuer")
}

func TestValidateToken_MalformedSubject(t *testing.T) {
	mgr, privKey := newTestJWTManagerWithKey(t)

	now := time.Now().UTC()
	token := forgeToken(t, privKey, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "not-a-uuid",
			Issuer:    "foresight",
			Audience:  jwt.ClaimStrings{"foresight"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
		Address: "agent-alpha",
		Role:    model.RoleAgent,
	})

	_, err := mgr.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid subject")
}

func TestVerifyIdentityProof(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	now := time.Now().UTC()
	proof := model.IdentityProof{
		Agent:     "agent-alpha",
		Username:  "alpha_on_platform",
		Timestamp: now.Add(-time.Minute),
	}
	proof.Signature = ed25519.Sign(priv, auth.ProofMessage(proof.Agent, proof.Username, proof.Timestamp))

	t.Run("valid proof verifies", func(t *testing.T) {
		require.NoError(t, auth.VerifyIdentityProof(pub, proof, now))
	})

	t.Run("tampered username fails", func(t *testing.T) {
		bad := proof
		bad.Username = "mallory"
		err := auth.VerifyIdentityProof(pub, bad, now)
		require.ErrorIs(t, err, model.ErrProofInvalid)
	})

	t.Run("stale timestamp fails", func(t *testing.T) {
		stale := model.IdentityProof{
			Agent:     proof.Agent,
			Username:  proof.Username,
			Timestamp: now.Add(-auth.MaxProofAge - time.Minute),
		}
		stale.Signature = ed25519.Sign(priv, auth.ProofMessage(stale.Agent, stale.Username, stale.Timestamp))
		err := auth.VerifyIdentityProof(pub, stale, now)
		require.ErrorIs(t, err, model.ErrProofInvalid)
	})

	t.Run("wrong key fails", func(t *testing.T) {
		otherPub, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		err = auth.VerifyIdentityProof(otherPub, proof, now)
		require.ErrorIs(t, err, model.ErrProofInvalid)
	})

	t.Run("missing key fails", func(t *testing.T) {
		err := auth.VerifyIdentityProof(nil, proof, now)
		require.ErrorIs(t, err, model.ErrProofInvalid)
	})

	t.Run("hash changes with signature", func(t *testing.T) {
		other := proof
		other.Signature = ed25519.Sign(priv, auth.ProofMessage(proof.Agent, "someone_else", proof.Timestamp))
		assert.NotEqual(t, auth.ProofHash(proof), auth.ProofHash(other))
	})
}
