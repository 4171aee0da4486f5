package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/futarchia/foresight/internal/auth"
	"github.com/futarchia/foresight/internal/model"
	"github.com/futarchia/foresight/internal/storage"
)

func testHandlers(t *testing.T) *Handlers {
	t.Helper()
	return NewHandlers(HandlersDeps{
		Logger:              slog.New(slog.NewTextHandler(&strings.Builder{}, nil)),
		MaxRequestBodyBytes: 1 << 20,
	})
}

func withClaims(r *http.Request, role model.AgentRole, address string) *http.Request {
	claims := &auth.Claims{Address: address, Role: role}
	return r.WithContext(context.WithValue(r.Context(), ctxKeyClaims, claims))
}

func TestRequestIDMiddleware(t *testing.T) {
	var captured string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = RequestIDFromContext(r.Context())
	}))

	t.Run("generates an id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/params", nil))
		assert.NotEmpty(t, captured)
		assert.Equal(t, captured, rec.Header().Get("X-Request-ID"))
	})

	t.Run("honors incoming header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/params", nil)
		req.Header.Set("X-Request-ID", "req-123")
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, "req-123", captured)
	})
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	gate := requireRole(model.RoleOperator, model.RoleAgent)(next)

	t.Run("allows listed role", func(t *testing.T) {
		rec := httptest.NewRecorder()
		gate.ServeHTTP(rec, withClaims(httptest.NewRequest(http.MethodGet, "/v1/agents", nil), model.RoleOperator, "op"))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("rejects unlisted role", func(t *testing.T) {
		rec := httptest.NewRecorder()
		gate.ServeHTTP(rec, withClaims(httptest.NewRequest(http.MethodGet, "/v1/agents", nil), model.RoleReader, "viewer"))
		assert.Equal(t, http.StatusForbidden, rec.Code)

		var resp model.APIError
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, model.ErrCodeForbidden, resp.Error.Code)
	})

	t.Run("rejects missing claims", func(t *testing.T) {
		rec := httptest.NewRecorder()
		gate.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/agents", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Amount int64 `json:"amount"`
	}

	t.Run("valid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount": 5}`))
		var p payload
		assert.True(t, decodeJSON(httptest.NewRecorder(), req, &p, 1024))
		assert.Equal(t, int64(5), p.Amount)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount": 5, "extra": 1}`))
		rec := httptest.NewRecorder()
		var p payload
		assert.False(t, decodeJSON(rec, req, &p, 1024))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("oversized body rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount": 123456789}`))
		rec := httptest.NewRecorder()
		var p payload
		assert.False(t, decodeJSON(rec, req, &p, 4))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestWriteDomainError(t *testing.T) {
	h := testHandlers(t)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			"eligibility",
			&model.EligibilityError{Kind: model.ErrInsufficientReputation, Agent: "a", Required: 10, Actual: 2},
			http.StatusUnprocessableEntity, model.ErrCodeIneligible,
		},
		{
			"timing",
			&model.TimingError{Kind: model.ErrVotingClosed, ProposalID: 7},
			http.StatusConflict, model.ErrCodeTiming,
		},
		{
			"bounds",
			&model.BoundsError{Parameter: "factor_pct", Value: 80, Min: 0, Max: 50},
			http.StatusBadRequest, model.ErrCodeBounds,
		},
		{"proof replay", model.ErrProofReplayed, http.StatusConflict, model.ErrCodeReplay},
		{"proof invalid", model.ErrProofInvalid, http.StatusBadRequest, model.ErrCodeInvalidInput},
		{"already claimed", model.ErrAlreadyClaimed, http.StatusConflict, model.ErrCodeConflict},
		{"no position", model.ErrNoPosition, http.StatusNotFound, model.ErrCodeNotFound},
		{"not found", storage.ErrNotFound, http.StatusNotFound, model.ErrCodeNotFound},
		{"unknown becomes 500", errors.New("pool exhausted"), http.StatusInternalServerError, model.ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeDomainError(rec, httptest.NewRequest(http.MethodPost, "/", nil), tt.err)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp model.APIError
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	jwtMgr, err := auth.NewJWTManager("", "", 0)
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	protected := authMiddleware(jwtMgr)(next)

	t.Run("health is exempt", func(t *testing.T) {
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("missing token rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/params", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/params", nil)
		req.Header.Set("Authorization", "Bearer not.a.jwt")
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
