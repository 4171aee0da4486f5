package foresight

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// mockServer creates an httptest server that mimics the Foresight API.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	// Always register auth endpoint.
	if _, ok := handlers["POST /auth/token"]; !ok {
		mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "test-token-xyz",
					"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
				},
			})
		})
	}

	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}

	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL: serverURL,
		Address: "test-agent",
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing base URL", Config{Address: "a", APIKey: "k"}},
		{"missing address", Config{BaseURL: "http://x", APIKey: "k"}},
		{"missing api key", Config{BaseURL: "http://x", Address: "a"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewClient(tc.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestPlaceStakeSendsIdempotencyKey(t *testing.T) {
	var receivedKey string
	var receivedBody map[string]any

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/proposals/7/stakes": func(w http.ResponseWriter, r *http.Request) {
			receivedKey = r.Header.Get("Idempotency-Key")
			_ = json.NewDecoder(r.Body).Decode(&receivedBody)
			writeJSON(w, http.StatusCreated, map[string]any{
				"data": StakeResult{
					Market:   Market{ProposalID: 7, YesTotal: 300, TotalStaked: 300, Participants: 1},
					Position: Position{ProposalID: 7, Agent: "test-agent", YesStake: 300},
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	res, err := client.PlaceStake(context.Background(), 7, "yes", 300, "stake-retry-1")
	if err != nil {
		t.Fatalf("PlaceStake failed: %v", err)
	}
	if receivedKey != "stake-retry-1" {
		t.Errorf("expected Idempotency-Key header 'stake-retry-1', got %q", receivedKey)
	}
	if receivedBody["side"] != "yes" {
		t.Errorf("expected side 'yes', got %v", receivedBody["side"])
	}
	if receivedBody["amount"] != float64(300) {
		t.Errorf("expected amount 300, got %v", receivedBody["amount"])
	}
	if res.Market.YesTotal != 300 {
		t.Errorf("expected yes total 300, got %d", res.Market.YesTotal)
	}
	if res.Position.Agent != "test-agent" {
		t.Errorf("expected position agent 'test-agent', got %q", res.Position.Agent)
	}
}

func TestClaimUnwrapsPayout(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/proposals/3/claims": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": ClaimResult{
					Payout:   340,
					Position: Position{ProposalID: 3, Agent: "test-agent", YesStake: 300, Claimed: true},
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	res, err := client.Claim(context.Background(), 3, "claim-1")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if res.Payout != 340 {
		t.Errorf("expected payout 340, got %d", res.Payout)
	}
	if !res.Position.Claimed {
		t.Error("expected claimed position")
	}
}

func TestTokenCachedAcrossRequests(t *testing.T) {
	var authCalls atomic.Int32

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			authCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "cached-token",
					"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
				},
			})
		},
		"GET /v1/params": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer cached-token" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{
					"error": map[string]any{"code": "UNAUTHORIZED", "message": "bad token"},
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": Params{Version: 1, MinProposalStake: 100},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	for range 3 {
		if _, err := client.GetParams(context.Background()); err != nil {
			t.Fatalf("GetParams failed: %v", err)
		}
	}
	if got := authCalls.Load(); got != 1 {
		t.Errorf("expected 1 auth call, got %d", got)
	}
}

func TestTokenRefreshedAfterExpiry(t *testing.T) {
	var authCalls atomic.Int32

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			authCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token": "short-lived",
					// Already inside the 30s refresh margin.
					"expires_at": time.Now().Add(5 * time.Second).Format(time.RFC3339),
				},
			})
		},
		"GET /v1/params": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"data": Params{Version: 1}})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	for range 2 {
		if _, err := client.GetParams(context.Background()); err != nil {
			t.Fatalf("GetParams failed: %v", err)
		}
	}
	if got := authCalls.Load(); got != 2 {
		t.Errorf("expected a refresh per request with an expired token, got %d auth calls", got)
	}
}

func TestListProposalsQueryParams(t *testing.T) {
	var receivedQuery string

	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/proposals": func(w http.ResponseWriter, r *http.Request) {
			receivedQuery = r.URL.RawQuery
			writeJSON(w, http.StatusOK, map[string]any{
				"data":     []Proposal{{ID: 1, Title: "Ship the bridge", Status: "active"}},
				"has_more": false,
				"limit":    10,
				"offset":   20,
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	proposals, err := client.ListProposals(context.Background(), &ProposalOptions{
		Status: "active",
		Limit:  10,
		Offset: 20,
	})
	if err != nil {
		t.Fatalf("ListProposals failed: %v", err)
	}
	if len(proposals) != 1 {
		t.Fatalf("expected 1 proposal, got %d", len(proposals))
	}
	if proposals[0].Title != "Ship the bridge" {
		t.Errorf("unexpected title %q", proposals[0].Title)
	}

	for _, want := range []string{"status=active", "limit=10", "offset=20"} {
		if !strings.Contains(receivedQuery, want) {
			t.Errorf("expected query to contain %q, got %q", want, receivedQuery)
		}
	}
}

func TestErrorParsing(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/proposals/9/execute": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": map[string]any{"code": "TIMING", "message": "voting is still open"},
			})
		},
		"GET /v1/proposals/404": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error": map[string]any{"code": "NOT_FOUND", "message": "proposal not found"},
			})
		},
		"POST /v1/proposals": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error": map[string]any{"code": "INELIGIBLE", "message": "governance weight below minimum"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.Execute(context.Background(), 9)
	if !IsConflict(err) {
		t.Errorf("expected conflict error, got %v", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if apiErr.Code != "TIMING" {
		t.Errorf("expected code TIMING, got %q", apiErr.Code)
	}
	if apiErr.Message != "voting is still open" {
		t.Errorf("unexpected message %q", apiErr.Message)
	}

	_, err = client.GetProposal(context.Background(), 404)
	if !IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}

	_, err = client.CreateProposal(context.Background(), CreateProposalRequest{Title: "x"})
	if !IsIneligible(err) {
		t.Errorf("expected ineligible error, got %v", err)
	}
}

func TestNonEnvelopeErrorBody(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/params": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream broke"))
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.GetParams(context.Background())
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", apiErr.StatusCode)
	}
	if apiErr.Message != "upstream broke" {
		t.Errorf("expected raw body as message, got %q", apiErr.Message)
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	var authCalls atomic.Int32

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			authCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"token": "t"}})
		},
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Error("health request should carry no Authorization header")
			}
			writeJSON(w, http.StatusOK, map[string]any{"data": HealthResponse{Status: "ok"}})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	h, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if h.Status != "ok" {
		t.Errorf("expected status ok, got %q", h.Status)
	}
	if authCalls.Load() != 0 {
		t.Error("health check must not trigger token acquisition")
	}
}

func TestVerifyActionChain(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/evolution/actions/verify": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{"intact": false, "first_corrupted_id": 12},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	v, err := client.VerifyActionChain(context.Background())
	if err != nil {
		t.Fatalf("VerifyActionChain failed: %v", err)
	}
	if v.Intact {
		t.Error("expected intact=false")
	}
	if v.FirstCorruptedID != 12 {
		t.Errorf("expected first corrupted id 12, got %d", v.FirstCorruptedID)
	}
}
