package foresight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Foresight server (e.g. "http://localhost:8080").
	BaseURL string

	// Address identifies this agent for authentication.
	Address string

	// APIKey is the secret used to obtain a JWT token.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Foresight governance API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	address  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL, Address, or APIKey is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("foresight: BaseURL is required")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("foresight: Address is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("foresight: APIKey is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		address:  cfg.Address,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg.Address, cfg.APIKey, httpClient),
	}, nil
}

// ---------------------------------------------------------------------------
// Proposals and markets
// ---------------------------------------------------------------------------

// CreateProposal opens a new proposal with its market. The caller's bond
// (the current minimum proposal stake) is locked for the proposal's lifetime.
func (c *Client) CreateProposal(ctx context.Context, req CreateProposalRequest) (*Proposal, error) {
	var resp Proposal
	if err := c.post(ctx, "/v1/proposals", req, &resp, ""); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProposalOptions are optional filters for ListProposals.
type ProposalOptions struct {
	Status string
	Limit  int
	Offset int
}

// ListProposals retrieves proposals, newest first, optionally filtered by
// status ("active", "executed", "failed", "expired").
func (c *Client) ListProposals(ctx context.Context, opts *ProposalOptions) ([]Proposal, error) {
	params := url.Values{}
	if opts != nil {
		if opts.Status != "" {
			params.Set("status", opts.Status)
		}
		if opts.Limit > 0 {
			params.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Offset > 0 {
			params.Set("offset", strconv.Itoa(opts.Offset))
		}
	}

	path := "/v1/proposals"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp []Proposal
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetProposal retrieves a single proposal.
func (c *Client) GetProposal(ctx context.Context, id int64) (*Proposal, error) {
	var resp Proposal
	if err := c.get(ctx, "/v1/proposals/"+strconv.FormatInt(id, 10), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetMarket retrieves a proposal's market aggregates.
func (c *Client) GetMarket(ctx context.Context, id int64) (*Market, error) {
	var resp Market
	if err := c.get(ctx, "/v1/proposals/"+strconv.FormatInt(id, 10)+"/market", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetPosition retrieves one agent's stake position on a market.
func (c *Client) GetPosition(ctx context.Context, id int64, agent string) (*Position, error) {
	var resp Position
	if err := c.get(ctx, "/v1/proposals/"+strconv.FormatInt(id, 10)+"/positions/"+agent, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PlaceStake places a YES/NO stake on an open market. A non-empty
// idempotencyKey makes retries safe: the server replays the original
// response for a repeated key with an identical body.
func (c *Client) PlaceStake(ctx context.Context, id int64, side string, amount int64, idempotencyKey string) (*StakeResult, error) {
	body := map[string]any{"side": side, "amount": amount}
	var resp StakeResult
	if err := c.post(ctx, "/v1/proposals/"+strconv.FormatInt(id, 10)+"/stakes", body, &resp, idempotencyKey); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Execute resolves a proposal whose voting deadline has passed.
func (c *Client) Execute(ctx context.Context, id int64) (*ExecuteResult, error) {
	var resp ExecuteResult
	if err := c.post(ctx, "/v1/proposals/"+strconv.FormatInt(id, 10)+"/execute", struct{}{}, &resp, ""); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReportOutcome records the measured result for an executed proposal.
// Requires the measurer role. Result must be in [0, 1].
func (c *Client) ReportOutcome(ctx context.Context, id int64, result float64) (*OutcomeMeasurement, error) {
	body := map[string]any{"result": result}
	var resp OutcomeMeasurement
	if err := c.post(ctx, "/v1/proposals/"+strconv.FormatInt(id, 10)+"/outcome", body, &resp, ""); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Claim settles the caller's position on a resolved market. Safe to retry
// with the same idempotencyKey.
func (c *Client) Claim(ctx context.Context, id int64, idempotencyKey string) (*ClaimResult, error) {
	var resp ClaimResult
	if err := c.post(ctx, "/v1/proposals/"+strconv.FormatInt(id, 10)+"/claims", struct{}{}, &resp, idempotencyKey); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Reputation
// ---------------------------------------------------------------------------

// VerifyIdentity submits a single-use Ed25519 identity proof binding the
// caller to a platform username.
func (c *Client) VerifyIdentity(ctx context.Context, req VerifyIdentityRequest) (*Reputation, error) {
	var resp Reputation
	if err := c.post(ctx, "/v1/identity/verify", req, &resp, ""); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefreshReputation recomputes the caller's activity score from the ledger.
func (c *Client) RefreshReputation(ctx context.Context) (*Reputation, error) {
	var resp Reputation
	if err := c.post(ctx, "/v1/reputation/refresh", struct{}{}, &resp, ""); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IngestScores pushes external platform scores for an agent. Requires the
// bridge role.
func (c *Client) IngestScores(ctx context.Context, req IngestScoresRequest) (*Reputation, error) {
	var resp Reputation
	if err := c.post(ctx, "/v1/reputation/scores", req, &resp, ""); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetReputation retrieves the trust record for an agent.
func (c *Client) GetReputation(ctx context.Context, agent string) (*Reputation, error) {
	var resp Reputation
	if err := c.get(ctx, "/v1/reputation/"+agent, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListReputation retrieves trust records ordered by governance weight.
func (c *Client) ListReputation(ctx context.Context, limit, offset int) ([]Reputation, error) {
	path := "/v1/reputation?" + pageParams(limit, offset).Encode()
	var resp []Reputation
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Evolution engine
// ---------------------------------------------------------------------------

// UpdateMetrics ingests a governance metrics snapshot and runs an
// adaptation pass. Requires the measurer role.
func (c *Client) UpdateMetrics(ctx context.Context, req UpdateMetricsRequest) (*MetricsUpdateResult, error) {
	var resp MetricsUpdateResult
	if err := c.post(ctx, "/v1/metrics", req, &resp, ""); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CurrentMetrics returns the latest metrics snapshot.
func (c *Client) CurrentMetrics(ctx context.Context) (*GovernanceMetrics, error) {
	var resp GovernanceMetrics
	if err := c.get(ctx, "/v1/metrics/current", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MetricsHistory returns recent metrics snapshots, oldest first.
func (c *Client) MetricsHistory(ctx context.Context, limit int) ([]GovernanceMetrics, error) {
	path := "/v1/metrics/history?" + pageParams(limit, 0).Encode()
	var resp []GovernanceMetrics
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// MetricsTrends reports per-metric movement over a recent window.
func (c *Client) MetricsTrends(ctx context.Context, window int) ([]MetricTrend, error) {
	path := "/v1/metrics/trends"
	if window > 0 {
		path += "?window=" + strconv.Itoa(window)
	}
	var resp []MetricTrend
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ListActions lists evolution audit entries, newest first.
func (c *Client) ListActions(ctx context.Context, limit, offset int) ([]EvolutionAction, error) {
	path := "/v1/evolution/actions?" + pageParams(limit, offset).Encode()
	var resp []EvolutionAction
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// VerifyActionChain recomputes the audit chain's content hashes.
func (c *Client) VerifyActionChain(ctx context.Context) (*ChainVerification, error) {
	var resp ChainVerification
	if err := c.get(ctx, "/v1/evolution/actions/verify", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRules returns the active adaptation rule set.
func (c *Client) GetRules(ctx context.Context) ([]AdaptationRule, error) {
	var resp []AdaptationRule
	if err := c.get(ctx, "/v1/evolution/rules", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ReplaceRules installs a new adaptation rule set wholesale. Requires the
// operator role.
func (c *Client) ReplaceRules(ctx context.Context, rules []AdaptationRule) ([]AdaptationRule, error) {
	body := map[string]any{"rules": rules}
	var resp []AdaptationRule
	if err := c.put(ctx, "/v1/evolution/rules", body, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetParams returns the committed economic parameter set.
func (c *Client) GetParams(ctx context.Context) (*Params, error) {
	var resp Params
	if err := c.get(ctx, "/v1/params", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Treasury
// ---------------------------------------------------------------------------

// Deposit credits value to an agent's account. Requires the operator role.
func (c *Client) Deposit(ctx context.Context, agent string, amount int64) (*Account, error) {
	body := map[string]any{"agent": agent, "amount": amount}
	var resp Account
	if err := c.post(ctx, "/v1/treasury/deposits", body, &resp, ""); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Withdraw debits available value from the caller's account.
func (c *Client) Withdraw(ctx context.Context, amount int64) (*Account, error) {
	body := map[string]any{"amount": amount}
	var resp Account
	if err := c.post(ctx, "/v1/treasury/withdrawals", body, &resp, ""); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAccount retrieves an agent's treasury balance.
func (c *Client) GetAccount(ctx context.Context, agent string) (*Account, error) {
	var resp Account
	if err := c.get(ctx, "/v1/treasury/accounts/"+agent, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListStakes retrieves an agent's value locks, newest first.
func (c *Client) ListStakes(ctx context.Context, agent string, limit, offset int) ([]StakeInfo, error) {
	path := "/v1/treasury/accounts/" + agent + "/stakes?" + pageParams(limit, offset).Encode()
	var resp []StakeInfo
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// TreasuryStats retrieves the aggregate treasury view.
func (c *Client) TreasuryStats(ctx context.Context) (*TreasuryStats, error) {
	var resp TreasuryStats
	if err := c.get(ctx, "/v1/treasury/stats", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Agents (operator-only) and health
// ---------------------------------------------------------------------------

// CreateAgent creates a new agent credential. Requires the operator role.
// The returned APIKey is shown exactly once.
func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (*CreatedAgent, error) {
	var resp CreatedAgent
	if err := c.post(ctx, "/v1/agents", req, &resp, ""); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListAgents lists registered agents. Requires the operator role.
func (c *Client) ListAgents(ctx context.Context, limit, offset int) ([]Agent, error) {
	path := "/v1/agents?" + pageParams(limit, offset).Encode()
	var resp []Agent
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Health checks the server's health status. This endpoint does not require
// authentication and will work even if the client has invalid credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getNoAuth(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func pageParams(limit, offset int) url.Values {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	return params
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any, idempotencyKey string) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("foresight: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("foresight: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) put(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("foresight: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("foresight: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("foresight: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) getNoAuth(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("foresight: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("foresight: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("foresight: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("foresight: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("foresight: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
