package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/futarchia/foresight/internal/auth"
	"github.com/futarchia/foresight/internal/model"
	"github.com/futarchia/foresight/internal/service/evolution"
	"github.com/futarchia/foresight/internal/service/market"
	"github.com/futarchia/foresight/internal/service/reputation"
	"github.com/futarchia/foresight/internal/service/treasury"
	"github.com/futarchia/foresight/internal/storage"
)

const (
	maxQueryLimit  = 1000
	maxQueryOffset = 100_000
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	db         *storage.DB
	jwt        *auth.JWTManager
	market     *market.Service
	reputation *reputation.Service
	evolution  *evolution.Service
	treasury   *treasury.Service
	logger     *slog.Logger
	maxBody    int64

	openapiSpec []byte
}

// HandlersDeps bundles the dependencies for NewHandlers.
type HandlersDeps struct {
	DB                  *storage.DB
	JWT                 *auth.JWTManager
	Market              *market.Service
	Reputation          *reputation.Service
	Evolution           *evolution.Service
	Treasury            *treasury.Service
	Logger              *slog.Logger
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte // Embedded OpenAPI YAML.
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	maxBody := deps.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handlers{
		db:         deps.DB,
		jwt:        deps.JWT,
		market:     deps.Market,
		reputation: deps.Reputation,
		evolution:  deps.Evolution,
		treasury:   deps.Treasury,
		logger:     deps.Logger,
		maxBody:    maxBody,

		openapiSpec: deps.OpenAPISpec,
	}
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

type authTokenRequest struct {
	Address string `json:"address"`
	APIKey  string `json:"api_key"`
}

type authTokenResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Address   string          `json:"address"`
	Role      model.AgentRole `json:"role"`
}

// HandleAuthToken exchanges an agent API key for a role-bearing JWT.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req authTokenRequest
	if !decodeJSON(w, r, &req, h.maxBody) {
		return
	}
	if req.Address == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "address and api_key are required")
		return
	}

	agent, err := h.db.GetAgentByAddress(r.Context(), req.Address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Burn the same hashing cost as a real verification so timing
			// does not reveal whether the address exists.
			auth.DummyVerify()
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
			return
		}
		h.writeInternalError(w, r, "auth token lookup failed", err)
		return
	}
	if agent.APIKeyHash == nil {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	ok, err := auth.VerifyAPIKey(req.APIKey, *agent.APIKeyHash)
	if err != nil {
		h.writeInternalError(w, r, "api key verification failed", err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwt.IssueToken(agent)
	if err != nil {
		h.writeInternalError(w, r, "token issuance failed", err)
		return
	}

	h.recordMutationAuditBestEffort(r, "auth.token_issued", "agent", agent.Address, nil, nil,
		map[string]any{"role": agent.Role})
	writeJSON(w, r, http.StatusOK, authTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Address:   agent.Address,
		Role:      agent.Role,
	})
}

// HandleHealth reports service and database health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "database unreachable")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

type createAgentResponse struct {
	model.Agent
	APIKey string `json:"api_key"`
}

// HandleCreateAgent registers an agent credential. The generated API key is
// returned exactly once; only its Argon2id hash is stored.
func (h *Handlers) HandleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateAgentRequest
	if !decodeJSON(w, r, &req, h.maxBody) {
		return
	}
	if err := model.ValidateAddress(req.Address); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if !model.ValidRole(req.Role) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown role")
		return
	}

	var publicKey []byte
	if req.PublicKey != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.PublicKey)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "public_key must be base64")
			return
		}
		publicKey = decoded
	}
	if req.Role == model.RoleAgent && len(publicKey) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			"agents must register an Ed25519 public key for identity proofs")
		return
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		h.writeInternalError(w, r, "api key generation failed", err)
		return
	}
	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		h.writeInternalError(w, r, "api key hashing failed", err)
		return
	}

	agent, err := h.db.CreateAgent(r.Context(), model.Agent{
		Address:    req.Address,
		Name:       req.Name,
		Role:       req.Role,
		APIKeyHash: &hash,
		PublicKey:  publicKey,
	})
	if err != nil {
		h.writeInternalError(w, r, "agent creation failed", err)
		return
	}

	h.recordMutationAuditBestEffort(r, "agent.created", "agent", agent.Address, nil, agent,
		map[string]any{"role": agent.Role})
	writeJSON(w, r, http.StatusCreated, createAgentResponse{Agent: agent, APIKey: apiKey})
}

// HandleListAgents lists registered agent credentials.
func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r)
	offset := queryOffset(r)
	agents, err := h.db.ListAgents(r.Context(), limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "agent listing failed", err)
		return
	}
	writeList(w, r, agents, len(agents), limit, offset)
}

// SeedOperator creates the bootstrap operator credential from the
// configured API key if no operator exists yet. Idempotent across restarts.
func (h *Handlers) SeedOperator(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		return nil
	}
	if _, err := h.db.GetAgentByAddress(ctx, "operator"); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		return err
	}
	if _, err := h.db.CreateAgent(ctx, model.Agent{
		Address:    "operator",
		Name:       "bootstrap operator",
		Role:       model.RoleOperator,
		APIKeyHash: &hash,
	}); err != nil {
		return err
	}
	h.logger.Info("seeded bootstrap operator credential")
	return nil
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "fsk_" + hex.EncodeToString(buf), nil
}

// callerAddress returns the authenticated agent address for the request.
func callerAddress(r *http.Request) string {
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		return claims.Address
	}
	return ""
}

func queryInt(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func queryLimit(r *http.Request) int {
	n := queryInt(r, "limit", 50, maxQueryLimit)
	if n == 0 {
		return 50
	}
	return n
}

func queryOffset(r *http.Request) int {
	return queryInt(r, "offset", 0, maxQueryOffset)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
