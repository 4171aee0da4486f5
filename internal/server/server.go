// Package server exposes the governance core over HTTP: proposals and
// markets, reputation, the evolution engine, and the treasury ledger.
//
// All routes are JWT-authenticated except the health check and the token
// exchange. Role gates follow the collaborator model: operators bootstrap
// credentials and value, agents participate in markets, the bridge pushes
// external scores, measurers feed outcomes and metrics, readers see
// everything read-only.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/futarchia/foresight/internal/auth"
	"github.com/futarchia/foresight/internal/model"
	"github.com/futarchia/foresight/internal/ratelimit"
)

// ServerConfig holds the HTTP server settings. MCPServer is optional;
// when set, the MCP StreamableHTTP transport is mounted at /mcp.
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MCPServer    *mcpserver.MCPServer
}

// Server is the HTTP front end.
type Server struct {
	httpServer *http.Server
	limiter    ratelimit.Limiter
	logger     *slog.Logger
}

// New assembles the route table and middleware chain.
func New(cfg ServerConfig, h *Handlers, jwtMgr *auth.JWTManager, limiter ratelimit.Limiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	reqID := func(r *http.Request) string { return RequestIDFromContext(r.Context()) }
	ipLimited := ratelimit.Middleware(limiter, ratelimit.IPKeyFunc, reqID)
	agentLimited := ratelimit.Middleware(limiter, agentKeyFunc, reqID)

	anyRole := requireRole(model.RoleOperator, model.RoleAgent, model.RoleBridge, model.RoleMeasurer, model.RoleReader)
	agentOnly := requireRole(model.RoleAgent)
	operatorOnly := requireRole(model.RoleOperator)
	bridgeOnly := requireRole(model.RoleBridge)
	measurerOnly := requireRole(model.RoleMeasurer)

	mux.Handle("GET /health", http.HandlerFunc(h.HandleHealth))
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)
	mux.Handle("POST /auth/token", ipLimited(http.HandlerFunc(h.HandleAuthToken)))

	// Agent bootstrap.
	mux.Handle("POST /v1/agents", operatorOnly(http.HandlerFunc(h.HandleCreateAgent)))
	mux.Handle("GET /v1/agents", operatorOnly(http.HandlerFunc(h.HandleListAgents)))

	// Proposals and markets.
	mux.Handle("POST /v1/proposals", agentLimited(agentOnly(http.HandlerFunc(h.HandleCreateProposal))))
	mux.Handle("GET /v1/proposals", anyRole(http.HandlerFunc(h.HandleListProposals)))
	mux.Handle("GET /v1/proposals/{id}", anyRole(http.HandlerFunc(h.HandleGetProposal)))
	mux.Handle("GET /v1/proposals/{id}/market", anyRole(http.HandlerFunc(h.HandleGetMarket)))
	mux.Handle("GET /v1/proposals/{id}/positions/{agent}", anyRole(http.HandlerFunc(h.HandleGetPosition)))
	mux.Handle("POST /v1/proposals/{id}/stakes", agentLimited(agentOnly(http.HandlerFunc(h.HandlePlaceStake))))
	mux.Handle("POST /v1/proposals/{id}/execute",
		agentLimited(requireRole(model.RoleAgent, model.RoleOperator)(http.HandlerFunc(h.HandleExecute))))
	mux.Handle("POST /v1/proposals/{id}/outcome", measurerOnly(http.HandlerFunc(h.HandleReportOutcome)))
	mux.Handle("POST /v1/proposals/{id}/claims", agentLimited(agentOnly(http.HandlerFunc(h.HandleClaim))))

	// Reputation.
	mux.Handle("POST /v1/identity/verify", agentLimited(agentOnly(http.HandlerFunc(h.HandleVerifyIdentity))))
	mux.Handle("POST /v1/reputation/refresh", agentLimited(agentOnly(http.HandlerFunc(h.HandleRefreshReputation))))
	mux.Handle("POST /v1/reputation/scores", bridgeOnly(http.HandlerFunc(h.HandleIngestScores)))
	mux.Handle("GET /v1/reputation", anyRole(http.HandlerFunc(h.HandleListReputation)))
	mux.Handle("GET /v1/reputation/{agent}", anyRole(http.HandlerFunc(h.HandleGetReputation)))

	// Evolution engine.
	mux.Handle("POST /v1/metrics", measurerOnly(http.HandlerFunc(h.HandleUpdateMetrics)))
	mux.Handle("GET /v1/metrics/current", anyRole(http.HandlerFunc(h.HandleCurrentMetrics)))
	mux.Handle("GET /v1/metrics/history", anyRole(http.HandlerFunc(h.HandleMetricsHistory)))
	mux.Handle("GET /v1/metrics/trends", anyRole(http.HandlerFunc(h.HandleMetricsTrends)))
	mux.Handle("GET /v1/evolution/actions", anyRole(http.HandlerFunc(h.HandleListActions)))
	mux.Handle("GET /v1/evolution/actions/verify", anyRole(http.HandlerFunc(h.HandleVerifyActionChain)))
	mux.Handle("GET /v1/evolution/rules", anyRole(http.HandlerFunc(h.HandleGetRules)))
	mux.Handle("PUT /v1/evolution/rules", operatorOnly(http.HandlerFunc(h.HandleReplaceRules)))
	mux.Handle("GET /v1/params", anyRole(http.HandlerFunc(h.HandleGetParams)))

	// Treasury.
	mux.Handle("POST /v1/treasury/deposits", operatorOnly(http.HandlerFunc(h.HandleDeposit)))
	mux.Handle("POST /v1/treasury/withdrawals", agentLimited(agentOnly(http.HandlerFunc(h.HandleWithdraw))))
	mux.Handle("GET /v1/treasury/accounts/{agent}", anyRole(http.HandlerFunc(h.HandleGetAccount)))
	mux.Handle("GET /v1/treasury/accounts/{agent}/stakes", anyRole(http.HandlerFunc(h.HandleListStakes)))
	mux.Handle("GET /v1/treasury/stats", anyRole(http.HandlerFunc(h.HandleTreasuryStats)))

	// MCP StreamableHTTP transport (auth required).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", anyRole(mcpHTTP))
	}

	var handler http.Handler = mux
	handler = recoveryMiddleware(logger)(handler)
	handler = authMiddleware(jwtMgr)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		limiter: limiter,
		logger:  logger,
	}
}

// agentKeyFunc rate-limits write traffic per authenticated agent.
// Unauthenticated requests fall through to the auth middleware's 401.
func agentKeyFunc(r *http.Request) string {
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		return claims.Address
	}
	return ""
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and releases the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Close()
	}
	return s.httpServer.Shutdown(ctx)
}
