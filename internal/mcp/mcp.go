// Package mcp implements the Model Context Protocol server for Foresight.
//
// The MCP server exposes the governance core to MCP-compatible AI agents:
// proposal inspection, market snapshots, reputation lookups, and stake
// placement. Every tool delegates to the same service layer as the HTTP
// API, so eligibility gating and escrow accounting behave identically.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/futarchia/foresight/internal/model"
	"github.com/futarchia/foresight/internal/service/evolution"
	"github.com/futarchia/foresight/internal/service/market"
	"github.com/futarchia/foresight/internal/service/reputation"
)

// Server wraps the MCP server with Foresight's service layer.
type Server struct {
	mcpServer  *mcpserver.MCPServer
	market     *market.Service
	reputation *reputation.Service
	evolution  *evolution.Service
	logger     *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(mkt *market.Service, rep *reputation.Service, evo *evolution.Service, logger *slog.Logger) *Server {
	s := &Server{
		market:     mkt,
		reputation: rep,
		evolution:  evo,
		logger:     logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"foresight",
		"0.1.0",
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// foresight://proposals/active — currently open markets.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"foresight://proposals/active",
			"Active Proposals",
			mcplib.WithResourceDescription("Proposals currently open for staking"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleActiveProposals,
	)

	// foresight://params/current — live governance parameters.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"foresight://params/current",
			"Governance Parameters",
			mcplib.WithResourceDescription("Current governance parameters (stake minimums, durations, reward percentage)"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleCurrentParams,
	)

	// foresight://metrics/trends — governance health movement.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"foresight://metrics/trends",
			"Metric Trends",
			mcplib.WithResourceDescription("Recent movement of each governance health metric"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleMetricTrends,
	)
}

func (s *Server) registerTools() {
	// foresight_list_proposals — browse proposals by status.
	s.mcpServer.AddTool(
		mcplib.NewTool("foresight_list_proposals",
			mcplib.WithDescription("List governance proposals, optionally filtered by status (active, executed, failed, expired)"),
			mcplib.WithString("status", mcplib.Description("Filter by proposal status")),
			mcplib.WithNumber("limit", mcplib.Description("Maximum results to return")),
		),
		s.handleListProposals,
	)

	// foresight_market — inspect one market's aggregates.
	s.mcpServer.AddTool(
		mcplib.NewTool("foresight_market",
			mcplib.WithDescription("Get the stake market snapshot for a proposal: YES/NO totals, participants, escrow, winner"),
			mcplib.WithNumber("proposal_id", mcplib.Description("Proposal identifier"), mcplib.Required()),
		),
		s.handleMarket,
	)

	// foresight_reputation — look up an agent's standing.
	s.mcpServer.AddTool(
		mcplib.NewTool("foresight_reputation",
			mcplib.WithDescription("Look up an agent's reputation record: activity score, platform score, eligibility, and effective voting weight (zero when ineligible)"),
			mcplib.WithString("agent", mcplib.Description("Agent address"), mcplib.Required()),
		),
		s.handleReputation,
	)

	// foresight_place_stake — bet on a market.
	s.mcpServer.AddTool(
		mcplib.NewTool("foresight_place_stake",
			mcplib.WithDescription("Place a YES/NO stake on an open proposal market. Requires an eligible, verified agent."),
			mcplib.WithString("agent", mcplib.Description("Agent address placing the stake"), mcplib.Required()),
			mcplib.WithNumber("proposal_id", mcplib.Description("Proposal identifier"), mcplib.Required()),
			mcplib.WithString("side", mcplib.Description("Side to back: yes or no"), mcplib.Required()),
			mcplib.WithNumber("amount", mcplib.Description("Stake amount in base units"), mcplib.Required()),
		),
		s.handlePlaceStake,
	)
}

func (s *Server) handleActiveProposals(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	status := model.StatusActive
	proposals, err := s.market.ListProposals(ctx, &status, 20, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: active proposals: %w", err)
	}

	data, err := json.MarshalIndent(proposals, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal proposals: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "foresight://proposals/active",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleCurrentParams(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(s.evolution.Params(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal params: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "foresight://params/current",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleMetricTrends(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(s.evolution.AnalyzeTrends(5), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal trends: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "foresight://metrics/trends",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleListProposals(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var status *model.ProposalStatus
	if raw := request.GetString("status", ""); raw != "" {
		st := model.ProposalStatus(raw)
		switch st {
		case model.StatusActive, model.StatusExecuted, model.StatusFailed, model.StatusExpired:
			status = &st
		default:
			return errorResult(fmt.Sprintf("unknown status %q", raw)), nil
		}
	}
	limit := request.GetInt("limit", 10)

	proposals, err := s.market.ListProposals(ctx, status, limit, 0)
	if err != nil {
		return errorResult(fmt.Sprintf("listing failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"proposals": proposals,
		"total":     len(proposals),
	}, "", "  ")

	return textResult(string(resultData)), nil
}

func (s *Server) handleMarket(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	proposalID := int64(request.GetInt("proposal_id", 0))
	if proposalID <= 0 {
		return errorResult("proposal_id is required"), nil
	}

	m, err := s.market.GetMarket(ctx, proposalID)
	if err != nil {
		return errorResult(fmt.Sprintf("market lookup failed: %v", err)), nil
	}
	p, err := s.market.GetProposal(ctx, proposalID)
	if err != nil {
		return errorResult(fmt.Sprintf("proposal lookup failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"market":   m,
		"status":   p.Status,
		"deadline": p.Deadline,
	}, "", "  ")

	return textResult(string(resultData)), nil
}

func (s *Server) handleReputation(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agent := request.GetString("agent", "")
	if agent == "" {
		return errorResult("agent is required"), nil
	}

	rep, err := s.reputation.Get(ctx, agent)
	if err != nil {
		return errorResult(fmt.Sprintf("reputation lookup failed: %v", err)), nil
	}

	eligible := s.reputation.CheckEligibility(ctx, agent) == nil
	weight, err := s.reputation.VotingWeight(ctx, agent)
	if err != nil {
		return errorResult(fmt.Sprintf("voting weight lookup failed: %v", err)), nil
	}
	resultData, _ := json.MarshalIndent(map[string]any{
		"reputation":    rep,
		"eligible":      eligible,
		"voting_weight": weight,
	}, "", "  ")

	return textResult(string(resultData)), nil
}

func (s *Server) handlePlaceStake(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agent := request.GetString("agent", "")
	proposalID := int64(request.GetInt("proposal_id", 0))
	side := request.GetString("side", "")
	amount := int64(request.GetInt("amount", 0))

	if agent == "" || proposalID <= 0 || side == "" || amount <= 0 {
		return errorResult("agent, proposal_id, side, and a positive amount are required"), nil
	}

	m, pos, err := s.market.PlaceStake(ctx, agent, proposalID, model.PlaceStakeRequest{
		Side:   model.Side(side),
		Amount: amount,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("stake rejected: %v", err)), nil
	}

	resultData, _ := json.Marshal(map[string]any{
		"market":   m,
		"position": pos,
		"status":   "placed",
	})

	return textResult(string(resultData)), nil
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
