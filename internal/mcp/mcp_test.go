package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// toolRequest builds a CallToolRequest with the given arguments.
func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// Argument validation happens before any service call, so these run
// against an empty Server.

func TestHandleListProposals_UnknownStatus(t *testing.T) {
	s := &Server{}
	result, err := s.handleListProposals(context.Background(),
		toolRequest("foresight_list_proposals", map[string]any{"status": "pending"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleMarket_MissingProposalID(t *testing.T) {
	s := &Server{}
	result, err := s.handleMarket(context.Background(),
		toolRequest("foresight_market", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleReputation_MissingAgent(t *testing.T) {
	s := &Server{}
	result, err := s.handleReputation(context.Background(),
		toolRequest("foresight_reputation", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandlePlaceStake_MissingArguments(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name string
		args map[string]any
	}{
		{"empty", map[string]any{}},
		{"no agent", map[string]any{"proposal_id": 1, "side": "yes", "amount": 10}},
		{"no side", map[string]any{"agent": "a1", "proposal_id": 1, "amount": 10}},
		{"zero amount", map[string]any{"agent": "a1", "proposal_id": 1, "side": "yes", "amount": 0}},
		{"negative amount", map[string]any{"agent": "a1", "proposal_id": 1, "side": "no", "amount": -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := s.handlePlaceStake(context.Background(),
				toolRequest("foresight_place_stake", tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
}
