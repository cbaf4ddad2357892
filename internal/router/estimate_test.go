package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/glmrouter/pkg/types"
)

func TestEstimateTokens_PlainTextMessage(t *testing.T) {
	req := &types.MessagesRequest{
		Messages: []types.Message{
			{Role: "user", Content: []byte(`"12345678"`)}, // 8 chars -> 2 tokens
		},
	}
	fv := extractFeatures(req)
	require.Equal(t, 2, estimateTokens(req, fv))
}

func TestEstimateTokens_ImageBlockIsFlatCost(t *testing.T) {
	req := &types.MessagesRequest{
		Messages: []types.Message{
			{Role: "user", Content: []byte(`[{"type":"image"}]`)},
		},
	}
	fv := extractFeatures(req)
	require.Equal(t, tokensPerImage, estimateTokens(req, fv))
}

func TestEstimateTokens_StructuredBlockAppliesEfficiencyFactor(t *testing.T) {
	req := &types.MessagesRequest{
		Messages: []types.Message{
			{Role: "user", Content: []byte(`[{"type":"tool_result","text":"12345678"}]`)},
		},
	}
	fv := extractFeatures(req)
	// 8 chars / 4 = 2 tokens, * 0.82 efficiency = 1.64 -> truncated to 1.
	require.Equal(t, 1, estimateTokens(req, fv))
}

func TestEstimateTokens_IncludesSystemAndToolSchema(t *testing.T) {
	req := &types.MessagesRequest{
		System: []byte(`"12345678"`), // 8 chars -> 2 tokens
		Tools: []types.Tool{
			{Name: "x", Description: "", InputSchema: []byte(`"1234"`)}, // name(1)+schema(6)=7 chars
		},
	}
	fv := extractFeatures(req)
	require.Greater(t, estimateTokens(req, fv), 0)
}

func TestEstimateTokens_NoSafetyMargin(t *testing.T) {
	req := &types.MessagesRequest{
		Messages: []types.Message{
			{Role: "user", Content: []byte(`"1234567"`)}, // 7 chars / 4 = 1.75 -> truncated to 1, not rounded up
		},
	}
	fv := extractFeatures(req)
	require.Equal(t, 1, estimateTokens(req, fv))
}
