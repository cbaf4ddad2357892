package router

import "github.com/blueberrycongee/glmrouter/pkg/types"

// Token estimation constants (spec.md §4.5): ~4 chars/token, ~260
// tokens/image, 0.82 efficiency factor for JSON-structured blocks and
// tool schemas. Deliberately no safety margin — a false rejection here is
// worse than letting a borderline request reach upstream.
const (
	charsPerToken       = 4.0
	tokensPerImage      = 260
	structuredEfficiency = 0.82
)

// estimateTokens derives a conservative token count for context-window
// pre-flight checks from the extracted feature vector and the parsed
// request. It never adds a safety margin.
func estimateTokens(req *types.MessagesRequest, features FeatureVector) int {
	total := 0.0

	for _, msg := range req.Messages {
		for _, block := range msg.ContentBlocks() {
			switch block.Type {
			case "image":
				total += tokensPerImage
			case "text", "":
				total += float64(len(block.Text)) / charsPerToken
			default:
				total += (float64(len(block.Text)) / charsPerToken) * structuredEfficiency
			}
		}
	}

	if features.SystemLength > 0 {
		total += float64(features.SystemLength) / charsPerToken
	}

	for _, tool := range req.Tools {
		schemaLen := len(tool.InputSchema) + len(tool.Description) + len(tool.Name)
		total += (float64(schemaLen) / charsPerToken) * structuredEfficiency
	}

	return int(total)
}
