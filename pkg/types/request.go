// Package types defines the wire-level request shapes the routing core
// consumes. The shape mirrors Anthropic's /v1/messages API; the HTTP
// frontend (out of scope for this module) is responsible for parsing the
// raw body into this struct before handing it to the router.
package types

import "github.com/goccy/go-json"

// MessagesRequest is the parsed body of an inbound /v1/messages request.
type MessagesRequest struct {
	Model       string          `json:"model"`
	Messages    []Message       `json:"messages"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	System      json.RawMessage `json:"system,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       []Tool          `json:"tools,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

// Message is a single turn in the conversation. Content is either a plain
// string or a list of ContentBlock, matching Anthropic's union shape.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentBlock is one element of a structured message content list.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Tool is a function the model may call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ParseMessages decodes a MessagesRequest from a raw JSON body.
func ParseMessages(body []byte) (*MessagesRequest, error) {
	var req MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ContentBlocks decodes a message's Content field into a content-block
// slice, or a single text block if Content was a plain JSON string.
func (m Message) ContentBlocks() []ContentBlock {
	if len(m.Content) == 0 {
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err == nil {
		return blocks
	}
	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		return []ContentBlock{{Type: "text", Text: text}}
	}
	return nil
}

// SystemText renders the System field as a string regardless of whether it
// was encoded as a bare string or a list of structured blocks.
func (r *MessagesRequest) SystemText() string {
	if len(r.System) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(r.System, &text); err == nil {
		return text
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(r.System, &blocks); err == nil {
		out := ""
		for _, b := range blocks {
			out += b.Text
		}
		return out
	}
	return string(r.System)
}
