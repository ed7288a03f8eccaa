// Package translate implements the non-streaming halves of the protocol
// translator: Anthropic Messages requests to Chat Completions requests,
// and Chat Completions responses back to Anthropic Messages responses.
// The streaming half lives in internal/translate/stream.
package translate

import (
	"encoding/json"
	"strings"

	"anthrobridge/internal/model"
)

// ModelOverrides carries the REASONING_MODEL / COMPLETION_MODEL
// configuration knobs consulted during model selection (§1.7.1).
type ModelOverrides struct {
	ReasoningModel  string
	CompletionModel string
}

// ResolveModel picks the upstream model name for a request: the reasoning
// override when thinking is enabled and one is configured, else the
// completion override when one is configured, else the request's own model.
func ResolveModel(req *model.Request, overrides ModelOverrides) string {
	if req.Thinking != nil && req.Thinking.Type == "enabled" && overrides.ReasoningModel != "" {
		return overrides.ReasoningModel
	}
	if overrides.CompletionModel != "" {
		return overrides.CompletionModel
	}
	return req.Model
}

// Request translates an Anthropic Messages request into an upstream Chat
// Completions request. It returns an error only for the structural
// failures spec.md calls out: an unknown content-block type or a
// malformed image source.
func Request(req *model.Request, overrides ModelOverrides) (*model.ChatRequest, error) {
	out := &model.ChatRequest{
		Model:  ResolveModel(req, overrides),
		Stream: req.Stream,
	}

	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		out.MaxTokens = &mt
	}
	out.Temperature = req.Temperature
	out.TopP = req.TopP
	if len(req.StopSequences) > 0 {
		out.Stop = req.StopSequences
	}

	if sys := systemMessage(req.System); sys != nil {
		out.Messages = append(out.Messages, *sys)
	}

	for _, msg := range req.Messages {
		translated, err := translateMessage(msg)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, translated...)
	}

	if len(req.Tools) > 0 {
		out.Tools = make([]model.ChatTool, 0, len(req.Tools))
		for _, t := range req.Tools {
			out.Tools = append(out.Tools, model.ChatTool{
				Type: "function",
				Function: model.ChatToolFuncSpec{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.InputSchema,
				},
			})
		}
	}

	return out, nil
}

// systemMessage builds the single prepended system message, if any.
func systemMessage(sys *model.SystemPrompt) *model.ChatMessage {
	if sys == nil {
		return nil
	}
	if sys.IsText {
		if sys.Text == "" {
			return nil
		}
		return &model.ChatMessage{Role: "system", Content: model.ChatString(sys.Text)}
	}
	if len(sys.Blocks) == 0 {
		return nil
	}
	texts := make([]string, 0, len(sys.Blocks))
	for _, b := range sys.Blocks {
		texts = append(texts, b.Text)
	}
	return &model.ChatMessage{Role: "system", Content: model.ChatString(strings.Join(texts, "\n\n"))}
}

// translateMessage expands one Anthropic message into zero or more
// upstream messages (a tool_result-bearing user message fans out into
// one tool message per block, per §1.7.1).
func translateMessage(msg model.Message) ([]model.ChatMessage, error) {
	if msg.IsText {
		return []model.ChatMessage{{Role: msg.Role, Content: model.ChatString(msg.Text)}}, nil
	}

	for _, b := range msg.Blocks {
		if err := b.Validate(); err != nil {
			return nil, err
		}
	}

	hasToolResult := false
	for _, b := range msg.Blocks {
		if b.Type == model.BlockToolResult {
			hasToolResult = true
			break
		}
	}

	if msg.Role == "user" && hasToolResult {
		out := make([]model.ChatMessage, 0, len(msg.Blocks))
		for _, b := range msg.Blocks {
			if b.Type != model.BlockToolResult {
				continue
			}
			content := ""
			if b.Content != nil {
				content = b.Content.Stringify()
			}
			out = append(out, model.ChatMessage{
				Role:       "tool",
				ToolCallID: b.ToolUseID,
				Content:    model.ChatString(content),
			})
		}
		return out, nil
	}

	if msg.Role == "assistant" {
		return []model.ChatMessage{assistantMessage(msg.Blocks)}, nil
	}

	// User message composed purely of text/image blocks: one message
	// whose content is a parts sequence.
	parts := make([]model.ChatContentPart, 0, len(msg.Blocks))
	for _, b := range msg.Blocks {
		switch b.Type {
		case model.BlockText:
			parts = append(parts, model.ChatContentPart{Type: "text", Text: b.Text})
		case model.BlockImage:
			parts = append(parts, model.ChatContentPart{
				Type: "image_url",
				ImageURL: &model.ChatImageURL{
					URL: "data:" + b.Source.MediaType + ";base64," + b.Source.Data,
				},
			})
		}
	}
	return []model.ChatMessage{{Role: msg.Role, Content: model.ChatParts(parts)}}, nil
}

// assistantMessage concatenates an assistant message's text blocks into a
// content string and converts its tool_use blocks into tool_calls; both
// can coexist on one message.
func assistantMessage(blocks []model.ContentBlock) model.ChatMessage {
	var text strings.Builder
	var calls []model.ChatToolCall
	for _, b := range blocks {
		switch b.Type {
		case model.BlockText:
			text.WriteString(b.Text)
		case model.BlockToolUse:
			args := "{}"
			if len(b.Input) > 0 {
				args = string(b.Input)
			}
			calls = append(calls, model.ChatToolCall{
				ID:   b.ID,
				Type: "function",
				Function: model.ChatToolFunction{
					Name:      b.Name,
					Arguments: args,
				},
			})
		}
	}
	return model.ChatMessage{
		Role:      "assistant",
		Content:   model.ChatString(text.String()),
		ToolCalls: calls,
	}
}

// parseToolArguments parses a tool call's JSON-encoded arguments string,
// defaulting to an empty object when the arguments are missing or invalid
// (§1.7.2).
func parseToolArguments(raw string) json.RawMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return json.RawMessage("{}")
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return json.RawMessage("{}")
	}
	return json.RawMessage(raw)
}
