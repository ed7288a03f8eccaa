package translate

import (
	"encoding/json"

	"github.com/google/uuid"

	"anthrobridge/internal/model"
)

// Response translates an upstream non-streaming Chat Completions response
// into an Anthropic Messages response. requestModel is the request's
// resolved model (after model overrides), used as a fallback when the
// upstream response omits its own model field.
func Response(resp *model.ChatResponse, requestModel string) *model.Response {
	id := resp.ID
	if id == "" {
		id = "msg_" + uuid.NewString()
	}
	respModel := resp.Model
	if respModel == "" {
		respModel = requestModel
	}

	out := &model.Response{
		ID:    id,
		Type:  "message",
		Role:  "assistant",
		Model: respModel,
	}

	var finishReason string
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0] // §1.11 Open Question 2: only choices[0] is ever consulted
		finishReason = choice.FinishReason
		out.Content = responseBlocks(choice.Message)
	}
	out.StopReason = MapFinishReason(finishReason)

	if len(out.Content) == 0 {
		out.Content = []model.ResponseBlock{{Type: model.ResponseBlockText, Text: ""}}
	}

	if resp.Usage != nil {
		out.Usage = model.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	return out
}

// responseBlocks reconstructs the ordered text-then-tool-use block
// sequence from one upstream choice's message.
func responseBlocks(msg model.ChatResponseMsg) []model.ResponseBlock {
	var blocks []model.ResponseBlock
	if msg.Content != "" {
		blocks = append(blocks, model.ResponseBlock{Type: model.ResponseBlockText, Text: msg.Content})
	}
	for _, call := range msg.ToolCalls {
		var input any
		raw := parseToolArguments(call.Function.Arguments)
		_ = json.Unmarshal(raw, &input)
		blocks = append(blocks, model.ResponseBlock{
			Type:  model.ResponseBlockToolUse,
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: input,
		})
	}
	return blocks
}
