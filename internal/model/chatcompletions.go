package model

import "encoding/json"

// ChatRequest is the upstream OpenAI-compatible Chat Completions request body.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	Tools       []ChatTool    `json:"tools,omitempty"`
}

// ChatMessage is one upstream message. Content is either a bare string or a
// sequence of parts (text/image_url); the zero value (IsString false, nil
// Parts) marshals as an empty string.
type ChatMessage struct {
	Role       string         `json:"role"`
	Content    ChatContent    `json:"content,omitempty"`
	ToolCalls  []ChatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

// ChatContent models the string-or-parts union of a Chat Completions
// message body.
type ChatContent struct {
	IsString bool
	String   string
	Parts    []ChatContentPart
}

func (c ChatContent) MarshalJSON() ([]byte, error) {
	if c.IsString {
		return json.Marshal(c.String)
	}
	if c.Parts == nil {
		return json.Marshal("")
	}
	return json.Marshal(c.Parts)
}

func (c *ChatContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.IsString = true
		c.String = s
		return nil
	}
	var parts []ChatContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	c.Parts = parts
	return nil
}

// ChatString builds a plain-string ChatContent.
func ChatString(s string) ChatContent {
	return ChatContent{IsString: true, String: s}
}

// ChatParts builds a multi-part ChatContent.
func ChatParts(parts []ChatContentPart) ChatContent {
	return ChatContent{Parts: parts}
}

// ChatContentPart is one part of a multimodal upstream message: text or
// image_url.
type ChatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *ChatImageURL `json:"image_url,omitempty"`
}

// ChatImageURL wraps the data-URL form of an inlined image.
type ChatImageURL struct {
	URL string `json:"url"`
}

// ChatToolCall is an assistant-emitted tool invocation, either in a
// non-streaming message or assembled from streaming deltas.
type ChatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ChatToolFunction `json:"function"`
}

// ChatToolFunction carries a tool call's name and JSON-encoded arguments.
type ChatToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatTool is an upstream tool/function definition.
type ChatTool struct {
	Type     string           `json:"type"`
	Function ChatToolFuncSpec `json:"function"`
}

// ChatToolFuncSpec is the function body of a ChatTool.
type ChatToolFuncSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatResponse is the upstream non-streaming Chat Completions response.
type ChatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
}

// ChatChoice is one candidate completion.
type ChatChoice struct {
	Index        int                `json:"index"`
	Message      ChatResponseMsg    `json:"message"`
	FinishReason string             `json:"finish_reason"`
}

// ChatResponseMsg is the message body of a non-streaming choice.
type ChatResponseMsg struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []ChatToolCall `json:"tool_calls,omitempty"`
}

// ChatUsage is upstream token accounting.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// ChatStreamChunk is one upstream SSE delta payload.
type ChatStreamChunk struct {
	ID      string            `json:"id,omitempty"`
	Model   string            `json:"model,omitempty"`
	Choices []ChatStreamChoice `json:"choices"`
	Usage   *ChatUsage        `json:"usage,omitempty"`
}

// ChatStreamChoice is one choice slot within a streaming chunk.
type ChatStreamChoice struct {
	Index        int            `json:"index"`
	Delta        ChatStreamDelta `json:"delta"`
	FinishReason *string        `json:"finish_reason,omitempty"`
}

// ChatStreamDelta is the incremental content of a streaming choice.
type ChatStreamDelta struct {
	Role      string               `json:"role,omitempty"`
	Content   string               `json:"content,omitempty"`
	ToolCalls []ChatStreamToolCall `json:"tool_calls,omitempty"`
}

// ChatStreamToolCall is one tool-call delta fragment, keyed by Index (the
// upstream-assigned slot, distinct from the Anthropic content-block index).
type ChatStreamToolCall struct {
	Index    int                      `json:"index"`
	ID       string                   `json:"id,omitempty"`
	Function *ChatStreamToolFunction `json:"function,omitempty"`
}

// ChatStreamToolFunction carries the (possibly partial) name/arguments
// fragment of a streaming tool call.
type ChatStreamToolFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}
