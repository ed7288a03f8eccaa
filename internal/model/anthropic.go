// Package model defines the wire types for the Anthropic Messages API and
// the upstream Chat Completions API, plus the tagged content-block
// variants each side uses in place of runtime-typed values.
package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Request is an inbound Anthropic Messages API request.
type Request struct {
	Model         string          `json:"model"`
	MaxTokens     int             `json:"max_tokens"`
	Messages      []Message       `json:"messages"`
	System        *SystemPrompt   `json:"system,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`

	// ToolChoice, ServiceTier, Metadata, ContextManagement and Container
	// are accepted and dropped (§1.9 of SPEC_FULL.md); the /v1/messages
	// handler logs each one present at debug level. Citations inside
	// content blocks are dropped without a log. None of them is modeled
	// here because nothing ever reads them.
}

// ThinkingConfig signals a reasoning request. The Type field is the only
// one consulted; anything else upstream never sees.
type ThinkingConfig struct {
	Type string `json:"type"`
}

// Message is one turn in an Anthropic conversation. Content may be a bare
// string or a sequence of content blocks, so it is unmarshaled by hand.
type Message struct {
	Role    string
	Text    string // set when Content was a JSON string
	IsText  bool   // true if Content was a JSON string (possibly empty)
	Blocks  []ContentBlock
}

func (m Message) MarshalJSON() ([]byte, error) {
	aux := struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}{Role: m.Role}
	var err error
	if m.IsText {
		aux.Content, err = json.Marshal(m.Text)
	} else {
		aux.Content, err = json.Marshal(m.Blocks)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(aux)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var aux struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.Role = aux.Role

	if len(aux.Content) == 0 {
		m.IsText = true
		return nil
	}

	var text string
	if err := json.Unmarshal(aux.Content, &text); err == nil {
		m.IsText = true
		m.Text = text
		return nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(aux.Content, &blocks); err != nil {
		return fmt.Errorf("message content is neither a string nor a content-block array: %w", err)
	}
	m.Blocks = blocks
	return nil
}

// SystemPrompt models the absent/string/block-sequence system field.
type SystemPrompt struct {
	Text   string
	IsText bool
	Blocks []ContentBlock
}

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		s.IsText = true
		s.Text = text
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("system prompt is neither a string nor a content-block array: %w", err)
	}
	s.Blocks = blocks
	return nil
}

func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	if s.IsText {
		return json.Marshal(s.Text)
	}
	return json.Marshal(s.Blocks)
}

// Tool is an Anthropic tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// BlockType discriminates the ContentBlock tagged union.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ImageSource is the base64-encoded image payload carried by an image block.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ToolResultContent models tool_result.content, which like Message.Content
// may be a bare string or a sequence of text blocks.
type ToolResultContent struct {
	Text   string
	IsText bool
	Blocks []ContentBlock
}

func (c *ToolResultContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.IsText = true
		c.Text = text
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("tool_result content is neither a string nor a block array: %w", err)
	}
	c.Blocks = blocks
	return nil
}

func (c ToolResultContent) MarshalJSON() ([]byte, error) {
	if c.IsText {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Blocks)
}

// Stringify collapses a ToolResultContent into the single string the
// upstream tool-role message expects (§1.7.1): verbatim if it was a
// string, newline-joined if it was a sequence of text blocks.
func (c ToolResultContent) Stringify() string {
	if c.IsText {
		return c.Text
	}
	out := ""
	for i, b := range c.Blocks {
		if i > 0 {
			out += "\n"
		}
		out += b.Text
	}
	return out
}

// ContentBlock is the request-direction tagged content-block variant:
// text, image, tool_use, or tool_result. Exactly one of the type-specific
// fields is populated, selected by Type.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string             `json:"tool_use_id,omitempty"`
	Content   *ToolResultContent `json:"content,omitempty"`
	IsError   bool               `json:"is_error,omitempty"`
}

// Validate rejects only the structural errors the spec calls out:
// an unknown block type or a malformed image source.
func (b ContentBlock) Validate() error {
	switch b.Type {
	case BlockText, BlockToolUse, BlockToolResult:
		return nil
	case BlockImage:
		if b.Source == nil || b.Source.MediaType == "" || b.Source.Data == "" {
			return fmt.Errorf("malformed image block: missing source, media_type or data")
		}
		if _, err := base64.StdEncoding.DecodeString(b.Source.Data); err != nil {
			return fmt.Errorf("malformed image block: data is not valid base64: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown content block type %q", b.Type)
	}
}

// ResponseBlockType discriminates the response-direction content block,
// a narrower union than the request direction (text or tool_use only).
type ResponseBlockType string

const (
	ResponseBlockText    ResponseBlockType = "text"
	ResponseBlockToolUse ResponseBlockType = "tool_use"
)

// ResponseBlock is one block of an Anthropic response message.
type ResponseBlock struct {
	Type ResponseBlockType `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`
}

// Usage is Anthropic's token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is a non-streaming Anthropic Messages API response.
type Response struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Role         string          `json:"role"`
	Model        string          `json:"model"`
	Content      []ResponseBlock `json:"content"`
	StopReason   string          `json:"stop_reason"`
	StopSequence *string         `json:"stop_sequence"`
	Usage        Usage           `json:"usage"`
}

// ErrorKind enumerates the Anthropic error envelope's error.type values.
type ErrorKind string

const (
	ErrInvalidRequest    ErrorKind = "invalid_request"
	ErrAuthentication    ErrorKind = "authentication_error"
	ErrPermission        ErrorKind = "permission_error"
	ErrNotFound          ErrorKind = "not_found_error"
	ErrRateLimit         ErrorKind = "rate_limit_error"
	ErrAPI               ErrorKind = "api_error"
	ErrOverloaded        ErrorKind = "overloaded_error"
)

// ErrorEnvelope is the Anthropic-shaped error body sent to clients.
type ErrorEnvelope struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the kind and message of an ErrorEnvelope.
type ErrorDetail struct {
	Type    ErrorKind `json:"type"`
	Message string    `json:"message"`
}

// NewErrorEnvelope builds the standard error: {type:"error", error:{...}} body.
func NewErrorEnvelope(kind ErrorKind, message string) ErrorEnvelope {
	return ErrorEnvelope{
		Type: "error",
		Error: ErrorDetail{
			Type:    kind,
			Message: message,
		},
	}
}
