// Package stream implements the streaming translator: it consumes
// upstream Chat Completions SSE chunks and emits the Anthropic Messages
// SSE event sequence (message_start .. message_stop), tracking content
// block lifecycle and tool-call argument reassembly as it goes.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"anthrobridge/internal/model"
	"anthrobridge/internal/sse"
	"anthrobridge/internal/translate"
)

// EventSink is the minimal surface the translator needs from a client
// connection: send one SSE event, synchronously, propagating backpressure
// and cancellation through its error return.
type EventSink interface {
	Send(sse.Event) error
}

// blockKind distinguishes the two content-block shapes the streaming
// translator ever opens.
type blockKind int

const (
	kindText blockKind = iota
	kindToolUse
)

// openBlock records one allocated Anthropic content-block index.
type openBlock struct {
	kind   blockKind
	id     string
	name   string
	buffer string // accumulated input_json_delta fragments, tool blocks only
}

// state is the per-request streaming translator state described in
// SPEC_FULL.md §1.5 (Streaming translator state).
type state struct {
	messageID      string
	model          string
	blocks         []openBlock
	currentText    int // index into blocks, or -1 if none open
	toolSlots      map[int]int // upstream slot index -> index into blocks
	inputTokens    int
	outputTokens   int
	finishReason   string
	messageStarted bool
}

func newState(model string) *state {
	return &state{
		messageID:   "msg_" + uuid.NewString(),
		model:       model,
		currentText: -1,
		toolSlots:   make(map[int]int),
	}
}

// Translate reads upstream Chat Completions SSE chunks from r and emits
// the corresponding Anthropic Messages SSE event sequence to sink, until
// the upstream stream ends, ctx is cancelled, or an unrecoverable error
// occurs. resolvedModel is echoed in message_start.message.model (the
// model-override result, not necessarily what the client requested).
//
// Malformed upstream JSON chunks are logged via onParseError and skipped;
// they never terminate the stream. If ctx is cancelled (idle timeout or
// client disconnect) after at least one content block was opened, the
// stream is closed gracefully with a forced stop_reason "end_turn"
// instead of propagating the cancellation; with no block ever opened,
// the cancellation is returned as-is. Either way, a closed sink never
// receives a write after its own context is done: sink.Send fails fast
// on a dead connection instead of attempting one.
func Translate(ctx context.Context, r io.Reader, sink EventSink, resolvedModel string, onParseError func(error)) error {
	st := newState(resolvedModel)
	parser := sse.NewParser(r)

	for {
		if err := ctx.Err(); err != nil {
			return closeOnCancel(st, sink, err)
		}

		event, err := parser.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return finish(st, sink)
			}
			if ctx.Err() != nil {
				return closeOnCancel(st, sink, fmt.Errorf("reading upstream stream: %w", err))
			}
			return fmt.Errorf("reading upstream stream: %w", err)
		}

		if event.Data == "" {
			continue
		}
		if event.Data == "[DONE]" {
			return finish(st, sink)
		}

		var chunk model.ChatStreamChunk
		if err := json.Unmarshal([]byte(event.Data), &chunk); err != nil {
			if onParseError != nil {
				onParseError(fmt.Errorf("unmarshal upstream chunk: %w", err))
			}
			continue
		}

		if err := handleChunk(st, &chunk, sink); err != nil {
			return err
		}
	}
}

func handleChunk(st *state, chunk *model.ChatStreamChunk, sink EventSink) error {
	if !st.messageStarted {
		if chunk.Model != "" {
			st.model = chunk.Model
		}
		if chunk.Usage != nil {
			st.inputTokens = chunk.Usage.PromptTokens
		}
		if err := sendMessageStart(st, sink); err != nil {
			return err
		}
	}

	if chunk.Usage != nil {
		st.outputTokens = chunk.Usage.CompletionTokens
	}

	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0] // §1.11 Open Question 2: only choices[0] is ever consulted

	if choice.Delta.Content != "" {
		if err := appendText(st, sink, choice.Delta.Content); err != nil {
			return err
		}
	}

	for _, tc := range choice.Delta.ToolCalls {
		if err := appendToolCall(st, sink, tc); err != nil {
			return err
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		st.finishReason = *choice.FinishReason
	}

	return nil
}

func sendMessageStart(st *state, sink EventSink) error {
	st.messageStarted = true
	payload := map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            st.messageID,
			"type":          "message",
			"role":          "assistant",
			"model":         st.model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage": map[string]any{
				"input_tokens":  st.inputTokens,
				"output_tokens": 0,
			},
		},
	}
	return emit(sink, "message_start", payload)
}

func appendText(st *state, sink EventSink, fragment string) error {
	if st.currentText == -1 {
		idx := len(st.blocks)
		st.blocks = append(st.blocks, openBlock{kind: kindText})
		st.currentText = idx
		if err := emit(sink, "content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": idx,
			"content_block": map[string]any{
				"type": "text",
				"text": "",
			},
		}); err != nil {
			return err
		}
	}
	return emit(sink, "content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": st.currentText,
		"delta": map[string]any{
			"type": "text_delta",
			"text": fragment,
		},
	})
}

func appendToolCall(st *state, sink EventSink, tc model.ChatStreamToolCall) error {
	idx, exists := st.toolSlots[tc.Index]
	if !exists {
		if st.currentText != -1 {
			if err := closeBlock(st, sink, st.currentText); err != nil {
				return err
			}
			st.currentText = -1
		}

		idx = len(st.blocks)
		st.toolSlots[tc.Index] = idx

		id := tc.ID
		if id == "" {
			id = "toolu_" + uuid.NewString()
		}
		name := ""
		if tc.Function != nil {
			name = tc.Function.Name
		}
		st.blocks = append(st.blocks, openBlock{kind: kindToolUse, id: id, name: name})

		if err := emit(sink, "content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": idx,
			"content_block": map[string]any{
				"type":  "tool_use",
				"id":    id,
				"name":  name,
				"input": map[string]any{},
			},
		}); err != nil {
			return err
		}
	} else if tc.Function != nil && tc.Function.Name != "" && st.blocks[idx].name == "" {
		// Name arrives on a later fragment than the first sight of this
		// slot: update the record, but per §1.11 Open Question 1 do not
		// re-emit a corrected content_block_start.
		st.blocks[idx].name = tc.Function.Name
	}

	if tc.Function != nil && tc.Function.Arguments != "" {
		st.blocks[idx].buffer += tc.Function.Arguments
		if err := emit(sink, "content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": idx,
			"delta": map[string]any{
				"type":         "input_json_delta",
				"partial_json": tc.Function.Arguments,
			},
		}); err != nil {
			return err
		}
	}

	return nil
}

func closeBlock(st *state, sink EventSink, idx int) error {
	return emit(sink, "content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": idx,
	})
}

// closeOnCancel implements the cancellation closure contract (§1.8): if
// at least one content block was opened before ctx was cancelled (idle
// timeout or client disconnect), the stream is closed the same way a
// normal finish would, with stop_reason forced to "end_turn" since the
// upstream never reported its own finish reason. Otherwise cause is
// returned unchanged so the caller can report it as a failed request.
//
// On a genuine client disconnect this still resolves correctly: sink.Send
// fails immediately (the client's own context is already done), so
// finish's first emit returns that error instead of writing anything.
func closeOnCancel(st *state, sink EventSink, cause error) error {
	if len(st.blocks) == 0 {
		return cause
	}
	st.finishReason = ""
	return finish(st, sink)
}

// finish closes every still-open block in index order, then emits
// message_delta and message_stop. Called once, whichever way the stream
// ends (DONE sentinel, upstream EOF, idle timeout).
func finish(st *state, sink EventSink) error {
	if !st.messageStarted {
		// Upstream closed before a single chunk arrived: nothing to close.
		if err := sendMessageStart(st, sink); err != nil {
			return err
		}
	}

	if st.currentText != -1 {
		if err := closeBlock(st, sink, st.currentText); err != nil {
			return err
		}
		st.currentText = -1
	}
	for slot := 0; slot < len(st.blocks); slot++ {
		// tool_use blocks not already closed above (text is handled
		// separately since at most one is ever open).
		if st.blocks[slot].kind == kindToolUse {
			if err := closeBlock(st, sink, slot); err != nil {
				return err
			}
		}
	}

	stopReason := translate.MapFinishReason(st.finishReason)
	if err := emit(sink, "message_delta", map[string]any{
		"type": "message_delta",
		"delta": map[string]any{
			"stop_reason":   stopReason,
			"stop_sequence": nil,
		},
		"usage": map[string]any{
			"output_tokens": st.outputTokens,
		},
	}); err != nil {
		return err
	}

	return emit(sink, "message_stop", map[string]any{"type": "message_stop"})
}

func emit(sink EventSink, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return sink.Send(sse.Event{Event: eventType, Data: string(data)})
}
