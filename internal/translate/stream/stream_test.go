package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"anthrobridge/internal/sse"
)

// recordingSink captures every emitted event in order.
type recordingSink struct {
	events []sse.Event
}

func (r *recordingSink) Send(e sse.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) eventTypes() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Event
	}
	return out
}

func (r *recordingSink) decode(t *testing.T, i int) map[string]any {
	t.Helper()
	var v map[string]any
	if err := json.Unmarshal([]byte(r.events[i].Data), &v); err != nil {
		t.Fatalf("event %d: invalid JSON: %v", i, err)
	}
	return v
}

func run(t *testing.T, body string) *recordingSink {
	t.Helper()
	sink := &recordingSink{}
	err := Translate(context.Background(), strings.NewReader(body), sink, "claude-3-5-sonnet-20241022", func(error) {})
	if err != nil && err != io.EOF {
		t.Fatalf("Translate returned error: %v", err)
	}
	return sink
}

func TestPlainTextStream(t *testing.T) {
	body := "" +
		`data: {"id":"1","model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant"}}]}` + "\n\n" +
		`data: {"choices":[{"index":0,"delta":{"content":"Hello"}}]}` + "\n\n" +
		`data: {"choices":[{"index":0,"delta":{"content":" world"}}]}` + "\n\n" +
		`data: {"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}` + "\n\n" +
		`data: [DONE]` + "\n\n"

	sink := run(t, body)

	got := sink.eventTypes()
	want := []string{"message_start", "content_block_start", "content_block_delta", "content_block_delta", "content_block_stop", "message_delta", "message_stop"}
	if len(got) != len(want) {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	delta := sink.decode(t, len(sink.events)-2)
	if delta["delta"].(map[string]any)["stop_reason"] != "end_turn" {
		t.Errorf("stop_reason = %v, want end_turn", delta["delta"])
	}
}

func TestSingleToolCallStream(t *testing.T) {
	body := "" +
		`data: {"choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_weather","arguments":""}}]}}]}` + "\n\n" +
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"loc"}}]}}]}` + "\n\n" +
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ation\":\"SF\"}"}}]}}]}` + "\n\n" +
		`data: {"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}` + "\n\n" +
		`data: [DONE]` + "\n\n"

	sink := run(t, body)

	got := sink.eventTypes()
	want := []string{"message_start", "content_block_start", "content_block_delta", "content_block_delta", "content_block_stop", "message_delta", "message_stop"}
	if len(got) != len(want) {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}

	start := sink.decode(t, 1)
	block := start["content_block"].(map[string]any)
	if block["type"] != "tool_use" || block["name"] != "get_weather" || block["id"] != "call_1" {
		t.Errorf("content_block_start = %v", block)
	}

	var assembled strings.Builder
	assembled.WriteString(sink.decode(t, 2)["delta"].(map[string]any)["partial_json"].(string))
	assembled.WriteString(sink.decode(t, 3)["delta"].(map[string]any)["partial_json"].(string))
	var parsed map[string]any
	if err := json.Unmarshal([]byte(assembled.String()), &parsed); err != nil {
		t.Fatalf("reassembled arguments are not valid JSON: %v (%q)", err, assembled.String())
	}
	if parsed["location"] != "SF" {
		t.Errorf("parsed arguments = %v", parsed)
	}

	delta := sink.decode(t, len(sink.events)-2)
	if delta["delta"].(map[string]any)["stop_reason"] != "tool_use" {
		t.Errorf("stop_reason = %v, want tool_use", delta["delta"])
	}
}

func TestMixedTextAndToolCallStream(t *testing.T) {
	body := "" +
		`data: {"choices":[{"index":0,"delta":{"content":"Let me check"}}]}` + "\n\n" +
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"lookup","arguments":"{}"}}]}}]}` + "\n\n" +
		`data: {"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}` + "\n\n" +
		`data: [DONE]` + "\n\n"

	sink := run(t, body)
	got := sink.eventTypes()
	want := []string{"message_start", "content_block_start", "content_block_delta", "content_block_stop", "content_block_start", "content_block_delta", "content_block_stop", "message_delta", "message_stop"}
	if len(got) != len(want) {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}

	textStart := sink.decode(t, 1)
	if int(textStart["index"].(float64)) != 0 {
		t.Errorf("text block index = %v, want 0", textStart["index"])
	}
	toolStart := sink.decode(t, 4)
	if int(toolStart["index"].(float64)) != 1 {
		t.Errorf("tool block index = %v, want 1", toolStart["index"])
	}
}

func TestEmptyDeltaContentNeverOpensBlock(t *testing.T) {
	body := "" +
		`data: {"choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}` + "\n\n" +
		`data: {"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}` + "\n\n" +
		`data: [DONE]` + "\n\n"

	sink := run(t, body)
	got := sink.eventTypes()
	want := []string{"message_start", "message_delta", "message_stop"}
	if len(got) != len(want) {
		t.Fatalf("event sequence = %v, want %v (no content_block_start expected)", got, want)
	}
}

func TestNoUpstreamUsageDefaultsToZero(t *testing.T) {
	body := "" +
		`data: {"choices":[{"index":0,"delta":{"content":"hi"}}]}` + "\n\n" +
		`data: {"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}` + "\n\n" +
		`data: [DONE]` + "\n\n"

	sink := run(t, body)
	start := sink.decode(t, 0)
	usage := start["message"].(map[string]any)["usage"].(map[string]any)
	if usage["input_tokens"] != float64(0) || usage["output_tokens"] != float64(0) {
		t.Errorf("message_start usage = %v, want zeros", usage)
	}

	delta := sink.decode(t, len(sink.events)-2)
	if delta["usage"].(map[string]any)["output_tokens"] != float64(0) {
		t.Errorf("message_delta usage = %v, want zero output_tokens", delta["usage"])
	}
}

func TestMalformedChunkIsSkippedNotFatal(t *testing.T) {
	body := "" +
		`data: {not valid json` + "\n\n" +
		`data: {"choices":[{"index":0,"delta":{"content":"ok"}}]}` + "\n\n" +
		`data: {"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}` + "\n\n" +
		`data: [DONE]` + "\n\n"

	var parseErrs int
	sink := &recordingSink{}
	err := Translate(context.Background(), strings.NewReader(body), sink, "m", func(error) { parseErrs++ })
	if err != nil {
		t.Fatalf("Translate returned error: %v", err)
	}
	if parseErrs != 1 {
		t.Errorf("parse error callback fired %d times, want 1", parseErrs)
	}
	got := sink.eventTypes()
	want := []string{"message_start", "content_block_start", "content_block_delta", "content_block_stop", "message_delta", "message_stop"}
	if len(got) != len(want) {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}
}

// cancelAfterFirstRead cancels ctx once the underlying reader has
// produced its first bytes, simulating an idle timeout (or disconnect)
// that fires after some, but not all, of the upstream stream was read.
type cancelAfterFirstRead struct {
	r      io.Reader
	cancel context.CancelFunc
	fired  bool
}

func (c *cancelAfterFirstRead) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if !c.fired {
		c.fired = true
		c.cancel()
	}
	return n, err
}

func TestCancellationWithOpenBlockClosesGracefully(t *testing.T) {
	body := `data: {"choices":[{"index":0,"delta":{"content":"partial"}}]}` + "\n\n"

	ctx, cancel := context.WithCancel(context.Background())
	r := &cancelAfterFirstRead{r: strings.NewReader(body), cancel: cancel}

	sink := &recordingSink{}
	err := Translate(ctx, r, sink, "m", func(error) {})
	if err != nil {
		t.Fatalf("Translate returned error: %v, want graceful closure", err)
	}

	got := sink.eventTypes()
	want := []string{"message_start", "content_block_start", "content_block_delta", "content_block_stop", "message_delta", "message_stop"}
	if len(got) != len(want) {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	delta := sink.decode(t, len(sink.events)-2)
	if delta["delta"].(map[string]any)["stop_reason"] != "end_turn" {
		t.Errorf("stop_reason = %v, want end_turn", delta["delta"])
	}
}

func TestCancellationWithNoContentReturnsError(t *testing.T) {
	body := `data: {"choices":[{"index":0,"delta":{"role":"assistant"}}]}` + "\n\n"

	ctx, cancel := context.WithCancel(context.Background())
	r := &cancelAfterFirstRead{r: strings.NewReader(body), cancel: cancel}

	sink := &recordingSink{}
	err := Translate(ctx, r, sink, "m", func(error) {})
	if err == nil {
		t.Fatal("Translate returned nil, want the cancellation error (no block was ever opened)")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Translate error = %v, want context.Canceled", err)
	}

	got := sink.eventTypes()
	for _, e := range got {
		if e == "message_delta" || e == "message_stop" {
			t.Errorf("event sequence = %v, should not contain a graceful closure", got)
		}
	}
}

func TestMessageStartAndStopAreUniqueAndOrdered(t *testing.T) {
	body := "" +
		`data: {"choices":[{"index":0,"delta":{"content":"a"}}]}` + "\n\n" +
		`data: {"choices":[{"index":0,"delta":{"content":"b"}}]}` + "\n\n" +
		`data: {"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}` + "\n\n" +
		`data: [DONE]` + "\n\n"

	sink := run(t, body)
	starts, stops := 0, 0
	for i, e := range sink.events {
		if e.Event == "message_start" {
			starts++
			if i != 0 {
				t.Errorf("message_start at position %d, want 0", i)
			}
		}
		if e.Event == "message_stop" {
			stops++
			if i != len(sink.events)-1 {
				t.Errorf("message_stop at position %d, want last", i)
			}
		}
	}
	if starts != 1 || stops != 1 {
		t.Errorf("message_start count=%d message_stop count=%d, want 1 and 1", starts, stops)
	}
}
