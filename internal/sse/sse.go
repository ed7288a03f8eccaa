// Package sse parses the upstream Chat Completions event stream and
// writes the outbound Anthropic Messages event stream. It knows nothing
// about either JSON shape; translate/stream drives the translation and
// only ever calls Next on the read side and Send on the write side.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"anthrobridge/internal/logger"
)

// Event is one event: field. Fields absent on the wire are zero-valued.
type Event struct {
	ID    string
	Event string
	Data  string
	Retry int
}

// Parser splits an io.Reader into Events, per the SSE field grammar
// (id/event/data/retry, blank line terminates, leading colon is a
// comment). Multiple data: lines join with '\n'.
type Parser struct {
	r      *bufio.Reader
	event  Event
	data   bytes.Buffer
	hasAny bool
}

func NewParser(r io.Reader) *Parser {
	return &Parser{r: bufio.NewReader(r)}
}

// Next returns the next parsed event, or io.EOF once the reader is
// exhausted with no trailing partial event.
func (p *Parser) Next() (Event, error) {
	p.event = Event{}
	p.data.Reset()
	p.hasAny = false

	for {
		line, err := p.r.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return Event{}, err
			}
			if ev, ok := p.takeEvent(); ok {
				return ev, nil
			}
			return Event{}, io.EOF
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if ev, ok := p.takeEvent(); ok {
				return ev, nil
			}
			continue
		}
		if line[0] == ':' {
			continue
		}
		p.applyField(line)
		p.hasAny = true
	}
}

func (p *Parser) takeEvent() (Event, bool) {
	if p.data.Len() == 0 && p.event.ID == "" && p.event.Event == "" && !p.hasAny {
		return Event{}, false
	}
	p.event.Data = p.data.String()
	return p.event, true
}

func (p *Parser) applyField(line []byte) {
	name, value, _ := bytes.Cut(line, []byte(":"))
	value = bytes.TrimPrefix(value, []byte(" "))

	switch string(name) {
	case "id":
		p.event.ID = string(value)
	case "event":
		p.event.Event = string(value)
	case "data":
		if p.data.Len() > 0 {
			p.data.WriteByte('\n')
		}
		p.data.Write(value)
	case "retry":
		if retry, err := strconv.Atoi(string(value)); err == nil {
			p.event.Retry = retry
		}
	}
}

// Client is one outbound SSE connection: an http.ResponseWriter already
// committed to text/event-stream, plus the request's disconnect signal.
type Client struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewClient commits the response as an SSE stream (headers + 200) and
// returns a Client bound to the request's lifetime. Returns an error if
// w doesn't support flushing.
func NewClient(w http.ResponseWriter, r *http.Request) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported: response writer does not implement http.Flusher")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	c := &Client{w: w, flusher: flusher, ctx: ctx, cancel: cancel, done: make(chan struct{})}

	go func() {
		<-r.Context().Done()
		c.Close()
	}()

	return c, nil
}

// Send writes one complete event. It never writes a partial event: the
// whole id/event/retry/data block is built before the single underlying
// Write, so a write failure mid-event is impossible.
func (c *Client) Send(event Event) error {
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
	}

	var buf strings.Builder
	if event.ID != "" {
		fmt.Fprintf(&buf, "id: %s\n", escapeField(event.ID))
	}
	if event.Event != "" {
		fmt.Fprintf(&buf, "event: %s\n", escapeField(event.Event))
	}
	if event.Retry > 0 {
		fmt.Fprintf(&buf, "retry: %d\n", event.Retry)
	}
	for _, line := range strings.Split(event.Data, "\n") {
		fmt.Fprintf(&buf, "data: %s\n", line)
	}
	buf.WriteByte('\n')

	c.mu.Lock()
	_, err := io.WriteString(c.w, buf.String())
	if err == nil {
		c.flusher.Flush()
	}
	c.mu.Unlock()

	if err != nil {
		logger.Get().Debug("sse write failed", "error", err, "event_type", event.Event)
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// SendPing emits an Anthropic-shaped ping event: a whole event:/data:
// pair, never interleaved mid-event.
func (c *Client) SendPing() error {
	return c.Send(Event{Event: "ping", Data: `{"type":"ping"}`})
}

// Close marks the client disconnected. Safe to call more than once and
// from a goroutine other than the one driving Send.
func (c *Client) Close() error {
	c.once.Do(func() {
		c.cancel()
		close(c.done)
	})
	return nil
}

// Done reports client disconnect, whether from the request context or
// an explicit Close.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Context is canceled on client disconnect.
func (c *Client) Context() context.Context {
	return c.ctx
}

// escapeField keeps id/event field values on one line; data uses the
// data: splitting above instead, since newlines are meaningful there.
func escapeField(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}
