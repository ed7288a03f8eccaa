package httpapi

import (
	"context"
	"io"
	"time"
)

// idleTimeoutReader wraps an upstream response body and cancels ctx (via
// cancel) if no Read returns data within timeout. This lets the
// streaming translator's blocking read unblock with an error instead of
// hanging forever on a silently dead upstream connection. The translator
// itself (internal/translate/stream) turns that cancellation into a
// graceful message_delta/message_stop closure when at least one content
// block was already open, or surfaces it as a stream error otherwise.
type idleTimeoutReader struct {
	ctx     context.Context
	r       io.Reader
	timeout time.Duration
	cancel  context.CancelFunc
	timer   *time.Timer
}

func newIdleTimeoutReader(ctx context.Context, r io.Reader, timeout time.Duration, cancel context.CancelFunc) *idleTimeoutReader {
	ir := &idleTimeoutReader{ctx: ctx, r: r, timeout: timeout, cancel: cancel}
	ir.timer = time.AfterFunc(timeout, cancel)
	return ir
}

func (ir *idleTimeoutReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.timer.Reset(ir.timeout)
	}
	return n, err
}
