// Package metrics provides Prometheus-compatible metrics collection for
// the proxy, hand-rolled on sync/atomic counters rather than the
// prometheus client library (teacher's own convention).
package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Collector collects and exposes Prometheus-compatible metrics for the
// translation pipeline.
type Collector struct {
	requestCount    int64
	requestErrors   int64
	requestDuration int64 // total milliseconds

	upstreamRequests int64
	upstreamErrors   int64
	upstreamDuration int64 // total milliseconds

	blocksOpened      int64
	toolCallsStreamed int64

	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// RecordHTTPRequest records one inbound /v1/messages call.
func (c *Collector) RecordHTTPRequest(duration time.Duration, statusCode int) {
	atomic.AddInt64(&c.requestCount, 1)
	atomic.AddInt64(&c.requestDuration, duration.Milliseconds())
	if statusCode >= 400 {
		atomic.AddInt64(&c.requestErrors, 1)
	}
}

// RecordUpstreamRequest records one outbound Chat Completions call.
func (c *Collector) RecordUpstreamRequest(duration time.Duration, err error) {
	atomic.AddInt64(&c.upstreamRequests, 1)
	atomic.AddInt64(&c.upstreamDuration, duration.Milliseconds())
	if err != nil {
		atomic.AddInt64(&c.upstreamErrors, 1)
	}
}

// RecordBlockOpened records a content_block_start emitted by the
// streaming translator, tagged by whether it was a tool_use block.
func (c *Collector) RecordBlockOpened(isToolUse bool) {
	atomic.AddInt64(&c.blocksOpened, 1)
	if isToolUse {
		atomic.AddInt64(&c.toolCallsStreamed, 1)
	}
}

// PrometheusFormat returns metrics in Prometheus exposition format.
func (c *Collector) PrometheusFormat() string {
	var output string

	output += formatCounter("anthrobridge_http_requests_total", atomic.LoadInt64(&c.requestCount))
	output += formatCounter("anthrobridge_http_request_errors_total", atomic.LoadInt64(&c.requestErrors))
	if count := atomic.LoadInt64(&c.requestCount); count > 0 {
		avg := float64(atomic.LoadInt64(&c.requestDuration)) / float64(count)
		output += formatGauge("anthrobridge_http_request_duration_avg_ms", avg)
	}

	output += formatCounter("anthrobridge_upstream_requests_total", atomic.LoadInt64(&c.upstreamRequests))
	output += formatCounter("anthrobridge_upstream_errors_total", atomic.LoadInt64(&c.upstreamErrors))
	if count := atomic.LoadInt64(&c.upstreamRequests); count > 0 {
		avg := float64(atomic.LoadInt64(&c.upstreamDuration)) / float64(count)
		output += formatGauge("anthrobridge_upstream_request_duration_avg_ms", avg)
	}

	output += formatCounter("anthrobridge_content_blocks_opened_total", atomic.LoadInt64(&c.blocksOpened))
	output += formatCounter("anthrobridge_tool_calls_streamed_total", atomic.LoadInt64(&c.toolCallsStreamed))

	output += formatGauge("anthrobridge_uptime_seconds", time.Since(c.startTime).Seconds())

	return output
}

func formatCounter(name string, value int64) string {
	return fmt.Sprintf("%s %d\n", name, value)
}

func formatGauge(name string, value float64) string {
	return fmt.Sprintf("%s %.2f\n", name, value)
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(c.PrometheusFormat()))
	}
}
