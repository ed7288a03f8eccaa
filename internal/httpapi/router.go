// Package httpapi wires the translation core to an HTTP listener: it
// chooses the streaming or non-streaming path, applies model overrides,
// attaches optional authentication, and pipes bytes between the client
// and the upstream invoker.
package httpapi

import (
	"net/http"
	"time"

	"anthrobridge/internal/auth"
	"anthrobridge/internal/auth/cedar"
	"anthrobridge/internal/metrics"
	"anthrobridge/internal/translate"
	"anthrobridge/internal/upstream"
)

// Router holds every collaborator the HTTP handlers need.
type Router struct {
	invoker   *upstream.Invoker
	overrides translate.ModelOverrides
	metrics   *metrics.Collector

	idleTimeout  time.Duration
	pingInterval time.Duration

	verifier *auth.Verifier             // nil disables inbound JWT verification
	pdp      *cedar.PolicyDecisionPoint // nil disables per-model authorization
}

// Options configures a Router. Verifier and PDP are optional; a nil value
// disables the corresponding check entirely.
type Options struct {
	Invoker      *upstream.Invoker
	Overrides    translate.ModelOverrides
	Metrics      *metrics.Collector
	IdleTimeout  time.Duration
	PingInterval time.Duration
	Verifier     *auth.Verifier
	PDP          *cedar.PolicyDecisionPoint
}

// NewRouter builds a Router from opts.
func NewRouter(opts Options) *Router {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 10 * time.Minute
	}
	if opts.PingInterval == 0 {
		opts.PingInterval = 15 * time.Second
	}
	return &Router{
		invoker:      opts.Invoker,
		overrides:    opts.Overrides,
		metrics:      opts.Metrics,
		idleTimeout:  opts.IdleTimeout,
		pingInterval: opts.PingInterval,
		verifier:     opts.Verifier,
		pdp:          opts.PDP,
	}
}

// Register mounts every handler on mux.
func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", rt.health)
	mux.HandleFunc("/metrics", rt.metricsHandler)
	mux.HandleFunc("/v1/messages", rt.messages)
}

func (rt *Router) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (rt *Router) metricsHandler(w http.ResponseWriter, r *http.Request) {
	rt.metrics.Handler()(w, r)
}
