// Package upstream constructs and issues the outbound Chat Completions
// request the translated Anthropic request is forwarded as.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"anthrobridge/internal/model"
)

// ClientConfig configures the shared HTTP client used for every upstream
// call. One Invoker, and the http.Client it wraps, is built at startup and
// reused (with its connection pool) across all requests.
type ClientConfig struct {
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
}

// DefaultClientConfig returns sensible defaults for a single-upstream proxy.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DialTimeout:           10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
	}
}

// Invoker issues translated requests against the configured upstream.
type Invoker struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewInvoker builds an Invoker targeting baseURL (the upstream root,
// without a trailing slash or /v1 suffix). apiKey may be empty, in which
// case no Authorization header is attached.
func NewInvoker(baseURL, apiKey string, cfg ClientConfig) *Invoker {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
	}
	// Chat Completions streams are long-lived and benefit from HTTP/2
	// multiplexing across concurrent requests to the same upstream host.
	_ = http2.ConfigureTransport(transport)

	return &Invoker{
		httpClient: &http.Client{Transport: transport},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// Invoke sends req to <baseURL>/v1/chat/completions and returns the raw
// HTTP response. The caller is responsible for closing resp.Body and for
// inspecting resp.StatusCode before reading it as a success body or an
// error body; Invoke itself only reports transport-level failures.
func (inv *Invoker) Invoke(ctx context.Context, req *model.ChatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream request: %w", err)
	}

	url := inv.baseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if inv.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+inv.apiKey)
	}

	resp, err := inv.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	return resp, nil
}

// Close releases the invoker's idle connections.
func (inv *Invoker) Close() {
	inv.httpClient.CloseIdleConnections()
}
