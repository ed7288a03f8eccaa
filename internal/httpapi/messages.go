package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"anthrobridge/internal/logger"
	"anthrobridge/internal/metrics"
	"anthrobridge/internal/model"
	"anthrobridge/internal/observability"
	"anthrobridge/internal/sse"
	"anthrobridge/internal/translate"
	"anthrobridge/internal/translate/stream"
)

func (rt *Router) messages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	start := time.Now()
	requestID := "req_" + uuid.NewString()
	log := logger.WithRequestID(requestID)

	var anthReq model.Request
	reqBody, err := io.ReadAll(r.Body)
	if err == nil {
		err = json.Unmarshal(reqBody, &anthReq)
	}
	if err != nil {
		rt.metrics.RecordHTTPRequest(time.Since(start), http.StatusBadRequest)
		badRequest(w, fmt.Errorf("decoding request body: %w", err))
		return
	}
	var fields map[string]json.RawMessage
	if json.Unmarshal(reqBody, &fields) == nil {
		for _, name := range []string{"tool_choice", "service_tier", "metadata", "context_management", "container"} {
			if _, present := fields[name]; present {
				log.Debug("dropping unsupported request field", "field", name)
			}
		}
	}

	chatReq, err := translate.Request(&anthReq, rt.overrides)
	if err != nil {
		rt.metrics.RecordHTTPRequest(time.Since(start), http.StatusBadRequest)
		badRequest(w, err)
		return
	}
	resolvedModel := translate.ResolveModel(&anthReq, rt.overrides)

	if principal, ok := rt.authenticate(w, r); !ok {
		rt.metrics.RecordHTTPRequest(time.Since(start), http.StatusUnauthorized)
		return
	} else if !rt.authorize(w, principal, resolvedModel) {
		rt.metrics.RecordHTTPRequest(time.Since(start), http.StatusForbidden)
		return
	}

	ctx, span := observability.StartRequestSpan(r.Context(), requestID, resolvedModel, anthReq.Stream)
	defer span.End()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	upstreamStart := time.Now()
	resp, err := rt.invoker.Invoke(ctx, chatReq)
	rt.metrics.RecordUpstreamRequest(time.Since(upstreamStart), err)
	if err != nil {
		log.Error("upstream invocation failed", "error", err)
		rt.metrics.RecordHTTPRequest(time.Since(start), http.StatusBadGateway)
		transportError(w, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		rt.metrics.RecordHTTPRequest(time.Since(start), resp.StatusCode)
		upstreamError(w, resp.StatusCode, upstreamErrorMessage(resp.StatusCode, body))
		return
	}

	if anthReq.Stream {
		rt.handleStreaming(ctx, cancel, w, r, resp, resolvedModel, span, start)
		return
	}
	rt.handleNonStreaming(w, resp, resolvedModel, span, start)
}

// authenticate verifies the inbound bearer token when a verifier is
// configured; it is a no-op (always authorized, empty principal) when
// rt.verifier is nil.
func (rt *Router) authenticate(w http.ResponseWriter, r *http.Request) (principal string, ok bool) {
	if rt.verifier == nil {
		return "", true
	}

	authz := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(authz, "Bearer ")
	if !found || token == "" {
		writeErrorEnvelope(w, http.StatusUnauthorized, model.NewErrorEnvelope(model.ErrAuthentication, "missing bearer token"))
		return "", false
	}

	claims, err := rt.verifier.Verify(token)
	if err != nil {
		writeErrorEnvelope(w, http.StatusUnauthorized, model.NewErrorEnvelope(model.ErrAuthentication, "invalid bearer token"))
		return "", false
	}
	return claims.Subject, true
}

// authorize checks per-model Cedar authorization when a policy decision
// point is configured; it is a no-op (always allowed) when rt.pdp is nil.
func (rt *Router) authorize(w http.ResponseWriter, principal, modelName string) bool {
	if rt.pdp == nil {
		return true
	}
	allowed, err := rt.pdp.IsModelAllowed(principal, modelName)
	if err != nil {
		writeErrorEnvelope(w, http.StatusForbidden, model.NewErrorEnvelope(model.ErrPermission, "authorization check failed"))
		return false
	}
	if !allowed {
		writeErrorEnvelope(w, http.StatusForbidden, model.NewErrorEnvelope(model.ErrPermission, "model not permitted for this principal"))
		return false
	}
	return true
}

func (rt *Router) handleNonStreaming(w http.ResponseWriter, resp *http.Response, resolvedModel string, span trace.Span, start time.Time) {
	var chatResp model.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		rt.metrics.RecordHTTPRequest(time.Since(start), http.StatusBadGateway)
		transportError(w, fmt.Errorf("decoding upstream response: %w", err))
		return
	}

	anthResp := translate.Response(&chatResp, resolvedModel)
	observability.RecordTokenUsage(span, anthResp.Usage.InputTokens, anthResp.Usage.OutputTokens)
	rt.metrics.RecordHTTPRequest(time.Since(start), http.StatusOK)
	writeJSON(w, http.StatusOK, anthResp)
}

func (rt *Router) handleStreaming(ctx context.Context, cancel context.CancelFunc, w http.ResponseWriter, r *http.Request, resp *http.Response, resolvedModel string, span trace.Span, start time.Time) {
	client, err := sse.NewClient(w, r)
	if err != nil {
		rt.metrics.RecordHTTPRequest(time.Since(start), http.StatusInternalServerError)
		transportError(w, err)
		return
	}
	defer client.Close()

	body := newIdleTimeoutReader(ctx, resp.Body, rt.idleTimeout, cancel)

	stopPing := make(chan struct{})
	go rt.pingLoop(client, stopPing)
	defer close(stopPing)

	sink := &meteringSink{client: client, metrics: rt.metrics}

	var parseErrCount int64
	onParseError := func(err error) {
		atomic.AddInt64(&parseErrCount, 1)
		logger.Get().Debug("skipping malformed upstream chunk", "error", err)
	}

	err = stream.Translate(ctx, body, sink, resolvedModel, onParseError)
	rt.metrics.RecordHTTPRequest(time.Since(start), http.StatusOK)
	if err == nil {
		// Either a normal finish, or the idle timeout fired after at
		// least one content block was opened: stream.Translate already
		// closed the stream gracefully (message_delta + message_stop).
		return
	}
	if errors.Is(err, context.Canceled) && client.Context().Err() != nil {
		// The client disconnected; nothing left to write to.
		return
	}

	// Idle timeout with no content block ever opened, or any other
	// unrecoverable translation error: report it as a stream-level error
	// event rather than closing silently.
	logger.Get().Warn("streaming translation ended with error", "error", err)
	envelope := model.NewErrorEnvelope(model.ErrAPI, "upstream stream ended unexpectedly")
	if payload, marshalErr := json.Marshal(envelope); marshalErr == nil {
		_ = client.Send(sse.Event{Event: "error", Data: string(payload)})
	}
}

// pingLoop emits periodic keepalive pings; it returns once stop is
// closed or the client disconnects.
func (rt *Router) pingLoop(client *sse.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(rt.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-client.Done():
			return
		case <-ticker.C:
			_ = client.SendPing()
		}
	}
}

// meteringSink wraps an sse.Client so every content_block_start event
// the streaming translator emits is reflected in the collector, without
// threading a metrics dependency into the translate/stream package.
type meteringSink struct {
	client  *sse.Client
	metrics *metrics.Collector
}

func (s *meteringSink) Send(event sse.Event) error {
	if event.Event == "content_block_start" {
		s.metrics.RecordBlockOpened(strings.Contains(event.Data, `"type":"tool_use"`))
	}
	return s.client.Send(event)
}

func upstreamErrorMessage(status int, body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	if len(body) == 0 {
		return fmt.Sprintf("upstream returned status %d", status)
	}
	return string(body)
}
