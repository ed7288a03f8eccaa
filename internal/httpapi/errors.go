package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"anthrobridge/internal/model"
)

func jsonEncode(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = jsonEncode(w, v)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeErrorEnvelope(w, http.StatusMethodNotAllowed, model.NewErrorEnvelope(model.ErrInvalidRequest, "method not allowed"))
}

func badRequest(w http.ResponseWriter, err error) {
	writeErrorEnvelope(w, http.StatusBadRequest, model.NewErrorEnvelope(model.ErrInvalidRequest, err.Error()))
}

func writeErrorEnvelope(w http.ResponseWriter, code int, env model.ErrorEnvelope) {
	writeJSON(w, code, env)
}

// statusToErrorKind maps an upstream HTTP status code to the Anthropic
// error kind and the status this proxy reports back to its own caller.
func statusToErrorKind(status int) (kind model.ErrorKind, reportStatus int) {
	switch status {
	case http.StatusUnauthorized:
		return model.ErrAuthentication, http.StatusUnauthorized
	case http.StatusForbidden:
		return model.ErrPermission, http.StatusForbidden
	case http.StatusNotFound:
		return model.ErrNotFound, http.StatusNotFound
	case http.StatusTooManyRequests:
		return model.ErrRateLimit, http.StatusTooManyRequests
	case 529:
		return model.ErrOverloaded, 529
	default:
		if status >= 500 {
			return model.ErrAPI, http.StatusBadGateway
		}
		return model.ErrInvalidRequest, http.StatusBadRequest
	}
}

// upstreamError maps an upstream response with status >= 400 to an
// Anthropic error envelope and writes it as the complete non-streaming
// response.
func upstreamError(w http.ResponseWriter, status int, message string) {
	kind, reportStatus := statusToErrorKind(status)
	writeErrorEnvelope(w, reportStatus, model.NewErrorEnvelope(kind, message))
}

// transportError maps a network-level failure (connection refused,
// timeout, DNS failure) reaching upstream at all.
func transportError(w http.ResponseWriter, err error) {
	writeErrorEnvelope(w, http.StatusBadGateway, model.NewErrorEnvelope(model.ErrAPI, err.Error()))
}
