package httpapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/havenlab/haven"
)

// envelope is the success body shape: {"data": ..., "message": ...}.
type envelope struct {
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

// errorBody is the failure body shape. Details carries internal context
// and is populated only outside production.
type errorBody struct {
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	Details    string `json:"details,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data, Message: message}); err != nil {
		s.logger.Warn("http: response encode failed", "error", err)
	}
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	var he *haven.Error
	if !errors.As(err, &he) {
		he = haven.Wrap(haven.CodeInternal, "internal error", err)
	}
	body := errorBody{
		ErrorCode:  string(he.Code),
		Message:    he.Message,
		Suggestion: he.Suggestion,
	}
	if s.dev {
		body.Details = he.Detail
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(he.Code))
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		s.logger.Warn("http: error encode failed", "error", encErr)
	}
}

// statusFor maps the stable error taxonomy onto HTTP status codes. This
// is the only place codes become statuses.
func statusFor(code haven.ErrorCode) int {
	switch code {
	case haven.CodeAuth:
		return http.StatusUnauthorized
	case haven.CodeForbidden:
		return http.StatusForbidden
	case haven.CodeRateLimited:
		return http.StatusTooManyRequests
	case haven.CodeNotFound:
		return http.StatusNotFound
	case haven.CodeConflict:
		return http.StatusConflict
	case haven.CodeValidation:
		return http.StatusBadRequest
	case haven.CodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v any, maxBytes int64) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBytes))
	if err := dec.Decode(v); err != nil {
		return haven.Wrap(haven.CodeValidation, "invalid JSON body", err)
	}
	return nil
}

// clientIP extracts the peer address without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// iso renders a Unix-seconds timestamp as RFC 3339 UTC. Timestamps stay
// integers everywhere inside the core; only the HTTP boundary formats.
func iso(ts int64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
