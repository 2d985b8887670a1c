package haven

import "fmt"

// ErrorCode is a stable machine-readable code drawn from a fixed taxonomy,
// one family per subsystem.
type ErrorCode string

const (
	CodeAuth        ErrorCode = "AUTH_FAILED"
	CodeForbidden   ErrorCode = "FORBIDDEN"
	CodeRateLimited ErrorCode = "RATE_LIMITED"
	CodeNotFound    ErrorCode = "NOT_FOUND"
	CodeConflict    ErrorCode = "CONFLICT"
	CodeValidation  ErrorCode = "VALIDATION"
	CodeUpstream    ErrorCode = "UPSTREAM"
	CodeStore       ErrorCode = "STORE"
	CodeEmbedding   ErrorCode = "EMBEDDING"
	CodeInternal    ErrorCode = "INTERNAL"
)

// Error is the typed error returned across component boundaries. Only the
// HTTP adapter converts codes to status codes; within the core callers
// branch on Code via errors.As.
type Error struct {
	Code       ErrorCode
	Message    string
	Suggestion string
	// Detail carries internal context and is surfaced to clients only in
	// non-production environments.
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// E constructs an Error.
func E(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Ef constructs an Error with a formatted message.
func Ef(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause; the cause text lands in Detail so production
// responses stay clean while errors.Is/As keep working.
func Wrap(code ErrorCode, message string, cause error) *Error {
	e := &Error{Code: code, Message: message, cause: cause}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}

// WithSuggestion returns a copy of e carrying an actionable suggestion for
// the client.
func (e *Error) WithSuggestion(s string) *Error {
	c := *e
	c.Suggestion = s
	return &c
}

// ErrUpstream wraps a failure talking to the local inference server.
type ErrUpstream struct {
	Endpoint string
	Message  string
}

func (e *ErrUpstream) Error() string {
	return fmt.Sprintf("upstream %s: %s", e.Endpoint, e.Message)
}

// ErrHTTP is a non-2xx response from a loopback service (inference or
// embedding endpoint).
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
