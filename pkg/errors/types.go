package errors

import (
	"fmt"
	"net/http"
)

// Error is the structured error type returned by tenantauth components.
//
// Cause and Details are for logs only. [Error.Public] is the only view of an
// Error that may be written to a client.
type Error struct {
	Code    Code
	Reason  Reason
	Message string
	Cause   error
	Details map[string]any
}

// Error implements the error interface. The reason, when set, is placed in
// brackets after the code so log lines stay greppable by either.
func (e *Error) Error() string {
	prefix := string(e.Code)
	if e.Reason != "" {
		prefix += " [" + string(e.Reason) + "]"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the code category to an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Code.Category() {
	case "VAL":
		return http.StatusBadRequest
	case "AUTH":
		return http.StatusUnauthorized
	case "AUTHZ":
		return http.StatusForbidden
	case "NF":
		return http.StatusNotFound
	case "CONF":
		return http.StatusConflict
	case "UNAVAIL":
		return http.StatusServiceUnavailable
	case "TIMEOUT":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WithReason returns a copy of e carrying the given reason.
func (e *Error) WithReason(reason Reason) *Error {
	cp := *e
	cp.Reason = reason
	return &cp
}

// WithDetail returns a copy of e with key set in its details. The receiver
// is not modified.
func (e *Error) WithDetail(key string, value any) *Error {
	return e.WithDetails(map[string]any{key: value})
}

// WithDetails returns a copy of e with details merged over the existing
// ones. The receiver is not modified.
func (e *Error) WithDetails(details map[string]any) *Error {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	cp := *e
	cp.Details = merged
	return &cp
}

// PublicError is the response-safe rendering of an [Error].
type PublicError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    Code   `json:"code"`
}

// Public returns the client-facing view of e. Errors without a reason are
// reported by their code, and internal-category errors get a fixed message
// because their text may describe infrastructure.
func (e *Error) Public() PublicError {
	name := string(e.Reason)
	if name == "" {
		name = string(e.Code)
	}
	msg := e.Message
	if e.HTTPStatus() >= http.StatusInternalServerError {
		msg = "internal error"
	}
	return PublicError{Error: name, Message: msg, Code: e.Code}
}

// Format implements fmt.Formatter. %+v prints every field including
// details and the cause chain.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "Error{Code: %q", e.Code)
			if e.Reason != "" {
				fmt.Fprintf(s, ", Reason: %q", e.Reason)
			}
			fmt.Fprintf(s, ", Message: %q", e.Message)
			if len(e.Details) > 0 {
				fmt.Fprintf(s, ", Details: %v", e.Details)
			}
			if e.Cause != nil {
				fmt.Fprintf(s, ", Cause: %+v", e.Cause)
			}
			fmt.Fprint(s, "}")
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
