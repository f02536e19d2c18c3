package errors

import (
	"errors"
)

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code of the first *Error in err's chain, or "".
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err's outermost *Error has the given code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

// GetReason returns the reason of the outermost *Error in err's chain that
// carries one, or "".
func GetReason(err error) Reason {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Reason != "" {
			return e.Reason
		}
		err = e.Cause
	}
	return ""
}

// HasReason reports whether [GetReason] of err equals reason.
func HasReason(err error, reason Reason) bool {
	return GetReason(err) == reason
}

// ReasonInChain reports whether any *Error in err's chain carries reason.
// Use it when a wrapping error replaces the reason of its cause.
func ReasonInChain(err error, reason Reason) bool {
	return walk(err, func(e *Error) bool { return e.Reason == reason })
}

// walk calls fn on every *Error in err's chain until fn returns true.
func walk(err error, fn func(*Error) bool) bool {
	for err != nil {
		e, ok := AsError(err)
		if !ok {
			return false
		}
		if fn(e) {
			return true
		}
		err = e.Cause
	}
	return false
}

func hasCategory(err error, category string) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == category
}

func IsValidation(err error) bool {
	return hasCategory(err, "VAL")
}

func IsAuthentication(err error) bool {
	return hasCategory(err, "AUTH")
}

func IsAuthorization(err error) bool {
	return hasCategory(err, "AUTHZ")
}

func IsNotFound(err error) bool {
	return hasCategory(err, "NF")
}

func IsInternal(err error) bool {
	return hasCategory(err, "INT")
}

func IsUnavailable(err error) bool {
	return hasCategory(err, "UNAVAIL")
}

func IsTimeout(err error) bool {
	return hasCategory(err, "TIMEOUT")
}

// IsRetryable reports whether err, or any *Error it wraps, is a timeout or
// unavailable error. Key set fetch failures are retryable even when wrapped
// in an authentication error; a missing key id is not.
func IsRetryable(err error) bool {
	return walk(err, func(e *Error) bool {
		c := e.Code.Category()
		return c == "TIMEOUT" || c == "UNAVAIL"
	})
}
