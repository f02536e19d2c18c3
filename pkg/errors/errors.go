// Package errors provides the structured error type used across tenantauth.
//
// Every error carries a machine-readable [Code] of the form CATEGORY_NNN.
// The category determines the HTTP status a transport should answer with,
// so a handler never has to know which component produced the error.
//
// Authentication and authorization rejections additionally carry a
// [Reason]: a stable, upper-snake identifier such as "TOKEN_EXPIRED" that is
// safe to hand to API clients. Codes classify, reasons name.
//
// # Usage
//
//	err := errors.New(errors.CodeAuthenticationInvalid, "token signature is invalid").
//	    WithReason("INVALID_TOKEN")
//
//	if errors.HasReason(err, "INVALID_TOKEN") {
//	    // ...
//	}
//
// Responses must be rendered through [Error.Public], which drops the cause
// chain and details so internal state never reaches a response body.
package errors
