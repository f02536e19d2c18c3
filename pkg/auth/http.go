package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
)

// RequestAuthenticator is implemented by [Authenticator].
type RequestAuthenticator interface {
	Authenticate(ctx context.Context, header string) (AuthorizationContext, error)
}

var _ RequestAuthenticator = (*Authenticator)(nil)

// HTTPMiddleware authenticates every request from its Authorization header
// and stores the result with [ContextWithAuthorization]. Rejected requests
// get the JSON error body from [WriteError].
//
// Example:
//
//	r := chi.NewRouter()
//	r.With(auth.HTTPMiddleware(authn)).Get("/auth/verify", handleVerify)
func HTTPMiddleware(authn RequestAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := authn.Authenticate(r.Context(), r.Header.Get(HeaderAuthorization))
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithAuthorization(r.Context(), ac)))
		})
	}
}

// RequireHTTP applies gates, in order, to requests already authenticated
// by [HTTPMiddleware]. The first failing gate's error is written.
func RequireHTTP(gates ...Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, gate := range gates {
				if err := gate(r.Context()); err != nil {
					slog.InfoContext(r.Context(), "auth: request denied",
						"reason", Reason(err),
						"path", r.URL.Path,
					)
					WriteError(w, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteError writes err as {"error", "message", "code"} with the status
// of its code. Causes and details are never written. Errors that are not
// *sserr.Error become a 500.
func WriteError(w http.ResponseWriter, err error) {
	e := sserr.FromError(err)
	status := e.HTTPStatus()
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", bearerScheme)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(e.Public())
}
