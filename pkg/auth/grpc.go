package auth

import (
	"context"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
)

// metadataAuthorization is the gRPC metadata key carrying the bearer
// token. gRPC lowercases metadata keys.
const metadataAuthorization = "authorization"

// UnaryServerInterceptor authenticates unary calls from their
// authorization metadata, runs gates, and stores the result with
// [ContextWithAuthorization].
func UnaryServerInterceptor(authn RequestAuthenticator, gates ...Gate) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := authenticateGRPC(ctx, authn, gates)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming form of
// [UnaryServerInterceptor].
func StreamServerInterceptor(authn RequestAuthenticator, gates ...Gate) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := authenticateGRPC(ss.Context(), authn, gates)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func authenticateGRPC(ctx context.Context, authn RequestAuthenticator, gates []Gate) (context.Context, error) {
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(metadataAuthorization); len(values) > 0 {
			header = values[0]
		}
	}

	ac, err := authn.Authenticate(ctx, header)
	if err != nil {
		return ctx, grpcStatus(err)
	}
	ctx = ContextWithAuthorization(ctx, ac)
	for _, gate := range gates {
		if err := gate(ctx); err != nil {
			return ctx, grpcStatus(err)
		}
	}
	return ctx, nil
}

// grpcStatus converts a rejection to a status carrying the same public
// reason as the HTTP body.
func grpcStatus(err error) error {
	e := sserr.FromError(err)
	pub := e.Public()
	var code codes.Code
	switch e.HTTPStatus() {
	case http.StatusUnauthorized:
		code = codes.Unauthenticated
	case http.StatusForbidden:
		code = codes.PermissionDenied
	case http.StatusServiceUnavailable:
		code = codes.Unavailable
	case http.StatusGatewayTimeout:
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Error(code, pub.Error+": "+pub.Message)
}

// wrappedServerStream overrides Context so handlers see the authorization
// added by the interceptor.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
