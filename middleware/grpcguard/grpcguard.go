// Package grpcguard runs the gatekeep request pipeline as gRPC server
// interceptors. The bearer token is read from the "authorization" metadata
// key; the client key is the peer's IP address.
package grpcguard

import (
	"context"
	"net"
	"strconv"

	"github.com/MrEthical07/gatekeep"
	"github.com/MrEthical07/gatekeep/middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// Policy selects the route for a full method name such as
// "/pkg.Service/Method". Methods without an entry use Default; when Default
// is nil they are rejected with PermissionDenied.
type Policy struct {
	Methods map[string]*gatekeep.Route
	Default *gatekeep.Route
}

func (p Policy) route(fullMethod string) *gatekeep.Route {
	if r, ok := p.Methods[fullMethod]; ok {
		return r
	}
	return p.Default
}

// UnaryServerInterceptor guards unary calls.
func UnaryServerInterceptor(engine *gatekeep.Engine, policy Policy) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := guard(ctx, engine, policy.route(info.FullMethod))
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor guards streaming calls once, when the stream opens.
func StreamServerInterceptor(engine *gatekeep.Engine, policy Policy) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := guard(ss.Context(), engine, policy.route(info.FullMethod))
		if err != nil {
			return err
		}
		return handler(srv, &guardedStream{ServerStream: ss, ctx: ctx})
	}
}

type guardedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *guardedStream) Context() context.Context { return s.ctx }

func guard(ctx context.Context, engine *gatekeep.Engine, route *gatekeep.Route) (context.Context, error) {
	if engine == nil || route == nil {
		return nil, status.Error(codes.PermissionDenied, gatekeep.PublicMessage(gatekeep.ErrForbidden))
	}

	var authorization string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("authorization"); len(values) > 0 {
			authorization = values[0]
		}
	}
	ip := peerIP(ctx)
	ctx = gatekeep.WithClientIP(ctx, ip)

	res, err := engine.Handle(ctx, &gatekeep.Request{
		Route:         route,
		ClientKey:     ip,
		Authorization: authorization,
	})
	if err != nil {
		if res.RateLimit != nil && !res.RateLimit.Allowed && res.RateLimit.Limit > 0 {
			retry := strconv.Itoa(middleware.RetryAfterSeconds(res.RateLimit.RetryAfter))
			_ = grpc.SetHeader(ctx, metadata.Pairs("retry-after", retry))
		}
		return nil, status.Error(Code(err), gatekeep.PublicMessage(err))
	}

	ctx = gatekeep.WithResult(ctx, res)
	return gatekeep.WithRequestID(ctx, res.RequestID.String()), nil
}

// Code maps err to a gRPC status code.
func Code(err error) codes.Code {
	switch gatekeep.KindOf(err) {
	case gatekeep.KindNone:
		return codes.OK
	case gatekeep.KindMalformed, gatekeep.KindInvalidSignature, gatekeep.KindExpired,
		gatekeep.KindWrongKind, gatekeep.KindUnauthenticated, gatekeep.KindNotFound:
		return codes.Unauthenticated
	case gatekeep.KindForbidden, gatekeep.KindRevoked, gatekeep.KindReplayDetected:
		return codes.PermissionDenied
	case gatekeep.KindRateLimited:
		return codes.ResourceExhausted
	case gatekeep.KindUnavailable:
		return codes.Unavailable
	case gatekeep.KindInvalidRequest:
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}

func peerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}
