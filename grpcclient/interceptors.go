package grpcclient

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// TokenSource supplies bearer tokens. oauth2client.TokenManager implements it.
type TokenSource interface {
	GetTokenWithContext(ctx context.Context) (string, error)
}

// UnaryClientInterceptor returns a gRPC unary client interceptor that adds
// "authorization: Bearer <token>" to the outgoing metadata.
//
// The token is fetched with the RPC context, so cancellation and deadlines
// apply. If the token cannot be obtained, the RPC is not sent.
//
// Usage:
//
//	conn, err := grpc.NewClient(
//	    "server:9090",
//	    grpc.WithUnaryInterceptor(grpcclient.UnaryClientInterceptor(tm)),
//	)
func UnaryClientInterceptor(ts TokenSource) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		ctx, err := withBearer(ctx, ts)
		if err != nil {
			return err
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor returns a gRPC stream client interceptor that adds
// "authorization: Bearer <token>" to the outgoing metadata. If the token
// cannot be obtained, the stream is not created.
//
// Usage:
//
//	conn, err := grpc.NewClient(
//	    "server:9090",
//	    grpc.WithStreamInterceptor(grpcclient.StreamClientInterceptor(tm)),
//	)
func StreamClientInterceptor(ts TokenSource) grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		ctx, err := withBearer(ctx, ts)
		if err != nil {
			return nil, err
		}
		return streamer(ctx, desc, cc, method, opts...)
	}
}

func withBearer(ctx context.Context, ts TokenSource) (context.Context, error) {
	if ts == nil {
		return ctx, errors.New("grpcclient: token source is nil")
	}

	token, err := ts.GetTokenWithContext(ctx)
	if err != nil {
		return ctx, fmt.Errorf("grpcclient: failed to get token: %w", err)
	}

	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token), nil
}
