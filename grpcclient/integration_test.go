package grpcclient_test

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/AmmannChristian/go-ccauth/grpcclient"
	"github.com/AmmannChristian/go-ccauth/oauth2client"
	"github.com/AmmannChristian/go-ccauth/testutil"
	"github.com/AmmannChristian/go-ccauth/tokencache"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
)

// startMetadataServer runs a gRPC server that reports the authorization
// metadata of every stream it accepts.
func startMetadataServer(t *testing.T) (*bufconn.Listener, <-chan []string) {
	t.Helper()

	seen := make(chan []string, 8)
	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		md, _ := metadata.FromIncomingContext(stream.Context())
		seen <- md.Get("authorization")
		return nil
	}))
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	return listener, seen
}

func openStream(t *testing.T, conn *grpc.ClientConn) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{StreamName: "Probe", ServerStreams: true, ClientStreams: true}, "/probe.Probe/Probe")
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend failed: %v", err)
	}
	if err := stream.RecvMsg(nil); err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("RecvMsg failed: %v", err)
	}
}

func TestBuilder_WithOAuth2_SendsBearerToken(t *testing.T) {
	listener, seen := startMetadataServer(t)
	tokenServer := testutil.NewMockOAuth2Server(t, testutil.StaticJSONResponse(
		`{"access_token":"grpc-token","token_type":"Bearer","expires_in":3600}`))

	cfg, err := oauth2client.New(tokenServer.TokenURL(), "client", "secret")
	if err != nil {
		t.Fatalf("config failed: %v", err)
	}

	conn, err := grpcclient.NewBuilder().
		WithAddress("passthrough:///bufnet").
		WithOAuth2(cfg,
			oauth2client.WithCache(tokencache.New()),
			oauth2client.WithBaseTransport(tokenServer.Transport),
		).
		WithDialOptions(
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return listener.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		).
		Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 2; i++ {
		openStream(t, conn)

		select {
		case auth := <-seen:
			if len(auth) != 1 || auth[0] != "Bearer grpc-token" {
				t.Errorf("unexpected authorization metadata: %v", auth)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("server did not receive the stream")
		}
	}

	if tokenServer.RequestCount() != 1 {
		t.Errorf("expected one token exchange, got %d", tokenServer.RequestCount())
	}
}
