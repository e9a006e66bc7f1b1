package grpcclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/AmmannChristian/go-ccauth/oauth2client"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Builder provides a fluent interface for constructing gRPC client connections
// with optional OAuth2 authentication and TLS/mTLS support.
type Builder struct {
	address string

	// Bearer token configuration
	tokenSource    TokenSource
	oauth2Config   *oauth2client.ClientConfig
	oauth2Options  []oauth2client.Option
	oauth2OnRotate oauth2client.NewTokenFunc

	// TLS configuration
	tlsEnabled    bool
	tlsCAFile     string
	tlsCertFile   string
	tlsKeyFile    string
	tlsServerName string

	// Additional dial options
	dialOpts []grpc.DialOption
}

// NewBuilder creates a new gRPC client builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithAddress sets the server address (e.g., "server.example.com:9090").
func (b *Builder) WithAddress(address string) *Builder {
	b.address = address
	return b
}

// WithOAuth2 enables OAuth2 client credentials authentication for cfg.
// Tokens come from the provider described by opts (the default provider when
// opts is empty), so connections built from the same credentials share them.
func (b *Builder) WithOAuth2(cfg oauth2client.ClientConfig, opts ...oauth2client.Option) *Builder {
	b.oauth2Config = &cfg
	b.oauth2Options = opts
	return b
}

// WithTokenRotationHook registers a hook invoked whenever WithOAuth2 credentials obtain a new token.
func (b *Builder) WithTokenRotationHook(onNewToken oauth2client.NewTokenFunc) *Builder {
	b.oauth2OnRotate = onNewToken
	return b
}

// WithTokenSource injects bearer tokens from ts. It takes precedence over WithOAuth2.
func (b *Builder) WithTokenSource(ts TokenSource) *Builder {
	b.tokenSource = ts
	return b
}

// WithTLS enables TLS for the connection.
//
// Parameters:
//   - caFile: Path to CA certificate for server verification (optional, uses system roots if empty)
//   - certFile: Path to client certificate for mTLS (optional, must be paired with keyFile)
//   - keyFile: Path to client private key for mTLS (optional, must be paired with certFile)
//   - serverName: Expected server name for TLS verification (optional, overrides SNI)
func (b *Builder) WithTLS(caFile, certFile, keyFile, serverName string) *Builder {
	b.tlsEnabled = true
	b.tlsCAFile = caFile
	b.tlsCertFile = certFile
	b.tlsKeyFile = keyFile
	b.tlsServerName = serverName
	return b
}

// WithDialOptions adds custom gRPC dial options.
// These options are applied after OAuth2 and TLS options.
func (b *Builder) WithDialOptions(opts ...grpc.DialOption) *Builder {
	b.dialOpts = append(b.dialOpts, opts...)
	return b
}

// Build constructs the gRPC client connection with the configured options.
// ctx is kept (without its cancellation) for token requests made outside an RPC.
func (b *Builder) Build(ctx context.Context) (*grpc.ClientConn, error) {
	if b.address == "" {
		return nil, errors.New("grpcclient: server address is required")
	}

	opts, err := b.dialOptions(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.NewClient(b.address, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpcclient: dial failed: %w", err)
	}

	return conn, nil
}

func (b *Builder) dialOptions(ctx context.Context) ([]grpc.DialOption, error) {
	var opts []grpc.DialOption

	ts := b.tokenSource
	if ts == nil && b.oauth2Config != nil {
		if err := b.validateOAuth2Config(); err != nil {
			return nil, err
		}
		ts = oauth2client.NewTokenManager(ctx, *b.oauth2Config, b.oauth2OnRotate, b.oauth2Options...)
	}
	if ts != nil {
		opts = append(opts,
			grpc.WithUnaryInterceptor(UnaryClientInterceptor(ts)),
			grpc.WithStreamInterceptor(StreamClientInterceptor(ts)),
		)
	}

	if b.tlsEnabled {
		tlsConfig, err := b.buildTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("grpcclient: TLS config failed: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	} else {
		// Default to TLS with system roots to avoid accidental plaintext connections.
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})))
	}

	return append(opts, b.dialOpts...), nil
}

// validateOAuth2Config rejects configs that did not come out of oauth2client.Build.
func (b *Builder) validateOAuth2Config() error {
	cfg := *b.oauth2Config
	if cfg.AuthURL() == "" || cfg.ClientID() == "" || cfg.ClientSecret() == "" {
		return fmt.Errorf("grpcclient: %w", &oauth2client.ConfigurationError{
			Key:    "ClientConfig",
			Reason: "not built with oauth2client.Build, New or FromEnv",
		})
	}
	return nil
}

// buildTLSConfig constructs the TLS configuration for the gRPC connection.
func (b *Builder) buildTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if b.tlsCAFile != "" {
		caCert, err := os.ReadFile(b.tlsCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}

		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = certPool
	}

	if b.tlsCertFile != "" && b.tlsKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(b.tlsCertFile, b.tlsKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	} else if b.tlsCertFile != "" || b.tlsKeyFile != "" {
		return nil, errors.New("both TLS cert and key files must be provided for mTLS")
	}

	if b.tlsServerName != "" {
		tlsConfig.ServerName = b.tlsServerName
	}

	return tlsConfig, nil
}
