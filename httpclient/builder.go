package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// DefaultTimeout is the request timeout of clients that do not set one.
const DefaultTimeout = 30 * time.Second

// Builder provides a fluent interface for constructing HTTP clients
// with optional bearer-token authentication and TLS/mTLS support.
//
// Every Build call produces a client with its own connection pool, so closing
// that client's idle connections never affects other clients.
type Builder struct {
	// Bearer token source, optional
	tokenSource TokenSource

	// TLS configuration
	tlsCAFile     string
	tlsCAPEM      []byte
	tlsCertFile   string
	tlsKeyFile    string
	tlsSkipVerify bool

	// HTTP client configuration
	timeout         time.Duration
	baseTransport   http.RoundTripper
	followRedirects bool
}

// NewBuilder creates a new HTTP client builder.
func NewBuilder() *Builder {
	return &Builder{
		timeout:         DefaultTimeout,
		followRedirects: true,
	}
}

// WithTokenSource injects "Authorization: Bearer <token>" into every request using ts.
func (b *Builder) WithTokenSource(ts TokenSource) *Builder {
	b.tokenSource = ts
	return b
}

// WithTLS configures server verification and client certificates.
//
// Parameters:
//   - caFile: Path to CA certificate for server verification (optional, uses system roots if empty)
//   - certFile: Path to client certificate for mTLS (optional, must be paired with keyFile)
//   - keyFile: Path to client private key for mTLS (optional, must be paired with certFile)
func (b *Builder) WithTLS(caFile, certFile, keyFile string) *Builder {
	b.tlsCAFile = caFile
	b.tlsCertFile = certFile
	b.tlsKeyFile = keyFile
	return b
}

// WithRootCAs trusts the given PEM-encoded certificates in addition to any CA file.
func (b *Builder) WithRootCAs(pemCerts []byte) *Builder {
	b.tlsCAPEM = append(b.tlsCAPEM, pemCerts...)
	return b
}

// WithInsecureSkipVerify disables TLS certificate verification (NOT RECOMMENDED for production).
// Verification is on unless this is called.
func (b *Builder) WithInsecureSkipVerify() *Builder {
	b.tlsSkipVerify = true
	return b
}

// WithTimeout sets the request timeout for the HTTP client.
// Default is DefaultTimeout; non-positive values are ignored.
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	if timeout > 0 {
		b.timeout = timeout
	}
	return b
}

// WithBaseTransport sets a custom base transport. TLS settings are not applied to it.
func (b *Builder) WithBaseTransport(transport http.RoundTripper) *Builder {
	b.baseTransport = transport
	return b
}

// WithoutRedirects disables automatic redirect following.
func (b *Builder) WithoutRedirects() *Builder {
	b.followRedirects = false
	return b
}

// Build constructs the HTTP client with the configured options.
func (b *Builder) Build() (*http.Client, error) {
	transport := b.baseTransport
	if transport == nil {
		tlsConfig, err := b.buildTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("httpclient: TLS config failed: %w", err)
		}

		if base, ok := http.DefaultTransport.(*http.Transport); ok {
			cloned := base.Clone()
			cloned.TLSClientConfig = tlsConfig
			transport = cloned
		} else {
			// http.DefaultTransport was replaced (e.g. by a test stub); use it as is.
			transport = http.DefaultTransport
		}
	}

	if b.tokenSource != nil {
		transport = NewOAuth2Transport(b.tokenSource, transport)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   b.timeout,
	}

	if !b.followRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return client, nil
}

// buildTLSConfig returns a TLS 1.2+ configuration with verification enabled
// unless WithInsecureSkipVerify was requested.
func (b *Builder) buildTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: b.tlsSkipVerify, // #nosec G402 explicit opt-out
	}

	if b.tlsCAFile != "" || len(b.tlsCAPEM) > 0 {
		certPool := x509.NewCertPool()

		if b.tlsCAFile != "" {
			caCert, err := os.ReadFile(b.tlsCAFile)
			if err != nil {
				return nil, fmt.Errorf("read CA file: %w", err)
			}
			if !certPool.AppendCertsFromPEM(caCert) {
				return nil, errors.New("failed to parse CA certificate")
			}
		}
		if len(b.tlsCAPEM) > 0 && !certPool.AppendCertsFromPEM(b.tlsCAPEM) {
			return nil, errors.New("failed to parse root CA PEM")
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

	return tlsConfig, nil
}

// NewHTTPClient is a convenience function that creates a simple HTTP client with bearer-token authentication.
// For more configuration options, use Builder instead.
//
// Example:
//
//	cfg, _ := oauth2client.FromEnv()
//	client := httpclient.NewHTTPClient(oauth2client.NewTokenManager(ctx, cfg, nil))
//	resp, err := client.Get("https://api.example.com/data")
func NewHTTPClient(ts TokenSource) *http.Client {
	return &http.Client{
		Transport: NewOAuth2Transport(ts, nil),
		Timeout:   DefaultTimeout,
	}
}
