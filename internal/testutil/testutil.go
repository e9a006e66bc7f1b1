package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// NewLocalHTTPServer starts an HTTP server bound to IPv4 loopback only.
// The sandbox blocks IPv6 listeners, so force tcp4 to keep tests runnable.
func NewLocalHTTPServer(tb testing.TB, handler http.Handler) *httptest.Server {
	tb.Helper()

	server := httptest.NewUnstartedServer(handler)
	server.Listener = listenTCP4(tb)
	server.Start()
	tb.Cleanup(server.Close)

	return server
}

// NewLocalTLSServer is NewLocalHTTPServer with TLS. The server certificate is
// self-signed and valid for 127.0.0.1, so clients must trust it explicitly.
func NewLocalTLSServer(tb testing.TB, handler http.Handler) *httptest.Server {
	tb.Helper()

	server := httptest.NewUnstartedServer(handler)
	server.Listener = listenTCP4(tb)
	server.StartTLS()
	tb.Cleanup(server.Close)

	return server
}

// WriteServerCA writes the TLS server's certificate as a PEM bundle into a
// temporary directory and returns its path.
func WriteServerCA(tb testing.TB, server *httptest.Server) string {
	tb.Helper()

	cert := server.Certificate()
	if cert == nil {
		tb.Fatal("server has no TLS certificate")
	}

	path := filepath.Join(tb.TempDir(), "server-ca.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		tb.Fatalf("failed to write server CA: %v", err)
	}
	return path
}

func listenTCP4(tb testing.TB) net.Listener {
	tb.Helper()

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("failed to create IPv4 listener: %v", err)
	}
	return listener
}

// TestKeyPair holds an RSA key pair for JWT testing.
type TestKeyPair struct {
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
}

// GenerateTestKeyPair generates a new RSA key pair for testing.
func GenerateTestKeyPair(tb testing.TB) *TestKeyPair {
	tb.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tb.Fatalf("failed to generate RSA key pair: %v", err)
	}

	return &TestKeyPair{
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
	}
}

// CreateSignedToken is a convenience function to create a signed token directly.
func CreateSignedToken(tb testing.TB, privateKey *rsa.PrivateKey, claims jwt.MapClaims) string {
	tb.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key-1"

	tokenString, err := token.SignedString(privateKey)
	if err != nil {
		tb.Fatalf("failed to sign token: %v", err)
	}

	return tokenString
}

// TokenRequest is what the TokenServer saw for one request.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Scope        string
	// BasicAuth reports whether credentials arrived in the Authorization header.
	BasicAuth bool
}

// TokenReply is the response a TokenServer sends. A zero Status means 200.
type TokenReply struct {
	Status int
	Body   any
	Delay  time.Duration
}

// TokenServer is a local OAuth2 token endpoint that counts requests and by
// default issues RS256 JWT access tokens.
type TokenServer struct {
	*httptest.Server

	Keys      *TestKeyPair
	ExpiresIn int64

	calls atomic.Int64

	mu       sync.Mutex
	requests []TokenRequest
	replies  []TokenReply
	release  chan struct{}
}

// NewTokenServer starts a plain HTTP token endpoint serving /token.
func NewTokenServer(tb testing.TB) *TokenServer {
	tb.Helper()

	ts := &TokenServer{Keys: GenerateTestKeyPair(tb), ExpiresIn: 3600}
	ts.Server = NewLocalHTTPServer(tb, ts.handler(tb))
	return ts
}

// NewTLSTokenServer starts an HTTPS token endpoint serving /token.
func NewTLSTokenServer(tb testing.TB) *TokenServer {
	tb.Helper()

	ts := &TokenServer{Keys: GenerateTestKeyPair(tb), ExpiresIn: 3600}
	ts.Server = NewLocalTLSServer(tb, ts.handler(tb))
	return ts
}

// TokenURL returns the endpoint URL.
func (ts *TokenServer) TokenURL() string {
	return ts.URL + "/token"
}

// Calls returns how many token requests were served.
func (ts *TokenServer) Calls() int {
	return int(ts.calls.Load())
}

// Requests returns a copy of the requests seen so far.
func (ts *TokenServer) Requests() []TokenRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]TokenRequest(nil), ts.requests...)
}

// Enqueue makes the next requests answer with replies, in order. Once the
// queue is empty the server issues JWTs again.
func (ts *TokenServer) Enqueue(replies ...TokenReply) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.replies = append(ts.replies, replies...)
}

// Hold blocks every request until the returned function is called.
func (ts *TokenServer) Hold() (release func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ch := make(chan struct{})
	ts.release = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (ts *TokenServer) handler(tb testing.TB) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		n := ts.calls.Add(1)

		req := TokenRequest{
			GrantType:    r.PostForm.Get("grant_type"),
			ClientID:     r.PostForm.Get("client_id"),
			ClientSecret: r.PostForm.Get("client_secret"),
			Scope:        r.PostForm.Get("scope"),
		}
		if id, secret, ok := r.BasicAuth(); ok {
			req.ClientID, req.ClientSecret, req.BasicAuth = id, secret, true
		}

		ts.mu.Lock()
		ts.requests = append(ts.requests, req)
		release := ts.release
		var reply *TokenReply
		if len(ts.replies) > 0 {
			reply = &ts.replies[0]
			ts.replies = ts.replies[1:]
		}
		ts.mu.Unlock()

		if release != nil {
			select {
			case <-release:
			case <-r.Context().Done():
				return
			}
		}

		if reply == nil {
			claims := jwt.MapClaims{
				"sub": req.ClientID,
				"jti": fmt.Sprintf("token-%d", n),
				"iat": time.Now().Unix(),
				"exp": time.Now().Add(time.Duration(ts.ExpiresIn) * time.Second).Unix(),
			}
			reply = &TokenReply{Body: map[string]any{
				"access_token": CreateSignedToken(tb, ts.Keys.PrivateKey, claims),
				"token_type":   "Bearer",
				"expires_in":   ts.ExpiresIn,
			}}
		}

		if reply.Delay > 0 {
			select {
			case <-time.After(reply.Delay):
			case <-r.Context().Done():
				return
			}
		}

		status := reply.Status
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		switch body := reply.Body.(type) {
		case nil:
		case string:
			_, _ = w.Write([]byte(body))
		default:
			_ = json.NewEncoder(w).Encode(body)
		}
	})
}
