package oauth2client

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AmmannChristian/go-ccauth/internal/testutil"
	publictestutil "github.com/AmmannChristian/go-ccauth/testutil"
)

func mustConfig(tb testing.TB, authURL string, opts ...ConfigOption) ClientConfig {
	tb.Helper()

	cfg, err := New(authURL, "test-client", "test-secret", opts...)
	if err != nil {
		tb.Fatalf("failed to build config: %v", err)
	}
	return cfg
}

func TestSession_FetchToken(t *testing.T) {
	server := testutil.NewTokenServer(t)
	cfg := mustConfig(t, server.TokenURL(), WithScopes("read", "write"))

	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	defer s.Close()

	resp, err := s.FetchToken(context.Background(), cfg.AuthURL())
	if err != nil {
		t.Fatalf("FetchToken failed: %v", err)
	}

	if resp.AccessToken == "" {
		t.Fatal("expected access token")
	}
	if resp.ExpiresIn != 3600 {
		t.Errorf("expected expires_in 3600, got %d", resp.ExpiresIn)
	}
	if resp.Lifetime() != time.Hour {
		t.Errorf("expected lifetime 1h, got %v", resp.Lifetime())
	}
	if !strings.EqualFold(resp.TokenType, "Bearer") {
		t.Errorf("unexpected token type %s", resp.TokenType)
	}
	if s.Token() != resp.AccessToken {
		t.Error("session should carry the fetched token")
	}

	reqs := server.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if reqs[0].GrantType != "client_credentials" {
		t.Errorf("unexpected grant_type %q", reqs[0].GrantType)
	}
	if !reqs[0].BasicAuth || reqs[0].ClientID != "test-client" || reqs[0].ClientSecret != "test-secret" {
		t.Errorf("expected basic auth credentials, got %+v", reqs[0])
	}
	if reqs[0].Scope != "read write" {
		t.Errorf("unexpected scope %q", reqs[0].Scope)
	}
}

func TestSession_FetchToken_AuthStyleParams(t *testing.T) {
	server := testutil.NewTokenServer(t)
	cfg := mustConfig(t, server.TokenURL(), WithAuthStyle(AuthStyleParams))

	err := WithSession(context.Background(), cfg, func(ctx context.Context, s *Session) error {
		_, err := s.FetchToken(ctx, cfg.AuthURL())
		return err
	})
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	req := server.Requests()[0]
	if req.BasicAuth {
		t.Error("credentials should be sent in the form body")
	}
	if req.ClientID != "test-client" || req.ClientSecret != "test-secret" {
		t.Errorf("unexpected form credentials %+v", req)
	}
}

func TestSession_FetchToken_MalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing access token", body: `{"token_type":"Bearer","expires_in":3600}`},
		{name: "missing expires_in", body: `{"access_token":"a","token_type":"Bearer"}`},
		{name: "zero expires_in", body: `{"access_token":"a","token_type":"Bearer","expires_in":0}`},
		{name: "not json", body: `<html>oops</html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := testutil.NewTokenServer(t)
			server.Enqueue(testutil.TokenReply{Body: tt.body})
			cfg := mustConfig(t, server.TokenURL())

			err := WithSession(context.Background(), cfg, func(ctx context.Context, s *Session) error {
				_, err := s.FetchToken(ctx, cfg.AuthURL())
				return err
			})

			var protoErr *ProtocolError
			if !errors.As(err, &protoErr) {
				t.Fatalf("expected *ProtocolError, got %T (%v)", err, err)
			}
		})
	}
}

func TestSession_FetchToken_NumericStringExpiresIn(t *testing.T) {
	mock := publictestutil.NewMockOAuth2Server(t, publictestutil.StaticJSONResponse(
		`{"access_token":"a","token_type":"Bearer","expires_in":"120"}`))
	cfg := mustConfig(t, mock.TokenURL())

	s, err := NewSession(cfg, WithSessionTransport(mock.Transport))
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	defer s.Close()

	resp, err := s.FetchToken(context.Background(), cfg.AuthURL())
	if err != nil {
		t.Fatalf("FetchToken failed: %v", err)
	}
	if resp.ExpiresIn != 120 {
		t.Errorf("expected 120, got %d", resp.ExpiresIn)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("expected 1 request, got %d", mock.RequestCount())
	}
}

func TestSession_FetchToken_ServerError(t *testing.T) {
	server := testutil.NewTokenServer(t)
	server.Enqueue(testutil.TokenReply{
		Status: http.StatusUnauthorized,
		Body:   map[string]string{"error": "invalid_client", "error_description": "unknown client"},
	})
	cfg := mustConfig(t, server.TokenURL())

	err := WithSession(context.Background(), cfg, func(ctx context.Context, s *Session) error {
		_, err := s.FetchToken(ctx, cfg.AuthURL())
		return err
	})

	var serverErr *AuthServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected *AuthServerError, got %T (%v)", err, err)
	}
	if serverErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", serverErr.StatusCode)
	}
	if serverErr.ErrorCode != "invalid_client" {
		t.Errorf("expected invalid_client, got %q", serverErr.ErrorCode)
	}
	if server.Calls() != 1 {
		t.Errorf("expected exactly one request, got %d", server.Calls())
	}
}

func TestSession_FetchToken_Timeout(t *testing.T) {
	server := testutil.NewTokenServer(t)
	server.Enqueue(testutil.TokenReply{Delay: 5 * time.Second})
	cfg := mustConfig(t, server.TokenURL(), WithAuthTimeout(time.Second))

	start := time.Now()
	err := WithSession(context.Background(), cfg, func(ctx context.Context, s *Session) error {
		_, err := s.FetchToken(ctx, cfg.AuthURL())
		return err
	})

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected *NetworkError, got %T (%v)", err, err)
	}
	if !netErr.Timeout {
		t.Errorf("expected timeout flag, got %v", netErr)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("timeout not enforced, took %v", elapsed)
	}
}

func TestSession_FetchToken_Unreachable(t *testing.T) {
	server := testutil.NewTokenServer(t)
	tokenURL := server.TokenURL()
	server.Close()

	cfg := mustConfig(t, tokenURL)
	err := WithSession(context.Background(), cfg, func(ctx context.Context, s *Session) error {
		_, err := s.FetchToken(ctx, cfg.AuthURL())
		return err
	})

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected *NetworkError, got %T (%v)", err, err)
	}
	if netErr.Timeout {
		t.Error("connection refused is not a timeout")
	}
}

func TestSession_TLSVerification(t *testing.T) {
	server := testutil.NewTLSTokenServer(t)

	fetch := func(cfg ClientConfig) error {
		return WithSession(context.Background(), cfg, func(ctx context.Context, s *Session) error {
			_, err := s.FetchToken(ctx, cfg.AuthURL())
			return err
		})
	}

	t.Run("verified by default", func(t *testing.T) {
		err := fetch(mustConfig(t, server.TokenURL()))

		var netErr *NetworkError
		if !errors.As(err, &netErr) {
			t.Fatalf("expected certificate error as *NetworkError, got %T (%v)", err, err)
		}
	})

	t.Run("custom CA", func(t *testing.T) {
		caFile := testutil.WriteServerCA(t, server.Server)
		if err := fetch(mustConfig(t, server.TokenURL(), WithCAFile(caFile))); err != nil {
			t.Fatalf("expected success with trusted CA, got %v", err)
		}
	})

	t.Run("explicit opt-out", func(t *testing.T) {
		if err := fetch(mustConfig(t, server.TokenURL(), WithInsecureSkipVerify())); err != nil {
			t.Fatalf("expected success with verification disabled, got %v", err)
		}
	})

	if server.Calls() != 2 {
		t.Errorf("the rejected handshake must not reach the handler; got %d calls", server.Calls())
	}
}

func TestNewSession_BadCAFile(t *testing.T) {
	cfg := mustConfig(t, "https://auth.example.com/token", WithCAFile(filepath.Join(t.TempDir(), "missing.pem")))

	_, err := NewSession(cfg)

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigurationError, got %T (%v)", err, err)
	}
	if cfgErr.Key != EnvCAFile {
		t.Errorf("expected key %s, got %s", EnvCAFile, cfgErr.Key)
	}
}

func TestNewSession_ZeroConfig(t *testing.T) {
	if _, err := NewSession(ClientConfig{}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSession_Close(t *testing.T) {
	cfg := mustConfig(t, "https://auth.example.com/token")

	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if _, err := s.FetchToken(context.Background(), cfg.AuthURL()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestWithSession_ClosesOnEveryPath(t *testing.T) {
	cfg := mustConfig(t, "https://auth.example.com/token")
	errBoom := errors.New("boom")

	t.Run("error", func(t *testing.T) {
		var captured *Session
		err := WithSession(context.Background(), cfg, func(_ context.Context, s *Session) error {
			captured = s
			return errBoom
		})
		if !errors.Is(err, errBoom) {
			t.Fatalf("expected fn error, got %v", err)
		}
		if !captured.isClosed() {
			t.Error("session not closed after error")
		}
	})

	t.Run("panic", func(t *testing.T) {
		var captured *Session
		func() {
			defer func() { _ = recover() }()
			_ = WithSession(context.Background(), cfg, func(_ context.Context, s *Session) error {
				captured = s
				panic("boom")
			})
		}()
		if captured == nil || !captured.isClosed() {
			t.Error("session not closed after panic")
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		called := false
		err := WithSession(ctx, cfg, func(context.Context, *Session) error {
			called = true
			return nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if called {
			t.Error("fn must not run with a canceled context")
		}
	})
}

func TestSession_NewRequest(t *testing.T) {
	cfg := mustConfig(t, "https://auth.example.com/token", WithBaseURL("https://api.example.com/v1/"))

	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	defer s.Close()

	req, err := s.NewRequest(context.Background(), http.MethodGet, "items?limit=1", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if req.URL.String() != "https://api.example.com/v1/items?limit=1" {
		t.Errorf("unexpected URL %s", req.URL)
	}
	if req.Header.Get("Authorization") != "" {
		t.Error("no Authorization header expected before a token is set")
	}

	s.SetToken("abc")
	req, err = s.NewRequest(context.Background(), http.MethodPost, "/other", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if req.URL.String() != "https://api.example.com/other" {
		t.Errorf("unexpected URL %s", req.URL)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer abc" {
		t.Errorf("expected bearer header, got %q", got)
	}
}

func TestSession_NewRequest_RelativeWithoutBase(t *testing.T) {
	s, err := NewSession(mustConfig(t, "https://auth.example.com/token"))
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	defer s.Close()

	if s.BaseURL() != nil {
		t.Error("expected nil base URL")
	}
	if _, err := s.NewRequest(context.Background(), http.MethodGet, "items", nil); err == nil {
		t.Error("expected error for relative URL without base")
	}
}
