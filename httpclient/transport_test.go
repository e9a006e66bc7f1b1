package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/AmmannChristian/go-ccauth/testutil"
)

func okResponse(req *http.Request, body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
		Request:    req,
	}
}

func TestNewOAuth2Transport(t *testing.T) {
	ts := staticSource("tok")

	transport := NewOAuth2Transport(ts, nil)

	if transport.Source == nil {
		t.Error("Source not set")
	}

	if transport.Base != http.DefaultTransport {
		t.Error("Base should default to http.DefaultTransport")
	}
}

func TestNewOAuth2Transport_WithCustomBase(t *testing.T) {
	customTransport := &http.Transport{}
	transport := NewOAuth2Transport(staticSource("tok"), customTransport)

	if transport.Base != customTransport {
		t.Error("Base should be set to custom transport")
	}
}

func TestOAuth2Transport_RoundTrip(t *testing.T) {
	baseTransport := testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		authHeader := req.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			t.Errorf("expected Bearer token, got: %q", authHeader)
		}

		if token := strings.TrimPrefix(authHeader, "Bearer "); token != "mock-access-token" {
			t.Errorf("unexpected token: %s", token)
		}

		return okResponse(req, "success"), nil
	})

	client := &http.Client{Transport: NewOAuth2Transport(staticSource("mock-access-token"), baseTransport)}

	resp, err := client.Get("https://api.example.com")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "success" {
		t.Errorf("unexpected response body: %s", body)
	}
}

func TestOAuth2Transport_RoundTrip_DoesNotMutateRequest(t *testing.T) {
	transport := NewOAuth2Transport(staticSource("tok"), testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		return okResponse(req, ""), nil
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("X-Custom", "1")

	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip failed: %v", err)
	}
	resp.Body.Close()

	if req.Header.Get("Authorization") != "" {
		t.Error("original request must not be modified")
	}
}

func TestOAuth2Transport_RoundTrip_NilSource(t *testing.T) {
	transport := &OAuth2Transport{}

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)

	resp, err := transport.RoundTrip(req)
	if resp != nil {
		resp.Body.Close()
	}
	if err == nil {
		t.Fatal("expected error for nil token source")
	}

	if !strings.Contains(err.Error(), "token source is nil") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestOAuth2Transport_RoundTrip_TokenError(t *testing.T) {
	errTokenFailed := errors.New("token endpoint unavailable")
	var baseCalls atomic.Int32

	transport := NewOAuth2Transport(
		TokenSourceFunc(func(context.Context) (string, error) { return "", errTokenFailed }),
		testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
			baseCalls.Add(1)
			return okResponse(req, ""), nil
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	resp, err := transport.RoundTrip(req)
	if resp != nil {
		resp.Body.Close()
	}

	if !errors.Is(err, errTokenFailed) {
		t.Fatalf("expected wrapped token error, got %v", err)
	}
	if baseCalls.Load() != 0 {
		t.Error("request must not be sent without a token")
	}
}

func TestOAuth2Transport_RoundTrip_UsesRequestContext(t *testing.T) {
	type ctxKey struct{}

	var seen any
	transport := NewOAuth2Transport(
		TokenSourceFunc(func(ctx context.Context) (string, error) {
			seen = ctx.Value(ctxKey{})
			return "tok", nil
		}),
		testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
			return okResponse(req, ""), nil
		}),
	)

	ctx := context.WithValue(context.Background(), ctxKey{}, "marker")
	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil).WithContext(ctx)

	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip failed: %v", err)
	}
	resp.Body.Close()

	if seen != "marker" {
		t.Error("token source should receive the request context")
	}
}

type closeRecorder struct {
	testutil.RoundTripFunc
	closed bool
}

func (c *closeRecorder) CloseIdleConnections() { c.closed = true }

func TestOAuth2Transport_CloseIdleConnections(t *testing.T) {
	base := &closeRecorder{}
	transport := NewOAuth2Transport(staticSource("tok"), base)

	(&http.Client{Transport: transport}).CloseIdleConnections()

	if !base.closed {
		t.Error("CloseIdleConnections should reach the base transport")
	}
}

func BenchmarkOAuth2Transport_RoundTrip(b *testing.B) {
	transport := NewOAuth2Transport(staticSource("tok"), testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		return okResponse(req, ""), nil
	}))
	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, err := transport.RoundTrip(req)
		if err != nil {
			b.Fatal(err)
		}
		resp.Body.Close()
	}
}
