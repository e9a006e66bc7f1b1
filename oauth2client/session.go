package oauth2client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/AmmannChristian/go-ccauth/httpclient"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenResponse is the part of a token endpoint response this package relies on.
type TokenResponse struct {
	AccessToken string
	TokenType   string
	// ExpiresIn is the server-reported lifetime in seconds.
	ExpiresIn int64
	Scope     string
}

// Lifetime returns ExpiresIn as a duration.
func (r TokenResponse) Lifetime() time.Duration {
	return time.Duration(r.ExpiresIn) * time.Second
}

type sessionOptions struct {
	baseTransport http.RoundTripper
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

// WithSessionTransport sends the session's requests through rt instead of a
// freshly cloned default transport. TLS settings from the config are not
// applied to rt.
func WithSessionTransport(rt http.RoundTripper) SessionOption {
	return func(o *sessionOptions) { o.baseTransport = rt }
}

// Session is a short-lived HTTP client configured from one ClientConfig. It
// performs the client-credentials exchange on request and carries the
// resulting token until it is closed. Sessions are not shared between fetches.
type Session struct {
	cfg     ClientConfig
	client  *http.Client
	baseURL *url.URL

	mu     sync.Mutex
	token  string
	closed bool
}

// NewSession builds a Session for cfg. The caller must Close it.
func NewSession(cfg ClientConfig, opts ...SessionOption) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var o sessionOptions
	for _, opt := range opts {
		opt(&o)
	}

	builder := httpclient.NewBuilder().
		WithTimeout(cfg.AuthTimeout()).
		WithoutRedirects()
	if cfg.CAFile() != "" {
		builder.WithTLS(cfg.CAFile(), "", "")
	}
	if cfg.InsecureSkipVerify() {
		builder.WithInsecureSkipVerify()
	}
	if o.baseTransport != nil {
		builder.WithBaseTransport(o.baseTransport)
	}

	client, err := builder.Build()
	if err != nil {
		return nil, &ConfigurationError{Key: EnvCAFile, Reason: err.Error()}
	}

	s := &Session{cfg: cfg, client: client}
	if cfg.BaseURL() != "" {
		// Build already validated the URL.
		s.baseURL, _ = url.Parse(cfg.BaseURL())
	}
	return s, nil
}

// WithSession runs fn with a Session for cfg and closes the session on every
// exit path, including errors and panics in fn.
func WithSession(ctx context.Context, cfg ClientConfig, fn func(ctx context.Context, s *Session) error, opts ...SessionOption) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := NewSession(cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); err == nil {
			err = closeErr
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, s)
}

// FetchToken performs a client-credentials exchange against authURL using the
// session's credentials. The exchange is bounded by the config's AuthTimeout.
//
// Errors are *NetworkError, *AuthServerError or *ProtocolError.
func (s *Session) FetchToken(ctx context.Context, authURL string) (*TokenResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.isClosed() {
		return nil, ErrSessionClosed
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.AuthTimeout())
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)

	cc := clientcredentials.Config{
		ClientID:     s.cfg.ClientID(),
		ClientSecret: s.cfg.ClientSecret(),
		TokenURL:     authURL,
		Scopes:       s.cfg.Scopes(),
		AuthStyle:    oauth2AuthStyle(s.cfg.AuthStyle()),
	}

	tok, err := cc.Token(ctx)
	if err != nil {
		return nil, classifyExchangeError(authURL, err)
	}
	if tok.AccessToken == "" {
		return nil, &ProtocolError{URL: authURL, Reason: "response is missing access_token"}
	}

	expiresIn, err := expiresInSeconds(tok)
	if err != nil {
		return nil, &ProtocolError{URL: authURL, Reason: "response has no usable expires_in", Err: err}
	}

	resp := &TokenResponse{
		AccessToken: tok.AccessToken,
		TokenType:   tok.Type(),
		ExpiresIn:   expiresIn,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scope = scope
	}

	s.SetToken(tok.AccessToken)
	return resp, nil
}

// Token returns the access token carried by the session, or "" before a fetch.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// SetToken makes the session carry token, e.g. one served from the cache.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// BaseURL returns the configured base URL, or nil.
func (s *Session) BaseURL() *url.URL {
	if s.baseURL == nil {
		return nil
	}
	u := *s.baseURL
	return &u
}

// HTTPClient returns the session's client. It is only valid until Close.
func (s *Session) HTTPClient() *http.Client {
	return s.client
}

// NewRequest builds a request for ref resolved against the base URL. When the
// session carries a token, the request gets an Authorization: Bearer header.
func (s *Session) NewRequest(ctx context.Context, method, ref string, body io.Reader) (*http.Request, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("oauth2client: invalid request URL %q: %w", ref, err)
	}
	if s.baseURL != nil {
		u = s.baseURL.ResolveReference(u)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("oauth2client: request URL %q is relative and no base URL is configured", ref)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("oauth2client: build request: %w", err)
	}
	if token := s.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// Close releases the session's connections. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.client.CloseIdleConnections()
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func oauth2AuthStyle(style AuthStyle) oauth2.AuthStyle {
	if style == AuthStyleParams {
		return oauth2.AuthStyleInParams
	}
	return oauth2.AuthStyleInHeader
}

// expiresInSeconds reads expires_in from the raw response. JSON bodies yield
// numbers (or numeric strings from lenient servers); form bodies yield strings.
func expiresInSeconds(tok *oauth2.Token) (int64, error) {
	var (
		n   int64
		err error
	)
	switch v := tok.Extra("expires_in").(type) {
	case nil:
		return 0, errors.New("expires_in is absent")
	case float64:
		n = int64(v)
	case json.Number:
		n, err = v.Int64()
	case string:
		if v == "" {
			return 0, errors.New("expires_in is absent")
		}
		n, err = strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("expires_in has unexpected type %T", v)
	}
	if err != nil {
		return 0, fmt.Errorf("parse expires_in: %w", err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("expires_in must be positive, got %d", n)
	}
	return n, nil
}
