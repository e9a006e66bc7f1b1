package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// TokenSource supplies bearer tokens. oauth2client.TokenManager implements it.
type TokenSource interface {
	GetTokenWithContext(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

// GetTokenWithContext calls f.
func (f TokenSourceFunc) GetTokenWithContext(ctx context.Context) (string, error) {
	return f(ctx)
}

// OAuth2Transport is an http.RoundTripper that adds a bearer token to every
// outgoing request before delegating to Base.
type OAuth2Transport struct {
	// Base is the underlying HTTP transport. If nil, http.DefaultTransport is used.
	Base http.RoundTripper

	// Source provides access tokens.
	Source TokenSource
}

// RoundTrip fetches a token with the request context and sends a clone of req
// carrying "Authorization: Bearer <token>". The original request is not modified.
func (t *OAuth2Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Source == nil {
		return nil, errors.New("httpclient: token source is nil")
	}

	token, err := t.Source.GetTokenWithContext(req.Context())
	if err != nil {
		return nil, fmt.Errorf("httpclient: failed to get token: %w", err)
	}

	reqClone := req.Clone(req.Context())
	reqClone.Header.Set("Authorization", "Bearer "+token)

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	return base.RoundTrip(reqClone)
}

// CloseIdleConnections forwards to Base when it supports it.
func (t *OAuth2Transport) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if c, ok := base.(closeIdler); ok {
		c.CloseIdleConnections()
	}
}

// NewOAuth2Transport creates a new OAuth2Transport with the given token source.
// The base transport defaults to http.DefaultTransport if not specified.
func NewOAuth2Transport(ts TokenSource, base http.RoundTripper) *OAuth2Transport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &OAuth2Transport{
		Base:   base,
		Source: ts,
	}
}
