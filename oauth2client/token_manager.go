package oauth2client

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenManager binds a TokenProvider to one ClientConfig so it can be handed to
// outbound clients: it satisfies httpclient.TokenSource, the grpcclient
// interceptors and oauth2.TokenSource.
type TokenManager struct {
	provider   *TokenProvider
	config     ClientConfig
	ctx        context.Context // used by GetToken and Token, which take no context
	onNewToken NewTokenFunc
}

// Ensure TokenManager implements the oauth2.TokenSource interface.
var _ oauth2.TokenSource = (*TokenManager)(nil)

// NewTokenManager creates a token manager for cfg.
//
// Parameters:
//   - ctx: Context for GetToken and Token, which cannot take one (cancellation is dropped, values are kept)
//   - cfg: Client configuration from Build, New or FromEnv
//   - onNewToken: Optional hook invoked after each token rotation
//   - opts: Provider options (WithLogger, WithLoggingEnabled, WithCache, ...); without any, the default provider is used
func NewTokenManager(ctx context.Context, cfg ClientConfig, onNewToken NewTokenFunc, opts ...Option) *TokenManager {
	provider := Default()
	if len(opts) > 0 {
		provider = NewTokenProvider(opts...)
	}
	return provider.TokenManager(ctx, cfg, onNewToken)
}

// TokenManager returns a manager for cfg backed by p.
func (p *TokenProvider) TokenManager(ctx context.Context, cfg ClientConfig, onNewToken NewTokenFunc) *TokenManager {
	// Keep token requests independent from caller cancellations while preserving values.
	if ctx == nil {
		ctx = context.Background()
	} else {
		ctx = context.WithoutCancel(ctx)
	}

	return &TokenManager{
		provider:   p,
		config:     cfg,
		ctx:        ctx,
		onNewToken: onNewToken,
	}
}

// Config returns the configuration the manager serves.
func (tm *TokenManager) Config() ClientConfig {
	return tm.config
}

// GetTokenWithContext returns a valid access token, fetching one if necessary.
// This method respects the provided context's cancellation and deadline.
func (tm *TokenManager) GetTokenWithContext(ctx context.Context) (string, error) {
	if ctx == nil {
		ctx = tm.ctx
	}
	return tm.provider.GetToken(ctx, tm.config, tm.onNewToken)
}

// GetToken returns a valid access token using the manager's context.
func (tm *TokenManager) GetToken() (string, error) {
	return tm.GetTokenWithContext(tm.ctx)
}

// Token implements oauth2.TokenSource. Expiry is the cache expiry, which
// already has the safety margin removed.
func (tm *TokenManager) Token() (*oauth2.Token, error) {
	accessToken, err := tm.GetTokenWithContext(tm.ctx)
	if err != nil {
		return nil, err
	}

	tok := &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}
	if rec, ok := tm.provider.cache.Peek(tm.config.Key()); ok && rec.AccessToken == accessToken {
		tok.Expiry = rec.ExpiresAt
	}
	return tok, nil
}
