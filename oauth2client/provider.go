package oauth2client

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/AmmannChristian/go-ccauth/internal/telemetry"
	"github.com/AmmannChristian/go-ccauth/tokencache"
	"go.opentelemetry.io/otel/metric"
)

// Logger is an interface for optional logging in TokenProvider.
// Implementations can log token refresh events if desired.
type Logger interface {
	Printf(format string, args ...any)
}

// NewTokenFunc observes token rotation. It receives the new access token after
// it has been cached and before GetToken returns it.
type NewTokenFunc func(accessToken string)

// TokenProvider hands out bearer tokens for client-credentials configurations,
// serving them from a shared cache and exchanging credentials only when the
// cached token is missing or expired. It is safe for concurrent use.
type TokenProvider struct {
	cache         *tokencache.Cache
	logger        Logger
	meterProvider metric.MeterProvider
	metrics       *telemetry.Metrics
	baseTransport http.RoundTripper
}

// Option is a functional option for configuring TokenProvider.
type Option func(*TokenProvider)

// WithCache uses cache instead of the process-wide tokencache.Default().
func WithCache(cache *tokencache.Cache) Option {
	return func(p *TokenProvider) {
		if cache != nil {
			p.cache = cache
		}
	}
}

// WithLogger sets a custom logger for token refresh events.
// If not set, no logging will occur.
func WithLogger(logger Logger) Option {
	return func(p *TokenProvider) {
		p.logger = logger
	}
}

// WithLoggingEnabled enables logging using the default Go log package.
func WithLoggingEnabled() Option {
	return func(p *TokenProvider) {
		p.logger = log.Default()
	}
}

// WithMeterProvider records metrics on mp instead of the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(p *TokenProvider) {
		p.meterProvider = mp
	}
}

// WithBaseTransport sends token requests through rt. Mostly useful in tests;
// TLS settings from the config are not applied to rt.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(p *TokenProvider) {
		p.baseTransport = rt
	}
}

// NewTokenProvider creates a provider. Without WithCache it shares
// tokencache.Default() with every other provider in the process.
func NewTokenProvider(opts ...Option) *TokenProvider {
	p := &TokenProvider{cache: tokencache.Default()}
	for _, opt := range opts {
		opt(p)
	}

	metrics, err := telemetry.NewMetrics(p.meterProvider)
	if err != nil {
		p.logf("oauth2client: metrics disabled: %v", err)
		metrics = telemetry.Noop()
	}
	p.metrics = metrics

	return p
}

var defaultProvider = sync.OnceValue(func() *TokenProvider { return NewTokenProvider() })

// Default returns the process-wide provider used by the package-level GetToken.
func Default() *TokenProvider {
	return defaultProvider()
}

// GetToken returns a valid access token for cfg using the default provider.
// See TokenProvider.GetToken.
func GetToken(ctx context.Context, cfg ClientConfig, onNewToken NewTokenFunc) (string, error) {
	return Default().GetToken(ctx, cfg, onNewToken)
}

// Cache returns the cache backing the provider.
func (p *TokenProvider) Cache() *tokencache.Cache {
	return p.cache
}

// GetToken returns a valid access token for cfg.
//
// A live cached token is returned without any network call. Otherwise a
// Session is opened, credentials are exchanged, the result is cached with
// tokencache.SafetyMargin removed from its lifetime, onNewToken (if non-nil)
// is invoked, and the session is closed. Concurrent callers that miss on the
// same key wait for one shared exchange; only the caller that performed it
// has its onNewToken invoked.
//
// Exchange failures are *NetworkError, *ProtocolError or *AuthServerError and
// leave the cache unchanged. If ctx ends while waiting, ctx.Err() is returned
// and the exchange still completes for the remaining waiters.
func (p *TokenProvider) GetToken(ctx context.Context, cfg ClientConfig, onNewToken NewTokenFunc) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cfg.validate(); err != nil {
		return "", err
	}

	key := cfg.Key()
	attrs := telemetry.Attributes(key.AuthURL, key.ClientID)

	// Fast path: no locks, no session.
	if rec, ok := p.cache.GetValid(key); ok {
		p.metrics.CacheHit(ctx, attrs)
		return rec.AccessToken, nil
	}
	p.metrics.CacheMiss(ctx, attrs)

	fetchCtx := context.WithoutCancel(ctx)
	rec, _, err := p.cache.GetOrRefresh(ctx, key,
		func() (tokencache.Record, error) {
			return p.fetch(fetchCtx, cfg)
		},
		func(rec tokencache.Record) {
			p.logf("oauth2client: obtained new access token for %s (expires: %s)", key, rec.ExpiresAt.Format(time.RFC3339))
			if onNewToken != nil {
				onNewToken(rec.AccessToken)
			}
		},
	)
	if err != nil {
		return "", err
	}
	return rec.AccessToken, nil
}

// fetch performs one exchange inside a scoped Session.
func (p *TokenProvider) fetch(ctx context.Context, cfg ClientConfig) (tokencache.Record, error) {
	key := cfg.Key()
	attrs := telemetry.Attributes(key.AuthURL, key.ClientID)

	if cfg.InsecureSkipVerify() {
		p.logf("oauth2client: WARNING: TLS certificate verification is disabled for %s", cfg.AuthURL())
	}

	var opts []SessionOption
	if p.baseTransport != nil {
		opts = append(opts, WithSessionTransport(p.baseTransport))
	}

	var rec tokencache.Record
	started := time.Now()
	err := WithSession(ctx, cfg, func(ctx context.Context, s *Session) error {
		fetchedAt := p.cache.Now()
		resp, err := s.FetchToken(ctx, cfg.AuthURL())
		if err != nil {
			return err
		}
		rec = tokencache.NewRecord(resp.AccessToken, fetchedAt, resp.Lifetime())
		return nil
	}, opts...)

	p.metrics.Exchange(ctx, attrs, time.Since(started), errorType(err))
	if err != nil {
		p.logf("oauth2client: token fetch for %s failed: %v", key, err)
		return tokencache.Record{}, err
	}
	return rec, nil
}

func (p *TokenProvider) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

// errorType names the error class for metric attributes.
func errorType(err error) string {
	if err == nil {
		return ""
	}

	var (
		netErr    *NetworkError
		protoErr  *ProtocolError
		serverErr *AuthServerError
	)
	switch {
	case errors.As(err, &netErr):
		if netErr.Timeout {
			return "timeout"
		}
		return "network"
	case errors.As(err, &protoErr):
		return "protocol"
	case errors.As(err, &serverErr):
		return "auth_server"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	default:
		return "other"
	}
}
