// Package oauth2client obtains, caches and renews OAuth2 client-credentials
// access tokens for service-to-service calls.
//
// A ClientConfig carries one set of client credentials. GetToken returns a
// cached token while it is valid and otherwise exchanges the credentials at
// the token endpoint inside a short-lived Session. Tokens are cached per
// (token URL, client ID) in a process-wide tokencache.Cache. Each record
// expires tokencache.SafetyMargin before the server-reported lifetime ends.
// Concurrent callers that miss on the same key share a single exchange.
//
// # Features
//
//   - Configuration from explicit values (Build, New) or the environment (FromEnv, with .env support)
//   - Per-key caching with a 60 second safety margin and one exchange per key at a time
//   - Rotation hook (NewTokenFunc) invoked once for every freshly obtained token
//   - Typed errors: ConfigurationError, NetworkError, ProtocolError, AuthServerError
//   - TLS verification on by default; custom CA bundles; explicit opt-out for development
//   - OpenTelemetry metrics and optional logging (WithLogger, WithLoggingEnabled)
//   - TokenManager adapts a config to httpclient, grpcclient and oauth2.TokenSource
//
// # Quick Start
//
//	cfg, err := oauth2client.FromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	token, err := oauth2client.GetToken(ctx, cfg, func(token string) {
//	    log.Println("access token rotated")
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	tm := oauth2client.NewTokenManager(ctx, cfg, nil, oauth2client.WithLoggingEnabled())
//	client, err := httpclient.NewBuilder().WithTokenSource(tm).Build()
//
// # Environment
//
// FromEnv reads OAUTH2_TOKEN_URL, OAUTH2_CLIENT_ID and OAUTH2_CLIENT_SECRET
// (required) plus SERVICE_BASE_URL, OAUTH2_AUTH_TIMEOUT (seconds, default 300),
// OAUTH2_SCOPES, OAUTH2_AUTH_STYLE, OAUTH2_CA_FILE and OAUTH2_INSECURE_SKIP_VERIFY.
//
// # Notes
//
//   - The cache lives in memory only and is never persisted.
//   - Failed exchanges are not retried; the cache keeps its previous record.
//   - With concurrent misses only the caller that performed the exchange has its hook invoked.
package oauth2client
