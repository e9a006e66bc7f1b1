// Package httpclient offers HTTP client construction helpers with bearer-token authentication and TLS/mTLS options.
//
// It provides a fluent Builder that creates an http.Client with automatic Bearer token injection from any
// TokenSource (typically an oauth2client.TokenManager), TLS that verifies server certificates unless explicitly
// disabled, custom CAs and mTLS, timeouts, base transports and redirect handling. OAuth2Transport can wrap any
// RoundTripper.
//
// # Features
//
//   - Fluent builder for http.Client with optional token injection
//   - TLS 1.2+ with verification on by default, custom CA files or PEM roots, mTLS, explicit InsecureSkipVerify
//   - A private connection pool per built client
//   - Custom timeouts, base transport override, and redirect disabling
//   - Reusable OAuth2Transport for manual composition
//
// # Quick Start
//
//	cfg, err := oauth2client.FromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client, err := httpclient.NewBuilder().
//	    WithTokenSource(oauth2client.NewTokenManager(ctx, cfg, nil)).
//	    WithTLS("/path/to/ca.crt", "", "").
//	    WithTimeout(60 * time.Second).
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := client.Get("https://api.example.com/data")
//
// # Manual Transport Wrapping
//
//	transport := httpclient.NewOAuth2Transport(tm, nil)
//	client := &http.Client{Transport: transport}
//
// All components are safe for concurrent use if the provided TokenSource is.
package httpclient
