// Package testutil provides test helpers for go-ccauth packages.
//
// It includes utilities to spin up IPv4-only local HTTP and HTTPS servers (avoiding IPv6 in sandboxes)
// and a counting OAuth2 token endpoint that issues signed JWT access tokens.
//
// # Utilities
//
//   - NewLocalHTTPServer / NewLocalTLSServer: start httptest servers bound to 127.0.0.1
//   - WriteServerCA: export a TLS server certificate as a CA bundle file
//   - TokenServer: /token endpoint with request counting, scripted replies and a Hold switch
//   - GenerateTestKeyPair / CreateSignedToken: RS256 JWTs for access tokens
//
// Servers are closed through tb.Cleanup.
package testutil
