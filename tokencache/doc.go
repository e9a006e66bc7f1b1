// Package tokencache stores OAuth2 access tokens keyed by credential identity.
//
// A Record is created when a token exchange succeeds and stops being served once
// its ExpiresAt instant has passed. ExpiresAt already has SafetyMargin removed, so
// renewal happens a minute before the issuer would reject the token.
//
// # Concurrency
//
// Lookups read a per-key atomic pointer and never block. GetOrRefresh collapses
// concurrent misses for the same key into one fetch (single-flight); misses for
// different keys do not wait on each other.
//
// # Lifecycle
//
// Default returns a process-wide Cache created on first use. It is never torn
// down; Reset exists for tests.
package tokencache
