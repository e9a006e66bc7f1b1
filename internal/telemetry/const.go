package telemetry

const (
	InstrumentationName    = "github.com/AmmannChristian/go-ccauth"
	InstrumentationVersion = "0.1.0"

	CacheHits     = "ccauth_token_cache_hits"     // counter
	CacheMisses   = "ccauth_token_cache_misses"   // counter
	Fetches       = "ccauth_token_fetches"        // counter
	FetchErrors   = "ccauth_token_fetch_errors"   // counter
	FetchDuration = "ccauth_token_fetch_duration" // histogram, seconds

	AttrTokenURL  = "oauth2.token_url"
	AttrClientID  = "oauth2.client_id"
	AttrErrorType = "error.type"
)
