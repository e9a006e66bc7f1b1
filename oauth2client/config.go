package oauth2client

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AmmannChristian/go-ccauth/tokencache"
)

// DefaultAuthTimeout bounds a token exchange when no override is configured.
const DefaultAuthTimeout = 300 * time.Second

// Environment-style names of the configuration values. Build reports problems
// using these names so the message points at what an operator has to set.
const (
	EnvBaseURL            = "SERVICE_BASE_URL"
	EnvTokenURL           = "OAUTH2_TOKEN_URL"
	EnvClientID           = "OAUTH2_CLIENT_ID"
	EnvClientSecret       = "OAUTH2_CLIENT_SECRET"
	EnvAuthTimeout        = "OAUTH2_AUTH_TIMEOUT"
	EnvScopes             = "OAUTH2_SCOPES"
	EnvAuthStyle          = "OAUTH2_AUTH_STYLE"
	EnvCAFile             = "OAUTH2_CA_FILE"
	EnvInsecureSkipVerify = "OAUTH2_INSECURE_SKIP_VERIFY"
)

// AuthStyle selects how client credentials are sent to the token endpoint.
type AuthStyle string

const (
	// AuthStyleHeader sends credentials with HTTP Basic authentication (client_secret_basic).
	AuthStyleHeader AuthStyle = "header"
	// AuthStyleParams sends credentials in the form body (client_secret_post).
	AuthStyleParams AuthStyle = "params"
)

// Values holds raw, unvalidated configuration as it arrives from the environment
// or another key/value source.
type Values struct {
	BaseURL            string
	AuthURL            string
	ClientID           string
	ClientSecret       string
	AuthTimeout        string // integer seconds
	Scopes             string // whitespace separated
	AuthStyle          string
	CAFile             string
	InsecureSkipVerify bool
}

// ClientConfig is the validated, immutable configuration for one set of client
// credentials. The zero value is not usable; obtain one from Build, New or FromEnv.
type ClientConfig struct {
	baseURL            string
	authURL            string
	clientID           string
	clientSecret       string
	authTimeout        time.Duration
	scopes             []string
	authStyle          AuthStyle
	caFile             string
	insecureSkipVerify bool
}

// Build validates values and returns a ClientConfig.
//
// AuthURL, ClientID and ClientSecret are required. AuthTimeout falls back to
// DefaultAuthTimeout when it is absent, not an integer, or not positive.
func Build(values Values) (ClientConfig, error) {
	cfg := ClientConfig{
		baseURL:            strings.TrimSpace(values.BaseURL),
		authURL:            strings.TrimSpace(values.AuthURL),
		clientID:           strings.TrimSpace(values.ClientID),
		clientSecret:       strings.TrimSpace(values.ClientSecret),
		authTimeout:        parseAuthTimeout(values.AuthTimeout),
		scopes:             strings.Fields(values.Scopes),
		caFile:             strings.TrimSpace(values.CAFile),
		insecureSkipVerify: values.InsecureSkipVerify,
	}

	if cfg.authURL == "" {
		return ClientConfig{}, missing(EnvTokenURL)
	}
	if cfg.clientID == "" {
		return ClientConfig{}, missing(EnvClientID)
	}
	if cfg.clientSecret == "" {
		return ClientConfig{}, missing(EnvClientSecret)
	}

	if err := validateAbsoluteURL(EnvTokenURL, cfg.authURL); err != nil {
		return ClientConfig{}, err
	}
	if cfg.baseURL != "" {
		if err := validateAbsoluteURL(EnvBaseURL, cfg.baseURL); err != nil {
			return ClientConfig{}, err
		}
	}

	switch style := AuthStyle(strings.ToLower(strings.TrimSpace(values.AuthStyle))); style {
	case "", AuthStyleHeader:
		cfg.authStyle = AuthStyleHeader
	case AuthStyleParams:
		cfg.authStyle = AuthStyleParams
	default:
		return ClientConfig{}, &ConfigurationError{
			Key:    EnvAuthStyle,
			Reason: fmt.Sprintf("unsupported auth style %q (want %q or %q)", values.AuthStyle, AuthStyleHeader, AuthStyleParams),
		}
	}

	return cfg, nil
}

// ConfigOption adjusts optional values accepted by New.
type ConfigOption func(*Values)

// WithBaseURL sets the base URL attached to sessions built from the config.
func WithBaseURL(baseURL string) ConfigOption {
	return func(v *Values) { v.BaseURL = baseURL }
}

// WithAuthTimeout bounds each token exchange. Non-positive durations select DefaultAuthTimeout.
// The timeout is kept at whole-second resolution.
func WithAuthTimeout(timeout time.Duration) ConfigOption {
	return func(v *Values) { v.AuthTimeout = strconv.Itoa(int(timeout / time.Second)) }
}

// WithScopes sets the scopes requested with each exchange.
func WithScopes(scopes ...string) ConfigOption {
	return func(v *Values) { v.Scopes = strings.Join(scopes, " ") }
}

// WithAuthStyle selects how credentials are sent to the token endpoint.
func WithAuthStyle(style AuthStyle) ConfigOption {
	return func(v *Values) { v.AuthStyle = string(style) }
}

// WithCAFile trusts the PEM bundle at path when verifying the token endpoint.
func WithCAFile(path string) ConfigOption {
	return func(v *Values) { v.CAFile = path }
}

// WithInsecureSkipVerify disables TLS certificate verification for token requests.
// NOT RECOMMENDED outside development setups.
func WithInsecureSkipVerify() ConfigOption {
	return func(v *Values) { v.InsecureSkipVerify = true }
}

// New builds a ClientConfig from explicit credentials.
func New(authURL, clientID, clientSecret string, opts ...ConfigOption) (ClientConfig, error) {
	values := Values{
		AuthURL:      authURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}
	for _, opt := range opts {
		opt(&values)
	}
	return Build(values)
}

// BaseURL returns the optional base URL, or "" when none is configured.
func (c ClientConfig) BaseURL() string { return c.baseURL }

// AuthURL returns the token endpoint.
func (c ClientConfig) AuthURL() string { return c.authURL }

// ClientID returns the client identifier.
func (c ClientConfig) ClientID() string { return c.clientID }

// ClientSecret returns the client secret.
func (c ClientConfig) ClientSecret() string { return c.clientSecret }

// AuthTimeout returns the bound applied to each token exchange.
func (c ClientConfig) AuthTimeout() time.Duration { return c.authTimeout }

// Scopes returns a copy of the requested scopes.
func (c ClientConfig) Scopes() []string {
	if len(c.scopes) == 0 {
		return nil
	}
	return append([]string(nil), c.scopes...)
}

// AuthStyle returns how credentials are sent to the token endpoint.
func (c ClientConfig) AuthStyle() AuthStyle { return c.authStyle }

// CAFile returns the custom CA bundle path, or "" for system roots.
func (c ClientConfig) CAFile() string { return c.caFile }

// InsecureSkipVerify reports whether TLS verification is disabled.
func (c ClientConfig) InsecureSkipVerify() bool { return c.insecureSkipVerify }

// Key returns the cache key shared by every config with the same endpoint and client ID.
func (c ClientConfig) Key() tokencache.Key {
	return tokencache.NewKey(c.authURL, c.clientID)
}

// String describes the config without revealing the secret.
func (c ClientConfig) String() string {
	return fmt.Sprintf("ClientConfig{authURL: %s, clientID: %s, timeout: %s}", c.authURL, c.clientID, c.authTimeout)
}

// validate reports whether c came out of Build.
func (c ClientConfig) validate() error {
	if c.authURL == "" || c.clientID == "" || c.clientSecret == "" || c.authTimeout <= 0 {
		return &ConfigurationError{Key: "ClientConfig", Reason: "not built with oauth2client.Build, New or FromEnv"}
	}
	return nil
}

func parseAuthTimeout(raw string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || seconds <= 0 {
		return DefaultAuthTimeout
	}
	return time.Duration(seconds) * time.Second
}

func validateAbsoluteURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &ConfigurationError{Key: key, Reason: fmt.Sprintf("invalid URL: %v", err)}
	}
	if u.Scheme == "" || u.Host == "" {
		return &ConfigurationError{Key: key, Reason: fmt.Sprintf("%q is not an absolute URL", raw)}
	}
	return nil
}

func missing(key string) error {
	return &ConfigurationError{Key: key, Reason: "required value is missing or empty"}
}
