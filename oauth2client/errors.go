package oauth2client

import (
	"context"
	"errors"
	"fmt"
	"net"

	"golang.org/x/oauth2"
)

var (
	// ErrConfiguration matches every *ConfigurationError.
	ErrConfiguration = errors.New("oauth2client: invalid configuration")

	// ErrAuthentication matches every failure of the token exchange:
	// *NetworkError, *ProtocolError and *AuthServerError.
	ErrAuthentication = errors.New("oauth2client: authentication failed")

	// ErrSessionClosed is returned when a closed Session is asked to exchange credentials.
	ErrSessionClosed = errors.New("oauth2client: session is closed")
)

// ConfigurationError reports a missing or malformed configuration value.
// It is raised before any network attempt and is not worth retrying.
type ConfigurationError struct {
	// Key is the environment-style name of the offending value (e.g. OAUTH2_CLIENT_ID).
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("oauth2client: configuration %s: %s", e.Key, e.Reason)
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// NetworkError reports a transport failure or timeout while reaching the token endpoint.
// Callers may retry at their own policy.
type NetworkError struct {
	URL     string
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("oauth2client: token request to %s timed out: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("oauth2client: token request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is reports whether target is ErrAuthentication.
func (e *NetworkError) Is(target error) bool {
	return target == ErrAuthentication
}

// ProtocolError reports a response that arrived but does not honour the token
// endpoint contract, such as a missing access_token or expires_in field.
type ProtocolError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oauth2client: malformed token response from %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("oauth2client: malformed token response from %s: %s", e.URL, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Is reports whether target is ErrAuthentication.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrAuthentication
}

// AuthServerError reports a non-success status from the token endpoint.
type AuthServerError struct {
	URL        string
	StatusCode int
	// ErrorCode and ErrorDescription carry the RFC 6749 error fields when present.
	ErrorCode        string
	ErrorDescription string
	Body             string
}

func (e *AuthServerError) Error() string {
	msg := fmt.Sprintf("oauth2client: token endpoint %s returned status %d", e.URL, e.StatusCode)
	if e.ErrorCode != "" {
		msg += ": " + e.ErrorCode
		if e.ErrorDescription != "" {
			msg += " (" + e.ErrorDescription + ")"
		}
	} else if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Is reports whether target is ErrAuthentication.
func (e *AuthServerError) Is(target error) bool {
	return target == ErrAuthentication
}

// maxErrorBody bounds how much of an error response is kept in AuthServerError.
const maxErrorBody = 4096

// classifyExchangeError maps an error from the oauth2 exchange onto the error taxonomy.
func classifyExchangeError(authURL string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		serverErr := &AuthServerError{
			URL:              authURL,
			ErrorCode:        retrieveErr.ErrorCode,
			ErrorDescription: retrieveErr.ErrorDescription,
		}
		if retrieveErr.Response != nil {
			serverErr.StatusCode = retrieveErr.Response.StatusCode
		}
		body := retrieveErr.Body
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		serverErr.Body = string(body)
		return serverErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &NetworkError{URL: authURL, Timeout: true, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &NetworkError{URL: authURL, Timeout: netErr.Timeout(), Err: err}
	}

	if errors.Is(err, context.Canceled) {
		return &NetworkError{URL: authURL, Err: err}
	}

	// Everything left comes from decoding the response body.
	return &ProtocolError{URL: authURL, Reason: "invalid token response", Err: err}
}
