package platform

import "fmt"

// Error codes in the platform error taxonomy.
const (
	CodeRateLimit = "rate_limit"
	CodeAuth      = "auth_expired"
	CodeTransport = "transport"
	CodeAPI       = "api_error"
)

// DefaultRetryAfterSeconds applies when a rate-limit response carries no
// Retry-After hint.
const DefaultRetryAfterSeconds = 3600

// APIError is the typed error raised by every platform call.
type APIError struct {
	Code              string
	Message           string
	StatusCode        int
	IsRateLimit       bool
	RetryAfterSeconds int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform api: %s (%s)", e.Message, e.Code)
}

// IsAuthError reports whether the call failed because the access secret is
// expired or revoked, meaning a token refresh should be attempted.
func (e *APIError) IsAuthError() bool {
	return e.Code == CodeAuth
}
