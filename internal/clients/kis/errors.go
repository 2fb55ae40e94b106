// Package kis is the HTTP client for the Korea Investment & Securities
// open API: token lifecycle, daily candles, rank listings, and exchange
// holiday queries.
package kis

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a failed provider call: a transport-level failure, a
// non-200 status, or a business error reported in the response body.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("kis: %s (code %s, http %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("kis: %s (http %d)", e.Message, e.StatusCode)
}

// AuthError is a token request or credential failure.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return "kis auth: " + e.Message
}

// IsNotFound reports whether err is an HTTP 404 from the provider.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
