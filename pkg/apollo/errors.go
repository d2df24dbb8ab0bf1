package apollo

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rotisserie/eris"
)

// Sentinels for the provider failure classes. Match with errors.Is.
var (
	ErrUnauthorized = eris.New("apollo: unauthorized")
	ErrRateLimited  = eris.New("apollo: rate limited")
	ErrValidation   = eris.New("apollo: invalid search parameters")
	ErrServer       = eris.New("apollo: server error")
	ErrUnexpected   = eris.New("apollo: unexpected status")
)

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
	kind       error
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512]
	}
	return fmt.Sprintf("%s (status %d): %s", e.kind, e.StatusCode, body)
}

// Unwrap exposes the failure class sentinel.
func (e *APIError) Unwrap() error {
	return e.kind
}

// newAPIError classifies a status code.
func newAPIError(status int, body []byte) *APIError {
	return &APIError{StatusCode: status, Body: string(body), kind: classifyStatus(status)}
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return ErrValidation
	case status >= 500:
		return ErrServer
	default:
		return ErrUnexpected
	}
}

// IsFatal reports whether err means no other query can succeed right now:
// bad credentials or an exhausted rate limit.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrRateLimited)
}
