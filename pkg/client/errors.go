package client

import (
	"errors"
	"fmt"

	"github.com/slack-go/slack"
)

// Common errors returned by the client.
var (
	// ErrRateLimitExhausted is returned when MaxRateLimitRetries is set and
	// Slack keeps answering 429 past that bound.
	ErrRateLimitExhausted = errors.New("rate limit retries exhausted")

	// ErrContextCancelled is returned when the context is cancelled during a
	// rate limit wait.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrCursorParam is returned for requests that set the cursor parameter
	// themselves. Pagination owns that key.
	ErrCursorParam = errors.New("cursor parameter is managed by the fetcher")

	// ErrInvalidRequest is returned for requests missing an endpoint or token,
	// or using an HTTP method other than GET or POST.
	ErrInvalidRequest = errors.New("invalid request")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents bodies that are not a Slack API response.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassProvider represents ok=false responses.
	ErrorClassProvider ErrorClass = "provider"
)

// APIError is a response Slack delivered with ok=false.
type APIError struct {
	Endpoint   string
	StatusCode int

	// Code is the Slack error string, e.g. channel_not_found.
	Code string

	// Metadata carries Slack's response_metadata (messages, warnings).
	Metadata slack.ResponseMetadata
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if len(e.Metadata.Messages) > 0 {
		return fmt.Sprintf("slack %s: %s (%v)", e.Endpoint, e.Code, e.Metadata.Messages)
	}
	return fmt.Sprintf("slack %s: %s", e.Endpoint, e.Code)
}

// TransportError is a failure below the Slack API layer: the call did not
// complete, the status was not 2xx, or the body could not be decoded.
type TransportError struct {
	Endpoint   string
	StatusCode int
	ErrorClass ErrorClass
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("slack %s %s error (status %d): %v",
			e.Endpoint, e.ErrorClass, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("slack %s %s error: %v", e.Endpoint, e.ErrorClass, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsAPIError reports whether err is an APIError with the given Slack code.
// An empty code matches any APIError.
func IsAPIError(err error, code string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return code == "" || apiErr.Code == code
}
