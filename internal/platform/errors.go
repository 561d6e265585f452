package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/jmylchreest/revsync-api/internal/models"
)

// CredentialError means the stored credentials are missing, malformed or
// rejected by the provider. Never retried.
type CredentialError struct {
	Platform models.Platform
	Reason   string
	Err      error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s credentials: %s: %v", e.Platform, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s credentials: %s", e.Platform, e.Reason)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// APIError is a failed provider call.
type APIError struct {
	Platform   models.Platform
	Op         string
	StatusCode int // 0 for transport failures
	Retryable  bool
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Platform, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Platform, e.Op, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// ParseError is a malformed provider record. The record is skipped.
type ParseError struct {
	Platform models.Platform
	Source   string // report or object name
	Line     int    // 1-based, 0 when unknown
	Err      error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s %s line %d: %v", e.Platform, e.Source, e.Line, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Platform, e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ClassifyStatus turns a non-2xx provider response into a typed error:
// 401/403 are credential failures, 429 and 5xx are retryable, other 4xx are not.
func ClassifyStatus(p models.Platform, op string, status int, err error) error {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &CredentialError{Platform: p, Reason: fmt.Sprintf("%s rejected (status %d)", op, status), Err: err}
	case status == http.StatusTooManyRequests || status >= 500:
		return &APIError{Platform: p, Op: op, StatusCode: status, Retryable: true, Err: err}
	default:
		return &APIError{Platform: p, Op: op, StatusCode: status, Retryable: false, Err: err}
	}
}

// TransportError wraps a failure that produced no response. Timeouts and
// connection errors are retryable; cancellation is not.
func TransportError(p models.Platform, op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &APIError{Platform: p, Op: op, Retryable: isTimeout(err) || isNetwork(err), Err: err}
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var credErr *CredentialError
	if errors.As(err, &credErr) {
		return false
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return isTimeout(err)
}

// IsCredentialError reports whether err carries a CredentialError.
func IsCredentialError(err error) bool {
	var credErr *CredentialError
	return errors.As(err, &credErr)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetwork(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
