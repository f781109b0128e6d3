// Package errors defines the error taxonomy of the sync layer.
// Transient network failures are retried internally; every other kind
// propagates as a typed error to the immediate caller.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrUnavailable   = fmt.Errorf("no connection and no cached data")
	ErrAuth          = fmt.Errorf("authentication rejected")
	ErrValidation    = fmt.Errorf("invalid request")
	ErrConflict      = fmt.Errorf("conflicting remote state")
	ErrSerialization = fmt.Errorf("malformed payload")
	ErrQueueOverflow = fmt.Errorf("outgoing queue full")
	ErrChannelClosed = fmt.Errorf("realtime channel closed")
	ErrWorkerPanic   = fmt.Errorf("worker panic")
)

// NetworkError marks a transport-level failure as transient.
// The API client retries these with backoff before surfacing them.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError carries a non-retryable status returned by the remote service.
type HTTPError struct {
	Op     string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s rejected with status %d: %s", e.Op, e.Status, e.Body)
}

// IsRetryable reports whether an operation that failed with err may be
// attempted again. Only transport failures qualify; typed rejections
// from the server never do.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}
