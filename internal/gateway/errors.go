package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrTimeout marks calls that exceeded the per-call deadline. Timeouts are a
// NetworkError flavor: errors.Is(err, ErrTimeout) and IsRetryable(err) both
// hold for them.
var ErrTimeout = errors.New("request timed out")

// HTTPError means the request reached the backend and was rejected.
// Retrying the same input will fail the same way, so the submission flow
// never queues these.
type HTTPError struct {
	Status  int
	Message string
	Details json.RawMessage
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// NetworkError means the request never reached backend business logic:
// DNS failure, connection refused, offline, or timeout. Retryable.
type NetworkError struct {
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("network: timed out: %v", e.Err)
	}
	return fmt.Sprintf("network: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool {
	return target == ErrTimeout && e.Timeout
}

// IsRetryable reports whether err is a connectivity-class failure worth
// queuing for later sync.
func IsRetryable(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
