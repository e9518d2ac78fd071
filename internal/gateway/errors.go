package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies why a request did not produce data.
type Kind int

const (
	// NetworkFailure: the transport failed before any response (status 0).
	NetworkFailure Kind = iota + 1
	// HTTPError: the server answered outside 200-299.
	HTTPError
	// InvalidRequest: the call was rejected locally, nothing was sent.
	InvalidRequest
)

func (k Kind) String() string {
	switch k {
	case NetworkFailure:
		return "network_failure"
	case HTTPError:
		return "http_error"
	case InvalidRequest:
		return "invalid_request"
	default:
		return "unknown"
	}
}

// Error is the uniform failure shape. Status is 0 when no HTTP response was
// received.
type Error struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Kind, e.Status, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Status
	}
	return 0
}

// IsKind reports whether err is a gateway error of kind k.
func IsKind(err error, k Kind) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == k
}
