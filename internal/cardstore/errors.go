package cardstore

import (
	"errors"
	"fmt"
)

// Errors returned by card store adapters. A rejected transition is reported
// as *kanban.TransitionError with Remote set.
var (
	ErrTransport    = errors.New("card store transport error")
	ErrCardNotFound = errors.New("card not found")
)

// TransportError is a failure reaching a remote service: network errors,
// timeouts, an open circuit breaker, or an unexpected HTTP status.
type TransportError struct {
	Op         string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s: status %d", ErrTransport, e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s: %v", ErrTransport, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }
