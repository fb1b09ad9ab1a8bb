package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrConnClosed is returned when opening a channel on a closed connection.
	ErrConnClosed = errors.New("transport: connection is closed")
)

// ConnError wraps a connection-level failure.
type ConnError struct {
	Op  string // operation that failed
	URL string // broker URL (sanitized)
	Err error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}
