package session

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotInitialized = errors.New("session not initialized")
	ErrSessionClosed         = errors.New("session closed")
	ErrUnknownDatapoint      = errors.New("unknown datapoint")
	ErrUnknownCapability     = errors.New("unknown capability")
	// ErrTransportClosed is returned by transports that can no longer reach the
	// device. Sessions receiving it become Degraded.
	ErrTransportClosed = errors.New("transport closed")
)

// TransportError records which transport operation failed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
