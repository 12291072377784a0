package client

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by operations that need a live connection and
// cannot be degraded to a silent no-op (e.g. accepting a call).
var ErrNotConnected = errors.New("not connected")

// AuthError means the credential was missing or rejected. It is fatal to
// connect and is never retried.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "auth: " + e.Reason
}

// NetworkError wraps a transport-level failure. Connect retries these up to
// the configured bound before surfacing one.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServiceError is a failed call to one of the backing REST services. It
// propagates to the immediate caller and is never retried by this layer.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service: %d %s", e.Status, e.Message)
}

// ProtocolError is a malformed or unexpected inbound event payload. It is
// logged and dropped; it never crashes the event loop or other handlers.
type ProtocolError struct {
	Event string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: event %q: %v", e.Event, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
