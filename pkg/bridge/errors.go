// Copyright 2024-2026 Aiku AI

package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigurationUnavailable is returned when the federation transport
	// has not been initialized. Most operations degrade to a logged no-op
	// instead of returning it.
	ErrConfigurationUnavailable = errors.New("federation transport not configured")
	ErrMalformedIdentifier      = errors.New("malformed federation identifier")
	ErrUnmappedEntity           = errors.New("entity has no federation mapping")
	ErrProvisioningFailed       = errors.New("failed to provision shadow user")
	ErrUnsupportedRole          = errors.New("unsupported room role")
	ErrNoAnchorEvent            = errors.New("no anchor event to relate to")
	ErrPeerNotFederated         = errors.New("direct room peer is not federated")
	ErrEmptyBridgeResult        = errors.New("transport returned no event ID")
	ErrTransportFailure         = errors.New("federation transport failure")
	// ErrProfileNotFound is returned by Transport.QueryProfile when the remote
	// homeserver reports that the user does not exist.
	ErrProfileNotFound = errors.New("remote profile not found")
)

// TransportError wraps an error returned by the federation transport.
// errors.Is matches both ErrTransportFailure and the wrapped cause.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransportFailure, e.Err}
}

func transportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

func unmapped(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnmappedEntity, fmt.Sprintf(format, args...))
}
