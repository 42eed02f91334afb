package models

import (
	"errors"
	"fmt"
)

var (
	// ErrConstraint marks a malformed unique key (empty or relative file path)
	ErrConstraint = errors.New("constraint violation")

	// ErrUnknownEvent is returned when an envelope carries an unknown type
	ErrUnknownEvent = errors.New("unknown event kind")
)

// StoreError is a record store failure surfaced to the caller
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// ObserverInitError means the watch target could not be observed. The
// server keeps running without live detection.
type ObserverInitError struct {
	Path string
	Err  error
}

func (e *ObserverInitError) Error() string {
	return fmt.Sprintf("cannot watch %s: %v", e.Path, e.Err)
}
func (e *ObserverInitError) Unwrap() error { return e.Err }

// Delivery failure reasons
const (
	DeliveryClosed      = "closed"
	DeliveryQueueFull   = "queue_full"
	DeliveryWriteFailed = "write_failed"
)

// DeliveryError is a failed write to a single viewer. It only ever affects
// that viewer.
type DeliveryError struct {
	ConnID string
	Reason string
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery to %s failed (%s): %v", e.ConnID, e.Reason, e.Err)
	}
	return fmt.Sprintf("delivery to %s failed (%s)", e.ConnID, e.Reason)
}
func (e *DeliveryError) Unwrap() error { return e.Err }

// TransportError is a client-side connection failure; it triggers a reconnect
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }
