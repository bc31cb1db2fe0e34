/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionEnded is returned by Start when the session was ended while starting.
	ErrSessionEnded = errors.New("calling: session ended")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("calling: session already started")

	// ErrNoPendingCall is returned by Accept and Reject without an incoming call.
	ErrNoPendingCall = errors.New("calling: no pending incoming call")
)

// MediaAcquisitionError is returned when the local audio input is denied or missing.
// It is fatal to the call attempt and is never retried.
type MediaAcquisitionError struct {
	Err error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("media acquisition failed: %v", e.Err)
}

// Unwrap returns the underlying device error.
func (e *MediaAcquisitionError) Unwrap() error { return e.Err }

// SignalingProtocolViolation describes a duplicate or out-of-order session description.
type SignalingProtocolViolation struct {
	RoomID string
	Event  string
	Reason string
	Err    error
}

func (e *SignalingProtocolViolation) Error() string {
	msg := fmt.Sprintf("signaling protocol violation in room %s: %s %s", e.RoomID, e.Event, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped error, if any.
func (e *SignalingProtocolViolation) Unwrap() error { return e.Err }

// PeerConnectionFailure is returned when the peer connection cannot be built
// or reaches the failed state. The session is terminated without reconnecting.
type PeerConnectionFailure struct {
	RoomID string
	Stage  string
	Err    error
}

func (e *PeerConnectionFailure) Error() string {
	msg := fmt.Sprintf("peer connection failure in room %s during %s", e.RoomID, e.Stage)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped error, if any.
func (e *PeerConnectionFailure) Unwrap() error { return e.Err }

// RoutingError is returned when a call cannot be routed: the callee is
// unavailable, busy or rejected the call, or the router request failed.
type RoutingError struct {
	CalleeID string
	RoomID   string
	Reason   string
	Err      error
}

func (e *RoutingError) Error() string {
	msg := "routing error: " + e.Reason
	if e.CalleeID != "" {
		msg += " (callee " + e.CalleeID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped error, if any.
func (e *RoutingError) Unwrap() error { return e.Err }

// InsufficientBalanceError is returned by PlaceCall before any network call
// when the last-known balance is below the per-call minimum, or when the
// router refuses the call with 402. In the latter case Err holds the router's
// error and Balance is unknown.
type InsufficientBalanceError struct {
	Balance int
	Minimum int
	Err     error
}

func (e *InsufficientBalanceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("insufficient balance: router refused call: %v", e.Err)
	}
	return fmt.Sprintf("insufficient balance: %d coins, at least %d required", e.Balance, e.Minimum)
}

// Unwrap returns the router error, if any.
func (e *InsufficientBalanceError) Unwrap() error { return e.Err }

// CleanupError wraps a failed teardown step. It is logged and never returned.
type CleanupError struct {
	Step string
	Err  error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup step %q failed: %v", e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *CleanupError) Unwrap() error { return e.Err }

// --- Convenience functions ---

// IsMediaAcquisitionError reports whether err is a MediaAcquisitionError.
func IsMediaAcquisitionError(err error) bool {
	var e *MediaAcquisitionError
	return errors.As(err, &e)
}

// IsProtocolViolation reports whether err is a SignalingProtocolViolation.
func IsProtocolViolation(err error) bool {
	var e *SignalingProtocolViolation
	return errors.As(err, &e)
}

// IsPeerConnectionFailure reports whether err is a PeerConnectionFailure.
func IsPeerConnectionFailure(err error) bool {
	var e *PeerConnectionFailure
	return errors.As(err, &e)
}

// IsRoutingError reports whether err is a RoutingError.
func IsRoutingError(err error) bool {
	var e *RoutingError
	return errors.As(err, &e)
}

// IsInsufficientBalance reports whether err is an InsufficientBalanceError.
func IsInsufficientBalance(err error) bool {
	var e *InsufficientBalanceError
	return errors.As(err, &e)
}
