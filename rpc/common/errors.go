package common

import (
	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Sentinel Errors
// --------------------------------------------------------------------------

var (
	// protocol

	// ErrProtocol is returned when a peer sends a message that is illegal in its current state or that
	// can not be decoded. Receivers hitting it become corrupted
	ErrProtocol = errors.New("protocol error")

	// peer lifecycle

	// ErrPeerDisconnected is returned when the peer closed the side channel
	ErrPeerDisconnected = errors.New("peer disconnected")
	// ErrPeerCrashed is returned when the operating system reports an abnormal loss of the peer
	ErrPeerCrashed = errors.New("peer crashed")

	// resource

	// ErrResource is returned when memory could not be allocated or mapped
	ErrResource = errors.New("resource allocation failed")

	// capacity

	// ErrCapacity is returned by AddReceiver when all receiver places are taken
	ErrCapacity = errors.New("receiver capacity exhausted")
	// ErrDroppedNotification is returned when a notification could not be sent without blocking
	ErrDroppedNotification = errors.New("notification dropped")

	// precondition

	// ErrUnexpectedState is returned when an operation is not allowed in the current server state
	ErrUnexpectedState = errors.New("unexpected state")
	// ErrUnexpectedReceiverState is returned when an operation is not allowed in the receiver's state
	ErrUnexpectedReceiverState = errors.New("unexpected receiver state")
	// ErrUnknownReceiver is returned for receiver ids that were never issued or have been removed
	ErrUnknownReceiver = errors.New("unknown receiver")
	// ErrInvalidArgument is returned for malformed arguments (unknown class, undersized dropped information, ...)
	ErrInvalidArgument = errors.New("invalid argument")

	// aggregated

	// ErrReceiverError is returned by server wide operations during which at least one receiver was
	// or became corrupted. The receivers themselves can be inspected with GetReceiverState
	ErrReceiverError = errors.New("receiver error")
	// ErrLogicCorruption is the cause recorded for receivers the logic engine reported as corrupted
	ErrLogicCorruption = errors.New("logic corruption detected")
)

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

// ErrorCode is a compact numeric representation of the sentinel errors
type ErrorCode uint8

const (
	ErrCodeNone ErrorCode = iota
	ErrCodeProtocol
	ErrCodePeerDisconnected
	ErrCodePeerCrashed
	ErrCodeResource
	ErrCodeCapacity
	ErrCodeDroppedNotification
	ErrCodeUnexpectedState
	ErrCodeUnexpectedReceiverState
	ErrCodeUnknownReceiver
	ErrCodeInvalidArgument
	ErrCodeReceiverError
	ErrCodeLogicCorruption
	ErrCodeUnknown
)

// codeTable is ordered by specificity, the first matching sentinel wins
var codeTable = []struct {
	code ErrorCode
	err  error
	name string
}{
	{ErrCodeLogicCorruption, ErrLogicCorruption, "logic_corruption"},
	{ErrCodeDroppedNotification, ErrDroppedNotification, "dropped_notification"},
	{ErrCodeProtocol, ErrProtocol, "protocol"},
	{ErrCodePeerDisconnected, ErrPeerDisconnected, "peer_disconnected"},
	{ErrCodePeerCrashed, ErrPeerCrashed, "peer_crashed"},
	{ErrCodeResource, ErrResource, "resource"},
	{ErrCodeCapacity, ErrCapacity, "capacity"},
	{ErrCodeUnexpectedState, ErrUnexpectedState, "unexpected_state"},
	{ErrCodeUnexpectedReceiverState, ErrUnexpectedReceiverState, "unexpected_receiver_state"},
	{ErrCodeUnknownReceiver, ErrUnknownReceiver, "unknown_receiver"},
	{ErrCodeInvalidArgument, ErrInvalidArgument, "invalid_argument"},
	{ErrCodeReceiverError, ErrReceiverError, "receiver_error"},
}

// ErrorCodeOf returns the code of the sentinel err wraps, ErrCodeNone for nil and ErrCodeUnknown
// for errors outside of the taxonomy
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeNone
	}
	for _, entry := range codeTable {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return ErrCodeUnknown
}

// Err returns the sentinel error of the code (nil for ErrCodeNone and unknown codes)
func (c ErrorCode) Err() error {
	for _, entry := range codeTable {
		if entry.code == c {
			return entry.err
		}
	}
	return nil
}

// String returns a snake case name of the code, suitable as a metrics label
func (c ErrorCode) String() string {
	if c == ErrCodeNone {
		return "none"
	}
	for _, entry := range codeTable {
		if entry.code == c {
			return entry.name
		}
	}
	return "unknown"
}
