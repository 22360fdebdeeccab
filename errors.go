package signals

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the dispatch core. Use errors.Is to test for
// these; richer failures carry structured detail via the *Error types
// below instead.
var (
	// ErrNotCallable is returned by Connect when the supplied slot is not a
	// callable value (not a func, and not a bound-method-shaped value this
	// module knows how to wrap).
	ErrNotCallable = errors.New("signals: slot is not callable")

	// ErrAlreadyConnected is returned by Connect when WithUnique(UniqueRaise)
	// is given and a slot with the same unique key is already connected.
	ErrAlreadyConnected = errors.New("signals: slot already connected")

	// ErrNotConnected is returned by Disconnect when WithMissingOK(false) is
	// given and no matching slot is present.
	ErrNotConnected = errors.New("signals: slot not connected")

	// ErrArgCountMismatch is returned by Emit when check-nargs is enabled
	// and the provided arguments don't satisfy the declared Signature.
	ErrArgCountMismatch = errors.New("signals: argument count mismatch")

	// ErrArgTypeMismatch is returned by Emit when check-types is enabled and
	// an argument's type is not assignable to the declared Signature.
	ErrArgTypeMismatch = errors.New("signals: argument type mismatch")

	// ErrNoSuchAttribute is returned by ConnectSetattr when the named field
	// does not exist, or is not settable, on the target.
	ErrNoSuchAttribute = errors.New("signals: no such settable attribute")

	// ErrNoSetitemSupport is returned by ConnectSetitem when the target does
	// not support keyed assignment (is not a map, or is a nil/unaddressable one).
	ErrNoSetitemSupport = errors.New("signals: target does not support setitem")

	// ErrNonUniformGroup is the error NewGroup panics with (wrapped, naming
	// the members) when WithStrict is given and the member signals do not
	// all share an identical Signature.
	ErrNonUniformGroup = errors.New("signals: group members have non-uniform signatures")

	// errDeadReference is internal: it signals to the emit loop that a
	// slot's weakly-held reference(s) are no longer alive, and the entry
	// should be reaped rather than invoked or reported as a failure.
	errDeadReference = errors.New("signals: dead reference")
)

// IncompatibleSlotError is returned by Connect when a slot fails the arity
// or type compatibility rule (spec §4.2) against the signal's Signature.
type IncompatibleSlotError struct {
	// SignalSignature is the accepted signature of the signal being
	// connected to.
	SignalSignature Signature
	// SlotSignature is the offending slot's introspected signature.
	SlotSignature Signature
	// Reason describes which rule was violated (e.g. "slot requires 2
	// positional arguments, signal provides 1").
	Reason string
}

func (e *IncompatibleSlotError) Error() string {
	return fmt.Sprintf(
		"signals: incompatible slot: %s (signal signature %s, slot signature %s)",
		e.Reason, e.SignalSignature, e.SlotSignature,
	)
}

// EmitLoopError wraps any error or panic raised by a slot during emission,
// preserving the original cause, the offending slot's identity, the
// emitted arguments, and the reentrant emission depth at the time of
// failure.
type EmitLoopError struct {
	// Cause is the original error (or a *PanicError, if the slot panicked).
	Cause error
	// SlotID identifies the offending slot, for use with Disconnect.
	SlotID Slot
	// SignalName is the declared name of the emitting SignalInstance, if any.
	SignalName string
	// Args is the argument list the slot was invoked (or attempted to be
	// invoked) with.
	Args []any
	// Depth is the reentrant emission depth at the time of failure (0 for a
	// top-level, non-reentrant emission).
	Depth int
}

func (e *EmitLoopError) Error() string {
	name := e.SignalName
	if name == "" {
		name = "<unnamed>"
	}
	return fmt.Sprintf("signals: emit %q: slot failed: %v", name, e.Cause)
}

// Unwrap returns the original cause, allowing errors.Is/errors.As to see
// through the wrapper.
func (e *EmitLoopError) Unwrap() error { return e.Cause }

// PanicError wraps a recovered panic value, as the Cause of an
// EmitLoopError when a slot panics rather than returning an error, or of a
// ReducerError when a Reducer panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("signals: slot panicked: %v", e.Value)
}

// ReducerError is returned by the resume func that SignalInstance.Pause
// returns when the supplied Reducer panics; Cause is a *PanicError.
type ReducerError struct {
	Cause error
}

func (e *ReducerError) Error() string { return fmt.Sprintf("signals: reducer failed: %v", e.Cause) }
func (e *ReducerError) Unwrap() error { return e.Cause }
