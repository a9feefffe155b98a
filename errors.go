package tlmbox

import (
	"errors"
	"fmt"
)

var (
	// ErrPayloadTooLarge is returned when a payload does not fit the record.
	ErrPayloadTooLarge = errors.New("tlmbox: payload too large")
	// ErrMalformed is the root of every decode failure.
	ErrMalformed = errors.New("tlmbox: malformed record")
	// ErrAlreadyInitialized is returned by a second Init on one controller.
	ErrAlreadyInitialized = errors.New("tlmbox: already initialized")
	// ErrEvtReleased is the panic value for access through a closed EvtBox.
	ErrEvtReleased = errors.New("tlmbox: event buffer already released")
	// ErrPoolExhausted reports an empty free queue on claim.
	ErrPoolExhausted = errors.New("tlmbox: buffer pool exhausted")
	// ErrQueueFull reports a bounded event queue at capacity.
	ErrQueueFull = errors.New("tlmbox: event queue full")
	// ErrOutcomeMismatch reports a command outcome for another opcode.
	ErrOutcomeMismatch = errors.New("tlmbox: command outcome does not match the issued command")
	// ErrUnknownBuffer reports a buffer address no pool owns.
	ErrUnknownBuffer = errors.New("tlmbox: address not owned by any pool")
)

// DecodeError describes a record that could not be decoded. The buffer it
// came from is still released normally.
type DecodeError struct {
	Record string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("tlmbox: malformed %s: %s", e.Record, e.Reason)
}

func (e *DecodeError) Unwrap() error { return ErrMalformed }

func decodeErrorf(record, format string, args ...any) error {
	return &DecodeError{Record: record, Reason: fmt.Sprintf(format, args...)}
}

// CapacityError reports that a statically sized resource ran out. It means
// the configuration is undersized and is treated as fatal.
type CapacityError struct {
	Resource string
	Capacity int
	Err      error
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%v: %s (capacity %d)", e.Err, e.Resource, e.Capacity)
}

func (e *CapacityError) Unwrap() error { return e.Err }
