package eventstore

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrDuplicateStream     = errors.New("duplicate stream")
	ErrNotFound            = errors.New("not found")
	ErrUnsupportedType     = errors.New("unsupported type")
)

// ConcurrencyConflictError is returned when an appended event does not carry
// the next version of its stream. Callers reload the stream and retry.
type ConcurrencyConflictError struct {
	StreamID uuid.UUID
	Expected int // version the store would have accepted
	Actual   int // version carried by the event
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on stream %s: expected version %d, got %d", e.StreamID, e.Expected, e.Actual)
}

func (e *ConcurrencyConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }

type DuplicateStreamError struct {
	StreamID uuid.UUID
}

func (e *DuplicateStreamError) Error() string {
	return fmt.Sprintf("stream %s already exists", e.StreamID)
}

func (e *DuplicateStreamError) Is(target error) bool { return target == ErrDuplicateStream }

// NotFoundError is returned by operations that require an existing entity.
// Plain lookups return nil instead.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// UnsupportedTypeError reports an unknown stream or event type.
type UnsupportedTypeError struct {
	Kind string // "stream" or "event"
	Name string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported %s type %q", e.Kind, e.Name)
}

func (e *UnsupportedTypeError) Is(target error) bool { return target == ErrUnsupportedType }
