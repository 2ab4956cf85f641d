package contentsync

import (
	"errors"
	"fmt"
)

// Kind classifies a sync failure.
type Kind int

const (
	// KindStore covers presigning and fetching from the object store.
	KindStore Kind = iota + 1
	// KindExtraction covers corrupt, unsupported or malformed packages.
	KindExtraction
	// KindFilesystem covers cache directory writes, renames and deletes.
	KindFilesystem
	// KindValidation covers malformed caller input.
	KindValidation
)

var (
	ErrStore      = errors.New("store failure")
	ErrExtraction = errors.New("extraction failure")
	ErrFilesystem = errors.New("filesystem failure")
	ErrValidation = errors.New("validation failure")

	// ErrInvalidPackage is returned when an archive unpacks cleanly but
	// lacks the manifest or the content descriptor.
	ErrInvalidPackage = errors.New("invalid content package")
)

func (k Kind) String() string {
	switch k {
	case KindStore:
		return "store"
	case KindExtraction:
		return "extraction"
	case KindFilesystem:
		return "filesystem"
	case KindValidation:
		return "validation"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindStore:
		return ErrStore
	case KindExtraction:
		return ErrExtraction
	case KindFilesystem:
		return ErrFilesystem
	case KindValidation:
		return ErrValidation
	default:
		return nil
	}
}

// Error is returned by every failing pipeline operation. It matches the
// sentinel of its Kind with errors.Is and unwraps to the cause.
type Error struct {
	Kind      Kind
	ContentID string
	Op        string
	Err       error
}

func newError(kind Kind, contentID, op string, err error) *Error {
	return &Error{Kind: kind, ContentID: contentID, Op: op, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("sync %q: %s (%s): %v", e.ContentID, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	sentinel := e.Kind.sentinel()
	return sentinel != nil && target == sentinel
}

// KindOf returns the Kind of err, or zero if err is not a pipeline error.
func KindOf(err error) Kind {
	var syncErr *Error
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return 0
}
