package storage

import (
	"context"
	"errors"
)

// Sentinel errors for the machine-readable failure kinds surfaced at the
// tool boundary. Implementations wrap these with operation context so
// callers can classify failures with errors.Is.
var (
	// ErrNotFound indicates a session, item, checkpoint, or relationship is absent.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique-constraint violation on an
	// insert path that does not upsert.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates a validation failure in any field.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPermissionDenied indicates the privacy rule would expose an item
	// that is not visible to the requesting session.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrFailedPrecondition indicates a missing relationship endpoint or a
	// depends_on edge that would close a cycle.
	ErrFailedPrecondition = errors.New("failed precondition")

	// ErrResourceExhausted indicates the database size limit was reached
	// or a batch exceeded the element cap.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrInternal indicates a storage or IO failure.
	ErrInternal = errors.New("internal error")
)

// Kind returns the wire-level error code for err, or "Internal" when the
// error matches no known sentinel. Context cancellation and deadline
// expiry map to DeadlineExceeded.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return "InvalidArgument"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrAlreadyExists):
		return "AlreadyExists"
	case errors.Is(err, ErrPermissionDenied):
		return "PermissionDenied"
	case errors.Is(err, ErrFailedPrecondition):
		return "FailedPrecondition"
	case errors.Is(err, ErrResourceExhausted):
		return "ResourceExhausted"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "DeadlineExceeded"
	default:
		return "Internal"
	}
}
