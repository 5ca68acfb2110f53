package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/untoldecay/ContextKeeper/internal/storage"
)

// wrapDBError wraps a database error with operation context and converts
// driver-level failures to the shared sentinels: sql.ErrNoRows becomes
// ErrNotFound, constraint violations become ErrAlreadyExists or
// ErrFailedPrecondition.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	case isUniqueConstraintError(err):
		return fmt.Errorf("%s: %v: %w", op, err, storage.ErrAlreadyExists)
	case isForeignKeyConstraintError(err):
		return fmt.Errorf("%s: %v: %w", op, err, storage.ErrFailedPrecondition)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// wrapDBErrorf is wrapDBError with formatted operation context.
func wrapDBErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return wrapDBError(fmt.Sprintf(format, args...), err)
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

func isForeignKeyConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "FOREIGN KEY constraint failed") ||
		strings.Contains(msg, "foreign key constraint failed")
}

// isConstraintError reports whether err is any SQLite constraint violation.
// Batch operations treat these as per-element failures; anything else
// aborts the whole transaction.
func isConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return isUniqueConstraintError(err) ||
		isForeignKeyConstraintError(err) ||
		strings.Contains(err.Error(), "CHECK constraint failed") ||
		strings.Contains(err.Error(), "NOT NULL constraint failed")
}
