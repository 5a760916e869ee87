package jobs

import (
	"github.com/cockroachdb/errors"

	"contentpilot/internal/storage"
)

var (
	// ErrInvalid marks validation failures reported to the caller.
	ErrInvalid = errors.New("invalid job")
	// ErrNotFound is the store's sentinel, re-exported for callers of this package.
	ErrNotFound = storage.ErrNotFound
	// ErrBlocked marks a safeguard denial outside a single job's execution.
	ErrBlocked = errors.New("blocked by safeguard")
)

func invalid(field, hint string) error {
	return errors.WithHint(errors.Wrap(ErrInvalid, field), hint)
}

func IsInvalid(err error) bool  { return errors.Is(err, ErrInvalid) }
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
func IsBlocked(err error) bool  { return errors.Is(err, ErrBlocked) }

// Hints returns the user-facing hints attached to err.
func Hints(err error) []string { return errors.GetAllHints(err) }
