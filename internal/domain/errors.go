package domain

import (
	"errors"

	"doodlegrid/internal/geometry"
)

var (
	// ErrNotFound is returned when an asset or document id is absent.
	ErrNotFound = errors.New("not found")

	// ErrSingular is the degenerate-transform error shared with geometry.
	ErrSingular = geometry.ErrSingular

	// ErrInconsistentRefcount marks a decrement on an unknown or zero-count
	// asset. It is logged and skipped, never returned to editing callers.
	ErrInconsistentRefcount = errors.New("inconsistent refcount")

	// ErrFlushFailure wraps any error from a persistence commit.
	ErrFlushFailure = errors.New("flush failed")

	// ErrSessionClosed is returned by mutations on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrUnsupportedImage is returned for bytes that do not decode as an image.
	ErrUnsupportedImage = errors.New("unsupported image")
)
