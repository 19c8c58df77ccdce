package store

import "errors"

var (
	// ErrNotFound is returned when a lookup by hash, address, or CID has no row.
	ErrNotFound = errors.New("store: not found")

	// ErrCursorNotMonotonic is returned by a guarded cursor updater when the
	// requested value would not advance a cursor (it is lower than, or for
	// guarded chain cursors equal to, the current value) without force=true.
	ErrCursorNotMonotonic = errors.New("store: cursor update would move backwards")
)
