package repository

import "errors"

// Sentinel kinds for history errors.
var (
	ErrNotFound       = errors.New("no history for circuit")
	ErrInvalidLimit   = errors.New("invalid history limit")
	ErrInvalidOrdinal = errors.New("invalid circuit ordinal")
	ErrClosed         = errors.New("history store closed")
)
