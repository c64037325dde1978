package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrClosed       = errors.New("store closed")
	ErrInvalidQuery = errors.New("invalid page query")
	ErrUnknownType  = errors.New("unknown entry type")
)
