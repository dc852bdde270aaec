package store

import "errors"

var (
	// ErrNotFound is returned when no document matches a lookup.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicateID is returned when an insert reuses an existing id.
	ErrDuplicateID = errors.New("duplicate document id")

	ErrFailedToQuery  = errors.New("failed to query")
	ErrFailedToInsert = errors.New("failed to insert")
	ErrFailedToDecode = errors.New("failed to decode document")
)
