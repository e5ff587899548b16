package store

import "errors"

var (
	// ErrDuplicate is returned when a unique constraint rejects a row.
	ErrDuplicate = errors.New("store: duplicate row")
	// ErrForeignKey is returned when a row references a missing parent.
	ErrForeignKey = errors.New("store: referenced row does not exist")
)
