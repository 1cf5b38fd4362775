package routing

import "errors"

var (
	// ErrTableClosed is returned by every operation after Close
	ErrTableClosed = errors.New("routing table is closed")

	// ErrEntryNotFound is returned when removing an id that is not registered
	ErrEntryNotFound = errors.New("routing entry not found")

	// ErrInvalidEntry is returned when inserting an entry without an id
	ErrInvalidEntry = errors.New("invalid routing entry")

	// ErrReservedID is returned when inserting under the default client's id
	ErrReservedID = errors.New("routing entry id is reserved")
)
