package chat

import "errors"

var (
	// ErrValidation marks malformed input: empty content, bad IDs.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing room, message or user.
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks an operation by a non-member of the room.
	ErrForbidden = errors.New("not a room member")
)
