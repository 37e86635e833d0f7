package protocol

import "errors"

var (
	// ErrUnexpectedMessage is returned when a message of another type arrives.
	ErrUnexpectedMessage = errors.New("protocol: unexpected message")

	// ErrInvalidMessage is returned for a message missing required fields.
	ErrInvalidMessage = errors.New("protocol: invalid message")
)
