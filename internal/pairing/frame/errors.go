package frame

import "errors"

var (
	// ErrClosed is returned when the connection was closed locally or by the peer.
	ErrClosed = errors.New("frame: connection closed")

	// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize in
	// either direction.
	ErrFrameTooLarge = errors.New("frame: frame too large")
)
