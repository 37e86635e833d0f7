package channel

import "errors"

var (
	// ErrNotReady is returned by AwaitReady when the peer did not complete
	// its greeting before the context ended.
	ErrNotReady = errors.New("channel: peer not ready")

	// ErrDecode is returned when a received message is not valid JSON for
	// the target type.
	ErrDecode = errors.New("channel: decoding message")
)
