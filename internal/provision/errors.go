package provision

import "errors"

var (
	// ErrNoAddress is returned when a discovered service has no usable address.
	ErrNoAddress = errors.New("provision: service has no address")

	// ErrPeerMismatch is returned when the aggregator is not the device the
	// shard belongs to.
	ErrPeerMismatch = errors.New("provision: aggregator identity mismatch")

	// ErrRejected is returned when the aggregator refuses the shard.
	ErrRejected = errors.New("provision: shard rejected")
)
