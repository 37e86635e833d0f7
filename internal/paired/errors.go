package paired

import "errors"

// Domain errors for the paired package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, paired.ErrStorage) {
//	    // persistence failed, in-memory list unchanged
//	}
var (
	// ErrStorage wraps any repository failure surfaced by the Registry.
	ErrStorage = errors.New("paired: storage failure")

	// ErrDiscovery is returned by Init when scanning could not start.
	ErrDiscovery = errors.New("paired: discovery failure")

	// ErrShardKeyNotFound is returned by Repository.Delete for an unknown record.
	ErrShardKeyNotFound = errors.New("paired: shard key not found")

	// ErrShardKeyExists is returned by Repository.Create when the device
	// identity is already stored.
	ErrShardKeyExists = errors.New("paired: shard key already exists")

	// ErrInvalidShardKey is returned when a record is missing required fields.
	ErrInvalidShardKey = errors.New("paired: invalid shard key")
)
