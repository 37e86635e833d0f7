package aggregator

import "errors"

var (
	// ErrInvalidConfig is returned by Start for an unusable Config.
	ErrInvalidConfig = errors.New("aggregator: invalid config")

	// ErrWrongDistribution is returned when a peer greets for another
	// distribution.
	ErrWrongDistribution = errors.New("aggregator: wrong distribution")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("aggregator: already started")
)
