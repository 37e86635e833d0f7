package influxdb

import "errors"

// Sentinel errors for pairing telemetry.
//
//	if errors.Is(err, influxdb.ErrInvalidPoint) {
//	    // a recorder passed an incomplete outcome; the point was dropped
//	}
var (
	// ErrDisabled is returned by Connect when the influxdb section is off.
	ErrDisabled = errors.New("influxdb: telemetry disabled")

	// ErrInvalidConfig is returned by Connect before any network access.
	ErrInvalidConfig = errors.New("influxdb: invalid configuration")

	// ErrConnectionFailed wraps a failed initial ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrUnhealthy means the server answered but reported itself unhealthy.
	ErrUnhealthy = errors.New("influxdb: server unhealthy")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrInvalidPoint is reported for a pairing outcome missing its
	// distribution or carrying impossible values. The point is dropped.
	ErrInvalidPoint = errors.New("influxdb: invalid telemetry point")

	// ErrWriteFailed wraps an asynchronous batch write failure.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
