package discovery

import "errors"

var (
	// ErrAdvertiseFailed is returned when the mDNS registration could not be made.
	ErrAdvertiseFailed = errors.New("discovery: advertise failed")

	// ErrScanFailed is returned when browsing could not be started.
	ErrScanFailed = errors.New("discovery: scan failed")

	// ErrAlreadyScanning is returned by Scan while a scan is running.
	ErrAlreadyScanning = errors.New("discovery: already scanning")

	// ErrInvalidRecord is returned by Advertise for a record missing its
	// distribution, device identity or port.
	ErrInvalidRecord = errors.New("discovery: invalid record")
)
