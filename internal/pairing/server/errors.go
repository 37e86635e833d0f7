package server

import "errors"

var (
	// ErrBindFailed is returned by Start when every candidate port was taken.
	ErrBindFailed = errors.New("server: could not bind a pairing port")

	// ErrDialFailed is returned by Dial when no attempt produced a channel.
	ErrDialFailed = errors.New("server: dialling pairing peer failed")

	// ErrGreetingFailed wraps an error returned by the Greeter hook.
	ErrGreetingFailed = errors.New("server: greeting failed")
)
