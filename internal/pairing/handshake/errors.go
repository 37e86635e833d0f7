package handshake

import "errors"

var (
	// ErrHandshake is returned for every failed key exchange. The cause is
	// wrapped alongside it.
	ErrHandshake = errors.New("handshake: failed")

	// ErrMalformedFrame is returned when a key exchange frame is too short
	// to hold an IV and a public key.
	ErrMalformedFrame = errors.New("handshake: malformed key exchange frame")

	// ErrInvalidPublicKey is returned when the peer's public key is not a
	// point on secp256k1.
	ErrInvalidPublicKey = errors.New("handshake: invalid public key")
)
