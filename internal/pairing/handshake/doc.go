// Package handshake establishes the shared secret for a pairing channel.
//
// Both sides exchange one plaintext frame holding a random 16-byte IV and an
// ephemeral secp256k1 public key:
//
//	server → client   iv_s || pub_s   (pub_s: 65-byte uncompressed point)
//	client → server   iv_c || pub_c   (pub_c: 33 or 65 bytes)
//
// The ECDH secret S is the 32-byte x-coordinate of the shared point. Each
// direction gets its own AES-256-CTR keystream:
//
//	server → client   key SHA-256(S), IV iv_s
//	client → server   key S,          IV iv_c
//
// The exchange is unauthenticated. Both sides derive the same four-digit
// verification code from S and the device owners must compare it before
// trusting the channel.
package handshake
