// Package frame turns a byte stream into a sequence of discrete messages.
//
// Each frame on the wire is a 4-byte big-endian length followed by that many
// payload bytes. A Conn delivers whole frames regardless of how the transport
// fragments or coalesces them; bytes belonging to a later frame stay buffered
// until the next Read.
//
// Read and Write take a context. Cancelling it unblocks the call by moving
// the connection deadline into the past; the frame boundary is then lost, so
// the Conn closes itself and later calls fail with ErrClosed.
package frame
