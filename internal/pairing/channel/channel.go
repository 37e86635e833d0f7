// Package channel provides the encrypted, message-oriented link between two
// paired devices.
package channel

import (
	"context"
	"crypto/cipher"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/shardlink/internal/pairing/frame"
)

// DefaultReadyInterval is how often AwaitReady checks the ready flag.
const DefaultReadyInterval = 500 * time.Millisecond

// Channel encrypts every frame written to and decrypts every frame read from
// a framed connection. Each direction uses its own keystream, so the two
// sides of a Channel never share key material.
//
// Thread Safety:
//   - Send and Receive may run concurrently with each other.
//   - Concurrent Sends are serialised so keystream order matches wire order;
//     the same holds for Receives.
type Channel struct {
	conn *frame.Conn

	sendMu sync.Mutex
	send   cipher.Stream

	recvMu sync.Mutex
	recv   cipher.Stream

	ready atomic.Bool
	code  string
}

// New builds a Channel over conn. send encrypts outgoing frames, recv
// decrypts incoming ones. code is the verification code of the handshake
// that produced the streams.
func New(conn *frame.Conn, send, recv cipher.Stream, code string) *Channel {
	return &Channel{
		conn: conn,
		send: send,
		recv: recv,
		code: code,
	}
}

// Send encrypts plaintext and writes it as one frame. plaintext is not
// modified.
func (c *Channel) Send(ctx context.Context, plaintext []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	ciphertext := make([]byte, len(plaintext))
	c.send.XORKeyStream(ciphertext, plaintext)

	if err := c.conn.Write(ctx, ciphertext); err != nil {
		// The keystream has advanced past bytes the peer never saw.
		c.conn.Close() //nolint:errcheck // Already failing
		return fmt.Errorf("sending: %w", err)
	}
	return nil
}

// Receive reads one frame and returns its decrypted payload.
func (c *Channel) Receive(ctx context.Context) ([]byte, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	ciphertext, err := c.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("receiving: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	c.recv.XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}

// SendJSON marshals v and sends it as one message.
func (c *Channel) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling message: %w", err)
	}
	return c.Send(ctx, data)
}

// ReceiveJSON receives one message and unmarshals it into v.
func (c *Channel) ReceiveJSON(ctx context.Context, v any) error {
	data, err := c.Receive(ctx)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}

// Ready reports whether the peer has completed the application greeting.
func (c *Channel) Ready() bool {
	return c.ready.Load()
}

// MarkReady records that the greeting completed. Idempotent.
func (c *Channel) MarkReady() {
	c.ready.Store(true)
}

// AwaitReady polls the ready flag every interval until it is set or ctx
// ends. A non-positive interval uses DefaultReadyInterval.
func (c *Channel) AwaitReady(ctx context.Context, interval time.Duration) error {
	if c.Ready() {
		return nil
	}
	if interval <= 0 {
		interval = DefaultReadyInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if c.Ready() {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrNotReady, ctx.Err())
		case <-ticker.C:
			if c.Ready() {
				return nil
			}
		}
	}
}

// VerificationCode returns the short code both sides must compare manually.
func (c *Channel) VerificationCode() string {
	return c.code
}

// RemoteAddr returns the peer's network address.
func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}
