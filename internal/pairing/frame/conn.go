package frame

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

const (
	// headerSize is the length prefix size in bytes.
	headerSize = 4

	// MaxFrameSize is the largest payload accepted in either direction.
	MaxFrameSize = 1 << 20

	// readBufferSize is the bufio buffer in front of the transport.
	readBufferSize = 16 * 1024
)

// Conn is a length-prefixed framed connection.
//
// Thread Safety:
//   - Read and Write may be called concurrently with each other.
//   - Concurrent Reads are serialised, as are concurrent Writes.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader

	readMu  sync.Mutex
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// New wraps conn. The Conn takes ownership; closing it closes conn.
func New(conn net.Conn) *Conn {
	return &Conn{
		conn: conn,
		r:    bufio.NewReaderSize(conn, readBufferSize),
	}
}

// Write sends payload as one frame. It returns once the transport has
// accepted every byte.
func (c *Conn) Write(ctx context.Context, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, len(payload), MaxFrameSize)
	}
	if c.closed.Load() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload))) //nolint:gosec // bounded by MaxFrameSize
	copy(buf[headerSize:], payload)

	stop := c.watch(ctx, c.conn.SetWriteDeadline)
	defer stop()

	for written := 0; written < len(buf); {
		n, err := c.conn.Write(buf[written:])
		written += n
		if err != nil {
			return c.fail(ctx, "writing frame", err)
		}
	}
	return nil
}

// Read blocks until one complete frame has arrived and returns its payload.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	stop := c.watch(ctx, c.conn.SetReadDeadline)
	defer stop()

	var header [headerSize]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return nil, c.fail(ctx, "reading frame header", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		// The stream cannot be resynchronised past an oversized frame.
		c.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("%w: peer announced %d bytes (max %d)", ErrFrameTooLarge, size, MaxFrameSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, c.fail(ctx, "reading frame payload", err)
	}
	return payload, nil
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// watch applies ctx's deadline to one direction of the connection and
// arranges for cancellation to interrupt a blocked call. The returned func
// must be called when the operation completes.
func (c *Conn) watch(ctx context.Context, setDeadline func(time.Time) error) func() {
	if deadline, ok := ctx.Deadline(); ok {
		setDeadline(deadline) //nolint:errcheck // Failure surfaces on the next I/O call
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		setDeadline(time.Unix(1, 0)) //nolint:errcheck // Failure surfaces on the next I/O call
	})
	return func() {
		if !stop() {
			// The interrupt already started; clearing must come after it.
			<-fired
		}
		if !c.closed.Load() {
			setDeadline(time.Time{}) //nolint:errcheck // Clearing only
		}
	}
}

// fail translates a transport error. Cancellation wins over the deadline
// error it caused; closure in any form becomes ErrClosed.
func (c *Conn) fail(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.Close() //nolint:errcheck // Frame boundary lost
		return ctxErr
	}
	if _, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) {
		// The transport deadline can fire just before the context's timer.
		c.Close() //nolint:errcheck // Frame boundary lost
		return context.DeadlineExceeded
	}
	if c.closed.Load() || isClosed(err) {
		c.Close() //nolint:errcheck // Peer is gone
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
