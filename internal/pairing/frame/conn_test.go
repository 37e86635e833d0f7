package frame

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T) (*Conn, *Conn) {
	t.Helper()

	a, b := net.Pipe()
	ca, cb := New(a), New(b)
	t.Cleanup(func() {
		ca.Close() //nolint:errcheck // Test cleanup
		cb.Close() //nolint:errcheck // Test cleanup
	})
	return ca, cb
}

func encode(payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[headerSize:], payload)
	return buf
}

func TestConn_RoundTrip(t *testing.T) {
	a, b := pipe(t)
	ctx := context.Background()

	payloads := [][]byte{
		[]byte("hello"),
		{},
		make([]byte, 70_000),
	}

	go func() {
		for _, p := range payloads {
			if err := a.Write(ctx, p); err != nil {
				return
			}
		}
	}()

	for _, want := range payloads {
		got, err := b.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, len(want), len(got))
		assert.Equal(t, want, got)
	}
}

func TestConn_ReadFragmented(t *testing.T) {
	raw, peer := net.Pipe()
	c := New(peer)
	defer c.Close() //nolint:errcheck // Test cleanup
	defer raw.Close()

	want := []byte("fragmented payload")
	wire := encode(want)

	go func() {
		for i := range wire {
			if _, err := raw.Write(wire[i : i+1]); err != nil {
				return
			}
		}
	}()

	got, err := c.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestConn_ReadCoalesced(t *testing.T) {
	raw, peer := net.Pipe()
	c := New(peer)
	defer c.Close() //nolint:errcheck // Test cleanup
	defer raw.Close()

	// Two frames plus the first half of a third in one transport write.
	third := encode([]byte("third"))
	wire := append(encode([]byte("one")), encode([]byte("two"))...)
	wire = append(wire, third[:5]...)

	go func() {
		if _, err := raw.Write(wire); err != nil {
			return
		}
		raw.Write(third[5:]) //nolint:errcheck // Test writer
	}()

	ctx := context.Background()
	for _, want := range []string{"one", "two", "third"} {
		got, err := c.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

func TestConn_WriteTooLarge(t *testing.T) {
	a, _ := pipe(t)

	err := a.Write(context.Background(), make([]byte, MaxFrameSize+1))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestConn_ReadTooLarge(t *testing.T) {
	raw, peer := net.Pipe()
	c := New(peer)
	defer raw.Close()

	go func() {
		var header [headerSize]byte
		binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)
		raw.Write(header[:]) //nolint:errcheck // Test writer
	}()

	_, err := c.Read(context.Background())
	require.ErrorIs(t, err, ErrFrameTooLarge)

	// The stream is unusable afterwards.
	_, err = c.Read(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestConn_LocalClose(t *testing.T) {
	a, _ := pipe(t)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err := a.Read(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, a.Write(context.Background(), []byte("x")), ErrClosed)
}

func TestConn_RemoteCloseUnblocksRead(t *testing.T) {
	a, b := pipe(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Read(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, a.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not return after remote close")
	}
}

func TestConn_ReadCancelled(t *testing.T) {
	_, b := pipe(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := b.Read(ctx)
	require.ErrorIs(t, err, context.Canceled)

	_, err = b.Read(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestConn_ReadDeadline(t *testing.T) {
	_, b := pipe(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := b.Read(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// slowInterruptConn delivers one frame and holds the interrupting deadline
// set open until released, recording every read deadline applied.
type slowInterruptConn struct {
	net.Conn

	data    []byte
	onRead  func()
	entered chan struct{}
	release chan struct{}

	mu        sync.Mutex
	deadlines []time.Time
	once      sync.Once
}

func (c *slowInterruptConn) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	c.onRead()
	<-c.entered
	n := copy(p, c.data)
	c.data = c.data[n:]
	return n, nil
}

func (c *slowInterruptConn) SetReadDeadline(t time.Time) error {
	if !t.IsZero() && t.Before(time.Now()) {
		c.once.Do(func() { close(c.entered) })
		<-c.release
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadlines = append(c.deadlines, t)
	return nil
}

func (c *slowInterruptConn) lastDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadlines[len(c.deadlines)-1]
}

func (c *slowInterruptConn) Close() error { return nil }

func TestConn_CancelRacingCompletedRead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	raw := &slowInterruptConn{
		data:    encode([]byte("shard")),
		onRead:  cancel,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	go func() {
		<-raw.entered
		time.Sleep(20 * time.Millisecond)
		close(raw.release)
	}()

	got, err := New(raw).Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("shard"), got)

	// The interrupt landed before the clear, so the conn is usable again.
	assert.True(t, raw.lastDeadline().IsZero(), "read deadline left at %v", raw.lastDeadline())
}
