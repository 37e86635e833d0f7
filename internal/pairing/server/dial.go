package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/shardlink/internal/pairing/channel"
	"github.com/nerrad567/shardlink/internal/pairing/frame"
	"github.com/nerrad567/shardlink/internal/pairing/handshake"
)

// Dial defaults.
const (
	DefaultDialAttempts = 3
	DefaultDialTimeout  = 10 * time.Second

	dialInitialInterval = 250 * time.Millisecond
	dialMaxInterval     = 5 * time.Second
)

// DialConfig configures Dial.
type DialConfig struct {
	// Attempts is the total number of connection attempts.
	Attempts int

	// Timeout bounds one attempt, connect plus handshake.
	Timeout time.Duration

	// InitialInterval is the first backoff delay. Zero uses the default.
	InitialInterval time.Duration
}

// Dial connects to a pairing server at addr and runs the client handshake.
//
// Connection errors are retried with exponential backoff. Handshake
// failures are returned without retrying.
func Dial(ctx context.Context, addr string, cfg DialConfig) (*channel.Channel, error) {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultDialAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDialTimeout
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = dialInitialInterval
	}

	var ch *channel.Channel
	operation := func() error {
		actx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		var d net.Dialer
		conn, err := d.DialContext(actx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		c, err := handshake.Client(actx, frame.New(conn))
		if err != nil {
			return backoff.Permanent(err)
		}
		ch = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = dialMaxInterval
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(
		backoff.WithMaxRetries(b, uint64(cfg.Attempts-1)), //nolint:gosec // Attempts > 0
		ctx,
	)

	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, handshake.ErrHandshake) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrDialFailed, addr, err)
	}
	return ch, nil
}
