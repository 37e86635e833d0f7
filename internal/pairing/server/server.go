package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/shardlink/internal/pairing/channel"
	"github.com/nerrad567/shardlink/internal/pairing/frame"
	"github.com/nerrad567/shardlink/internal/pairing/handshake"
)

// Defaults applied by New to zero Config fields.
const (
	DefaultBindAttempts     = 3
	DefaultHandshakeTimeout = 15 * time.Second
	DefaultReadyTimeout     = 30 * time.Second
	defaultPeerBuffer       = 16

	// acceptRetryDelay is the pause after a non-fatal Accept error.
	acceptRetryDelay = 50 * time.Millisecond
)

// Greeter runs the application greeting on a freshly handshaken channel and
// marks it ready once the peer is accepted. ctx ends at the ready timeout.
// The returned greeting travels with the Peer, so nothing outlives a peer
// the server drops.
type Greeter func(ctx context.Context, ch *channel.Channel) (greeting any, err error)

// Config configures a Server.
type Config struct {
	// Host is the bind address. Empty binds every interface.
	Host string

	// Ports supplies candidate ports. Nil creates a private pool at
	// DefaultBasePort.
	Ports *PortPool

	// BindAttempts is how many candidate ports Start tries.
	BindAttempts int

	HandshakeTimeout  time.Duration
	ReadyPollInterval time.Duration
	ReadyTimeout      time.Duration

	// AcceptRate is connections per second allowed from one remote host.
	// Zero disables limiting.
	AcceptRate  float64
	AcceptBurst int

	// Greeter is optional. Without one, channels are ready as soon as the
	// handshake completes.
	Greeter Greeter

	// Recorder is optional.
	Recorder Recorder

	// PeerBuffer is the capacity of the Peers channel.
	PeerBuffer int
}

// Peer is a handshaken and greeted remote device.
type Peer struct {
	Channel          *channel.Channel
	VerificationCode string
	RemoteAddr       net.Addr

	// Greeting is what the Greeter returned, nil without one.
	Greeting any
}

// Server is the pairing listener.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Peers must be drained, or the Start context cancelled, for Wait to return.
type Server struct {
	cfg      Config
	logger   Logger
	recorder Recorder
	limiter  *hostLimiter

	mu       sync.Mutex
	state    atomic.Int32
	listener net.Listener
	port     int

	peers chan Peer
	wg    sync.WaitGroup
}

// New creates a stopped Server.
func New(cfg Config) *Server {
	if cfg.Ports == nil {
		cfg.Ports = NewPortPool(DefaultBasePort)
	}
	if cfg.BindAttempts <= 0 {
		cfg.BindAttempts = DefaultBindAttempts
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.ReadyPollInterval <= 0 {
		cfg.ReadyPollInterval = channel.DefaultReadyInterval
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.PeerBuffer <= 0 {
		cfg.PeerBuffer = defaultPeerBuffer
	}

	s := &Server{
		cfg:      cfg,
		logger:   noopLogger{},
		recorder: noopRecorder{},
		peers:    make(chan Peer, cfg.PeerBuffer),
	}
	if cfg.Recorder != nil {
		s.recorder = cfg.Recorder
	}
	if cfg.AcceptRate > 0 {
		burst := cfg.AcceptBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = newHostLimiter(rate.Limit(cfg.AcceptRate), burst, limiterTTL)
	}
	return s
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Port returns the bound port, or 0 when not listening.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Addr returns the listener address, or nil when not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Peers delivers every connection that completed the handshake and greeting.
func (s *Server) Peers() <-chan Peer {
	return s.peers
}

// Start binds the next free port from the pool and begins accepting.
// ctx bounds the lifetime of the accept loop and every connection.
// Calling Start on a listening server is a no-op. Once ctx ends the server
// returns to StateStopped and may be started again.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateListening {
		return nil
	}
	s.state.Store(int32(StateStarting))

	var (
		lc      net.ListenConfig
		lastErr error
	)
	for attempt := 1; attempt <= s.cfg.BindAttempts; attempt++ {
		port := s.cfg.Ports.Next()
		addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))

		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			s.logger.Warn("pairing port unavailable",
				"addr", addr,
				"attempt", attempt,
				"error", err,
			)
			continue
		}

		s.listener = ln
		s.port = port
		s.state.Store(int32(StateListening))

		s.wg.Add(1)
		go s.acceptLoop(ctx, ln)

		s.logger.Info("pairing server listening", "addr", ln.Addr().String())
		return nil
	}

	s.state.Store(int32(StateStopped))
	return fmt.Errorf("%w after %d attempts: %w", ErrBindFailed, s.cfg.BindAttempts, lastErr)
}

// Stop closes the listener. Connections already accepted keep running;
// use Wait to block until they finish.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		s.state.Store(int32(StateStopped))
		return nil
	}

	err := s.listener.Close()
	s.listener = nil
	s.port = 0
	s.state.Store(int32(StateStopped))
	s.logger.Info("pairing server stopped")

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("closing listener: %w", err)
	}
	return nil
}

// Wait blocks until the accept loop and every connection goroutine exit.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	defer s.detach(ln)

	// A cancelled ctx must also unblock Accept.
	stop := context.AfterFunc(ctx, func() {
		ln.Close() //nolint:errcheck // Unblocks Accept
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.log().Warn("accept failed", "error", err)
			select {
			case <-time.After(acceptRetryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}

		if s.limiter != nil && !s.limiter.allow(conn.RemoteAddr()) {
			s.recorder.ConnectionRejected()
			s.log().Warn("pairing connection rate limited", "remote", conn.RemoteAddr().String())
			conn.Close() //nolint:errcheck // Rejected
			continue
		}

		s.recorder.ConnectionAccepted()
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// detach marks the server stopped when ln was closed by something other
// than Stop, so a later Start binds again.
func (s *Server) detach(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != ln {
		return
	}
	ln.Close() //nolint:errcheck // Already closed by cancellation
	s.listener = nil
	s.port = 0
	s.state.Store(int32(StateStopped))
	s.logger.Info("pairing server stopped", "reason", "context done")
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()

	log := s.log()
	remote := conn.RemoteAddr()

	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	start := time.Now()
	ch, err := handshake.Server(hctx, frame.New(conn))
	cancel()
	s.recorder.HandshakeFinished(time.Since(start), err)
	if err != nil {
		log.Warn("pairing handshake failed", "remote", remote.String(), "error", err)
		return
	}

	log.Info("pairing handshake complete, compare verification code on both devices",
		"remote", remote.String(),
		"verification_code", ch.VerificationCode(),
	)

	greeting, err := s.greet(ctx, ch)
	s.recorder.GreetingFinished(err)
	if err != nil {
		log.Warn("pairing peer not ready", "remote", remote.String(), "error", err)
		ch.Close() //nolint:errcheck // Dropping peer
		return
	}

	peer := Peer{
		Channel:          ch,
		VerificationCode: ch.VerificationCode(),
		RemoteAddr:       remote,
		Greeting:         greeting,
	}
	select {
	case s.peers <- peer:
	case <-ctx.Done():
		ch.Close() //nolint:errcheck // Shutting down
	}
}

// greet runs the Greeter alongside the ready poll, both bounded by
// ReadyTimeout.
func (s *Server) greet(ctx context.Context, ch *channel.Channel) (any, error) {
	if s.cfg.Greeter == nil {
		ch.MarkReady()
		return nil, nil
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.ReadyTimeout)
	defer cancel()

	ready := make(chan error, 1)
	go func() {
		ready <- ch.AwaitReady(rctx, s.cfg.ReadyPollInterval)
	}()

	greeting, err := s.cfg.Greeter(rctx, ch)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGreetingFailed, err)
	}
	if err := <-ready; err != nil {
		return nil, err
	}
	return greeting, nil
}

func (s *Server) log() Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}
