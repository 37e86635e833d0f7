// Package aggregator runs the owning side of a distribution: it listens for
// holders, greets them, and collects their shards until the threshold is met.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/shardlink/internal/discovery"
	"github.com/nerrad567/shardlink/internal/pairing/channel"
	"github.com/nerrad567/shardlink/internal/pairing/protocol"
	"github.com/nerrad567/shardlink/internal/pairing/server"
)

// DefaultReceiveTimeout bounds the wait for a greeted peer's shard.
const DefaultReceiveTimeout = 30 * time.Second

const joinedBuffer = 16

// Logger defines the logging interface used by the Aggregator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Advertiser publishes the pairing service on the network.
type Advertiser interface {
	Advertise(rec discovery.Record) error
	StopAdvertise()
}

// Config configures an Aggregator.
type Config struct {
	Self           protocol.Device
	DistributionID string

	// Threshold is how many distinct devices must deliver a shard.
	Threshold int

	// Server configures the pairing listener. Its Greeter is replaced.
	Server server.Config

	ReceiveTimeout time.Duration
}

// PeerJoined reports a holder that completed the greeting.
type PeerJoined struct {
	Device           protocol.Device
	RemoteAddr       string
	VerificationCode string
}

// Collected is published once, when Threshold shards have arrived.
type Collected struct {
	DistributionID string

	// Shards maps each holder's GlobalID to its shard.
	Shards map[string][]byte
	At     time.Time
}

// Aggregator owns a pairing Server for one distribution.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Aggregator struct {
	cfg Config
	srv *server.Server
	adv Advertiser

	logMu  sync.RWMutex
	logger Logger

	mu        sync.Mutex
	shards    map[string][]byte
	collected bool
	started   bool
	cancel    context.CancelFunc

	joined  chan PeerJoined
	results chan Collected
	wg      sync.WaitGroup
}

// New creates an Aggregator. adv may be nil to skip advertising.
func New(cfg Config, adv Advertiser) *Aggregator {
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = DefaultReceiveTimeout
	}

	a := &Aggregator{
		cfg:     cfg,
		adv:     adv,
		logger:  noopLogger{},
		shards:  make(map[string][]byte),
		joined:  make(chan PeerJoined, joinedBuffer),
		results: make(chan Collected, 1),
	}

	srvCfg := cfg.Server
	srvCfg.Greeter = a.greet
	a.srv = server.New(srvCfg)
	return a
}

// SetLogger sets the logger for the aggregator and its server.
func (a *Aggregator) SetLogger(logger Logger) {
	a.logMu.Lock()
	a.logger = logger
	a.logMu.Unlock()
	a.srv.SetLogger(logger)
}

func (a *Aggregator) log() Logger {
	a.logMu.RLock()
	defer a.logMu.RUnlock()
	return a.logger
}

// Joined delivers greeted holders. Events are dropped when nobody reads.
func (a *Aggregator) Joined() <-chan PeerJoined {
	return a.joined
}

// Results delivers the collection once the threshold is reached.
func (a *Aggregator) Results() <-chan Collected {
	return a.results
}

// Port returns the bound pairing port, or 0 when stopped.
func (a *Aggregator) Port() int {
	return a.srv.Port()
}

// Count returns the number of distinct holders that delivered a shard.
func (a *Aggregator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.shards)
}

// Start binds the pairing server, advertises it and begins collecting.
func (a *Aggregator) Start(ctx context.Context) error {
	switch {
	case a.cfg.DistributionID == "":
		return fmt.Errorf("%w: distribution id is required", ErrInvalidConfig)
	case a.cfg.Self.GlobalID == "":
		return fmt.Errorf("%w: own device id is required", ErrInvalidConfig)
	case a.cfg.Threshold < 1:
		return fmt.Errorf("%w: threshold must be at least 1", ErrInvalidConfig)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return ErrAlreadyStarted
	}

	rctx, cancel := context.WithCancel(ctx)
	if err := a.srv.Start(rctx); err != nil {
		cancel()
		return err
	}

	if a.adv != nil {
		rec := discovery.Record{
			DistributionID: a.cfg.DistributionID,
			Device: discovery.Device{
				GlobalID: a.cfg.Self.GlobalID,
				Name:     a.cfg.Self.Name,
				Platform: a.cfg.Self.Platform,
			},
			Port: a.srv.Port(),
		}
		if err := a.adv.Advertise(rec); err != nil {
			cancel()
			a.srv.Stop() //nolint:errcheck // Already failing
			a.srv.Wait()
			return err
		}
	}

	a.started = true
	a.cancel = cancel

	a.wg.Add(1)
	go a.consume(rctx)

	a.log().Info("aggregator collecting shards",
		"distribution_id", a.cfg.DistributionID,
		"threshold", a.cfg.Threshold,
		"port", a.srv.Port(),
	)
	return nil
}

// Stop withdraws the advertisement, closes the server and waits for every
// peer to finish.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.started = false
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	if a.adv != nil {
		a.adv.StopAdvertise()
	}
	a.srv.Stop() //nolint:errcheck // Shutting down
	cancel()
	a.wg.Wait()
	a.srv.Wait()
	a.log().Info("aggregator stopped", "distribution_id", a.cfg.DistributionID)
}

// greet is the server Greeter: it admits holders of this distribution and
// hands their Hello to handlePeer through the Peer.
func (a *Aggregator) greet(ctx context.Context, ch *channel.Channel) (any, error) {
	var hello protocol.Hello
	if err := protocol.Receive(ctx, ch, &hello); err != nil {
		return nil, fmt.Errorf("receiving hello: %w", err)
	}
	if hello.DistributionID != a.cfg.DistributionID {
		return nil, fmt.Errorf("%w: %q", ErrWrongDistribution, hello.DistributionID)
	}

	if err := protocol.Send(ctx, ch, &protocol.Welcome{Device: a.cfg.Self}); err != nil {
		return nil, fmt.Errorf("sending welcome: %w", err)
	}

	ch.MarkReady()
	return hello, nil
}

func (a *Aggregator) consume(ctx context.Context) {
	defer a.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case peer := <-a.srv.Peers():
			a.wg.Add(1)
			go a.handlePeer(ctx, peer)
		}
	}
}

func (a *Aggregator) handlePeer(ctx context.Context, peer server.Peer) {
	defer a.wg.Done()
	defer peer.Channel.Close() //nolint:errcheck // Done with peer

	hello, ok := peer.Greeting.(protocol.Hello)
	if !ok {
		return
	}

	log := a.log()
	select {
	case a.joined <- PeerJoined{
		Device:           hello.Device,
		RemoteAddr:       peer.RemoteAddr.String(),
		VerificationCode: peer.VerificationCode,
	}:
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.ReceiveTimeout)
	defer cancel()

	var shard protocol.Shard
	if err := protocol.Receive(ctx, peer.Channel, &shard); err != nil {
		log.Warn("receiving shard failed", "global_id", hello.Device.GlobalID, "error", err)
		return
	}

	ack := &protocol.Ack{OK: true}
	if shard.DistributionID != a.cfg.DistributionID {
		ack = &protocol.Ack{Error: "shard belongs to another distribution"}
	} else {
		a.store(hello.Device.GlobalID, shard.Shard)
	}

	if err := protocol.Send(ctx, peer.Channel, ack); err != nil {
		log.Warn("sending ack failed", "global_id", hello.Device.GlobalID, "error", err)
		return
	}
	if ack.OK {
		log.Info("shard received", "global_id", hello.Device.GlobalID, "collected", a.Count())
	}
}

// store keeps the latest shard per holder and publishes the collection the
// first time the threshold is reached.
func (a *Aggregator) store(globalID string, shard []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.shards[globalID] = append([]byte(nil), shard...)
	if a.collected || len(a.shards) < a.cfg.Threshold {
		return
	}
	a.collected = true

	out := Collected{
		DistributionID: a.cfg.DistributionID,
		Shards:         make(map[string][]byte, len(a.shards)),
		At:             time.Now().UTC(),
	}
	for id, s := range a.shards {
		out.Shards[id] = append([]byte(nil), s...)
	}
	a.results <- out
	a.log().Info("shard threshold reached", "distribution_id", a.cfg.DistributionID, "shards", len(out.Shards))
}
