// Package provision hands a held shard back to the aggregator it belongs
// to over a freshly negotiated pairing channel.
package provision

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/shardlink/internal/paired"
	"github.com/nerrad567/shardlink/internal/pairing/channel"
	"github.com/nerrad567/shardlink/internal/pairing/protocol"
	"github.com/nerrad567/shardlink/internal/pairing/server"
)

// DefaultTimeout bounds one whole provision after the channel is open.
const DefaultTimeout = 30 * time.Second

// Logger defines the logging interface used by the ShardProvider.
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

// Recorder receives provision outcomes.
type Recorder interface {
	ProvisionFinished(distributionID string, d time.Duration, err error)
}

type noopRecorder struct{}

func (noopRecorder) ProvisionFinished(string, time.Duration, error) {}

// Config configures a ShardProvider.
type Config struct {
	// Self is this device, sent in the Hello.
	Self protocol.Device

	Dial server.DialConfig

	// Timeout bounds the message exchange.
	Timeout time.Duration
}

type dialFunc func(ctx context.Context, addr string, cfg server.DialConfig) (*channel.Channel, error)

// ShardProvider implements paired.Provisioner.
type ShardProvider struct {
	cfg  Config
	dial dialFunc

	mu       sync.RWMutex
	logger   Logger
	recorder Recorder
}

// New creates a ShardProvider.
func New(cfg Config) *ShardProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &ShardProvider{
		cfg:      cfg,
		dial:     server.Dial,
		logger:   noopLogger{},
		recorder: noopRecorder{},
	}
}

// SetLogger sets the logger for the provider.
func (p *ShardProvider) SetLogger(logger Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger = logger
}

// SetRecorder sets the outcome recorder.
func (p *ShardProvider) SetRecorder(recorder Recorder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recorder = recorder
}

func (p *ShardProvider) log() Logger {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.logger
}

func (p *ShardProvider) rec() Recorder {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.recorder
}

// Provision dials the service in req and delivers the device's shard.
// Each advertised address is tried in order until one connects.
func (p *ShardProvider) Provision(ctx context.Context, req paired.ProvisionRequest) error {
	start := time.Now()
	err := p.provision(ctx, req)
	p.rec().ProvisionFinished(req.Device.DistributionID(), time.Since(start), err)
	return err
}

func (p *ShardProvider) provision(ctx context.Context, req paired.ProvisionRequest) error {
	addrs := addresses(req.Service.Addrs, req.Service.Port)
	if len(addrs) == 0 {
		return ErrNoAddress
	}

	var (
		ch      *channel.Channel
		lastErr error
	)
	for _, addr := range addrs {
		c, err := p.dial(ctx, addr, p.cfg.Dial)
		if err == nil {
			ch = c
			break
		}
		lastErr = err
		p.log().Debug("aggregator address unreachable", "addr", addr, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	if ch == nil {
		return lastErr
	}
	defer ch.Close() //nolint:errcheck // Best-effort close

	p.log().Info("connected to aggregator, compare verification code on both devices",
		"global_id", req.Device.Device().GlobalID,
		"remote", ch.RemoteAddr().String(),
		"verification_code", ch.VerificationCode(),
	)

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	return p.exchange(ctx, ch, req.Device)
}

func (p *ShardProvider) exchange(ctx context.Context, ch *channel.Channel, device *paired.PairedDevice) error {
	hello := &protocol.Hello{
		Device:         p.cfg.Self,
		DistributionID: device.DistributionID(),
	}
	if err := protocol.Send(ctx, ch, hello); err != nil {
		return fmt.Errorf("sending hello: %w", err)
	}

	var welcome protocol.Welcome
	if err := protocol.Receive(ctx, ch, &welcome); err != nil {
		return fmt.Errorf("receiving welcome: %w", err)
	}
	if welcome.Device.GlobalID != device.Device().GlobalID {
		return fmt.Errorf("%w: expected %q, got %q",
			ErrPeerMismatch, device.Device().GlobalID, welcome.Device.GlobalID)
	}
	ch.MarkReady()

	shard := &protocol.Shard{
		DistributionID: device.DistributionID(),
		RecordID:       device.ID(),
		Shard:          device.Shard(),
		Threshold:      device.Threshold(),
		Parties:        device.Parties(),
	}
	err := protocol.Send(ctx, ch, shard)
	clear(shard.Shard)
	if err != nil {
		return fmt.Errorf("sending shard: %w", err)
	}

	var ack protocol.Ack
	if err := protocol.Receive(ctx, ch, &ack); err != nil {
		return fmt.Errorf("receiving ack: %w", err)
	}
	if !ack.OK {
		return fmt.Errorf("%w: %s", ErrRejected, ack.Error)
	}
	return nil
}

func addresses(ips []net.IP, port int) []string {
	if port <= 0 {
		return nil
	}
	addrs := make([]string, 0, len(ips))
	for _, ip := range ips {
		if ip == nil {
			continue
		}
		addrs = append(addrs, net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	}
	return addrs
}

// IsPeerError reports whether err came from the remote side rather than
// the network.
func IsPeerError(err error) bool {
	return errors.Is(err, ErrRejected) || errors.Is(err, ErrPeerMismatch)
}
