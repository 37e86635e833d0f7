package paired

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/shardlink/internal/discovery"
)

// DefaultProvisionCooldown is how long a device is left alone after a
// successful provision before another sighting triggers a new one.
const DefaultProvisionCooldown = time.Minute

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Scanner is the discovery capability the Registry needs.
type Scanner interface {
	Scan(ctx context.Context) (<-chan discovery.ServiceFound, error)
	StopScan()
}

// ProvisionRequest asks for Device's shard to be delivered to Service.
type ProvisionRequest struct {
	Device  *PairedDevice
	Service discovery.ServiceFound
}

// Provisioner delivers a shard to a discovered aggregator.
type Provisioner interface {
	Provision(ctx context.Context, req ProvisionRequest) error
}

// Registry is the in-memory list of paired devices backed by a Repository.
//
// The list only changes through Refresh, AddShardKey and RemoveDevice, and
// holds at most one PairedDevice per device identity. Persistence happens
// before the list is touched, so a storage failure leaves it unchanged.
//
// All public methods are thread-safe.
type Registry struct {
	repo        Repository
	scanner     Scanner
	provisioner Provisioner

	// writeMu serialises mutations so persist-then-insert is atomic.
	writeMu sync.Mutex

	mu      sync.RWMutex
	devices []*PairedDevice

	logMu  sync.RWMutex
	logger Logger

	events *broker

	flightMu    sync.Mutex
	inflight    map[string]bool
	provisioned map[string]time.Time
	cooldown    time.Duration

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a Registry. scanner and provisioner may be nil, in
// which case Init only loads the list.
func NewRegistry(repo Repository, scanner Scanner, provisioner Provisioner) *Registry {
	r := &Registry{
		repo:        repo,
		scanner:     scanner,
		provisioner: provisioner,
		logger:      noopLogger{},
		inflight:    make(map[string]bool),
		provisioned: make(map[string]time.Time),
		cooldown:    DefaultProvisionCooldown,
	}
	r.events = newBroker(r.log)
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	r.logger = logger
}

// SetProvisionCooldown changes the quiet period after a successful provision.
// Zero re-provisions on every sighting that is not already in flight.
func (r *Registry) SetProvisionCooldown(d time.Duration) {
	r.flightMu.Lock()
	defer r.flightMu.Unlock()
	r.cooldown = d
}

func (r *Registry) log() Logger {
	r.logMu.RLock()
	defer r.logMu.RUnlock()
	return r.logger
}

// Subscribe returns a channel of registry events and a function that ends
// the subscription. A subscriber that falls more than buffer events behind
// misses events rather than blocking the registry.
func (r *Registry) Subscribe(buffer int) (<-chan Event, func()) {
	return r.events.subscribe(buffer)
}

// Refresh reloads the list from the repository and returns the loaded
// records. Records repeating an identity already loaded are skipped.
func (r *Registry) Refresh(ctx context.Context) ([]ShardKey, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	keys, err := r.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: loading shard keys: %w", ErrStorage, err)
	}

	devices := make([]*PairedDevice, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if seen[key.Device.GlobalID] {
			r.log().Warn("skipping duplicate shard key for device",
				"global_id", key.Device.GlobalID,
				"id", key.ID,
			)
			continue
		}
		seen[key.Device.GlobalID] = true
		devices = append(devices, NewPairedDevice(key))
	}

	r.mu.Lock()
	r.devices = devices
	r.mu.Unlock()

	r.log().Info("paired devices loaded", "count", len(devices))
	return keys, nil
}

// Init loads the list and, when it is not empty, starts discovery and
// provisions every matching aggregator that is found. ctx bounds the
// lifetime of the discovery loop.
//
// A discovery failure is returned wrapped in ErrDiscovery; the loaded list
// stays usable.
func (r *Registry) Init(ctx context.Context) error {
	if _, err := r.Refresh(ctx); err != nil {
		return err
	}

	if !r.HasDevices() {
		r.log().Info("no paired devices, discovery not started")
		return nil
	}
	if r.scanner == nil || r.provisioner == nil {
		return nil
	}

	r.runMu.Lock()
	defer r.runMu.Unlock()

	if r.cancel != nil {
		return nil
	}

	sctx, cancel := context.WithCancel(ctx)
	found, err := r.scanner.Scan(sctx)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %w", ErrDiscovery, err)
	}
	r.cancel = cancel

	r.wg.Add(1)
	go r.consume(sctx, found)

	r.log().Info("discovery started for paired devices", "count", r.Count())
	return nil
}

// Stop ends discovery and waits for in-flight provisions to return.
func (r *Registry) Stop() {
	r.runMu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	r.scanner.StopScan()
	r.wg.Wait()
	r.log().Info("paired device discovery stopped")
}

func (r *Registry) consume(ctx context.Context, found <-chan discovery.ServiceFound) {
	defer r.wg.Done()

	for svc := range found {
		r.handleServiceFound(ctx, svc)
	}
}

// handleServiceFound provisions the device whose distribution and identity
// match svc, if any.
func (r *Registry) handleServiceFound(ctx context.Context, svc discovery.ServiceFound) {
	log := r.log()

	var match *PairedDevice
	inDistribution := 0
	for _, d := range r.Devices() {
		if d.DistributionID() != svc.DistributionID {
			continue
		}
		inDistribution++
		if d.Device().GlobalID == svc.Device.GlobalID {
			match = d
			break
		}
	}

	if match == nil {
		log.Debug("ignoring service with no matching paired device",
			"distribution_id", svc.DistributionID,
			"global_id", svc.Device.GlobalID,
			"devices_in_distribution", inDistribution,
		)
		return
	}

	id := match.Device().GlobalID
	if !r.beginProvision(id) {
		log.Debug("provision already in flight or recently completed", "global_id", id)
		return
	}

	service := svc
	r.events.publish(Event{
		Type:           EventProvisionRequested,
		Device:         match.Device(),
		DistributionID: match.DistributionID(),
		DeviceID:       match.ID(),
		Service:        &service,
	})
	log.Info("provisioning shard to aggregator",
		"global_id", id,
		"distribution_id", match.DistributionID(),
		"address", svc.Address(),
	)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		err := r.provisioner.Provision(ctx, ProvisionRequest{Device: match, Service: svc})
		r.endProvision(id, err == nil)

		r.events.publish(Event{
			Type:           EventProvisionFinished,
			Device:         match.Device(),
			DistributionID: match.DistributionID(),
			DeviceID:       match.ID(),
			Service:        &service,
			Err:            err,
		})
		if err != nil {
			log.Warn("shard provision failed", "global_id", id, "error", err)
			return
		}
		log.Info("shard provisioned", "global_id", id)
	}()
}

func (r *Registry) beginProvision(globalID string) bool {
	r.flightMu.Lock()
	defer r.flightMu.Unlock()

	if r.inflight[globalID] {
		return false
	}
	if last, ok := r.provisioned[globalID]; ok && time.Since(last) < r.cooldown {
		return false
	}
	r.inflight[globalID] = true
	return true
}

func (r *Registry) endProvision(globalID string, ok bool) {
	r.flightMu.Lock()
	defer r.flightMu.Unlock()

	delete(r.inflight, globalID)
	if ok {
		r.provisioned[globalID] = time.Now()
	}
}

// AddShardKey persists key and adds its device to the list.
//
// If a device with the same identity is already listed, nothing is stored
// and the existing device is returned with added == false.
func (r *Registry) AddShardKey(ctx context.Context, key ShardKey) (device *PairedDevice, added bool, err error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if existing := r.Find(key.Device.GlobalID); existing != nil {
		r.log().Debug("device already paired", "global_id", key.Device.GlobalID)
		return existing, false, nil
	}

	stored := key.clone()
	if err := r.repo.Create(ctx, &stored); err != nil {
		return nil, false, fmt.Errorf("%w: storing shard key: %w", ErrStorage, err)
	}

	device = NewPairedDevice(stored)

	r.mu.Lock()
	r.devices = append(r.devices, device)
	r.mu.Unlock()

	r.events.publish(Event{
		Type:           EventDeviceAdded,
		Device:         device.Device(),
		DistributionID: device.DistributionID(),
		DeviceID:       device.ID(),
	})
	r.log().Info("device paired",
		"id", device.ID(),
		"global_id", device.Device().GlobalID,
		"distribution_id", device.DistributionID(),
	)
	return device, true, nil
}

// RemoveDevice deletes device's record and drops it from the list.
// Removing a device that is not listed is a no-op.
func (r *Registry) RemoveDevice(ctx context.Context, device *PairedDevice) error {
	if device == nil {
		return nil
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if r.indexOf(device.ID()) < 0 {
		return nil
	}

	err := r.repo.Delete(ctx, device.ID())
	switch {
	case errors.Is(err, ErrShardKeyNotFound):
		r.log().Warn("shard key already absent from storage", "id", device.ID())
	case err != nil:
		return fmt.Errorf("%w: deleting shard key: %w", ErrStorage, err)
	}

	r.mu.Lock()
	if i := r.indexOfLocked(device.ID()); i >= 0 {
		r.devices = append(r.devices[:i:i], r.devices[i+1:]...)
	}
	r.mu.Unlock()

	r.events.publish(Event{
		Type:           EventDeviceRemoved,
		Device:         device.Device(),
		DistributionID: device.DistributionID(),
		DeviceID:       device.ID(),
	})
	r.log().Info("device unpaired", "id", device.ID(), "global_id", device.Device().GlobalID)
	return nil
}

// Devices returns the current list in insertion order.
func (r *Registry) Devices() []*PairedDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*PairedDevice(nil), r.devices...)
}

// HasDevices reports whether any device is paired.
func (r *Registry) HasDevices() bool {
	return r.Count() > 0
}

// Count returns the number of paired devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Find returns the device with the given identity, or nil.
func (r *Registry) Find(globalID string) *PairedDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.Device().GlobalID == globalID {
			return d
		}
	}
	return nil
}

func (r *Registry) indexOf(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.indexOfLocked(id)
}

func (r *Registry) indexOfLocked(id string) int {
	for i, d := range r.devices {
		if d.ID() == id {
			return i
		}
	}
	return -1
}
