package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// Defaults applied by New to zero Config fields.
const (
	DefaultServiceType    = "_shardlink._tcp"
	DefaultDomain         = "local."
	DefaultBrowseTimeout  = 5 * time.Second
	DefaultBrowseInterval = 5 * time.Second

	defaultEventBuffer = 32
	entryBuffer        = 100
)

// Config configures a Service.
type Config struct {
	ServiceType string
	Domain      string

	// BrowseTimeout is the length of one browse cycle.
	BrowseTimeout time.Duration

	// BrowseInterval is the pause between cycles.
	BrowseInterval time.Duration

	EventBuffer int

	// SelfID is this device's GlobalID. Services carrying it are skipped
	// even when nothing is advertised.
	SelfID string
}

// advertisement is a live mDNS registration.
type advertisement interface {
	Shutdown()
}

// browser is the part of zeroconf.Resolver the scan loop uses.
type browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

type registerFunc func(instance, service, domain string, port int, text []string) (advertisement, error)

func zeroconfRegister(instance, service, domain string, port int, text []string) (advertisement, error) {
	srv, err := zeroconf.Register(instance, service, domain, port, text, nil)
	if err != nil {
		return nil, err
	}
	return srv, nil
}

func zeroconfResolver() (browser, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Service advertises one Record and scans for peers.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Service struct {
	cfg    Config
	logger Logger

	register    registerFunc
	newResolver func() (browser, error)

	mu         sync.Mutex
	adv        advertisement
	advertised Record
	scanCancel context.CancelFunc
	scanDone   chan struct{}
}

// New creates a Service. Nothing touches the network until Advertise or Scan.
func New(cfg Config) *Service {
	if cfg.ServiceType == "" {
		cfg.ServiceType = DefaultServiceType
	}
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}
	if cfg.BrowseTimeout <= 0 {
		cfg.BrowseTimeout = DefaultBrowseTimeout
	}
	if cfg.BrowseInterval <= 0 {
		cfg.BrowseInterval = DefaultBrowseInterval
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	return &Service{
		cfg:         cfg,
		logger:      noopLogger{},
		register:    zeroconfRegister,
		newResolver: zeroconfResolver,
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// Advertise registers rec on the network, replacing any previous record.
// rec.Device.GlobalID also identifies this device for self-filtering in Scan.
func (s *Service) Advertise(rec Record) error {
	if rec.DistributionID == "" || rec.Device.GlobalID == "" || rec.Port <= 0 {
		return fmt.Errorf("%w: distribution, device id and port are required", ErrInvalidRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.adv != nil {
		s.adv.Shutdown()
		s.adv = nil
	}

	adv, err := s.register(rec.instance(), s.cfg.ServiceType, s.cfg.Domain, rec.Port, rec.txt())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAdvertiseFailed, err)
	}
	s.adv = adv
	s.advertised = rec

	s.logger.Info("advertising pairing service",
		"instance", rec.instance(),
		"distribution_id", rec.DistributionID,
		"port", rec.Port,
	)
	return nil
}

// StopAdvertise withdraws the advertisement. The own identity is still used
// for self-filtering.
func (s *Service) StopAdvertise() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.adv == nil {
		return
	}
	s.adv.Shutdown()
	s.adv = nil
	s.logger.Info("pairing advertisement stopped")
}

// Advertising reports whether a record is registered.
func (s *Service) Advertising() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adv != nil
}

// Scan starts browsing. The returned channel is closed when ctx ends or
// Stop is called. Only one scan runs at a time.
func (s *Service) Scan(ctx context.Context) (<-chan ServiceFound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scanCancel != nil {
		return nil, ErrAlreadyScanning
	}

	resolver, err := s.newResolver()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, err)
	}

	sctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	out := make(chan ServiceFound, s.cfg.EventBuffer)

	s.scanCancel = cancel
	s.scanDone = done

	go s.scanLoop(sctx, resolver, out, done)

	s.logger.Info("scanning for pairing services", "service", s.cfg.ServiceType)
	return out, nil
}

// Scanning reports whether a scan is running.
func (s *Service) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanCancel != nil
}

// StopScan ends a running scan and waits for its loop to exit.
func (s *Service) StopScan() {
	s.mu.Lock()
	cancel, done := s.scanCancel, s.scanDone
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Stop withdraws the advertisement and ends any scan.
func (s *Service) Stop() {
	s.StopAdvertise()
	s.StopScan()
}

func (s *Service) scanLoop(ctx context.Context, resolver browser, out chan<- ServiceFound, done chan struct{}) {
	defer func() {
		close(out)

		s.mu.Lock()
		s.scanCancel = nil
		s.scanDone = nil
		s.mu.Unlock()

		close(done)
	}()

	for {
		s.browseOnce(ctx, resolver, out)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.BrowseInterval):
		}

		// A zeroconf resolver shuts its sockets down when a browse ends,
		// so every cycle needs a fresh one.
		var err error
		if resolver, err = s.newResolver(); err != nil {
			s.log().Warn("browse cycle skipped", "error", err)
			resolver = nil
		}
	}
}

// browseOnce runs a single browse cycle and forwards valid entries.
func (s *Service) browseOnce(ctx context.Context, resolver browser, out chan<- ServiceFound) {
	if resolver == nil {
		return
	}
	log := s.log()

	bctx, cancel := context.WithTimeout(ctx, s.cfg.BrowseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, entryBuffer)
	if err := resolver.Browse(bctx, s.cfg.ServiceType, s.cfg.Domain, entries); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			log.Warn("browse failed", "error", err)
		}
		return
	}

	found := 0
	// The resolver closes entries when bctx ends.
	for entry := range entries {
		svc, ok := s.toServiceFound(entry)
		if !ok {
			continue
		}
		found++
		select {
		case out <- svc:
		case <-ctx.Done():
		}
	}
	log.Debug("browse cycle complete", "found", found)
}

// toServiceFound validates a zeroconf entry and drops our own advertisement.
func (s *Service) toServiceFound(entry *zeroconf.ServiceEntry) (ServiceFound, bool) {
	if entry == nil {
		return ServiceFound{}, false
	}

	log := s.log()
	txt := parseTXT(entry.Text)

	svc := ServiceFound{
		Instance:       entry.Instance,
		DistributionID: txt[txtDistributionID],
		Device: Device{
			GlobalID: txt[txtGlobalID],
			Name:     txt[txtName],
			Platform: txt[txtPlatform],
		},
		Host: entry.HostName,
		Port: entry.Port,
	}

	if svc.DistributionID == "" || svc.Device.GlobalID == "" {
		log.Debug("ignoring service without identity", "instance", entry.Instance)
		return ServiceFound{}, false
	}
	if s.isSelf(svc.Device.GlobalID) {
		return ServiceFound{}, false
	}

	svc.Addrs = append(svc.Addrs, entry.AddrIPv4...)
	svc.Addrs = append(svc.Addrs, entry.AddrIPv6...)
	if len(svc.Addrs) == 0 || svc.Port <= 0 {
		log.Debug("ignoring service without address", "instance", entry.Instance)
		return ServiceFound{}, false
	}

	return svc, true
}

func (s *Service) isSelf(globalID string) bool {
	if globalID == s.cfg.SelfID {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return globalID == s.advertised.Device.GlobalID
}

func (s *Service) log() Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}
