// ShardLink daemon.
//
// shardlinkd keeps the shards this device holds for its peers and delivers
// each one to its owner when the owner's pairing service shows up on the
// LAN. With the aggregator enabled it also collects shards of its own
// distribution from the devices holding them.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/shardlink/migrations"

	"github.com/nerrad567/shardlink/internal/aggregator"
	"github.com/nerrad567/shardlink/internal/api"
	"github.com/nerrad567/shardlink/internal/discovery"
	"github.com/nerrad567/shardlink/internal/infrastructure/config"
	"github.com/nerrad567/shardlink/internal/infrastructure/database"
	"github.com/nerrad567/shardlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/shardlink/internal/infrastructure/logging"
	"github.com/nerrad567/shardlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/shardlink/internal/metrics"
	"github.com/nerrad567/shardlink/internal/paired"
	"github.com/nerrad567/shardlink/internal/pairing/protocol"
	"github.com/nerrad567/shardlink/internal/pairing/server"
	"github.com/nerrad567/shardlink/internal/provision"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// registryEventBuffer is how far the MQTT forwarder may fall behind.
const registryEventBuffer = 64

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting shardlinkd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	checks := map[string]api.HealthChecker{"database": db}

	// InfluxDB (optional)
	var sink metrics.Sink
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB, cfg.Device.GlobalID)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		sink = influxClient
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	m := metrics.New(sink)

	// MQTT (optional)
	var publisher Publisher
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		publisher = mqttClient
		checks["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	self := protocol.Device{
		GlobalID: cfg.Device.GlobalID,
		Name:     cfg.Device.Name,
		Platform: cfg.Device.Platform,
	}

	// Discovery (optional)
	var disc *discovery.Service
	if cfg.Discovery.Enabled {
		disc = discovery.New(discovery.Config{
			ServiceType:    cfg.Discovery.ServiceType,
			Domain:         cfg.Discovery.Domain,
			BrowseTimeout:  cfg.Discovery.BrowseTimeout,
			BrowseInterval: cfg.Discovery.BrowseInterval,
			SelfID:         cfg.Device.GlobalID,
		})
		disc.SetLogger(log)
		defer disc.Stop()
	} else {
		log.Info("discovery disabled, shards will not be provisioned")
	}

	registry := newRegistry(cfg, db, disc, self, m, log)
	defer registry.Stop()
	m.TrackPairedDevices(registry.Count)

	g, gctx := errgroup.WithContext(ctx)

	unsubscribe := func() {}
	var fwd *forwarder
	if publisher != nil {
		var events <-chan paired.Event
		events, unsubscribe = registry.Subscribe(registryEventBuffer)
		defer unsubscribe()

		fwd = newForwarder(publisher, registry, log)
		g.Go(func() error {
			fwd.forwardRegistry(gctx, events)
			return nil
		})
		if subErr := fwd.subscribeCommands(mqttClient, byte(cfg.MQTT.QoS)); subErr != nil {
			return fmt.Errorf("subscribing to pairing commands: %w", subErr)
		}
	}

	if initErr := registry.Init(gctx); initErr != nil {
		if !errors.Is(initErr, paired.ErrDiscovery) {
			return fmt.Errorf("initialising paired device registry: %w", initErr)
		}
		log.Warn("discovery unavailable, paired devices loaded without scanning", "error", initErr)
	}
	log.Info("paired device registry initialised", "devices", registry.Count())

	// Aggregator (optional)
	var agg *aggregator.Aggregator
	if cfg.Aggregator.Enabled {
		agg, err = startAggregator(gctx, cfg, self, disc, m, log)
		if err != nil {
			return fmt.Errorf("starting aggregator: %w", err)
		}
		defer agg.Stop()

		g.Go(func() error {
			collectResults(gctx, agg, fwd, m, log)
			return nil
		})
	}

	// Operations API (optional)
	if cfg.Metrics.Enabled {
		deps := api.Deps{
			Config:   cfg.Metrics,
			Logger:   log,
			Registry: registry,
			Metrics:  m,
			Checks:   checks,
			Version:  version,
		}
		if agg != nil {
			deps.Aggregator = agg
		}
		apiServer, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(gctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-gctx.Done()

	log.Info("shutdown signal received, cleaning up")
	if agg != nil {
		agg.Stop()
	}
	registry.Stop()
	unsubscribe()

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shardlinkd stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SHARDLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SHARDLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newRegistry builds the paired device registry. Without discovery it only
// keeps the list.
func newRegistry(cfg *config.Config, db *database.DB, disc *discovery.Service, self protocol.Device, m *metrics.Metrics, log *logging.Logger) *paired.Registry {
	repo := paired.NewSQLiteRepository(db.DB)

	if disc == nil {
		registry := paired.NewRegistry(repo, nil, nil)
		registry.SetLogger(log)
		return registry
	}

	provider := provision.New(provision.Config{
		Self: self,
		Dial: server.DialConfig{
			Attempts: cfg.Pairing.DialAttempts,
			Timeout:  cfg.Pairing.DialTimeout,
		},
	})
	provider.SetLogger(log)
	provider.SetRecorder(m)

	registry := paired.NewRegistry(repo, disc, provider)
	registry.SetLogger(log)
	registry.SetProvisionCooldown(cfg.Pairing.ProvisionCooldown)
	return registry
}

// startAggregator starts collecting shards of this device's distribution.
func startAggregator(ctx context.Context, cfg *config.Config, self protocol.Device, disc *discovery.Service, m *metrics.Metrics, log *logging.Logger) (*aggregator.Aggregator, error) {
	var adv aggregator.Advertiser
	if disc != nil {
		adv = disc
	}

	agg := aggregator.New(aggregator.Config{
		Self:           self,
		DistributionID: cfg.Aggregator.DistributionID,
		Threshold:      cfg.Aggregator.Threshold,
		Server: server.Config{
			Host:              cfg.Pairing.Host,
			Ports:             server.NewPortPool(cfg.Pairing.BasePort),
			BindAttempts:      cfg.Pairing.BindAttempts,
			HandshakeTimeout:  cfg.Pairing.HandshakeTimeout,
			ReadyPollInterval: cfg.Pairing.ReadyPollInterval,
			ReadyTimeout:      cfg.Pairing.ReadyTimeout,
			AcceptRate:        cfg.Pairing.AcceptRate,
			AcceptBurst:       cfg.Pairing.AcceptBurst,
			Recorder:          m,
		},
	}, adv)
	agg.SetLogger(log)

	if err := agg.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("aggregator started",
		"distribution_id", cfg.Aggregator.DistributionID,
		"threshold", cfg.Aggregator.Threshold,
		"port", agg.Port(),
	)
	return agg, nil
}

// healthCheck verifies every registered dependency, in name order.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for _, name := range sortedNames(checks) {
		if err := checks[name].HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
