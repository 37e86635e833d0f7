// Package metrics records pairing outcomes as Prometheus metrics and forwards
// them to an optional telemetry sink.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/shardlink/internal/provision"
)

// Outcome label values.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultRejected = "rejected"
)

// Sink receives the same outcomes for long-term storage.
// influxdb.Client implements it.
type Sink interface {
	WriteHandshake(d time.Duration, err error)
	WriteProvision(distributionID string, d time.Duration, err error)
	WriteCollection(distributionID string, shards int, at time.Time)
}

// Metrics provides observability for the pairing server, the provision flow
// and the aggregator.
type Metrics struct {
	registry *prometheus.Registry
	sink     Sink

	ConnectionsAccepted prometheus.Counter
	ConnectionsRejected prometheus.Counter

	// Handshake latency by result.
	HandshakeDuration *prometheus.HistogramVec

	// Greeting outcomes by result.
	Greetings *prometheus.CounterVec

	// Provision latency by distribution and result.
	ProvisionDuration *prometheus.HistogramVec

	// Completed collections by distribution.
	Collections *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry. sink may be nil.
func New(sink Sink) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		sink:     sink,

		ConnectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "shardlink_pairing_connections_accepted_total",
			Help: "Connections accepted by the pairing server",
		}),
		ConnectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "shardlink_pairing_connections_rejected_total",
			Help: "Connections refused by the per-host rate limiter",
		}),
		HandshakeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shardlink_pairing_handshake_duration_seconds",
			Help:    "Duration of server-side key exchanges by result",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"result"}),
		Greetings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shardlink_pairing_greetings_total",
			Help: "Greeting exchanges by result",
		}, []string{"result"}),
		ProvisionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shardlink_provision_duration_seconds",
			Help:    "Duration of shard deliveries by distribution and result",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"distribution_id", "result"}),
		Collections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shardlink_aggregator_collections_total",
			Help: "Distributions whose shard threshold was reached",
		}, []string{"distribution_id"}),
	}
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TrackPairedDevices exports count as a gauge sampled on every scrape.
func (m *Metrics) TrackPairedDevices(count func() int) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "shardlink_paired_devices",
		Help: "Devices currently holding a shard from this device",
	}, func() float64 { return float64(count()) })
}

// ConnectionAccepted counts an accepted pairing connection.
func (m *Metrics) ConnectionAccepted() {
	if m != nil {
		m.ConnectionsAccepted.Inc()
	}
}

// ConnectionRejected counts a rate-limited pairing connection.
func (m *Metrics) ConnectionRejected() {
	if m != nil {
		m.ConnectionsRejected.Inc()
	}
}

// HandshakeFinished records one server-side key exchange.
func (m *Metrics) HandshakeFinished(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.HandshakeDuration.WithLabelValues(result(err)).Observe(d.Seconds())
	if m.sink != nil {
		m.sink.WriteHandshake(d, err)
	}
}

// GreetingFinished records the outcome of a greeting.
func (m *Metrics) GreetingFinished(err error) {
	if m != nil {
		m.Greetings.WithLabelValues(result(err)).Inc()
	}
}

// ProvisionFinished records one shard delivery attempt. A refusal by the
// peer is labelled separately from transport failures.
func (m *Metrics) ProvisionFinished(distributionID string, d time.Duration, err error) {
	if m == nil {
		return
	}
	label := result(err)
	if provision.IsPeerError(err) {
		label = ResultRejected
	}
	m.ProvisionDuration.WithLabelValues(distributionID, label).Observe(d.Seconds())
	if m.sink != nil {
		m.sink.WriteProvision(distributionID, d, err)
	}
}

// CollectionFinished records an aggregator reaching its threshold.
func (m *Metrics) CollectionFinished(distributionID string, shards int, at time.Time) {
	if m == nil {
		return
	}
	m.Collections.WithLabelValues(distributionID).Inc()
	if m.sink != nil {
		m.sink.WriteCollection(distributionID, shards, at)
	}
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
