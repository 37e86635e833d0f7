package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/shardlink/internal/provision"
)

type fakeSink struct {
	mu    sync.Mutex
	calls []string
}

func (s *fakeSink) record(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
}

func (s *fakeSink) WriteHandshake(d time.Duration, err error) {
	s.record("handshake %s %v", d, err)
}

func (s *fakeSink) WriteProvision(distributionID string, d time.Duration, err error) {
	s.record("provision %s %s %v", distributionID, d, err)
}

func (s *fakeSink) WriteCollection(distributionID string, shards int, _ time.Time) {
	s.record("collection %s %d", distributionID, shards)
}

// scrape returns the exposition text served by m.
func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_ServerOutcomes(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink)

	m.ConnectionAccepted()
	m.ConnectionAccepted()
	m.ConnectionRejected()
	m.HandshakeFinished(10*time.Millisecond, nil)
	m.HandshakeFinished(time.Millisecond, errors.New("bad point"))
	m.GreetingFinished(nil)

	out := scrape(t, m)
	assert.Contains(t, out, "shardlink_pairing_connections_accepted_total 2")
	assert.Contains(t, out, "shardlink_pairing_connections_rejected_total 1")
	assert.Contains(t, out, `shardlink_pairing_handshake_duration_seconds_count{result="ok"} 1`)
	assert.Contains(t, out, `shardlink_pairing_handshake_duration_seconds_count{result="error"} 1`)
	assert.Contains(t, out, `shardlink_pairing_greetings_total{result="ok"} 1`)

	assert.Equal(t, []string{"handshake 10ms <nil>", "handshake 1ms bad point"}, sink.calls)
}

func TestMetrics_ProvisionResults(t *testing.T) {
	m := New(nil)

	m.ProvisionFinished("dist-1", time.Second, nil)
	m.ProvisionFinished("dist-1", time.Second, fmt.Errorf("%w: full", provision.ErrRejected))
	m.ProvisionFinished("dist-1", time.Second, provision.ErrPeerMismatch)
	m.ProvisionFinished("dist-1", time.Second, provision.ErrNoAddress)

	out := scrape(t, m)
	assert.Contains(t, out, `shardlink_provision_duration_seconds_count{distribution_id="dist-1",result="ok"} 1`)
	assert.Contains(t, out, `shardlink_provision_duration_seconds_count{distribution_id="dist-1",result="rejected"} 2`)
	assert.Contains(t, out, `shardlink_provision_duration_seconds_count{distribution_id="dist-1",result="error"} 1`)
}

func TestMetrics_CollectionAndGauge(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink)

	paired := 3
	m.TrackPairedDevices(func() int { return paired })
	m.CollectionFinished("dist-9", 2, time.Now())

	out := scrape(t, m)
	assert.Contains(t, out, "shardlink_paired_devices 3")
	assert.Contains(t, out, `shardlink_aggregator_collections_total{distribution_id="dist-9"} 1`)
	assert.Equal(t, []string{"collection dist-9 2"}, sink.calls)

	paired = 1
	assert.Contains(t, scrape(t, m), "shardlink_paired_devices 1")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ConnectionAccepted()
		m.ConnectionRejected()
		m.HandshakeFinished(time.Millisecond, nil)
		m.GreetingFinished(nil)
		m.ProvisionFinished("d", time.Millisecond, nil)
		m.CollectionFinished("d", 1, time.Now())
	})
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := New(nil), New(nil)
	a.ConnectionAccepted()

	assert.Contains(t, scrape(t, a), "shardlink_pairing_connections_accepted_total 1")
	assert.True(t, strings.Contains(scrape(t, b), "shardlink_pairing_connections_accepted_total 0"))
}
