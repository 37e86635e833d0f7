package influxdb

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	measurementHandshake  = "pairing_handshake"
	measurementProvision  = "shard_provision"
	measurementCollection = "shard_collection"

	tagDevice       = "device"
	tagDistribution = "distribution_id"
	tagResult       = "result"
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// WriteHandshake records one server-side key exchange.
func (c *Client) WriteHandshake(d time.Duration, err error) {
	if d < 0 {
		c.reject(measurementHandshake, "negative duration")
		return
	}
	c.writePoint(measurementHandshake,
		map[string]string{tagResult: result(err)},
		map[string]any{"duration_ms": durationMillis(d)},
		time.Now(),
	)
}

// WriteProvision records one attempt to deliver a shard to its owner.
func (c *Client) WriteProvision(distributionID string, d time.Duration, err error) {
	if distributionID == "" {
		c.reject(measurementProvision, "missing distribution id")
		return
	}
	c.writePoint(measurementProvision,
		map[string]string{
			tagDistribution: distributionID,
			tagResult:       result(err),
		},
		map[string]any{"duration_ms": durationMillis(d)},
		time.Now(),
	)
}

// WriteCollection records the owner reaching its shard threshold.
func (c *Client) WriteCollection(distributionID string, shards int, at time.Time) {
	switch {
	case distributionID == "":
		c.reject(measurementCollection, "missing distribution id")
		return
	case shards < 1:
		c.reject(measurementCollection, fmt.Sprintf("shard count %d", shards))
		return
	}
	c.writePoint(measurementCollection,
		map[string]string{tagDistribution: distributionID},
		map[string]any{"shards": shards},
		at,
	)
}

func (c *Client) reject(measurement, reason string) {
	c.dropped.Add(1)
	c.report(fmt.Errorf("%w: %s: %s", ErrInvalidPoint, measurement, reason))
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		c.dropped.Add(1)
		return
	}
	if c.device != "" {
		tags[tagDevice] = c.device
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
