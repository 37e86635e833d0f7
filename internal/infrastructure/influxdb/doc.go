// Package influxdb records pairing telemetry in InfluxDB.
//
// It wraps the influxdb-client-go v2 library with connection management,
// batched non-blocking writes and health checks.
//
// # Measurements
//
// Every point carries a device tag with the recording device's GlobalID.
//
//   - pairing_handshake: result tag, duration_ms field
//   - shard_provision: distribution_id and result tags, duration_ms field
//   - shard_collection: distribution_id tag, shards field
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Device.GlobalID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteProvision("dist-1", elapsed, err)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Write errors are delivered asynchronously to the SetOnError callback.
package influxdb
