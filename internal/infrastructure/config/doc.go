// Package config handles loading and validating ShardLink configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SHARDLINK_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Credentials (MQTT password, InfluxDB token) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - device.global_id must stay stable for the life of the device
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.GlobalID)
package config
