// Package mqtt connects ShardLink to an MQTT broker.
//
// The broker is the upstream notification bus: pairing events, aggregator
// peers and collection results are published as JSON, and operators send
// commands such as unpair on the command topics.
//
//	shardlink/system/status          retained online/offline, LWT
//	shardlink/pairing/device/added   registry events
//	shardlink/pairing/device/removed
//	shardlink/pairing/provision
//	shardlink/pairing/peer           aggregator
//	shardlink/pairing/collected
//	shardlink/pairing/command/+      inbound commands
//
// Shard material is never published.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.DeviceAdded(), event)
package mqtt
