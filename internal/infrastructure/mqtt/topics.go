package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every ShardLink topic.
const TopicPrefix = "shardlink"

const (
	topicPrefixSystem  = TopicPrefix + "/system"
	topicPrefixPairing = TopicPrefix + "/pairing"
)

// Topics builds ShardLink MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.DeviceAdded() // shardlink/pairing/device/added
type Topics struct{}

// SystemStatus carries the retained online/offline record and the LWT.
//
// Example: shardlink/system/status
func (Topics) SystemStatus() string {
	return topicPrefixSystem + "/status"
}

// DeviceAdded is published when a shard key is stored for a device.
func (Topics) DeviceAdded() string {
	return topicPrefixPairing + "/device/added"
}

// DeviceRemoved is published when a device is unpaired.
func (Topics) DeviceRemoved() string {
	return topicPrefixPairing + "/device/removed"
}

// Provision carries provision requested/finished events.
func (Topics) Provision() string {
	return topicPrefixPairing + "/provision"
}

// Peer is published when a holder joins this device's aggregator.
func (Topics) Peer() string {
	return topicPrefixPairing + "/peer"
}

// Collected is published when the aggregator reaches its threshold.
func (Topics) Collected() string {
	return topicPrefixPairing + "/collected"
}

// Command returns the topic operators publish a pairing command on.
//
// Example: shardlink/pairing/command/unpair
func (Topics) Command(name string) string {
	return fmt.Sprintf("%s/command/%s", topicPrefixPairing, name)
}

// AllPairing matches every pairing topic.
//
// Pattern: shardlink/pairing/#
func (Topics) AllPairing() string {
	return topicPrefixPairing + "/#"
}

// checkTopic validates a publish topic, or a subscription filter when
// filter is true. Both must sit under TopicPrefix.
func checkTopic(topic string, filter bool) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if topic != TopicPrefix && !strings.HasPrefix(topic, TopicPrefix+"/") {
		return fmt.Errorf("%w: %q", ErrOutsideNamespace, topic)
	}

	levels := strings.Split(topic, "/")
	for i, level := range levels {
		if !strings.ContainsAny(level, "+#") {
			continue
		}
		if !filter {
			return fmt.Errorf("%w: wildcard in publish topic %q", ErrInvalidTopic, topic)
		}
		if level == "+" || (level == "#" && i == len(levels)-1) {
			continue
		}
		return fmt.Errorf("%w: misplaced wildcard in %q", ErrInvalidTopic, topic)
	}
	return nil
}
