package mqtt

import "errors"

// Errors returned by the ShardLink MQTT client. Check them with errors.Is.
var (
	// ErrConnectionFailed wraps a failed initial broker connection.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrNotConnected is returned while the broker link is down.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrInvalidTopic covers empty topics, wildcards in a publish topic and
	// misplaced wildcards in a filter.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrOutsideNamespace is returned for topics not under TopicPrefix.
	ErrOutsideNamespace = errors.New("mqtt: topic outside the shardlink namespace")

	// ErrInvalidQoS is returned for a QoS other than 0, 1 or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrPayloadTooLarge is returned for payloads over the pairing frame
	// limit. Inbound payloads that large are dropped.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")

	// ErrPublishFailed wraps a broker or encoding failure on publish.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps a broker failure on subscribe.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed wraps a broker failure on unsubscribe.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
)
