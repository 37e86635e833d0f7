package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nerrad567/shardlink/internal/aggregator"
	"github.com/nerrad567/shardlink/internal/infrastructure/logging"
	"github.com/nerrad567/shardlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/shardlink/internal/metrics"
	"github.com/nerrad567/shardlink/internal/paired"
)

// Command names accepted on mqtt.Topics{}.Command(name).
const (
	commandPair   = "pair"
	commandUnpair = "unpair"
)

// Publisher is the part of the MQTT client the forwarder publishes with.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// Subscriber is the part of the MQTT client commands arrive on.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// DevicePayload is the JSON body of device and provision notifications.
type DevicePayload struct {
	Event          string    `json:"event"`
	DeviceID       string    `json:"device_id"`
	GlobalID       string    `json:"global_id"`
	Name           string    `json:"name,omitempty"`
	Platform       string    `json:"platform,omitempty"`
	DistributionID string    `json:"distribution_id"`
	ServiceAddress string    `json:"service_address,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// PeerPayload is published when a holder joins the aggregator.
type PeerPayload struct {
	GlobalID         string    `json:"global_id"`
	Name             string    `json:"name,omitempty"`
	Platform         string    `json:"platform,omitempty"`
	RemoteAddr       string    `json:"remote_addr"`
	VerificationCode string    `json:"verification_code"`
	Timestamp        time.Time `json:"timestamp"`
}

// CollectedPayload announces a completed collection. Only the holders are
// listed.
type CollectedPayload struct {
	DistributionID string    `json:"distribution_id"`
	Holders        []string  `json:"holders"`
	Timestamp      time.Time `json:"timestamp"`
}

// PairCommand stores a shard for a device.
type PairCommand struct {
	DistributionID string `json:"distribution_id"`
	GlobalID       string `json:"global_id"`
	Name           string `json:"name"`
	Platform       string `json:"platform"`
	Shard          []byte `json:"shard"`
	Threshold      int    `json:"threshold"`
	Parties        int    `json:"parties"`
}

// UnpairCommand removes a device.
type UnpairCommand struct {
	GlobalID string `json:"global_id"`
}

// forwarder bridges the registry and the aggregator to MQTT.
type forwarder struct {
	pub      Publisher
	registry *paired.Registry
	log      *logging.Logger
	topics   mqtt.Topics
}

func newForwarder(pub Publisher, registry *paired.Registry, log *logging.Logger) *forwarder {
	return &forwarder{pub: pub, registry: registry, log: log}
}

// forwardRegistry publishes registry events until ctx ends or events closes.
func (f *forwarder) forwardRegistry(ctx context.Context, events <-chan paired.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			f.publishEvent(ev)
		}
	}
}

func (f *forwarder) publishEvent(ev paired.Event) {
	payload := DevicePayload{
		Event:          string(ev.Type),
		DeviceID:       ev.DeviceID,
		GlobalID:       ev.Device.GlobalID,
		Name:           ev.Device.Name,
		Platform:       ev.Device.Platform,
		DistributionID: ev.DistributionID,
		Timestamp:      ev.Time,
	}
	if ev.Service != nil {
		payload.ServiceAddress = ev.Service.Address()
	}
	if ev.Err != nil {
		payload.Error = ev.Err.Error()
	}

	var topic string
	switch ev.Type {
	case paired.EventDeviceAdded:
		topic = f.topics.DeviceAdded()
	case paired.EventDeviceRemoved:
		topic = f.topics.DeviceRemoved()
	case paired.EventProvisionRequested, paired.EventProvisionFinished:
		topic = f.topics.Provision()
	default:
		return
	}

	f.publish(topic, payload)
}

func (f *forwarder) publishPeer(p aggregator.PeerJoined) {
	f.publish(f.topics.Peer(), PeerPayload{
		GlobalID:         p.Device.GlobalID,
		Name:             p.Device.Name,
		Platform:         p.Device.Platform,
		RemoteAddr:       p.RemoteAddr,
		VerificationCode: p.VerificationCode,
		Timestamp:        time.Now().UTC(),
	})
}

func (f *forwarder) publishCollected(c aggregator.Collected) {
	holders := make([]string, 0, len(c.Shards))
	for id := range c.Shards {
		holders = append(holders, id)
	}
	sort.Strings(holders)

	f.publish(f.topics.Collected(), CollectedPayload{
		DistributionID: c.DistributionID,
		Holders:        holders,
		Timestamp:      c.At,
	})
}

func (f *forwarder) publish(topic string, v any) {
	if err := f.pub.PublishJSON(topic, v); err != nil {
		f.log.Warn("failed to publish pairing notification", "topic", topic, "error", err)
	}
}

// subscribeCommands registers the pair and unpair command handlers.
func (f *forwarder) subscribeCommands(sub Subscriber, qos byte) error {
	if err := sub.Subscribe(f.topics.Command(commandPair), qos, f.handlePair); err != nil {
		return err
	}
	return sub.Subscribe(f.topics.Command(commandUnpair), qos, f.handleUnpair)
}

func (f *forwarder) handlePair(_ string, payload []byte) error {
	var cmd PairCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("decoding pair command: %w", err)
	}

	device, added, err := f.registry.AddShardKey(context.Background(), paired.ShardKey{
		DistributionID: cmd.DistributionID,
		Device: paired.DeviceInfo{
			GlobalID: cmd.GlobalID,
			Name:     cmd.Name,
			Platform: cmd.Platform,
		},
		Shard:     cmd.Shard,
		Threshold: cmd.Threshold,
		Parties:   cmd.Parties,
	})
	clear(cmd.Shard)
	if err != nil {
		return fmt.Errorf("pairing %s: %w", cmd.GlobalID, err)
	}
	if !added {
		f.log.Info("pair command ignored, device already paired",
			"global_id", cmd.GlobalID,
			"distribution_id", device.DistributionID(),
		)
	}
	return nil
}

func (f *forwarder) handleUnpair(_ string, payload []byte) error {
	var cmd UnpairCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("decoding unpair command: %w", err)
	}
	if cmd.GlobalID == "" {
		return errors.New("unpair command without global_id")
	}

	device := f.registry.Find(cmd.GlobalID)
	if device == nil {
		f.log.Info("unpair command for unknown device", "global_id", cmd.GlobalID)
		return nil
	}
	return f.registry.RemoveDevice(context.Background(), device)
}

// collectResults reports aggregator progress until ctx ends. fwd may be nil.
func collectResults(ctx context.Context, agg *aggregator.Aggregator, fwd *forwarder, m *metrics.Metrics, log *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case peer := <-agg.Joined():
			log.Info("holder joined, compare verification code",
				"global_id", peer.Device.GlobalID,
				"remote_addr", peer.RemoteAddr,
				"verification_code", peer.VerificationCode,
			)
			if fwd != nil {
				fwd.publishPeer(peer)
			}
		case res := <-agg.Results():
			log.Info("shard threshold reached",
				"distribution_id", res.DistributionID,
				"shards", len(res.Shards),
			)
			m.CollectionFinished(res.DistributionID, len(res.Shards), res.At)
			if fwd != nil {
				fwd.publishCollected(res)
			}
			for _, shard := range res.Shards {
				clear(shard)
			}
		}
	}
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
