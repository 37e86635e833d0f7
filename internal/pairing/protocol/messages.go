// Package protocol defines the JSON messages exchanged over a ready
// pairing channel when a shard is handed back to its aggregator.
//
//	holder                         aggregator
//	  │ ── hello {device, distributionId} ──▶ │
//	  │ ◀──────── welcome {device} ────────── │
//	  │ ── shard {recordId, shard, ...} ────▶ │
//	  │ ◀──────── ack {ok, error} ─────────── │
package protocol

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/shardlink/internal/pairing/channel"
)

// Message types.
const (
	TypeHello   = "hello"
	TypeWelcome = "welcome"
	TypeShard   = "shard"
	TypeAck     = "ack"
)

// Device identifies the sender of a message.
type Device struct {
	GlobalID string `json:"globalId"`
	Name     string `json:"name,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// Message is implemented by every protocol message.
type Message interface {
	messageType() string
	validate() error
}

// Hello opens the exchange from the shard holder.
type Hello struct {
	Type           string `json:"type"`
	Device         Device `json:"device"`
	DistributionID string `json:"distributionId"`
}

// Welcome is the aggregator's reply to Hello.
type Welcome struct {
	Type   string `json:"type"`
	Device Device `json:"device"`
}

// Shard carries one secret share. Shard is base64 on the wire.
type Shard struct {
	Type           string `json:"type"`
	DistributionID string `json:"distributionId"`
	RecordID       string `json:"recordId"`
	Shard          []byte `json:"shard"`
	Threshold      int    `json:"threshold"`
	Parties        int    `json:"parties"`
}

// Ack acknowledges a Shard.
type Ack struct {
	Type  string `json:"type"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (Hello) messageType() string   { return TypeHello }
func (Welcome) messageType() string { return TypeWelcome }
func (Shard) messageType() string   { return TypeShard }
func (Ack) messageType() string     { return TypeAck }

func (m Hello) validate() error {
	if m.Device.GlobalID == "" || m.DistributionID == "" {
		return fmt.Errorf("%w: hello needs device and distribution", ErrInvalidMessage)
	}
	return nil
}

func (m Welcome) validate() error {
	if m.Device.GlobalID == "" {
		return fmt.Errorf("%w: welcome needs device", ErrInvalidMessage)
	}
	return nil
}

func (m Shard) validate() error {
	if m.DistributionID == "" || len(m.Shard) == 0 {
		return fmt.Errorf("%w: shard needs distribution and material", ErrInvalidMessage)
	}
	return nil
}

func (Ack) validate() error { return nil }

// Send stamps msg's type and sends it on ch. msg must be a pointer to one
// of the message types.
func Send(ctx context.Context, ch *channel.Channel, msg Message) error {
	switch m := msg.(type) {
	case *Hello:
		m.Type = TypeHello
	case *Welcome:
		m.Type = TypeWelcome
	case *Shard:
		m.Type = TypeShard
	case *Ack:
		m.Type = TypeAck
	}
	return ch.SendJSON(ctx, msg)
}

// Receive reads the next message into msg, which must be a pointer to one
// of the message types. Any other type on the wire is ErrUnexpectedMessage.
func Receive(ctx context.Context, ch *channel.Channel, msg Message) error {
	data, err := ch.Receive(ctx)
	if err != nil {
		return err
	}

	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("%w: %w", channel.ErrDecode, err)
	}
	if want := msg.messageType(); envelope.Type != want {
		return fmt.Errorf("%w: got %q, want %q", ErrUnexpectedMessage, envelope.Type, want)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("%w: %w", channel.ErrDecode, err)
	}
	return msg.validate()
}
