package paired

import (
	"fmt"
	"time"
)

// DeviceInfo identifies a remote device. Two DeviceInfo values describe the
// same device when their GlobalIDs are equal; Name and Platform are display
// data only.
type DeviceInfo struct {
	GlobalID string `json:"globalId"`
	Name     string `json:"name,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// SameDevice reports whether d and other identify the same device.
func (d DeviceInfo) SameDevice(other DeviceInfo) bool {
	return d.GlobalID != "" && d.GlobalID == other.GlobalID
}

// ShardKey is the persisted record of one secret share held for a paired
// device.
type ShardKey struct {
	// ID is assigned on insert when empty.
	ID             string
	DistributionID string
	Device         DeviceInfo

	// Shard is opaque secret-share material.
	Shard []byte

	Threshold int
	Parties   int
	CreatedAt time.Time
}

// Validate checks the fields every stored record needs.
func (k ShardKey) Validate() error {
	switch {
	case k.DistributionID == "":
		return fmt.Errorf("%w: distribution id is required", ErrInvalidShardKey)
	case k.Device.GlobalID == "":
		return fmt.Errorf("%w: device global id is required", ErrInvalidShardKey)
	case len(k.Shard) == 0:
		return fmt.Errorf("%w: shard is empty", ErrInvalidShardKey)
	case k.Threshold < 0 || k.Parties < 0:
		return fmt.Errorf("%w: threshold and parties must not be negative", ErrInvalidShardKey)
	case k.Parties > 0 && k.Threshold > k.Parties:
		return fmt.Errorf("%w: threshold %d exceeds parties %d", ErrInvalidShardKey, k.Threshold, k.Parties)
	}
	return nil
}

// clone returns a copy that shares no memory with k.
func (k ShardKey) clone() ShardKey {
	k.Shard = append([]byte(nil), k.Shard...)
	return k
}

// PairedDevice is the runtime view of one ShardKey.
// Accessors return copies; a PairedDevice is immutable.
type PairedDevice struct {
	key ShardKey
}

// NewPairedDevice wraps a copy of key.
func NewPairedDevice(key ShardKey) *PairedDevice {
	return &PairedDevice{key: key.clone()}
}

func (p *PairedDevice) ID() string             { return p.key.ID }
func (p *PairedDevice) Device() DeviceInfo     { return p.key.Device }
func (p *PairedDevice) DistributionID() string { return p.key.DistributionID }
func (p *PairedDevice) Threshold() int         { return p.key.Threshold }
func (p *PairedDevice) Parties() int           { return p.key.Parties }
func (p *PairedDevice) CreatedAt() time.Time   { return p.key.CreatedAt }

// Shard returns a copy of the secret share.
func (p *PairedDevice) Shard() []byte {
	return append([]byte(nil), p.key.Shard...)
}

// ShardKey returns a copy of the underlying record.
func (p *PairedDevice) ShardKey() ShardKey {
	return p.key.clone()
}
