package paired

import (
	"sync"
	"time"

	"github.com/nerrad567/shardlink/internal/discovery"
)

// EventType identifies what changed in the Registry.
type EventType string

const (
	EventDeviceAdded        EventType = "device_added"
	EventDeviceRemoved      EventType = "device_removed"
	EventProvisionRequested EventType = "provision_requested"
	EventProvisionFinished  EventType = "provision_finished"
)

// Event is a notification published to subscribers.
type Event struct {
	Type           EventType
	Device         DeviceInfo
	DistributionID string
	DeviceID       string
	Time           time.Time

	// Service is set for provision events.
	Service *discovery.ServiceFound

	// Err is set on a failed EventProvisionFinished.
	Err error
}

// broker fans events out to subscribers without ever blocking the publisher.
type broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	logger func() Logger
}

func newBroker(logger func() Logger) *broker {
	return &broker{
		subs:   make(map[int]chan Event),
		logger: logger,
	}
}

func (b *broker) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (b *broker) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger().Warn("dropping registry event for slow subscriber",
				"subscriber", id,
				"event", string(ev.Type),
			)
		}
	}
}
