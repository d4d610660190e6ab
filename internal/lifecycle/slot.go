package lifecycle

import (
	"context"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/hidppd/internal/battery"
)

// State is a DeviceSlot's lifecycle state (spec §4.7).
type State int

const (
	StateCreated State = iota
	StateInitializing
	StateOnline
	StateOffline
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateInitializing:
		return "Initializing"
	case StateOnline:
		return "Online"
	case StateOffline:
		return "Offline"
	case StateDisposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// DeviceSlot is one receiver-addressable slot (1..6) or the direct-device/
// broadcast sentinel 0xFF (spec §3). All mutable fields are guarded by mu;
// featureMap and the other init-time fields are written exactly once by the
// initialization task and read afterward by event/poll handlers, which
// never run concurrently with initialization (spec §5 shared-resource
// policy).
type DeviceSlot struct {
	SlotIndex byte

	mu                      sync.RWMutex
	identifier              string
	deviceName              string
	deviceType              string
	featureMap              *orderedmap.OrderedMap[uint16, byte]
	batteryCapability       battery.Capability
	batteryFeatureIndex     byte
	state                   State
	lastUpdate              time.Time
	deviceOnTime            time.Time
	consecutivePollFailures int
	lastEventTime           time.Time
	forceNextUpdate         bool

	cancelPoll context.CancelFunc
}

// newSlot creates a freshly Created slot.
func newSlot(slotIndex byte) *DeviceSlot {
	return &DeviceSlot{
		SlotIndex:  slotIndex,
		state:      StateCreated,
		featureMap: orderedmap.New[uint16, byte](),
	}
}

func (d *DeviceSlot) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *DeviceSlot) setState(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = s
}

// Identifier returns the slot's stable identifier, empty before
// initialization completes.
func (d *DeviceSlot) Identifier() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.identifier
}

func (d *DeviceSlot) DeviceName() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.deviceName
}

func (d *DeviceSlot) HasBattery() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.batteryCapability != nil
}

// Snapshot is a read-only view of a slot for introspection (e.g. a `probe`
// diagnostic command), never mutated by callers.
type Snapshot struct {
	SlotIndex  byte
	Identifier string
	DeviceName string
	DeviceType string
	HasBattery bool
	State      State
	LastUpdate time.Time
}

func (d *DeviceSlot) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Snapshot{
		SlotIndex:  d.SlotIndex,
		Identifier: d.identifier,
		DeviceName: d.deviceName,
		DeviceType: d.deviceType,
		HasBattery: d.batteryCapability != nil,
		State:      d.state,
		LastUpdate: d.lastUpdate,
	}
}
