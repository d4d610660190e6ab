// Package sink defines the outbound consumer API (spec §6): the daemon's
// only contract with whatever host process renders battery state to a
// user. Wire encoding to that host is explicitly out of scope (spec §1);
// this package only fixes the three message shapes and their semantics.
package sink

import "time"

// InitMessage is emitted once per device transition to Online, after its
// initial metadata is known (spec §6).
type InitMessage struct {
	Identifier      string
	DeviceName      string
	HasBattery      bool
	DeviceType      string
	DeviceSignature string // "NATIVE.<deviceType>.<identifier>"
}

// UpdateMessage is emitted on each surviving battery publish (spec §6).
// BatteryPercentage == -1 conveys Offline/Unknown.
type UpdateMessage struct {
	Identifier        string
	BatteryPercentage int
	PowerSupplyStatus string
	BatteryMillivolts int
	UpdateTime        time.Time
	Mileage           int
	IsWiredMode       *bool
}

// RemoveMessage is emitted on explicit device removal by the host (spec §6,
// optional).
type RemoveMessage struct {
	Identifier string
	Reason     string
}

// Sink is the opaque event consumer the daemon publishes to. A concrete
// implementation owns wire encoding to the host process; this package only
// fixes the call shape.
type Sink interface {
	Init(InitMessage)
	Update(UpdateMessage)
	Remove(RemoveMessage)
}

// DeviceSignature composes the spec §6 "NATIVE.<deviceType>.<identifier>"
// signature string.
func DeviceSignature(deviceType, identifier string) string {
	return "NATIVE." + deviceType + "." + identifier
}
