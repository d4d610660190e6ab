package hidpp

import "fmt"

// Builder constructs Frames with a fixed default software id, the 4-bit
// low nibble of byte 3 this daemon stamps on every outbound request so its
// own traffic can be told apart from another process sharing the endpoint.
// Software id 0 is reserved for device-initiated events (spec §6) and is
// rejected by NewBuilder.
type Builder struct {
	defaultSoftwareID byte
}

// NewBuilder returns a Builder that stamps softwareID (1..15) on requests
// built without an explicit override.
func NewBuilder(softwareID byte) (Builder, error) {
	if softwareID < 1 || softwareID > 0x0F {
		return Builder{}, fmt.Errorf("hidpp: softwareId %d out of range 1..15", softwareID)
	}
	return Builder{defaultSoftwareID: softwareID}, nil
}

// SoftwareID returns the software id this Builder stamps on requests built
// without an explicit override, so callers can recognize their own
// responses (Frame.Matches) without threading the value through separately.
func (b Builder) SoftwareID() byte { return b.defaultSoftwareID }

// Create starts a fluent command for the given device index (a receiver
// slot 1..6, or BroadcastAddress for a direct device / receiver request).
func (b Builder) Create(deviceIndex byte) *CommandBuilder {
	return &CommandBuilder{
		deviceIndex: deviceIndex,
		softwareID:  b.defaultSoftwareID,
		size:        ShortSize,
	}
}

// CommandBuilder accumulates the fields of one outbound Frame.
type CommandBuilder struct {
	deviceIndex  byte
	featureIndex byte
	function     byte
	softwareID   byte
	params       []byte
	size         int
	err          error
}

// WithFeatureIndex sets byte 2 (feature index in 2.0, register opcode in 1.0).
func (c *CommandBuilder) WithFeatureIndex(featureIndex byte) *CommandBuilder {
	c.featureIndex = featureIndex
	return c
}

// WithFunction sets the function nibble (0..15) and optionally overrides the
// software id for this one command.
func (c *CommandBuilder) WithFunction(functionNibble byte, softwareID ...byte) *CommandBuilder {
	c.function = functionNibble
	if len(softwareID) > 0 {
		c.softwareID = softwareID[0]
	}
	return c
}

// WithParams sets the parameter bytes (up to 3 for a SHORT frame, up to 16
// for a LONG frame — see Long).
func (c *CommandBuilder) WithParams(params ...byte) *CommandBuilder {
	c.params = params
	return c
}

// Long switches the command to the 20-byte LONG report size.
func (c *CommandBuilder) Long() *CommandBuilder {
	c.size = LongSize
	return c
}

// Build validates and assembles the Frame.
func (c *CommandBuilder) Build() (Frame, error) {
	if c.err != nil {
		return Empty, c.err
	}
	if c.function > 0x0F {
		return Empty, fmt.Errorf("hidpp: function nibble %d exceeds 4 bits", c.function)
	}
	maxParams := c.size - 4
	if len(c.params) > maxParams {
		return Empty, fmt.Errorf("hidpp: %d params exceeds %d-byte frame capacity", len(c.params), maxParams)
	}

	buf := make([]byte, c.size)
	buf[0] = PrefixHIDPP
	buf[1] = c.deviceIndex
	buf[2] = c.featureIndex
	buf[3] = (c.function << 4) | (c.softwareID & 0x0F)
	copy(buf[4:], c.params)
	return Frame{buf: buf}, nil
}

// HID++ 2.0 root feature (always index 0) and well-known feature ids.
const (
	FeatureRoot           = 0x0000
	FeatureSet            = 0x0001
	FeatureDeviceFwInfo   = 0x0003
	FeatureDeviceName     = 0x0005
	FeatureUnifiedBattery = 0x1000
	FeatureBatteryVoltage = 0x1001
	FeatureUnifiedExt     = 0x1004
)

// Function nibbles, per feature.
const (
	rootFnPing        = 0x0
	rootFnGetFeature  = 0x1
	featureSetFnCount = 0x0
	featureSetFnEnum  = 0x1
	nameFnLength      = 0x0
	nameFnChunk       = 0x1
	nameFnDeviceType  = 0x2
	fwInfoFnGet       = 0x0
	fwInfoFnSerial    = 0x1
	batteryFnStatus   = 0x0
	batteryFnCapInfo  = 0x1
)

// Ping builds a root-feature ping carrying an arbitrary echo byte in param(2).
func (b Builder) Ping(deviceIndex, echo byte) (Frame, error) {
	return b.Create(deviceIndex).
		WithFeatureIndex(FeatureRoot).
		WithFunction(rootFnPing).
		WithParams(0, 0, echo).
		Build()
}

// GetFeatureIndex asks the root feature to resolve featureID to its
// device-specific index. The 16-bit feature id is packed little-endian
// into param(1)/param(2), per spec §4.1.
func (b Builder) GetFeatureIndex(deviceIndex byte, featureID uint16) (Frame, error) {
	return b.Create(deviceIndex).
		WithFeatureIndex(FeatureRoot).
		WithFunction(rootFnGetFeature).
		WithParams(0, byte(featureID), byte(featureID>>8)).
		Build()
}

// GetFeatureCount asks the (already-resolved) FeatureSet index for the
// number of features implemented by the device.
func (b Builder) GetFeatureCount(deviceIndex, featureSetIndex byte) (Frame, error) {
	return b.Create(deviceIndex).
		WithFeatureIndex(featureSetIndex).
		WithFunction(featureSetFnCount).
		Build()
}

// EnumerateFeature asks the FeatureSet index for the feature id living at
// enumeration slot index 0..count.
func (b Builder) EnumerateFeature(deviceIndex, featureSetIndex, index byte) (Frame, error) {
	return b.Create(deviceIndex).
		WithFeatureIndex(featureSetIndex).
		WithFunction(featureSetFnEnum).
		WithParams(index).
		Build()
}

// GetDeviceNameLength asks feature 0x0005 for the length of the device name.
func (b Builder) GetDeviceNameLength(deviceIndex, nameFeatureIndex byte) (Frame, error) {
	return b.Create(deviceIndex).
		WithFeatureIndex(nameFeatureIndex).
		WithFunction(nameFnLength).
		Build()
}

// GetDeviceNameChunk asks feature 0x0005 for a 3-byte chunk of the device
// name starting at the given byte offset.
func (b Builder) GetDeviceNameChunk(deviceIndex, nameFeatureIndex, offset byte) (Frame, error) {
	return b.Create(deviceIndex).
		WithFeatureIndex(nameFeatureIndex).
		WithFunction(nameFnChunk).
		WithParams(offset).
		Build()
}

// GetDeviceType asks feature 0x0005 for the device type byte.
func (b Builder) GetDeviceType(deviceIndex, nameFeatureIndex byte) (Frame, error) {
	return b.Create(deviceIndex).
		WithFeatureIndex(nameFeatureIndex).
		WithFunction(nameFnDeviceType).
		Build()
}

// GetDeviceFwInfo asks feature 0x0003 for unit id, model id, and the
// serial-number-supported flag (the response is decoded by
// resolveIdentifier in internal/lifecycle/manager.go).
func (b Builder) GetDeviceFwInfo(deviceIndex, fwFeatureIndex byte) (Frame, error) {
	return b.Create(deviceIndex).
		WithFeatureIndex(fwFeatureIndex).
		WithFunction(fwInfoFnGet).
		Long().
		Build()
}

// GetSerialNumber asks feature 0x0003 for the device serial number string.
func (b Builder) GetSerialNumber(deviceIndex, fwFeatureIndex byte) (Frame, error) {
	return b.Create(deviceIndex).
		WithFeatureIndex(fwFeatureIndex).
		WithFunction(fwInfoFnSerial).
		Long().
		Build()
}

// GetBatteryStatus queries the main reading of a battery feature
// (0x1000, 0x1001, or 0x1004).
func (b Builder) GetBatteryStatus(deviceIndex, batteryFeatureIndex byte) (Frame, error) {
	return b.Create(deviceIndex).
		WithFeatureIndex(batteryFeatureIndex).
		WithFunction(batteryFnStatus).
		Build()
}

// GetBatteryCapability issues the 0x1004-only extended capability probe
// (function 0x01).
func (b Builder) GetBatteryCapability(deviceIndex, batteryFeatureIndex byte) (Frame, error) {
	return b.Create(deviceIndex).
		WithFeatureIndex(batteryFeatureIndex).
		WithFunction(batteryFnCapInfo).
		Build()
}
