// Package battery implements the three battery capability variants of
// HID++ feature set 0x1000/0x1001/0x1004 (spec component C8): selection,
// query-response decoding, and unsolicited-event decoding into a single
// Reading shape the lifecycle manager publishes through.
package battery

import (
	"math/bits"
	"time"

	"github.com/srg/hidppd/internal/hidpp"
)

// Status is the normalized charge state of a Reading.
type Status int

const (
	StatusDischarging Status = iota
	StatusCharging
	StatusFull
	StatusNotCharging
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusDischarging:
		return "Discharging"
	case StatusCharging:
		return "Charging"
	case StatusFull:
		return "Full"
	case StatusNotCharging:
		return "NotCharging"
	default:
		return "Unknown"
	}
}

// Reading is the decoded shape every capability variant produces, whether
// from a polled query or an unsolicited event.
type Reading struct {
	Percentage int // 0..100, or -1 if unknown
	Status     Status
	Millivolts int // non-negative, or -1 if not provided
}

// UnknownReading is the sentinel for "no usable data".
var UnknownReading = Reading{Percentage: -1, Status: StatusUnknown, Millivolts: -1}

// Capability decodes one of the three battery feature variants.
type Capability interface {
	// FeatureID is the HID++ 2.0 feature this capability queries/listens to.
	FeatureID() uint16
	// QueryTimeout bounds a query's sendAndWait call (spec §4.8: 0x1004 uses
	// an extended timeout).
	QueryTimeout() time.Duration
	// DecodeQuery decodes a response to GetBatteryStatus. ok is false if the
	// frame is not a usable reading (e.g. corrupt level flags).
	DecodeQuery(frame hidpp.Frame) (reading Reading, ok bool)
	// DecodeEvent decodes an unsolicited broadcast on this feature. Same
	// contract as DecodeQuery.
	DecodeEvent(frame hidpp.Frame) (reading Reading, ok bool)
	// RequiresCapabilityProbe reports whether selection must follow up with
	// GetBatteryCapability (spec §4.8: 0x1004 only).
	RequiresCapabilityProbe() bool
}

const (
	defaultQueryTimeout  = 1 * time.Second
	extendedQueryTimeout = 5 * time.Second
)

// decodeUnifiedStatus implements the Unified status table (spec §4.8):
// 0→Discharging, 1|2|4→Charging (4 is "charging-error", coalesced),
// 3→Full, anything else→NotCharging.
func decodeUnifiedStatus(b byte) Status {
	switch b {
	case 0:
		return StatusDischarging
	case 1, 2, 4:
		return StatusCharging
	case 3:
		return StatusFull
	default:
		return StatusNotCharging
	}
}

// decodeVoltageStatus implements the Voltage flags table (spec §4.8): bit 7
// set selects a charging sub-state from the low 3 bits; bit 7 clear means
// Discharging.
func decodeVoltageStatus(flags byte) Status {
	if flags&0x80 == 0 {
		return StatusDischarging
	}
	switch flags & 0x07 {
	case 0:
		return StatusCharging
	case 1:
		return StatusFull
	case 2:
		return StatusNotCharging
	default:
		return StatusUnknown
	}
}

// IsValidLevelFlags reports whether the low nibble of b has exactly one bit
// set, the discrete Critical/Low/Good/Full encoding (spec §4.8). 0x00 (no
// bit) and 0x0F (all four bits) are the corrupt values observed on device
// wake and must be discarded by callers.
func IsValidLevelFlags(b byte) bool {
	return bits.OnesCount8(b&0x0F) == 1
}

// UnifiedLevel implements feature 0x1000 (spec §4.8): percentage in param 0,
// status in param 2, no voltage. The level-flags byte (param 1) is
// validated to reject corrupt wake-time readings.
type UnifiedLevel struct{}

func (UnifiedLevel) FeatureID() uint16             { return hidpp.FeatureUnifiedBattery }
func (UnifiedLevel) QueryTimeout() time.Duration   { return defaultQueryTimeout }
func (UnifiedLevel) RequiresCapabilityProbe() bool { return false }

func (UnifiedLevel) DecodeQuery(frame hidpp.Frame) (Reading, bool) {
	return decodeUnified(frame)
}

func (UnifiedLevel) DecodeEvent(frame hidpp.Frame) (Reading, bool) {
	return decodeUnified(frame)
}

func decodeUnified(frame hidpp.Frame) (Reading, bool) {
	levelFlags := frame.Param(1)
	if !IsValidLevelFlags(levelFlags) {
		return Reading{}, false
	}
	return Reading{
		Percentage: int(frame.Param(0)),
		Status:     decodeUnifiedStatus(frame.Param(2)),
		Millivolts: -1,
	}, true
}

// Voltage implements feature 0x1001 (spec §4.8): millivolts from params 0-1,
// percentage from a voltage curve lookup, status from the flags byte.
type Voltage struct {
	// Curve maps a minimum millivolt threshold to a percentage. Must be
	// sorted ascending by Millivolts and cover down to the cell's empty
	// voltage; the last entry whose threshold the reading meets or exceeds
	// wins. A 3.7V Li-Po discharge curve is supplied by DefaultVoltageCurve.
	Curve []VoltagePoint
}

// VoltagePoint is one step of a monotonically non-decreasing voltage→
// percentage curve.
type VoltagePoint struct {
	Millivolts int
	Percentage int
}

// DefaultVoltageCurve is a conservative single-cell 3.7V Li-Po discharge
// curve, coarse enough to tolerate the +/-10mV jitter typical of these
// reports.
var DefaultVoltageCurve = []VoltagePoint{
	{Millivolts: 3300, Percentage: 0},
	{Millivolts: 3500, Percentage: 10},
	{Millivolts: 3600, Percentage: 20},
	{Millivolts: 3650, Percentage: 40},
	{Millivolts: 3700, Percentage: 60},
	{Millivolts: 3750, Percentage: 75},
	{Millivolts: 3800, Percentage: 85},
	{Millivolts: 3900, Percentage: 95},
	{Millivolts: 4000, Percentage: 100},
}

func (Voltage) FeatureID() uint16             { return hidpp.FeatureBatteryVoltage }
func (Voltage) QueryTimeout() time.Duration   { return defaultQueryTimeout }
func (Voltage) RequiresCapabilityProbe() bool { return false }

func (v Voltage) DecodeQuery(frame hidpp.Frame) (Reading, bool) {
	return v.decode(frame)
}

func (v Voltage) DecodeEvent(frame hidpp.Frame) (Reading, bool) {
	return v.decode(frame)
}

func (v Voltage) decode(frame hidpp.Frame) (Reading, bool) {
	mv := int(frame.Param16(0))
	curve := v.Curve
	if curve == nil {
		curve = DefaultVoltageCurve
	}
	return Reading{
		Percentage: percentageForVoltage(curve, mv),
		Status:     decodeVoltageStatus(frame.Param(2)),
		Millivolts: mv,
	}, true
}

func percentageForVoltage(curve []VoltagePoint, mv int) int {
	if len(curve) == 0 {
		return -1
	}
	pct := curve[0].Percentage
	for _, point := range curve {
		if mv < point.Millivolts {
			break
		}
		pct = point.Percentage
	}
	return pct
}

// UnifiedExt implements feature 0x1004 (spec §4.8): same basic decoding as
// UnifiedLevel, but queried with an extended 5s timeout and an additional
// capability probe (GetBatteryCapability, function 1) during selection.
type UnifiedExt struct{}

func (UnifiedExt) FeatureID() uint16             { return hidpp.FeatureUnifiedExt }
func (UnifiedExt) QueryTimeout() time.Duration   { return extendedQueryTimeout }
func (UnifiedExt) RequiresCapabilityProbe() bool { return true }

func (UnifiedExt) DecodeQuery(frame hidpp.Frame) (Reading, bool) {
	return decodeUnified(frame)
}

func (UnifiedExt) DecodeEvent(frame hidpp.Frame) (Reading, bool) {
	return decodeUnified(frame)
}

// Select implements the fixed priority of spec §4.7 step 8: 0x1000 beats
// 0x1001 beats 0x1004. featureMap is the device's resolved featureId→
// featureIndex table. ok is false if none of the three are present.
func Select(featureMap map[uint16]byte) (capability Capability, featureIndex byte, ok bool) {
	if idx, present := featureMap[hidpp.FeatureUnifiedBattery]; present {
		return UnifiedLevel{}, idx, true
	}
	if idx, present := featureMap[hidpp.FeatureBatteryVoltage]; present {
		return Voltage{}, idx, true
	}
	if idx, present := featureMap[hidpp.FeatureUnifiedExt]; present {
		return UnifiedExt{}, idx, true
	}
	return nil, 0, false
}
