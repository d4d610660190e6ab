package hidpp

// HID++ 1.0 register opcodes. Requests and their acknowledgements share the
// same byte-2 opcode; 1.0 has no software-id convention, so byte 3 carries a
// plain register id rather than a function/software-id pair.
const (
	opSetRegisterShort = 0x80
	opGetRegisterShort = 0x81

	// registerDeviceConnection reports receiver device count / connection
	// events and carries the notification-enable bits this daemon flips on.
	registerDeviceConnection = 0x02
	// registerHIDPPNotifications enables/disables HID++ event reporting
	// (battery, connection) for a device.
	registerHIDPPNotifications = 0x00
)

// Bits within registerHIDPPNotifications's parameter byte.
const (
	notifyBatteryStatus = 0x10
	notifyAllReports     = 0xFF
)

// QueryDeviceCount builds an HID++ 1.0 get-register request for the
// receiver's connected-device count. A response with
// frame.FeatureIndex()==opGetRegisterShort and frame.FunctionID()<<4|frame.SoftwareID()==registerDeviceConnection
// (i.e. raw byte 3 == registerDeviceConnection) indicates receiver mode.
func QueryDeviceCount() (Frame, error) {
	buf := [ShortSize]byte{PrefixHIDPP, BroadcastAddress, opGetRegisterShort, registerDeviceConnection}
	return NewFrame(buf[:])
}

// ForceDeviceAnnounce asks the receiver to re-emit an arrival announcement
// for every currently connected slot.
func ForceDeviceAnnounce() (Frame, error) {
	buf := [ShortSize]byte{PrefixHIDPP, BroadcastAddress, opSetRegisterShort, registerDeviceConnection, registerDeviceConnection}
	return NewFrame(buf[:])
}

// EnableBatteryReports enables HID++ battery-status notifications for one
// slot (or BroadcastAddress for a direct device).
func EnableBatteryReports(deviceIndex byte) (Frame, error) {
	buf := [ShortSize]byte{PrefixHIDPP, deviceIndex, opSetRegisterShort, registerHIDPPNotifications, notifyBatteryStatus}
	return NewFrame(buf[:])
}

// EnableAllReports enables every HID++ notification class for a device
// (typically the receiver broadcast address 0xFF during receiver bring-up).
func EnableAllReports(deviceIndex byte) (Frame, error) {
	buf := [ShortSize]byte{PrefixHIDPP, deviceIndex, opSetRegisterShort, registerHIDPPNotifications, notifyAllReports}
	return NewFrame(buf[:])
}

// IsDeviceCountResponse reports whether f is a valid response to
// QueryDeviceCount: frame[2]==0x81 && frame[3]==0x02, per spec §4.6 step 2.
func IsDeviceCountResponse(f Frame) bool {
	return !f.IsEmpty() && f.FeatureIndex() == opGetRegisterShort && rawByte3(f) == registerDeviceConnection
}

func rawByte3(f Frame) byte {
	return (f.FunctionID() << 4) | f.SoftwareID()
}

// DeviceCount decodes the device count from a QueryDeviceCount response.
func DeviceCount(f Frame) int { return int(f.Param(0)) }
