package hidpp

import (
	"fmt"
	"strings"
)

// Dump renders a single frame as a fixed-width hex line, one field per
// column: prefix, device index, feature index, function/software byte, then
// the remaining parameter bytes space-separated. Used by codec golden tests
// to produce diffable, human-readable frame traces instead of raw bytes.
func (f Frame) Dump() string {
	if f.IsEmpty() {
		return "(empty)"
	}
	var params []string
	for _, b := range f.buf[4:] {
		params = append(params, fmt.Sprintf("%02x", b))
	}
	return fmt.Sprintf("%02x %02x %02x %02x | %s",
		f.Prefix(), f.DeviceIndex(), f.FeatureIndex(), f.byte(3), strings.Join(params, " "))
}

// DumpFrames renders a sequence of frames, one per line, in capture order.
func DumpFrames(frames []Frame) string {
	lines := make([]string, len(frames))
	for i, f := range frames {
		lines[i] = f.Dump()
	}
	return strings.Join(lines, "\n")
}
