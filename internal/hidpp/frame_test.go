package hidpp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilderRoundTrip(t *testing.T) {
	cases := []struct {
		name         string
		deviceIndex  byte
		featureIndex byte
		function     byte
		softwareID   byte
		params       []byte
	}{
		{"zero params", 1, 0x00, 0, 1, nil},
		{"max nibble", 3, 0x05, 0x0F, 0x0A, []byte{1, 2, 3}},
		{"slot 6", 6, 0x1000 & 0xFF, 4, 9, []byte{0xAA, 0xBB, 0xCC}},
	}

	b, err := NewBuilder(0x0A)
	require.NoError(t, err)

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f, err := b.Create(c.deviceIndex).
				WithFeatureIndex(c.featureIndex).
				WithFunction(c.function, c.softwareID).
				WithParams(c.params...).
				Build()
			require.NoError(t, err)

			require.Equal(t, c.deviceIndex, f.DeviceIndex())
			require.Equal(t, c.featureIndex, f.FeatureIndex())
			require.Equal(t, c.function, f.FunctionID())
			require.Equal(t, c.softwareID, f.SoftwareID())
			for i, p := range c.params {
				require.Equal(t, p, f.Param(i))
			}
		})
	}
}

func TestBuilderRejectsOversizedFunctionNibble(t *testing.T) {
	b, err := NewBuilder(1)
	require.NoError(t, err)

	_, err = b.Create(1).WithFeatureIndex(0).WithFunction(16).Build()
	require.Error(t, err)
}

func TestNewBuilderRejectsReservedSoftwareID(t *testing.T) {
	_, err := NewBuilder(0)
	require.Error(t, err)

	_, err = NewBuilder(0x10)
	require.Error(t, err)
}

func TestGetFeatureIndexEndianness(t *testing.T) {
	b, err := NewBuilder(0x0A)
	require.NoError(t, err)

	f, err := b.GetFeatureIndex(1, FeatureUnifiedExt)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x04, 0x10}, f.Bytes()[4:7])
}

func TestEnumerateFeatureResponseBigEndianDecode(t *testing.T) {
	// 10 01 FE 10 10 04 00 -- response to EnumerateFeature at the FeatureSet
	// index 0xFE, carrying feature id 0x1004 big-endian in param0/param1.
	raw := []byte{0x10, 0x01, 0xFE, 0x10, 0x10, 0x04, 0x00}
	f, err := NewFrame(raw)
	require.NoError(t, err)
	require.Equal(t, uint16(0x1004), f.Param16(0))
}

func TestIsBatteryEvent(t *testing.T) {
	// Unsolicited broadcast: functionId=0, softwareId=0.
	raw := []byte{0x10, 0x01, 0x05, 0x00, 0x55, 0x02, 0x00}
	f, err := NewFrame(raw)
	require.NoError(t, err)
	require.True(t, f.IsBatteryEvent(0x05))
	require.False(t, f.IsBatteryEvent(0x06))
}

func TestAnnouncementOnOff(t *testing.T) {
	on, err := NewFrame([]byte{0x10, 0x02, 0x41, 0x00, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	require.True(t, on.IsAnnouncement())
	require.False(t, on.AnnouncementIsOff())

	off, err := NewFrame([]byte{0x10, 0x02, 0x41, 0x00, 0x40, 0x00, 0x00})
	require.NoError(t, err)
	require.True(t, off.AnnouncementIsOff())
}

func TestIsError(t *testing.T) {
	f, err := NewFrame([]byte{0x10, 0x01, 0x8F, 0x00, 0x01, 0x00, 0x00})
	require.NoError(t, err)
	require.True(t, f.IsError())
	require.Equal(t, byte(1), f.ErrorCode())
}

func TestNewFrameRejectsBadSize(t *testing.T) {
	_, err := NewFrame([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestEmptyFrame(t *testing.T) {
	require.True(t, Empty.IsEmpty())
	require.Equal(t, 0, Empty.Size())
}

func TestFrameMatches(t *testing.T) {
	b, err := NewBuilder(0x0A)
	require.NoError(t, err)

	ours, err := b.Create(1).WithFeatureIndex(0x05).WithFunction(0, 0x0A).Build()
	require.NoError(t, err)
	require.True(t, ours.Matches(0x05, 0x0A))
	require.False(t, ours.Matches(0x06, 0x0A), "different feature index")

	otherSoftware, err := b.Create(1).WithFeatureIndex(0x05).WithFunction(0, 0x03).Build()
	require.NoError(t, err)
	require.False(t, otherSoftware.Matches(0x05, 0x0A), "response addressed to another process's software id")
}
