package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/srg/hidppd/internal/backoff"
	"github.com/srg/hidppd/internal/battery"
	"github.com/srg/hidppd/internal/correlator"
	"github.com/srg/hidppd/internal/hidpp"
	"github.com/srg/hidppd/internal/respqueue"
	"github.com/srg/hidppd/pkg/sink"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func fastBackoffProfiles() map[string]backoff.Profile {
	out := make(map[string]backoff.Profile)
	for name, p := range backoff.Defaults() {
		p.InitialDelay = time.Millisecond
		p.MaxDelay = 2 * time.Millisecond
		p.InitialTimeout = 20 * time.Millisecond
		p.MaxTimeout = 40 * time.Millisecond
		p.MaxAttempts = 2
		out[name] = backoff.New(p)
	}
	return out
}

// silentWriter never produces a response; every correlator call it backs
// times out. Good enough for the tests in this file, which exercise state
// transitions and event routing directly rather than the wire exchange
// (that's covered by internal/correlator's own tests).
type silentWriter struct{}

func (silentWriter) Write(hidpp.Frame) error { return nil }

type fakeSink struct {
	inits  []sink.InitMessage
	events []sink.UpdateMessage
}

func (s *fakeSink) Init(m sink.InitMessage)     { s.inits = append(s.inits, m) }
func (s *fakeSink) Update(m sink.UpdateMessage) { s.events = append(s.events, m) }
func (s *fakeSink) Remove(sink.RemoveMessage)   {}

func newTestManager(t *testing.T) (*Manager, *fakeSink) {
	t.Helper()
	q := respqueue.New()
	corr := correlator.New(silentWriter{}, q, testLogger())
	builder, err := hidpp.NewBuilder(0x0A)
	require.NoError(t, err)

	s := &fakeSink{}
	cfg := Config{
		SoftwareID:               0x0A,
		PollInterval:             time.Hour,
		BatteryEventDelayAfterOn: 0,
		KeepPollingWithEvents:    true,
		Backoff:                  fastBackoffProfiles(),
	}
	return New(cfg, builder, corr, s, testLogger()), s
}

// batteryEventFrame builds an unsolicited (broadcast) battery status frame:
// param(0)=percentage, param(1)=levelFlags, param(2)=status (see
// internal/battery's unified decode table).
func batteryEventFrame(t *testing.T, slot, featureIndex, percentage, levelFlags byte) hidpp.Frame {
	t.Helper()
	f, err := hidpp.NewFrame([]byte{0x10, slot, featureIndex, 0x00, percentage, levelFlags, 0x00})
	require.NoError(t, err)
	return f
}

func TestOfferEventIgnoresUnknownSlot(t *testing.T) {
	m, _ := newTestManager(t)
	handled := m.OfferEvent(9, batteryEventFrame(t, 9, 0x10, 50, 0x04))
	require.False(t, handled)
}

func TestOfferEventPassesNonBroadcastThrough(t *testing.T) {
	m, _ := newTestManager(t)
	slot := newSlot(1)
	m.slots.Set(1, slot)

	f, err := hidpp.NewFrame([]byte{0x10, 1, 0x05, 0x0A, 0, 0, 0}) // softwareId=0x0A: not a broadcast
	require.NoError(t, err)

	handled := m.OfferEvent(1, f)
	require.False(t, handled, "responses to in-flight requests must never be claimed here")
}

func TestOfferEventUnsolicitedNonBatteryEventIsConsumed(t *testing.T) {
	m, _ := newTestManager(t)
	slot := newSlot(1)
	m.slots.Set(1, slot)

	f, err := hidpp.NewFrame([]byte{0x10, 1, 0x07, 0x00, 0, 0, 0}) // broadcast, unrelated feature
	require.NoError(t, err)

	handled := m.OfferEvent(1, f)
	require.True(t, handled)
}

func TestBatteryEventThrottleSuppressesRapidEvents(t *testing.T) {
	m, sk := newTestManager(t)
	slot := newSlot(1)
	slot.batteryCapability = battery.UnifiedLevel{}
	slot.batteryFeatureIndex = 0x10
	slot.state = StateOnline
	m.slots.Set(1, slot)

	m.OfferEvent(1, batteryEventFrame(t, 1, 0x10, 50, 0x04))
	m.OfferEvent(1, batteryEventFrame(t, 1, 0x10, 51, 0x04)) // within 500ms: throttled

	require.Len(t, sk.events, 1)
}

func TestBatteryEventPostOnSuppressionWindow(t *testing.T) {
	m, sk := newTestManager(t)
	m.cfg.BatteryEventDelayAfterOn = time.Hour

	slot := newSlot(1)
	slot.batteryCapability = battery.UnifiedLevel{}
	slot.batteryFeatureIndex = 0x10
	slot.state = StateOnline
	slot.deviceOnTime = time.Now()
	m.slots.Set(1, slot)

	handled := m.OfferEvent(1, batteryEventFrame(t, 1, 0x10, 50, 0x04))
	require.True(t, handled, "event inside the suppression window is handled, not unhandled")
	require.Empty(t, sk.events, "publication must be suppressed during the post-ON window")
}

func TestBatteryEventRejectsCorruptReading(t *testing.T) {
	m, sk := newTestManager(t)
	slot := newSlot(1)
	slot.batteryCapability = battery.UnifiedLevel{}
	slot.batteryFeatureIndex = 0x10
	slot.state = StateOnline
	m.slots.Set(1, slot)

	handled := m.OfferEvent(1, batteryEventFrame(t, 1, 0x10, 50, 0x00)) // levelFlags=0x00: invalid
	require.False(t, handled, "a malformed event falls through to the response queue")
	require.Empty(t, sk.events)
}

func TestBatteryEventCancelsPollingWhenKeepPollingDisabled(t *testing.T) {
	m, _ := newTestManager(t)
	m.cfg.KeepPollingWithEvents = false

	slot := newSlot(1)
	slot.batteryCapability = battery.UnifiedLevel{}
	slot.batteryFeatureIndex = 0x10
	slot.state = StateOnline

	var canceled bool
	slot.cancelPoll = func() { canceled = true }
	m.slots.Set(1, slot)

	m.OfferEvent(1, batteryEventFrame(t, 1, 0x10, 50, 0x04))

	require.True(t, canceled)
	require.Nil(t, slot.cancelPoll)
}

func TestBatteryEventKeepsPollingWhenEnabled(t *testing.T) {
	m, _ := newTestManager(t)
	m.cfg.KeepPollingWithEvents = true

	slot := newSlot(1)
	slot.batteryCapability = battery.UnifiedLevel{}
	slot.batteryFeatureIndex = 0x10
	slot.state = StateOnline

	var canceled bool
	slot.cancelPoll = func() { canceled = true }
	m.slots.Set(1, slot)

	m.OfferEvent(1, batteryEventFrame(t, 1, 0x10, 50, 0x04))

	require.False(t, canceled)
	require.NotNil(t, slot.cancelPoll)
}

func TestOnDeviceOffCancelsPollingAndTransitionsOffline(t *testing.T) {
	m, sk := newTestManager(t)
	slot := newSlot(1)
	slot.state = StateOnline
	var canceled bool
	slot.cancelPoll = func() { canceled = true }
	m.slots.Set(1, slot)

	m.OnDeviceOff(1)

	require.True(t, canceled)
	require.Equal(t, StateOffline, slot.State())
	require.Len(t, sk.events, 1, "OFF must force an offline reading through the publisher")
	require.Equal(t, -1, sk.events[0].BatteryPercentage)
}

func TestOnDeviceOffUnknownSlotIsNoop(t *testing.T) {
	m, _ := newTestManager(t)
	require.NotPanics(t, func() { m.OnDeviceOff(5) })
}

func TestOnDeviceOffOnDisposedSlotIsNoop(t *testing.T) {
	m, _ := newTestManager(t)
	slot := newSlot(1)
	slot.state = StateDisposed
	m.slots.Set(1, slot)

	m.OnDeviceOff(1)
	require.Equal(t, StateDisposed, slot.State())
}

func TestOnDeviceOnIgnoresAlreadyOnlineSlot(t *testing.T) {
	m, _ := newTestManager(t)
	slot := newSlot(1)
	slot.state = StateOnline
	m.slots.Set(1, slot)

	before := slot.deviceOnTime
	m.OnDeviceOn(context.Background(), 1)
	require.Equal(t, before, slot.deviceOnTime, "an already-Online slot must not be re-armed for init")
}

func TestOnDeviceOnIgnoresDisposedSlot(t *testing.T) {
	m, _ := newTestManager(t)
	slot := newSlot(1)
	slot.state = StateDisposed
	m.slots.Set(1, slot)

	m.OnDeviceOn(context.Background(), 1)
	require.Equal(t, StateDisposed, slot.State())
}

func TestDisposeTransitionsEveryKnownSlot(t *testing.T) {
	m, _ := newTestManager(t)
	s1, s2 := newSlot(1), newSlot(2)
	s1.state, s2.state = StateOnline, StateOnline
	var canceled1, canceled2 bool
	s1.cancelPoll = func() { canceled1 = true }
	s2.cancelPoll = func() { canceled2 = true }
	m.slots.Set(1, s1)
	m.slots.Set(2, s2)

	m.Dispose()

	require.True(t, canceled1)
	require.True(t, canceled2)
	require.Equal(t, StateDisposed, s1.State())
	require.Equal(t, StateDisposed, s2.State())
}

func TestSnapshotReflectsAllSlots(t *testing.T) {
	m, _ := newTestManager(t)
	s1 := newSlot(1)
	s1.identifier = "dev-1"
	s1.state = StateOnline
	m.slots.Set(1, s1)

	snaps := m.Snapshot()
	require.Len(t, snaps, 1)
	require.Equal(t, "dev-1", snaps[0].Identifier)
	require.Equal(t, StateOnline, snaps[0].State)
}

func TestHexHashIsDeterministicAndDistinguishesInputs(t *testing.T) {
	a := hexHash("Logitech Mouse")
	b := hexHash("Logitech Mouse")
	c := hexHash("Other Device")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 16)
}

func TestDecodeSerialStopsAtNulAndTrims(t *testing.T) {
	f, err := hidpp.NewFrame([]byte{
		0x10, 1, 0x03, 0x00,
		' ', 'A', 'B', 'C', ' ', 0x00, 'X', 'Y',
		0, 0, 0, 0, 0, 0, 0, 0,
	})
	require.NoError(t, err)
	require.Equal(t, "ABC", decodeSerial(f))
}
