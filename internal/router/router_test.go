package router

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/srg/hidppd/internal/hidpp"
	"github.com/srg/hidppd/internal/respqueue"
)

type fakeAnnouncement struct {
	slot  byte
	isOff bool
	calls int
}

func (f *fakeAnnouncement) HandleAnnouncement(slotIndex byte, isOff bool) {
	f.slot = slotIndex
	f.isOff = isOff
	f.calls++
}

type fakeSlots struct {
	known   map[byte]bool
	offered []hidpp.Frame
}

func (f *fakeSlots) OfferEvent(slotIndex byte, frame hidpp.Frame) bool {
	f.offered = append(f.offered, frame)
	return f.known[slotIndex]
}

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func announcementFrame(slot byte, isOff bool) hidpp.Frame {
	b := []byte{0x10, slot, 0x41, 0x00, 0x00, 0x00, 0x00}
	if isOff {
		b[4] = 0x40
	}
	f, err := hidpp.NewFrame(b)
	if err != nil {
		panic(err)
	}
	return f
}

func plainFrame(slot byte) hidpp.Frame {
	f, err := hidpp.NewFrame([]byte{0x10, slot, 0x02, 0x0A, 0, 0, 0})
	if err != nil {
		panic(err)
	}
	return f
}

func TestRouteAnnouncementTakesPriority(t *testing.T) {
	ann := &fakeAnnouncement{}
	slots := &fakeSlots{known: map[byte]bool{1: true}}
	q := respqueue.New()
	r := New(newTestLogger(), ann, slots, q)

	r.Route(announcementFrame(1, true))

	require.Equal(t, 1, ann.calls)
	require.Equal(t, byte(1), ann.slot)
	require.True(t, ann.isOff)
	require.Empty(t, slots.offered, "announcement must not reach the slot offerer")
	require.True(t, q.IsEmpty())
}

func TestRouteHandledSlotEventDoesNotReachQueue(t *testing.T) {
	slots := &fakeSlots{known: map[byte]bool{2: true}}
	q := respqueue.New()
	r := New(newTestLogger(), nil, slots, q)

	r.Route(plainFrame(2))

	require.Len(t, slots.offered, 1)
	require.True(t, q.IsEmpty())
}

func TestRouteUnhandledFallsThroughToResponseQueue(t *testing.T) {
	slots := &fakeSlots{known: map[byte]bool{}}
	q := respqueue.New()
	r := New(newTestLogger(), nil, slots, q)

	r.Route(plainFrame(3))

	f, err := q.TryDequeue()
	require.NoError(t, err)
	require.Equal(t, byte(3), f.DeviceIndex())
}

func TestRouteWithNoSlotOffererEnqueues(t *testing.T) {
	q := respqueue.New()
	r := New(newTestLogger(), nil, nil, q)

	r.Route(plainFrame(0xFF))

	f, err := q.TryDequeue()
	require.NoError(t, err)
	require.Equal(t, byte(0xFF), f.DeviceIndex())
}

func TestRouteIgnoresEmptyFrame(t *testing.T) {
	q := respqueue.New()
	r := New(newTestLogger(), nil, nil, q)
	r.Route(hidpp.Empty)
	require.True(t, q.IsEmpty())
}
