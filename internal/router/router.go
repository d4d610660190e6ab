// Package router implements the message router (spec component C4): it
// classifies every inbound frame in strict priority order and dispatches it
// to the announcement handler, a device slot's event handler, or the
// correlator's response queue.
package router

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/hidppd/internal/hidpp"
	"github.com/srg/hidppd/internal/respqueue"
)

// SlotEventHandler offers a frame to whichever slot owns slotIndex. It
// returns true if the slot recognized and fully handled the frame (a
// battery event or other slot-specific unsolicited event); false means the
// router should keep looking for a home for the frame.
type SlotEventHandler interface {
	OfferEvent(slotIndex byte, frame hidpp.Frame) (handled bool)
}

// AnnouncementHandler receives receiver-emitted device arrival/departure
// notices (frame.FeatureIndex() == 0x41).
type AnnouncementHandler interface {
	HandleAnnouncement(slotIndex byte, isOff bool)
}

// Router implements the three-step classification in spec §4.4.
type Router struct {
	logger       *logrus.Logger
	announcement AnnouncementHandler
	slots        SlotEventHandler
	responses    *respqueue.Queue
}

// New builds a Router. announcement and slots may be nil only in tests that
// don't exercise those paths; responses must not be nil.
func New(logger *logrus.Logger, announcement AnnouncementHandler, slots SlotEventHandler, responses *respqueue.Queue) *Router {
	return &Router{
		logger:       logger,
		announcement: announcement,
		slots:        slots,
		responses:    responses,
	}
}

// Route classifies frame and dispatches it. Called from a reader goroutine;
// must not block beyond the bounded respqueue.Enqueue call.
func (r *Router) Route(frame hidpp.Frame) {
	if frame.IsEmpty() {
		return
	}

	if frame.IsAnnouncement() {
		if r.announcement != nil {
			r.announcement.HandleAnnouncement(frame.AnnouncementSlot(), frame.AnnouncementIsOff())
		}
		return
	}

	slotIndex := frame.DeviceIndex()
	if r.slots != nil && r.slots.OfferEvent(slotIndex, frame) {
		return
	}

	r.responses.Enqueue(frame)
}
