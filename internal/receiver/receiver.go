// Package receiver implements the receiver coordinator (spec component
// C6): detecting receiver-mode vs. direct-device mode on a freshly bound
// transport pair, bringing the receiver up, and dispatching announcement
// events to the device lifecycle manager.
package receiver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/hidppd/internal/backoff"
	"github.com/srg/hidppd/internal/correlator"
	"github.com/srg/hidppd/internal/hidpp"
)

// stabilizationDelay is how long the coordinator waits after starting the
// two reader threads before it probes the endpoint (spec §4.6 step 1).
const stabilizationDelay = 500 * time.Millisecond

// deviceCountTimeout bounds the mode-detection probe (spec §4.6 step 2).
const deviceCountTimeout = 500 * time.Millisecond

// announcementWindow is how long the coordinator waits for receiver
// announcements to arrive on their own before falling back to per-slot
// ping probing (spec §4.6 step 3).
const announcementWindow = 2 * time.Second

// LifecycleManager is the subset of lifecycle.Manager the coordinator
// drives; kept as a small interface so this package doesn't import
// internal/lifecycle and create a cycle.
type LifecycleManager interface {
	OnDeviceOn(ctx context.Context, slotIndex byte)
	OnDeviceOff(slotIndex byte)
}

// Coordinator implements router.AnnouncementHandler and owns receiver
// bring-up.
type Coordinator struct {
	builder    hidpp.Builder
	correlator *correlator.Correlator
	lifecycle  LifecycleManager
	logger     *logrus.Logger
	profiles   map[string]backoff.Profile

	knownSlotsMu sync.Mutex
	knownSlots   map[byte]bool
}

// New builds a Coordinator. profiles should contain at least the
// "receiver_init" and "init" entries from backoff.Defaults (or overrides).
func New(builder hidpp.Builder, corr *correlator.Correlator, lm LifecycleManager, profiles map[string]backoff.Profile, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		builder:    builder,
		correlator: corr,
		lifecycle:  lm,
		logger:     logger,
		profiles:   profiles,
		knownSlots: make(map[byte]bool),
	}
}

// HandleAnnouncement implements router.AnnouncementHandler: dispatches a
// receiver-emitted ON/OFF event to the lifecycle manager (spec §4.6 last
// paragraph — phantom OFFs and duplicate ONs are the lifecycle manager's
// concern, not this coordinator's).
func (c *Coordinator) HandleAnnouncement(slotIndex byte, isOff bool) {
	c.knownSlotsMu.Lock()
	c.knownSlots[slotIndex] = true
	c.knownSlotsMu.Unlock()
	if isOff {
		c.lifecycle.OnDeviceOff(slotIndex)
		return
	}
	c.lifecycle.OnDeviceOn(context.Background(), slotIndex)
}

// Bringup runs the full spec §4.6 bring-up sequence for a freshly bound
// transport pair: it assumes the reader threads are already started and
// only waits out the stabilization delay before probing.
func (c *Coordinator) Bringup(ctx context.Context) error {
	select {
	case <-time.After(stabilizationDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	receiverMode, deviceCount, err := c.detectMode(ctx)
	if err != nil {
		return fmt.Errorf("receiver: mode detection: %w", err)
	}

	if !receiverMode {
		c.logger.Info("direct-device mode detected")
		c.lifecycle.OnDeviceOn(ctx, hidpp.BroadcastAddress)
		return nil
	}

	c.logger.WithField("deviceCount", deviceCount).Info("receiver mode detected")
	return c.bringUpReceiver(ctx, deviceCount)
}

// detectMode issues QueryDeviceCount and classifies the response per spec
// §4.6 step 2.
func (c *Coordinator) detectMode(ctx context.Context) (receiverMode bool, deviceCount int, err error) {
	frame, err := hidpp.QueryDeviceCount()
	if err != nil {
		return false, 0, err
	}
	resp, err := c.correlator.SendAndWait(ctx, frame, hidpp.IsDeviceCountResponse, nil, deviceCountTimeout)
	if err != nil {
		return false, 0, err
	}
	if resp.IsEmpty() {
		return false, 0, nil
	}
	return true, hidpp.DeviceCount(resp), nil
}

// bringUpReceiver implements spec §4.6 step 3.
func (c *Coordinator) bringUpReceiver(ctx context.Context, deviceCount int) error {
	enableFrame, err := hidpp.EnableAllReports(hidpp.BroadcastAddress)
	if err == nil {
		profile := c.profiles[backoff.ReceiverInit]
		// The matcher accepts nothing, so every attempt of the profile is
		// sent and waited out: EnableAllReports's ack (if any) carries no
		// information this coordinator needs, and failure is non-fatal.
		_, _ = c.correlator.SendAndWaitBackoff(ctx, enableFrame, func(hidpp.Frame) bool { return false }, nil, profile)
	} else {
		c.logger.WithError(err).Warn("failed to build EnableAllReports request")
	}

	if deviceCount > 0 {
		if announceFrame, aerr := hidpp.ForceDeviceAnnounce(); aerr == nil {
			_, _ = c.correlator.SendAndWait(ctx, announceFrame, func(hidpp.Frame) bool { return false }, nil, 200*time.Millisecond)
		}
	}

	select {
	case <-time.After(announcementWindow):
	case <-ctx.Done():
		return ctx.Err()
	}

	c.knownSlotsMu.Lock()
	observed := len(c.knownSlots)
	c.knownSlotsMu.Unlock()
	if observed > 0 {
		return nil // at least one announcement arrived; lifecycle manager is already driving it
	}

	c.logger.Info("no announcements observed, falling back to per-slot ping probing")
	return c.probeSlots(ctx)
}

// probeSlots pings slots 1..6 directly and submits any that answer for
// initialization (spec §4.6 step 3, final bullet).
func (c *Coordinator) probeSlots(ctx context.Context) error {
	profile := c.profiles[backoff.Init]
	for slot := byte(1); slot <= 6; slot++ {
		frame, err := c.builder.Ping(slot, 0x55)
		if err != nil {
			return err
		}
		matcher := func(f hidpp.Frame) bool { return !f.IsBroadcast() && f.Matches(0x00, c.builder.SoftwareID()) }
		resp, err := c.correlator.SendAndWait(ctx, frame, matcher, func(f hidpp.Frame) bool { return f.IsError() }, profile.InitialTimeout)
		if err != nil {
			return err
		}
		if !resp.IsEmpty() {
			c.lifecycle.OnDeviceOn(ctx, slot)
		}
	}
	return nil
}
