// Package lifecycle implements the device lifecycle manager (spec
// component C7): the per-slot state machine, the sequential feature-
// discovery/init routine, and the battery polling and event handling that
// keep a slot's reading fresh once Online.
package lifecycle

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/hidppd/internal/backoff"
	"github.com/srg/hidppd/internal/battery"
	"github.com/srg/hidppd/internal/correlator"
	"github.com/srg/hidppd/internal/groutine"
	"github.com/srg/hidppd/internal/hidpp"
	"github.com/srg/hidppd/internal/publish"
	"github.com/srg/hidppd/pkg/sink"
)

// Config holds the host-supplied, per-daemon settings the manager and its
// slots inherit (spec §6 "Host control API" + "Configuration").
type Config struct {
	SoftwareID               byte
	DisabledDevices          []string
	PollInterval             time.Duration
	RetryDelay               time.Duration
	KeepPollingWithEvents    bool
	BatteryEventDelayAfterOn time.Duration
	Backoff                  map[string]backoff.Profile
}

// batteryEventThrottle is the minimum spacing between accepted battery
// events for one slot (spec §4.7).
const batteryEventThrottle = 500 * time.Millisecond

// Manager owns the set of DeviceSlots, serializes their initializations
// behind a single lifecycle-wide lock, and drives polling/event handling
// for each slot once Online (spec §4.7, ownership note in §3).
type Manager struct {
	cfg        Config
	builder    hidpp.Builder
	correlator *correlator.Correlator
	publisher  *publish.Publisher
	sink       sink.Sink
	logger     *logrus.Logger

	slots    *hashmap.Map[byte, *DeviceSlot]
	initLock sync.Mutex
}

// New builds a Manager. cfg.SoftwareID must be a validated 1..15 value; the
// caller (config validation, spec §7 InvalidConfiguration) is responsible
// for that check before constructing the builder passed in here.
func New(cfg Config, builder hidpp.Builder, corr *correlator.Correlator, s sink.Sink, logger *logrus.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		builder:    builder,
		correlator: corr,
		publisher:  publish.New(s),
		sink:       s,
		logger:     logger,
		slots:      hashmap.New[byte, *DeviceSlot](),
	}
}

// Snapshot returns a read-only view of every known slot, for diagnostics.
func (m *Manager) Snapshot() []Snapshot {
	var out []Snapshot
	m.slots.Range(func(_ byte, slot *DeviceSlot) bool {
		out = append(out, slot.Snapshot())
		return true
	})
	return out
}

// OnDeviceOn handles a receiver announcement ON event (or synthetic
// direct-device bring-up) for slotIndex: it creates the slot if unknown,
// and (re)submits it for initialization unless already Online or mid-init.
func (m *Manager) OnDeviceOn(ctx context.Context, slotIndex byte) {
	slot, existed := m.slots.Get(slotIndex)
	if !existed {
		slot = newSlot(slotIndex)
		m.slots.Set(slotIndex, slot)
	}

	switch slot.State() {
	case StateOnline:
		return // duplicate ON for an already-initialized online slot: ignore
	case StateInitializing:
		return // already in flight
	case StateDisposed:
		return // terminal
	}

	slot.mu.Lock()
	slot.deviceOnTime = time.Now()
	slot.mu.Unlock()

	groutine.Go(ctx, fmt.Sprintf("hidpp-init-slot-%d", slotIndex), func(ctx context.Context) {
		m.runInitialization(ctx, slot)
	})
}

// OnDeviceOff handles a receiver announcement OFF event: cancels polling
// and transitions the slot Offline. Unknown slots are ignored (phantom OFF
// events, spec §4.6).
func (m *Manager) OnDeviceOff(slotIndex byte) {
	slot, ok := m.slots.Get(slotIndex)
	if !ok {
		return
	}
	if slot.State() == StateDisposed {
		return
	}

	slot.mu.Lock()
	if slot.cancelPoll != nil {
		slot.cancelPoll()
		slot.cancelPoll = nil
	}
	slot.state = StateOffline
	slot.mu.Unlock()

	if m.cfg.BatteryEventDelayAfterOn >= 0 {
		reading := battery.UnknownReading
		m.publisher.Publish(slot.Identifier(), slot.DeviceName(), reading, time.Now(), publish.SourcePoll, true)
	}
}

// OfferEvent implements router.SlotEventHandler: it offers an unsolicited
// frame to the slot it is addressed to. Responses to in-flight requests
// (non-broadcast frames) are never claimed here, regardless of slot
// membership, so they fall through to the correlator (spec §4.4 step 2).
func (m *Manager) OfferEvent(slotIndex byte, frame hidpp.Frame) bool {
	if !frame.IsBroadcast() {
		return false
	}
	slot, ok := m.slots.Get(slotIndex)
	if !ok {
		return false
	}

	slot.mu.RLock()
	capability := slot.batteryCapability
	battIdx := slot.batteryFeatureIndex
	slot.mu.RUnlock()

	if capability != nil && frame.IsBatteryEvent(battIdx) {
		return m.handleBatteryEvent(slot, capability, frame)
	}
	return true // other slot-specific unsolicited event: consumed, no further action
}

func (m *Manager) handleBatteryEvent(slot *DeviceSlot, capability battery.Capability, frame hidpp.Frame) bool {
	now := time.Now()

	slot.mu.Lock()
	if now.Sub(slot.lastEventTime) < batteryEventThrottle {
		slot.mu.Unlock()
		return true // throttled
	}
	slot.lastEventTime = now
	onTime := slot.deviceOnTime
	keepPolling := m.cfg.KeepPollingWithEvents
	cancel := slot.cancelPoll
	slot.mu.Unlock()

	reading, ok := capability.DecodeEvent(frame)
	if !ok {
		m.logger.WithField("slot", slot.SlotIndex).Warn("discarding malformed battery event")
		return false
	}

	if !keepPolling && cancel != nil {
		slot.mu.Lock()
		if slot.cancelPoll != nil {
			slot.cancelPoll()
			slot.cancelPoll = nil
		}
		slot.mu.Unlock()
	}

	if now.Sub(onTime) < m.cfg.BatteryEventDelayAfterOn {
		return true // inside post-ON suppression window: handled, not published
	}

	m.publisher.Publish(slot.Identifier(), slot.DeviceName(), reading, now, publish.SourceEvent, false)
	return true
}

// runInitialization performs the full init sequence under the lifecycle
// lock (spec §4.7). On any failure it leaves the slot in whatever state it
// was created in (effectively aborting back to Created) so a later ON
// event can retry.
func (m *Manager) runInitialization(ctx context.Context, slot *DeviceSlot) {
	m.initLock.Lock()
	defer m.initLock.Unlock()

	if slot.State() == StateDisposed {
		return
	}
	slot.setState(StateInitializing)

	select {
	case <-time.After(time.Second): // stabilization delay
	case <-ctx.Done():
		return
	}

	if err := m.initSequence(ctx, slot); err != nil {
		m.logger.WithFields(logrus.Fields{"slot": slot.SlotIndex, "error": err}).
			Warn("device initialization aborted")
		slot.setState(StateCreated)
		return
	}

	slot.setState(StateOnline)
	slot.mu.Lock()
	slot.lastUpdate = time.Time{}
	slot.forceNextUpdate = true
	slot.mu.Unlock()

	m.sink.Init(sink.InitMessage{
		Identifier:      slot.Identifier(),
		DeviceName:      slot.DeviceName(),
		HasBattery:      slot.HasBattery(),
		DeviceType:      slot.deviceType,
		DeviceSignature: sink.DeviceSignature(slot.deviceType, slot.Identifier()),
	})

	if slot.HasBattery() {
		if err := m.updateBattery(ctx, slot); err != nil {
			m.logger.WithFields(logrus.Fields{"slot": slot.SlotIndex, "error": err}).Debug("initial battery query failed")
		}
	}

	pollCtx, cancel := context.WithCancel(ctx)
	slot.mu.Lock()
	slot.cancelPoll = cancel
	slot.mu.Unlock()
	groutine.Go(pollCtx, fmt.Sprintf("hidpp-poll-slot-%d", slot.SlotIndex), func(ctx context.Context) {
		m.pollLoop(ctx, slot)
	})
}

// isResponseFor matches a response to one of this manager's own requests:
// same feature index and same software id (spec §4.1 "matches(request)"),
// so a reply correlated to another process sharing the endpoint is never
// mistaken for this daemon's own.
func (m *Manager) isResponseFor(featureIndex byte) correlator.Matcher {
	return func(f hidpp.Frame) bool { return !f.IsBroadcast() && f.Matches(featureIndex, m.cfg.SoftwareID) }
}

func isError(f hidpp.Frame) bool { return f.IsError() }

// initSequence implements spec §4.7 steps 1-9 (step 10 is handled by the
// caller after this returns successfully).
func (m *Manager) initSequence(ctx context.Context, slot *DeviceSlot) error {
	if err := m.pingProbe(ctx, slot); err != nil {
		return fmt.Errorf("ping probe: %w", err)
	}

	featureSetIndex, err := m.resolveFeatureIndex(ctx, slot, hidpp.FeatureSet)
	if err != nil {
		return fmt.Errorf("resolve FeatureSet: %w", err)
	}

	count, err := m.getFeatureCount(ctx, slot, featureSetIndex)
	if err != nil {
		return fmt.Errorf("get feature count: %w", err)
	}

	featureMap, err := m.enumerateFeatures(ctx, slot, featureSetIndex, count)
	if err != nil {
		return fmt.Errorf("enumerate features: %w", err)
	}
	slot.mu.Lock()
	slot.featureMap = featureMap
	slot.mu.Unlock()

	nameFeatureIndex, present := featureMap.Get(hidpp.FeatureDeviceName)
	if !present {
		return fmt.Errorf("required feature 0x0005 (device name) missing")
	}

	name, err := m.resolveDeviceName(ctx, slot, nameFeatureIndex)
	if err != nil {
		return fmt.Errorf("resolve device name: %w", err)
	}
	for _, pattern := range m.cfg.DisabledDevices {
		if pattern != "" && strings.Contains(name, pattern) {
			return fmt.Errorf("device %q matches disallow-list pattern %q", name, pattern)
		}
	}

	deviceType, err := m.resolveDeviceType(ctx, slot, nameFeatureIndex)
	if err != nil {
		return fmt.Errorf("resolve device type: %w", err)
	}

	identifier, err := m.resolveIdentifier(ctx, slot, featureMap, name)
	if err != nil {
		return fmt.Errorf("resolve identifier: %w", err)
	}

	slot.mu.Lock()
	slot.deviceName = name
	slot.deviceType = deviceType
	slot.identifier = identifier
	slot.mu.Unlock()

	if capability, battIdx, ok := battery.Select(buildFeatureLookup(featureMap)); ok {
		slot.mu.Lock()
		slot.batteryCapability = capability
		slot.batteryFeatureIndex = battIdx
		slot.mu.Unlock()

		// HID++ 1.0 EnableBatteryReports is best-effort; failure is non-fatal
		// (spec §4.7 step 9).
		if frame, ferr := hidpp.EnableBatteryReports(slot.SlotIndex); ferr == nil {
			_, _ = m.correlator.SendAndWait(ctx, frame, func(hidpp.Frame) bool { return false }, nil, 200*time.Millisecond)
		}

		// 0x1004 additionally exposes an extended capability probe (spec
		// §4.8); best-effort, same as EnableBatteryReports above.
		if capability.RequiresCapabilityProbe() {
			if frame, ferr := m.builder.GetBatteryCapability(slot.SlotIndex, battIdx); ferr == nil {
				_, _ = m.correlator.SendAndWait(ctx, frame, func(hidpp.Frame) bool { return false }, nil, 200*time.Millisecond)
			}
		}
	}

	return nil
}

// buildFeatureLookup flattens the ordered featureId->featureIndex map into
// a plain map for battery.Select, whose signature stays orderedmap-free.
func buildFeatureLookup(featureMap *orderedmap.OrderedMap[uint16, byte]) map[uint16]byte {
	out := make(map[uint16]byte, featureMap.Len())
	for pair := featureMap.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = pair.Value
	}
	return out
}

func (m *Manager) pingProbe(ctx context.Context, slot *DeviceSlot) error {
	profile := m.cfg.Backoff[backoff.Ping]
	seq := backoff.NewSequence(profile)
	consecutive := 0
	attempts := 0
	for attempts < 10 {
		attempt, ok := seq.Next(ctx)
		if !ok {
			break
		}
		attempts++

		frame, err := m.builder.Ping(slot.SlotIndex, 0x55)
		if err != nil {
			return err
		}
		resp, err := m.correlator.SendAndWait(ctx, frame, m.isResponseFor(0x00), isError, attempt.Timeout)
		if err != nil {
			return err
		}
		if !resp.IsEmpty() {
			consecutive++
			if consecutive >= 3 {
				return nil
			}
		} else {
			consecutive = 0
		}
	}
	return fmt.Errorf("ping probe did not achieve 3 consecutive successes within 10 attempts")
}

func (m *Manager) resolveFeatureIndex(ctx context.Context, slot *DeviceSlot, featureID uint16) (byte, error) {
	frame, err := m.builder.GetFeatureIndex(slot.SlotIndex, featureID)
	if err != nil {
		return 0, err
	}
	profile := m.cfg.Backoff[backoff.Metadata]
	resp, err := m.correlator.SendAndWaitBackoff(ctx, frame, m.isResponseFor(0x00), isError, profile)
	if err != nil {
		return 0, err
	}
	if resp.IsEmpty() {
		return 0, fmt.Errorf("no response resolving feature 0x%04x", featureID)
	}
	return resp.Param(0), nil
}

func (m *Manager) getFeatureCount(ctx context.Context, slot *DeviceSlot, featureSetIndex byte) (int, error) {
	frame, err := m.builder.GetFeatureCount(slot.SlotIndex, featureSetIndex)
	if err != nil {
		return 0, err
	}
	profile := m.cfg.Backoff[backoff.Metadata]
	resp, err := m.correlator.SendAndWaitBackoff(ctx, frame, m.isResponseFor(featureSetIndex), isError, profile)
	if err != nil {
		return 0, err
	}
	if resp.IsEmpty() {
		return 0, fmt.Errorf("no response getting feature count")
	}
	return int(resp.Param(0)), nil
}

func (m *Manager) enumerateFeatures(ctx context.Context, slot *DeviceSlot, featureSetIndex byte, count int) (*orderedmap.OrderedMap[uint16, byte], error) {
	featureMap := orderedmap.New[uint16, byte]()
	profile := m.cfg.Backoff[backoff.FeatureEnum]
	for i := 0; i <= count; i++ {
		frame, err := m.builder.EnumerateFeature(slot.SlotIndex, featureSetIndex, byte(i))
		if err != nil {
			return nil, err
		}
		resp, err := m.correlator.SendAndWaitBackoff(ctx, frame, m.isResponseFor(featureSetIndex), isError, profile)
		if err != nil {
			return nil, err
		}
		if resp.IsEmpty() {
			continue // sustained timeout on this index: skip, don't abort the whole scan
		}
		featureID := resp.Param16(0)
		featureMap.Set(featureID, byte(i))
	}
	return featureMap, nil
}

func (m *Manager) resolveDeviceName(ctx context.Context, slot *DeviceSlot, nameFeatureIndex byte) (string, error) {
	lenFrame, err := m.builder.GetDeviceNameLength(slot.SlotIndex, nameFeatureIndex)
	if err != nil {
		return "", err
	}
	profile := m.cfg.Backoff[backoff.Metadata]
	lenResp, err := m.correlator.SendAndWaitBackoff(ctx, lenFrame, m.isResponseFor(nameFeatureIndex), isError, profile)
	if err != nil {
		return "", err
	}
	if lenResp.IsEmpty() {
		return "", fmt.Errorf("no response getting device name length")
	}
	length := int(lenResp.Param(0))

	var sb strings.Builder
	for offset := 0; offset < length; offset += 3 {
		chunkFrame, err := m.builder.GetDeviceNameChunk(slot.SlotIndex, nameFeatureIndex, byte(offset))
		if err != nil {
			return "", err
		}
		resp, err := m.correlator.SendAndWaitBackoff(ctx, chunkFrame, m.isResponseFor(nameFeatureIndex), isError, profile)
		if err != nil {
			return "", err
		}
		if resp.IsEmpty() {
			return "", fmt.Errorf("no response reading device name chunk at offset %d", offset)
		}
		for i := 0; i < 3 && offset+i < length; i++ {
			sb.WriteByte(resp.Param(i))
		}
	}
	return strings.TrimRight(sb.String(), "\x00"), nil
}

var deviceTypeNames = map[byte]string{
	0x00: "keyboard",
	0x01: "mouse",
	0x02: "numpad",
	0x03: "presenter",
	0x08: "trackball",
	0x09: "touchpad",
	0x0C: "headset",
}

func (m *Manager) resolveDeviceType(ctx context.Context, slot *DeviceSlot, nameFeatureIndex byte) (string, error) {
	frame, err := m.builder.GetDeviceType(slot.SlotIndex, nameFeatureIndex)
	if err != nil {
		return "", err
	}
	profile := m.cfg.Backoff[backoff.Metadata]
	resp, err := m.correlator.SendAndWaitBackoff(ctx, frame, m.isResponseFor(nameFeatureIndex), isError, profile)
	if err != nil {
		return "", err
	}
	if resp.IsEmpty() {
		return "", fmt.Errorf("no response getting device type")
	}
	if name, ok := deviceTypeNames[resp.Param(0)]; ok {
		return name, nil
	}
	return "other", nil
}

func (m *Manager) resolveIdentifier(ctx context.Context, slot *DeviceSlot, featureMap *orderedmap.OrderedMap[uint16, byte], deviceName string) (string, error) {
	fwFeatureIndex, present := featureMap.Get(hidpp.FeatureDeviceFwInfo)
	if !present {
		return hexHash(deviceName), nil
	}

	frame, err := m.builder.GetDeviceFwInfo(slot.SlotIndex, fwFeatureIndex)
	if err != nil {
		return hexHash(deviceName), nil
	}
	profile := m.cfg.Backoff[backoff.Metadata]
	resp, err := m.correlator.SendAndWaitBackoff(ctx, frame, m.isResponseFor(fwFeatureIndex), isError, profile)
	if err != nil || resp.IsEmpty() {
		return hexHash(deviceName), nil
	}

	unitID := fmt.Sprintf("%x", []byte{resp.Param(0), resp.Param(1), resp.Param(2), resp.Param(3)})
	modelID := fmt.Sprintf("%x", []byte{resp.Param(4), resp.Param(5), resp.Param(6), resp.Param(7), resp.Param(8)})
	flags := resp.Param(10)

	if flags&0x01 != 0 {
		serialFrame, serr := m.builder.GetSerialNumber(slot.SlotIndex, fwFeatureIndex)
		if serr == nil {
			serialResp, serr2 := m.correlator.SendAndWaitBackoff(ctx, serialFrame, m.isResponseFor(fwFeatureIndex), isError, profile)
			if serr2 == nil && !serialResp.IsEmpty() {
				serial := decodeSerial(serialResp)
				if serial != "" {
					return serial, nil
				}
			}
		}
	}

	return unitID + "-" + modelID, nil
}

func decodeSerial(frame hidpp.Frame) string {
	var sb strings.Builder
	for i := 0; i < 12; i++ {
		b := frame.Param(i)
		if b == 0 {
			break
		}
		sb.WriteByte(b)
	}
	return strings.TrimSpace(sb.String())
}

func hexHash(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%016x", h.Sum64())
}

// updateBattery performs one battery query for an Online slot (spec §4.7
// polling loop step). Only a single attempt is issued per call; the caller
// (pollLoop) owns the failure-count-driven backoff between calls.
func (m *Manager) updateBattery(ctx context.Context, slot *DeviceSlot) error {
	slot.mu.RLock()
	capability := slot.batteryCapability
	battIdx := slot.batteryFeatureIndex
	force := slot.forceNextUpdate
	slot.mu.RUnlock()

	if capability == nil {
		return nil
	}

	frame, err := m.builder.GetBatteryStatus(slot.SlotIndex, battIdx)
	if err != nil {
		return err
	}
	resp, err := m.correlator.SendAndWait(ctx, frame, m.isResponseFor(battIdx), isError, capability.QueryTimeout())
	if err != nil {
		return err
	}
	if resp.IsEmpty() {
		return fmt.Errorf("battery query timed out")
	}

	reading, ok := capability.DecodeQuery(resp)
	if !ok {
		return fmt.Errorf("corrupt battery reading discarded")
	}

	now := time.Now()
	slot.mu.Lock()
	slot.lastUpdate = now
	slot.forceNextUpdate = false
	slot.mu.Unlock()

	m.publisher.Publish(slot.Identifier(), slot.DeviceName(), reading, now, publish.SourcePoll, force)
	return nil
}

// pollLoop is the per-slot battery polling task (spec §4.7). It exits
// cooperatively when ctx (the slot's poll-cancellation handle) is canceled.
func (m *Manager) pollLoop(ctx context.Context, slot *DeviceSlot) {
	for {
		slot.mu.RLock()
		last := slot.lastUpdate
		slot.mu.RUnlock()

		wait := time.Until(last.Add(m.cfg.PollInterval))
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := m.updateBattery(ctx, slot); err != nil {
			slot.mu.Lock()
			slot.consecutivePollFailures++
			n := slot.consecutivePollFailures
			slot.mu.Unlock()

			delay := backoff.DelayFor(m.cfg.Backoff[backoff.Battery], n) + m.cfg.RetryDelay
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		} else {
			slot.mu.Lock()
			slot.consecutivePollFailures = 0
			slot.mu.Unlock()
		}
	}
}

// Dispose transitions every known slot to Disposed and cancels its polling
// task, for coordinator shutdown.
func (m *Manager) Dispose() {
	m.slots.Range(func(_ byte, slot *DeviceSlot) bool {
		slot.mu.Lock()
		if slot.cancelPoll != nil {
			slot.cancelPoll()
			slot.cancelPoll = nil
		}
		slot.state = StateDisposed
		slot.mu.Unlock()
		return true
	})
}
