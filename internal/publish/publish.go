// Package publish implements the publisher/throttler (spec component C9):
// it deduplicates battery readings per device identifier and forwards the
// survivors to the external consumer sink.
package publish

import (
	"sync"
	"time"

	"github.com/srg/hidppd/internal/battery"
	"github.com/srg/hidppd/pkg/sink"
)

// Source names the origin of a reading being published.
type Source string

const (
	SourcePoll  Source = "poll"
	SourceEvent Source = "event"
)

type lastPublished struct {
	percentage int
	status     battery.Status
	millivolts int
}

// Publisher deduplicates battery.Reading values per device identifier
// before forwarding an Update to the sink (spec §4.9).
type Publisher struct {
	sink sink.Sink

	mu   sync.Mutex
	last map[string]lastPublished
}

// New builds a Publisher forwarding surviving updates to s.
func New(s sink.Sink) *Publisher {
	return &Publisher{sink: s, last: make(map[string]lastPublished)}
}

// Publish applies the spec §4.9 dedup rule: a reading equal in
// (percentage, status, millivolts) to the last one published for identifier
// is suppressed unless force is true or identifier has never been published.
// -1 percentage (the offline convention) is a publishable value like any
// other.
func (p *Publisher) Publish(identifier, deviceName string, reading battery.Reading, when time.Time, source Source, force bool) {
	current := lastPublished{percentage: reading.Percentage, status: reading.Status, millivolts: reading.Millivolts}

	p.mu.Lock()
	prev, seen := p.last[identifier]
	if seen && !force && prev == current {
		p.mu.Unlock()
		return
	}
	p.last[identifier] = current
	p.mu.Unlock()

	p.sink.Update(sink.UpdateMessage{
		Identifier:        identifier,
		BatteryPercentage: reading.Percentage,
		PowerSupplyStatus: reading.Status.String(),
		BatteryMillivolts: reading.Millivolts,
		UpdateTime:        when,
	})
}

// Reset clears the last-published memory for identifier, so the next
// Publish call is treated as never-before-seen. The lifecycle manager does
// not call it; disposing a slot leaves the identifier's memory in place.
func (p *Publisher) Reset(identifier string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.last, identifier)
}
