// Package respqueue implements the bounded response channel the message
// router hands decoded response frames to, and the correlator drains
// synchronously for a matching reply. Built on go-ringbuf's overlapped
// ring buffer: a fixed-capacity, drop-oldest
// buffer that never blocks a writer (spec §4.5: "capacity 5, drop-oldest
// when full, single reader / multiple writers").
package respqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"

	"github.com/srg/hidppd/internal/hidpp"
)

// Capacity is the fixed response queue depth (spec §4.5).
const Capacity = 5

// pollInterval bounds how long a blocking Dequeue can miss a wakeup signal
// on a racy Enqueue/Dequeue interleaving; the notify channel makes this the
// rare case rather than the common one.
const pollInterval = 5 * time.Millisecond

// Queue is a capacity-5, drop-oldest-on-full response buffer. Enqueue is
// safe for concurrent writers (the router calls it from reader goroutines);
// Dequeue is intended for exactly one reader (the correlator) at a time.
type Queue struct {
	buf      mpmc.RichOverlappedRingBuffer[hidpp.Frame]
	notify   chan struct{}
	dropped  atomic.Uint64
	enqueued atomic.Uint64
}

// New creates an empty response queue.
func New() *Queue {
	return &Queue{
		buf:    mpmc.NewOverlappedRingBuffer[hidpp.Frame](Capacity),
		notify: make(chan struct{}, Capacity),
	}
}

// Enqueue adds frame to the queue. If the queue is full, the oldest buffered
// frame is silently dropped to make room (spec §4.5 drop-oldest policy).
func (q *Queue) Enqueue(frame hidpp.Frame) {
	overwrites, err := q.buf.EnqueueM(frame)
	if err != nil {
		// RichOverlappedRingBuffer is unbounded-write by design; EnqueueM
		// only errors on a nil/zero-capacity buffer, which New never builds.
		return
	}
	q.dropped.Add(uint64(overwrites))
	q.enqueued.Add(1)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// ErrEmpty is returned by TryDequeue when nothing is buffered.
var ErrEmpty = errors.New("respqueue: empty")

// TryDequeue returns the oldest buffered frame without waiting.
func (q *Queue) TryDequeue() (hidpp.Frame, error) {
	if q.buf.IsEmpty() {
		return hidpp.Empty, ErrEmpty
	}
	f, err := q.buf.Dequeue()
	if err != nil {
		return hidpp.Empty, ErrEmpty
	}
	return f, nil
}

// Dequeue blocks until a frame is available, ctx is canceled, or deadline
// elapses (deadline <= 0 means wait indefinitely for ctx cancellation only).
// Used by the correlator's bounded wait on a sendAndWait call.
func (q *Queue) Dequeue(ctx context.Context, deadline time.Duration) (hidpp.Frame, error) {
	var timeoutCh <-chan time.Time
	if deadline > 0 {
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if f, err := q.TryDequeue(); err == nil {
			return f, nil
		}
		select {
		case <-ctx.Done():
			return hidpp.Empty, ctx.Err()
		case <-timeoutCh:
			return hidpp.Empty, context.DeadlineExceeded
		case <-q.notify:
			continue
		case <-ticker.C:
			continue
		}
	}
}

// Stats reports cumulative counters, mainly for diagnostics/tests.
type Stats struct {
	Enqueued uint64
	Dropped  uint64
}

func (q *Queue) Stats() Stats {
	return Stats{Enqueued: q.enqueued.Load(), Dropped: q.dropped.Load()}
}

// IsEmpty reports whether the queue currently holds no frames.
func (q *Queue) IsEmpty() bool { return q.buf.IsEmpty() }
