// Package transport abstracts the byte-level HID report streams the daemon
// reads from and writes to. The platform HID transport itself (device open,
// raw read/write, close) is an external collaborator per spec §1/§6 — this
// package only owns the reader goroutines and buffering built on top of it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"

	"github.com/srg/hidppd/internal/groutine"
	"github.com/srg/hidppd/internal/hidpp"
)

// Handle is the platform HID transport the daemon consumes: one open device
// endpoint (SHORT or LONG report id). The host opens it; the daemon only
// reads, writes, and closes it.
type Handle interface {
	// Write sends one frame; it may block or suspend the caller.
	Write(frame []byte) error
	// Read fills buf (sized ShortSize or LongSize) and returns the number of
	// bytes read. n==0, err==nil means the read timed out with no data.
	// A non-nil err means the handle is no longer usable.
	Read(buf []byte, timeout time.Duration) (n int, err error)
	Close() error
}

// ErrClosed is returned by Write after the endpoint has been disposed.
var ErrClosed = errors.New("transport: endpoint closed")

const readPollTimeout = 100 * time.Millisecond

// diagnosticFrames bounds the rolling raw-bytes dump kept per endpoint for
// the external crash logger (spec §1: the daemon owns no diagnostic file
// format, only the rolling content that feeds one).
const diagnosticFrames = 32

// Endpoint owns one HID report stream (SHORT or LONG) and the reader
// goroutine that pumps it into the message router. Readers are intended to
// run at a below-normal scheduling priority per spec §4.3; Go's goroutine
// scheduler exposes no portable priority knob, so this is documented intent
// rather than an enforced one (see DESIGN.md).
type Endpoint struct {
	name      string
	frameSize int
	handle    Handle
	logger    *logrus.Logger

	onFrame  func(hidpp.Frame)
	onClosed func(error)

	writeMu sync.Mutex
	closed  atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	stopOne sync.Once

	diagMu   sync.Mutex
	diagRing *ringbuffer.RingBuffer
}

// New creates an Endpoint for handle, reading frameSize-byte reports
// (hidpp.ShortSize or hidpp.LongSize). onFrame is invoked once per
// successfully decoded frame; onClosed fires exactly once, when the
// reader terminates on a transport error.
func New(name string, frameSize int, handle Handle, logger *logrus.Logger, onFrame func(hidpp.Frame), onClosed func(error)) *Endpoint {
	return &Endpoint{
		name:      name,
		frameSize: frameSize,
		handle:    handle,
		logger:    logger,
		onFrame:   onFrame,
		onClosed:  onClosed,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		diagRing:  ringbuffer.New(frameSize * diagnosticFrames),
	}
}

// Start launches the reader goroutine. Safe to call once per Endpoint.
func (e *Endpoint) Start(ctx context.Context) {
	groutine.Go(ctx, "hidpp-reader-"+e.name, e.readLoop)
}

func (e *Endpoint) readLoop(ctx context.Context) {
	defer close(e.done)

	buf := make([]byte, e.frameSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		default:
		}

		n, err := e.handle.Read(buf, readPollTimeout)
		switch {
		case err != nil:
			e.logger.WithFields(logrus.Fields{"endpoint": e.name, "error": err}).
				Warn("HID endpoint read failed, terminating reader")
			e.closed.Store(true)
			if e.onClosed != nil {
				e.onClosed(err)
			}
			return
		case n == 0:
			continue // timeout, loop and re-check stop/ctx
		default:
			frame, ferr := hidpp.NewFrame(buf[:n])
			if ferr != nil {
				e.logger.WithFields(logrus.Fields{"endpoint": e.name, "error": ferr}).
					Debug("dropping malformed HID report")
				continue
			}
			e.recordDiagnostic(buf[:n])
			if e.onFrame != nil {
				e.onFrame(frame)
			}
		}
	}
}

func (e *Endpoint) recordDiagnostic(raw []byte) {
	e.diagMu.Lock()
	defer e.diagMu.Unlock()
	// Discard the oldest bytes first so the ring keeps the newest reports.
	if free := e.diagRing.Free(); free < len(raw) {
		_, _ = e.diagRing.Read(make([]byte, len(raw)-free))
	}
	_, _ = e.diagRing.Write(raw)
}

// DiagnosticTail returns the most recently received raw reports (at most
// diagnosticFrames of them), for the external crash-log writer to include.
// Reading the tail empties it.
func (e *Endpoint) DiagnosticTail() []byte {
	e.diagMu.Lock()
	defer e.diagMu.Unlock()
	buf := make([]byte, e.diagRing.Length())
	n, _ := e.diagRing.Read(buf)
	return buf[:n]
}

// Write sends one frame's bytes to the handle.
func (e *Endpoint) Write(frame hidpp.Frame) error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.handle.Write(frame.Bytes()); err != nil {
		return fmt.Errorf("transport: write to %s endpoint: %w", e.name, err)
	}
	return nil
}

// Dispose stops the reader (waiting up to 5s) and closes the handle. Safe
// to call more than once; only the first call has effect.
func (e *Endpoint) Dispose() {
	e.stopOne.Do(func() {
		close(e.stop)
		select {
		case <-e.done:
		case <-time.After(5 * time.Second):
			e.logger.WithField("endpoint", e.name).Warn("HID reader did not exit within 5s")
		}
		e.closed.Store(true)
		if err := e.handle.Close(); err != nil {
			e.logger.WithFields(logrus.Fields{"endpoint": e.name, "error": err}).Warn("error closing HID handle")
		}
	})
}

// IsClosed reports whether the endpoint has terminated (reader error or
// explicit Dispose).
func (e *Endpoint) IsClosed() bool { return e.closed.Load() }
