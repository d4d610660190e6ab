// Package correlator implements the request/response correlator (spec
// component C5): it serializes outbound requests behind a binary lock,
// writes each one exactly once, and matches the single following response
// using a caller-supplied predicate and timeout.
package correlator

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/hidppd/internal/backoff"
	"github.com/srg/hidppd/internal/hidpp"
	"github.com/srg/hidppd/internal/respqueue"
)

// lockTimeout bounds how long a caller waits to acquire the correlator's
// binary serialization lock before giving up (spec §4.5 step 1).
const lockTimeout = 100 * time.Millisecond

// Writer is the outbound half of the transport the correlator writes
// requests through.
type Writer interface {
	Write(frame hidpp.Frame) error
}

// Matcher tests a candidate response frame.
type Matcher func(hidpp.Frame) bool

// ErrLockTimeout describes a failed 100ms binary-lock acquisition.
// SendAndWait does not return it: it reports that case as hidpp.Empty with
// a nil error.
var ErrLockTimeout = errors.New("correlator: lock acquisition timed out")

// ErrRequestTimeout describes a SendAndWait deadline that elapsed with no
// matching response. SendAndWait does not return it: it reports that case
// as hidpp.Empty with a nil error.
var ErrRequestTimeout = errors.New("correlator: request timed out")

// Correlator serializes one outstanding request at a time and drains the
// shared response queue looking for the reply that matches it.
type Correlator struct {
	writer    Writer
	responses *respqueue.Queue
	logger    *logrus.Logger
	lock      chan struct{}
}

// New builds a Correlator writing through writer and reading replies off
// responses (the queue the router also writes into).
func New(writer Writer, responses *respqueue.Queue, logger *logrus.Logger) *Correlator {
	return &Correlator{
		writer:    writer,
		responses: responses,
		logger:    logger,
		lock:      make(chan struct{}, 1),
	}
}

// SendAndWait implements the plain (non-backoff) contract of spec §4.5:
// acquire the lock, write frame, and wait up to timeout for a response
// satisfying matcher. earlyExit, if non-nil, takes precedence over matcher
// when both would match the same frame (spec §8 match/early-exit
// precedence) and aborts the wait, returning the empty frame.
//
// Returns hidpp.Empty (never an error) on timeout or lock failure, per the
// sentinel-return error policy described in spec §7; err is non-nil only
// for a canceled context, which callers should treat as fatal to the call.
func (c *Correlator) SendAndWait(ctx context.Context, frame hidpp.Frame, matcher Matcher, earlyExit Matcher, timeout time.Duration) (hidpp.Frame, error) {
	if !c.acquire(ctx) {
		return hidpp.Empty, nil
	}
	defer c.release()

	if err := c.writer.Write(frame); err != nil {
		c.logger.WithError(err).Debug("correlator: write failed")
		return hidpp.Empty, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return hidpp.Empty, nil
		}
		resp, err := c.responses.Dequeue(ctx, remaining)
		if err != nil {
			if ctx.Err() != nil {
				return hidpp.Empty, ctx.Err()
			}
			return hidpp.Empty, nil
		}
		if earlyExit != nil && earlyExit(resp) {
			return hidpp.Empty, nil
		}
		if matcher(resp) {
			return resp, nil
		}
		// Unrelated frame (e.g. a different slot's event slipped through
		// before the router resolved it): discard and keep waiting.
	}
}

func (c *Correlator) acquire(ctx context.Context) bool {
	timer := time.NewTimer(lockTimeout)
	defer timer.Stop()
	select {
	case c.lock <- struct{}{}:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Correlator) release() {
	<-c.lock
}

// SendAndWaitBackoff is the backoff-aware overload of spec §4.5: it
// re-executes SendAndWait once per Attempt in profile, sleeping
// attempt.Delay before each and bounding the wait with attempt.Timeout. It
// stops at the first non-empty result or once the profile's attempts are
// exhausted.
func (c *Correlator) SendAndWaitBackoff(ctx context.Context, frame hidpp.Frame, matcher Matcher, earlyExit Matcher, profile backoff.Profile) (hidpp.Frame, error) {
	seq := backoff.NewSequence(profile)
	for {
		attempt, ok := seq.Next(ctx)
		if !ok {
			return hidpp.Empty, nil
		}
		resp, err := c.SendAndWait(ctx, frame, matcher, earlyExit, attempt.Timeout)
		if err != nil {
			return hidpp.Empty, err
		}
		if !resp.IsEmpty() {
			return resp, nil
		}
	}
}
