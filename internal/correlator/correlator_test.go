package correlator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/srg/hidppd/internal/backoff"
	"github.com/srg/hidppd/internal/hidpp"
	"github.com/srg/hidppd/internal/respqueue"
)

type fakeWriter struct {
	mu      sync.Mutex
	writes  []hidpp.Frame
	onWrite func(hidpp.Frame)
}

func (w *fakeWriter) Write(f hidpp.Frame) error {
	w.mu.Lock()
	w.writes = append(w.writes, f)
	cb := w.onWrite
	w.mu.Unlock()
	if cb != nil {
		cb(f)
	}
	return nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func reqFrame(slot byte, feature byte, fn byte) hidpp.Frame {
	f, err := hidpp.NewFrame([]byte{0x10, slot, feature, fn << 4, 0, 0, 0})
	if err != nil {
		panic(err)
	}
	return f
}

func respFrame(slot byte, feature byte) hidpp.Frame {
	f, err := hidpp.NewFrame([]byte{0x10, slot, feature, 0, 0x55, 0, 0})
	if err != nil {
		panic(err)
	}
	return f
}

func errFrame(slot byte) hidpp.Frame {
	f, err := hidpp.NewFrame([]byte{0x10, slot, hidpp.FeatureIndexError, 0, 0, 0, 0})
	if err != nil {
		panic(err)
	}
	return f
}

func TestSendAndWaitMatchesResponse(t *testing.T) {
	q := respqueue.New()
	w := &fakeWriter{}
	c := New(w, q, testLogger())

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(respFrame(1, 0x05))
	}()

	matcher := func(f hidpp.Frame) bool { return f.FeatureIndex() == 0x05 }
	resp, err := c.SendAndWait(context.Background(), reqFrame(1, 0x05, 1), matcher, nil, time.Second)
	require.NoError(t, err)
	require.False(t, resp.IsEmpty())
	require.Equal(t, byte(0x05), resp.FeatureIndex())
	require.Equal(t, 1, w.count())
}

func TestSendAndWaitDiscardsNonMatchingFrames(t *testing.T) {
	q := respqueue.New()
	w := &fakeWriter{}
	c := New(w, q, testLogger())

	q.Enqueue(respFrame(1, 0x01)) // unrelated
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(respFrame(1, 0x05))
	}()

	matcher := func(f hidpp.Frame) bool { return f.FeatureIndex() == 0x05 }
	resp, err := c.SendAndWait(context.Background(), reqFrame(1, 0x05, 1), matcher, nil, time.Second)
	require.NoError(t, err)
	require.Equal(t, byte(0x05), resp.FeatureIndex())
}

func TestSendAndWaitTimesOut(t *testing.T) {
	q := respqueue.New()
	w := &fakeWriter{}
	c := New(w, q, testLogger())

	matcher := func(hidpp.Frame) bool { return false }
	resp, err := c.SendAndWait(context.Background(), reqFrame(1, 0x05, 1), matcher, nil, 30*time.Millisecond)
	require.NoError(t, err)
	require.True(t, resp.IsEmpty())
}

func TestEarlyExitTakesPrecedenceOverMatcher(t *testing.T) {
	q := respqueue.New()
	w := &fakeWriter{}
	c := New(w, q, testLogger())

	e := errFrame(1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(e)
	}()

	// A matcher that would also match the error frame; earlyExit must win.
	matcher := func(f hidpp.Frame) bool { return true }
	earlyExit := func(f hidpp.Frame) bool { return f.IsError() }

	resp, err := c.SendAndWait(context.Background(), reqFrame(1, 0x05, 1), matcher, earlyExit, time.Second)
	require.NoError(t, err)
	require.True(t, resp.IsEmpty())
}

func TestSendAndWaitSerializesConcurrentCallers(t *testing.T) {
	q := respqueue.New()
	var writeTimes []time.Time
	var mu sync.Mutex
	w := &fakeWriter{onWrite: func(hidpp.Frame) {
		mu.Lock()
		writeTimes = append(writeTimes, time.Now())
		mu.Unlock()
	}}
	c := New(w, q, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			matcher := func(hidpp.Frame) bool { return false }
			_, _ = c.SendAndWait(context.Background(), reqFrame(1, 0x05, 1), matcher, nil, 20*time.Millisecond)
		}()
	}
	wg.Wait()
	require.Equal(t, 2, w.count(), "both callers must eventually write, never interleaved")
	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, writeTimes[1].Sub(writeTimes[0]), 20*time.Millisecond,
		"the second write must wait until the first caller's 20ms wait has ended")
}

func TestSendAndWaitBackoffStopsOnFirstMatch(t *testing.T) {
	q := respqueue.New()
	w := &fakeWriter{}
	c := New(w, q, testLogger())

	profile := backoff.New(backoff.Profile{
		InitialDelay: time.Millisecond, MaxDelay: time.Millisecond,
		InitialTimeout: 20 * time.Millisecond, MaxTimeout: 20 * time.Millisecond,
		Multiplier: 2, MaxAttempts: 3,
	})

	go func() {
		time.Sleep(30 * time.Millisecond)
		q.Enqueue(respFrame(1, 0x05))
	}()

	matcher := func(f hidpp.Frame) bool { return f.FeatureIndex() == 0x05 }
	resp, err := c.SendAndWaitBackoff(context.Background(), reqFrame(1, 0x05, 1), matcher, nil, profile)
	require.NoError(t, err)
	require.False(t, resp.IsEmpty())
	require.GreaterOrEqual(t, w.count(), 2, "first attempt must have timed out before the second succeeded")
}

func TestSendAndWaitBackoffExhausts(t *testing.T) {
	q := respqueue.New()
	w := &fakeWriter{}
	c := New(w, q, testLogger())

	profile := backoff.New(backoff.Profile{
		InitialDelay: time.Millisecond, MaxDelay: time.Millisecond,
		InitialTimeout: 10 * time.Millisecond, MaxTimeout: 10 * time.Millisecond,
		Multiplier: 2, MaxAttempts: 2,
	})

	matcher := func(hidpp.Frame) bool { return false }
	resp, err := c.SendAndWaitBackoff(context.Background(), reqFrame(1, 0x05, 1), matcher, nil, profile)
	require.NoError(t, err)
	require.True(t, resp.IsEmpty())
	require.Equal(t, 2, w.count())
}

func TestSendAndWaitHonorsContextCancellation(t *testing.T) {
	q := respqueue.New()
	w := &fakeWriter{}
	c := New(w, q, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	matcher := func(hidpp.Frame) bool { return false }
	_, err := c.SendAndWait(ctx, reqFrame(1, 0x05, 1), matcher, nil, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}
