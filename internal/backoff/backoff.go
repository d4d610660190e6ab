// Package backoff produces the (attempt#, delay, timeout) sequences used by
// every fallible protocol exchange in the daemon: ping, feature enumeration,
// battery query, and receiver init all retry through the same engine with a
// named Profile.
package backoff

import (
	"context"
	"math"
	"time"
)

// Profile parameterizes one family of retries. Fields are auto-corrected on
// construction (see New) so a misconfigured override never produces a
// nonsensical sequence.
type Profile struct {
	Name           string
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	InitialTimeout time.Duration
	MaxTimeout     time.Duration
	Multiplier     float64
	MaxAttempts    int
}

// New validates and auto-corrects a Profile's invariants: MaxDelay >=
// InitialDelay, MaxTimeout >= InitialTimeout, Multiplier > 1, MaxAttempts >= 1.
func New(p Profile) Profile {
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.MaxTimeout < p.InitialTimeout {
		p.MaxTimeout = p.InitialTimeout
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return p
}

// Attempt is one element of a Profile's retry sequence.
type Attempt struct {
	Number  int // 1-indexed
	Delay   time.Duration
	Timeout time.Duration
}

// DelayFor returns the delay that precedes attempt n (1-indexed). Attempt 1
// has no delay; later attempts grow exponentially, clamped to MaxDelay.
func DelayFor(p Profile, n int) time.Duration {
	if n <= 1 {
		return 0
	}
	return growClamped(p.InitialDelay, p.MaxDelay, p.Multiplier, n-1)
}

// TimeoutFor returns the deadline budget for attempt n (1-indexed), grown
// the same way as DelayFor but starting from attempt 1.
func TimeoutFor(p Profile, n int) time.Duration {
	return growClamped(p.InitialTimeout, p.MaxTimeout, p.Multiplier, n)
}

func growClamped(initial, maxv time.Duration, multiplier float64, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	v := float64(initial) * math.Pow(multiplier, float64(n-1))
	if v > float64(maxv) {
		return maxv
	}
	return time.Duration(v)
}

// Sequence walks a Profile's attempts one at a time. It is restartable:
// calling NewSequence(profile) again yields a fresh sequence from attempt 1.
type Sequence struct {
	profile Profile
	next    int
}

// NewSequence starts a fresh attempt sequence for p.
func NewSequence(p Profile) *Sequence {
	return &Sequence{profile: p, next: 1}
}

// Next sleeps the attempt's delay (honoring ctx cancellation cooperatively
// between attempts — per spec §4.2/§5 suspension points) and returns the
// next Attempt. ok is false once the profile's MaxAttempts is exhausted or
// ctx is done.
func (s *Sequence) Next(ctx context.Context) (attempt Attempt, ok bool) {
	if s.next > s.profile.MaxAttempts {
		return Attempt{}, false
	}
	n := s.next
	delay := DelayFor(s.profile, n)
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Attempt{}, false
		case <-timer.C:
		}
	} else {
		select {
		case <-ctx.Done():
			return Attempt{}, false
		default:
		}
	}

	s.next++
	return Attempt{
		Number:  n,
		Delay:   delay,
		Timeout: TimeoutFor(s.profile, n),
	}, true
}

// Remaining reports how many attempts, including the next one, are left.
func (s *Sequence) Remaining() int {
	if s.next > s.profile.MaxAttempts {
		return 0
	}
	return s.profile.MaxAttempts - s.next + 1
}
