// Package diagnostics implements the bounded in-memory log tail the
// external crash-log writer drains (spec §1's "crash-log feed", wire
// format out of scope). It attaches to the daemon's logger as a
// logrus.Hook and keeps the last N formatted lines in a drop-oldest ring
// buffer, the same primitive internal/respqueue uses for response frames.
package diagnostics

import (
	"strings"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
)

// Tail is a fixed-capacity, drop-oldest buffer of formatted log lines.
type Tail struct {
	buf mpmc.RichOverlappedRingBuffer[string]
}

// NewTail creates a Tail retaining at most capacity lines (spec §6
// logging.maxLines). capacity <= 0 is treated as 1.
func NewTail(capacity int) *Tail {
	if capacity <= 0 {
		capacity = 1
	}
	return &Tail{buf: mpmc.NewOverlappedRingBuffer[string](capacity)}
}

// Levels implements logrus.Hook: the tail records every level so the
// crash-log feed can reconstruct what led up to a failure.
func (t *Tail) Levels() []logrus.Level { return logrus.AllLevels }

// Fire implements logrus.Hook, formatting and buffering one log entry.
func (t *Tail) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	_, _ = t.buf.EnqueueM(strings.TrimRight(line, "\n"))
	return nil
}

// Drain removes and returns every line currently buffered, oldest first.
// Intended to be called periodically by the host's crash-log writer.
func (t *Tail) Drain() []string {
	var lines []string
	for {
		line, err := t.buf.Dequeue()
		if err != nil {
			break
		}
		lines = append(lines, line)
	}
	return lines
}

// IsEmpty reports whether the tail currently holds no lines.
func (t *Tail) IsEmpty() bool { return t.buf.IsEmpty() }
