package main

import (
	"errors"
	"os"
	"time"
)

// fileHandle opens a HID report device node (e.g. a Linux hidraw path) as a
// plain file and adapts it to transport.Handle. Device discovery, platform
// hotplug, and raw transport open/close are explicitly out of scope for the
// daemon's CORE per spec §1 ("a byte-level capability the daemon consumes,
// not defines") - fileHandle is the CLI's own thin shim for supplying one on
// a Linux host, not a core component, which is why it leans on os.File
// rather than a corpus transport library.
type fileHandle struct {
	f *os.File
}

// openFileHandle opens path for reading and writing.
func openFileHandle(path string) (*fileHandle, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &fileHandle{f: f}, nil
}

// Write implements transport.Handle.
func (h *fileHandle) Write(frame []byte) error {
	_, err := h.f.Write(frame)
	return err
}

// Read implements transport.Handle. It sets a per-call read deadline where
// the underlying device supports one; devices that don't (some hidraw
// drivers) fall back to a blocking read, in which case the caller's poll
// timeout is only advisory.
func (h *fileHandle) Read(buf []byte, timeout time.Duration) (int, error) {
	if err := h.f.SetReadDeadline(time.Now().Add(timeout)); err != nil && !errors.Is(err, os.ErrNoDeadline) {
		return 0, err
	}
	n, err := h.f.Read(buf)
	if err != nil {
		if os.IsTimeout(err) {
			return 0, nil
		}
		return n, err
	}
	return n, nil
}

// Close implements transport.Handle.
func (h *fileHandle) Close() error {
	return h.f.Close()
}
