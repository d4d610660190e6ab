package transport

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/srg/hidppd/internal/hidpp"
)

// Pair bundles the SHORT and LONG endpoints the host opens for one
// receiver/device pairing (spec §4.6: "a freshly bound pair of endpoints").
// Either endpoint can carry any frame; callers pick SHORT unless a LONG
// frame is being sent.
type Pair struct {
	Short *Endpoint
	Long  *Endpoint
}

// NewPair wires both endpoints to the same frame/close callbacks so the
// router sees a single merged stream regardless of which endpoint produced
// a frame.
func NewPair(shortHandle, longHandle Handle, logger *logrus.Logger, onFrame func(hidpp.Frame), onClosed func(endpoint string, err error)) *Pair {
	return &Pair{
		Short: New("short", hidpp.ShortSize, shortHandle, logger, onFrame, func(err error) { onClosed("short", err) }),
		Long:  New("long", hidpp.LongSize, longHandle, logger, onFrame, func(err error) { onClosed("long", err) }),
	}
}

// Start launches both reader goroutines.
func (p *Pair) Start(ctx context.Context) {
	p.Short.Start(ctx)
	p.Long.Start(ctx)
}

// Write sends a frame on the endpoint matching its size.
func (p *Pair) Write(frame hidpp.Frame) error {
	if frame.Size() == hidpp.LongSize {
		return p.Long.Write(frame)
	}
	return p.Short.Write(frame)
}

// Dispose tears down both endpoints.
func (p *Pair) Dispose() {
	p.Short.Dispose()
	p.Long.Dispose()
}
