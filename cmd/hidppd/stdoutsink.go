package main

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/srg/hidppd/pkg/sink"
)

// jsonLineSink is the reference outbound consumer (spec §6): it encodes
// each Init/Update/Remove message as one JSON line to w. Wire encoding to
// the host tray UI is out of scope per spec §1; this is the CLI's own
// stand-in consumer for `run` and `probe`, not a component of the CORE.
type jsonLineSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newJSONLineSink(w io.Writer) *jsonLineSink {
	return &jsonLineSink{enc: json.NewEncoder(w)}
}

type sinkEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (s *jsonLineSink) Init(msg sink.InitMessage) {
	s.encode("init", msg)
}

func (s *jsonLineSink) Update(msg sink.UpdateMessage) {
	s.encode("update", msg)
}

func (s *jsonLineSink) Remove(msg sink.RemoveMessage) {
	s.encode("remove", msg)
}

func (s *jsonLineSink) encode(kind string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(sinkEnvelope{Type: kind, Data: data})
}
