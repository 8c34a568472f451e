package internal

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Stats counts what went through the coordinator. Read by the exit log line.
type Stats struct {
	inbound          atomic.Uint64
	outbound         atomic.Uint64
	droppedMalformed atomic.Uint64
	droppedStale     atomic.Uint64
	droppedUngated   atomic.Uint64
}

func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) IncInbound() {
	s.inbound.Add(1)
}

func (s *Stats) IncOutbound() {
	s.outbound.Add(1)
}

func (s *Stats) IncMalformed() {
	s.droppedMalformed.Add(1)
}

func (s *Stats) IncStale() {
	s.droppedStale.Add(1)
}

func (s *Stats) IncUngated() {
	s.droppedUngated.Add(1)
}

// Snapshot returns the counters keyed the same way they are logged.
func (s *Stats) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"inbound_total":     s.inbound.Load(),
		"outbound_total":    s.outbound.Load(),
		"dropped_malformed": s.droppedMalformed.Load(),
		"dropped_stale":     s.droppedStale.Load(),
		"dropped_ungated":   s.droppedUngated.Load(),
	}
}

// MarshalZerologObject lets the counters ride on a single log event.
func (s *Stats) MarshalZerologObject(e *zerolog.Event) {
	for key, value := range s.Snapshot() {
		e.Uint64(key, value)
	}
}
