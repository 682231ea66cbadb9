package server

import (
	"sync/atomic"
)

// Metrics records per-session counters for monitoring and debugging.
type Metrics struct {
	Joins          int64
	Leaves         int64
	InputsAccepted int64
	Malformed      int64 // rejected by validation
	NotOwner       int64 // input for someone else's actor
	UnknownActor   int64 // input for an actor that is gone
	Broadcasts     int64
	FramesDropped  int64 // evicted by drop_oldest
	OverflowKicks  int64 // disconnected by the disconnect policy
	IdleKicks      int64
	TotalBcastNs   int64
}

func (m *Metrics) IncJoin()          { atomic.AddInt64(&m.Joins, 1) }
func (m *Metrics) IncLeave()         { atomic.AddInt64(&m.Leaves, 1) }
func (m *Metrics) IncAccepted()      { atomic.AddInt64(&m.InputsAccepted, 1) }
func (m *Metrics) IncMalformed()     { atomic.AddInt64(&m.Malformed, 1) }
func (m *Metrics) IncNotOwner()      { atomic.AddInt64(&m.NotOwner, 1) }
func (m *Metrics) IncUnknownActor()  { atomic.AddInt64(&m.UnknownActor, 1) }
func (m *Metrics) IncFramesDropped() { atomic.AddInt64(&m.FramesDropped, 1) }
func (m *Metrics) IncOverflowKick()  { atomic.AddInt64(&m.OverflowKicks, 1) }
func (m *Metrics) IncIdleKick()      { atomic.AddInt64(&m.IdleKicks, 1) }
func (m *Metrics) AddBroadcast(ns int64) {
	atomic.AddInt64(&m.Broadcasts, 1)
	atomic.AddInt64(&m.TotalBcastNs, ns)
}

// Snapshot returns a read-only copy for HTTP output.
func (m *Metrics) Snapshot() map[string]any {
	n := atomic.LoadInt64(&m.Broadcasts)
	total := atomic.LoadInt64(&m.TotalBcastNs)
	var avgMs float64
	if n > 0 {
		avgMs = float64(total) / float64(n) / 1e6
	}
	return map[string]any{
		"joins":            atomic.LoadInt64(&m.Joins),
		"leaves":           atomic.LoadInt64(&m.Leaves),
		"inputs_accepted":  atomic.LoadInt64(&m.InputsAccepted),
		"inputs_malformed": atomic.LoadInt64(&m.Malformed),
		"inputs_not_owner": atomic.LoadInt64(&m.NotOwner),
		"inputs_unknown":   atomic.LoadInt64(&m.UnknownActor),
		"broadcasts":       n,
		"frames_dropped":   atomic.LoadInt64(&m.FramesDropped),
		"overflow_kicks":   atomic.LoadInt64(&m.OverflowKicks),
		"idle_kicks":       atomic.LoadInt64(&m.IdleKicks),
		"avg_broadcast_ms": avgMs,
	}
}
