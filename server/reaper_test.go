package server

import (
	"sync/atomic"
	"testing"
	"time"

	"arenasync/protocol"
)

func TestReapIdleKicksSilentConnections(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.ReapEvery = 0
	cfg.IdleTimeout = time.Minute
	s := newTestSession(t, cfg)

	var kicks [2]atomic.Int32
	outs := make([]*Outbox, 2)
	for i := range outs {
		id, _ := s.Admit()
		i := i
		outs[i] = NewOutbox(id, "", protocol.JSON, 8, func() { kicks[i].Add(1) })
		if _, err := s.Join(id, outs[i]); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	now := time.Now()
	outs[0].lastSeen.Store(now.Add(-2 * time.Minute).UnixNano())

	if n := s.reapIdle(now); n != 1 {
		t.Fatalf("reaped %d, want 1", n)
	}
	if kicks[0].Load() != 1 || kicks[1].Load() != 0 {
		t.Fatalf("kicks = %d, %d", kicks[0].Load(), kicks[1].Load())
	}
	if got := s.Metrics().Snapshot()["idle_kicks"]; got != int64(1) {
		t.Fatalf("idle_kicks = %v", got)
	}

	zero := "0s"
	if _, err := s.UpdateConfig(ConfigPatch{IdleTimeout: &zero}); err != nil {
		t.Fatalf("disable idle timeout: %v", err)
	}
	if n := s.reapIdle(now.Add(time.Hour)); n != 0 {
		t.Fatalf("reaped %d with the timeout off", n)
	}
}
