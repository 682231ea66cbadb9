package server

import "time"

// startReaper runs the idle check every ReapEvery. The timeout itself is
// read on each pass, so it can be switched on and off at runtime; zero keeps
// silent connections forever.
func (s *Session) startReaper() {
	every := s.cfg.ReapEvery
	if every <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case now := <-ticker.C:
				s.reapIdle(now)
			}
		}
	}()
}

// reapIdle kicks connections with no inbound traffic for longer than the
// idle timeout. Returns how many were kicked.
func (s *Session) reapIdle(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	timeout := s.cfg.IdleTimeout
	if timeout <= 0 {
		return 0
	}
	n := 0
	for _, out := range s.registry.Targets() {
		if out.IdleFor(now) > timeout {
			out.Kick()
			s.metrics.IncIdleKick()
			s.log.Infow("idle connection kicked", "actor", out.ID, "conn", out.ConnID, "idle", out.IdleFor(now))
			n++
		}
	}
	return n
}
