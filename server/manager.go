package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrUnknownSession  = errors.New("unknown session")
	ErrTooManySessions = errors.New("too many sessions")
)

// SessionManager owns the named sessions and the event sinks they share.
type SessionManager struct {
	cfg   Config
	log   *zap.SugaredLogger
	sinks []EventSink

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewSessionManager creates the manager and its default session.
func NewSessionManager(cfg Config, log *zap.SugaredLogger, sinks ...EventSink) *SessionManager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	m := &SessionManager{
		cfg:      cfg,
		log:      log,
		sinks:    sinks,
		sessions: make(map[string]*Session),
	}
	_, _ = m.GetOrCreate(cfg.DefaultSession)
	return m
}

// Get returns an existing session. Empty name means the default session.
func (m *SessionManager) Get(name string) (*Session, error) {
	if name == "" {
		name = m.cfg.DefaultSession
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, name)
	}
	return s, nil
}

// GetOrCreate returns the named session, creating it with the configured
// session rules on first use.
func (m *SessionManager) GetOrCreate(name string) (*Session, error) {
	if name == "" {
		name = m.cfg.DefaultSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[name]; ok {
		return s, nil
	}
	if m.closed {
		return nil, ErrSessionClosed
	}
	if len(m.sessions) >= m.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}
	s := NewSession(name, m.cfg.Session, m.log, m.sinks...)
	m.sessions[name] = s
	m.log.Infow("session created", "session", name, "roster", m.cfg.Session.Roster)
	return s, nil
}

// List returns all sessions ordered by name.
func (m *SessionManager) List() []SessionInfo {
	m.mu.RLock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close shuts every session down. Connections leave on their own loops.
func (m *SessionManager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

// Shutdown closes every session and waits until all connections have left,
// so their leave events reach the sinks before those are closed.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.Close()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		left := 0
		for _, info := range m.List() {
			left += info.Members
		}
		if left == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("shutdown: %d connections still open: %w", left, ctx.Err())
		case <-ticker.C:
		}
	}
}
