package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"arenasync/protocol"
)

// ErrSessionClosed is returned when joining a session that is shutting down.
var ErrSessionClosed = errors.New("session closed")

// Session owns one authoritative world and the connections playing in it.
// A single mutex guards the world, the registry and the broadcast sequence;
// every mutation and its broadcast happen inside the same critical section,
// so each snapshot reflects some total order of the accepted events.
type Session struct {
	ID      string
	log     *zap.SugaredLogger
	metrics *Metrics
	sinks   sinkList

	mu       sync.Mutex
	cfg      SessionConfig
	world    *World
	registry *Registry
	seq      uint64
	closed   bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewSession creates a session and starts its idle reaper.
func NewSession(id string, cfg SessionConfig, log *zap.SugaredLogger, sinks ...EventSink) *Session {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Session{
		ID:       id,
		log:      log.Named("session").With("session", id),
		metrics:  &Metrics{},
		sinks:    sinks,
		cfg:      cfg,
		world:    NewWorld(cfg),
		registry: NewRegistry(cfg.Roster),
		stop:     make(chan struct{}),
	}
	s.startReaper()
	return s
}

// Metrics exposes the session counters.
func (s *Session) Metrics() *Metrics { return s.metrics }

// Admit assigns an identity for a connection that is about to join.
func (s *Session) Admit() (ActorID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSessionClosed
	}
	return s.registry.AssignIdentity()
}

// Release gives back an admitted identity that never joined.
func (s *Session) Release(id ActorID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registry.Lookup(id); !ok {
		s.registry.Release(id)
	}
}

// Join creates the actor, registers its outbox and broadcasts the post-join
// snapshot to every member, the new one included.
func (s *Session) Join(id ActorID, out *Outbox) (Vec2, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.registry.Release(id)
		return Vec2{}, ErrSessionClosed
	}
	if _, dup := s.registry.Lookup(id); dup {
		return Vec2{}, fmt.Errorf("actor %d already joined", id)
	}
	pos, err := s.world.Join(id)
	if err != nil {
		s.registry.Release(id)
		return Vec2{}, err
	}
	out.policy = s.cfg.Overflow
	s.registry.Register(id, out)
	s.metrics.IncJoin()

	seq := s.broadcastLocked()
	s.sinks.Record(Event{
		At: time.Now().UTC(), Session: s.ID, Seq: seq, Kind: EventJoin,
		ActorID: id, ConnID: out.ConnID, Codec: out.Codec().Name(), Pos: pos,
	})
	return pos, nil
}

// Apply validates a control input and integrates it into the world. It
// returns false without broadcasting when the actor does not exist.
func (s *Session) Apply(in protocol.ControlInput) (bool, error) {
	delta, err := ControlDelta(in)
	if err != nil {
		s.metrics.IncMalformed()
		return false, err
	}
	id := ActorID(in.ActorID)

	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.world.Apply(id, delta)
	if !ok {
		s.metrics.IncUnknownActor()
		return false, nil
	}
	s.metrics.IncAccepted()

	seq := s.broadcastLocked()
	s.sinks.Record(Event{
		At: time.Now().UTC(), Session: s.ID, Seq: seq, Kind: EventInput,
		ActorID: id, Delta: delta, Speed: s.cfg.Speed, Bounds: s.cfg.Bounds, Pos: pos,
	})
	return true, nil
}

// Leave removes the actor and its outbox and broadcasts the post-leave
// snapshot to the remaining members. A second call for the same id finds
// nothing to remove and does nothing.
func (s *Session) Leave(id ActorID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, registered := s.registry.Deregister(id)
	removed := s.world.Leave(id)
	if !registered && !removed {
		return false
	}
	s.metrics.IncLeave()

	seq := s.broadcastLocked()
	ev := Event{At: time.Now().UTC(), Session: s.ID, Seq: seq, Kind: EventLeave, ActorID: id}
	if out != nil {
		ev.ConnID = out.ConnID
	}
	s.sinks.Record(ev)
	return true
}

// broadcastLocked takes one snapshot, encodes it once per codec in use and
// pushes it to every registered outbox. Returns the snapshot's sequence.
func (s *Session) broadcastLocked() uint64 {
	start := time.Now()
	s.seq++
	st := s.world.Snapshot(s.seq)

	frames := make(map[string][]byte, 2)
	for _, out := range s.registry.Targets() {
		codec := out.Codec()
		b, ok := frames[codec.Name()]
		if !ok {
			var err error
			if b, err = codec.Encode(st); err != nil {
				s.log.Errorw("encode snapshot", "codec", codec.Name(), "error", err)
				continue
			}
			frames[codec.Name()] = b
		}
		switch out.push(b) {
		case pushDropped:
			s.metrics.IncFramesDropped()
		case pushKicked:
			s.metrics.IncOverflowKick()
			s.log.Infow("outbound queue full, disconnecting", "actor", out.ID, "conn", out.ConnID)
		}
	}
	s.metrics.AddBroadcast(time.Since(start).Nanoseconds())
	return s.seq
}

// Snapshot returns a copy of the current state carrying the sequence of the
// last broadcast.
func (s *Session) Snapshot() *protocol.GameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.world.Snapshot(s.seq)
}

// Members returns the ids of the registered connections.
func (s *Session) Members() []ActorID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.IDs()
}

// SessionInfo is the listing entry of a session.
type SessionInfo struct {
	ID      string     `json:"id"`
	Roster  RosterMode `json:"roster"`
	Members int        `json:"members"`
	Actors  int        `json:"actors"`
	Seq     uint64     `json:"seq"`
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:      s.ID,
		Roster:  s.cfg.Roster,
		Members: s.registry.Len(),
		Actors:  s.world.Len(),
		Seq:     s.seq,
	}
}

// Config returns the current rules.
func (s *Session) Config() SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// ConfigPatch is a partial update of the hot-reloadable rules.
type ConfigPatch struct {
	Speed       *float64        `json:"speed,omitempty"`
	Overflow    *OverflowPolicy `json:"overflow,omitempty"`
	IdleTimeout *string         `json:"idle_timeout,omitempty"`
	Bounds      *Bounds         `json:"bounds,omitempty"`
	ClearBounds bool            `json:"clear_bounds,omitempty"`
}

// UpdateConfig applies a patch under the session lock. The roster cannot be
// changed on a live session.
func (s *Session) UpdateConfig(p ConfigPatch) (SessionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg
	if p.Speed != nil {
		next.Speed = *p.Speed
	}
	if p.Overflow != nil {
		next.Overflow = *p.Overflow
	}
	if p.IdleTimeout != nil {
		d, err := time.ParseDuration(*p.IdleTimeout)
		if err != nil {
			return s.cfg, fmt.Errorf("idle_timeout: %w", err)
		}
		next.IdleTimeout = d
	}
	if p.ClearBounds {
		next.Bounds = nil
	} else if p.Bounds != nil {
		b := *p.Bounds
		next.Bounds = &b
	}
	if err := next.Validate(); err != nil {
		return s.cfg, err
	}

	s.cfg = next
	s.world.setRules(next)
	for _, out := range s.registry.Targets() {
		out.policy = next.Overflow
	}
	s.log.Infow("config updated", "speed", next.Speed, "overflow", next.Overflow, "idle_timeout", next.IdleTimeout)
	return next, nil
}

// Close stops accepting joins and force-closes every connection. Each
// connection then leaves through its own ingestion loop.
func (s *Session) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, out := range s.registry.Targets() {
		out.Kick()
	}
}
