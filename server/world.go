package server

import (
	"errors"
	"sort"

	"arenasync/protocol"
)

// ErrRosterFull is returned when a fixed roster has no free paddle.
var ErrRosterFull = errors.New("roster full")

// World is the authoritative actor table of one session.
// It is not safe for concurrent use: Session serializes every call.
type World struct {
	roster RosterMode
	speed  float64
	spawn  Vec2
	bounds *Bounds
	actors map[ActorID]*Actor
}

// NewWorld creates an empty world, or one holding both paddles for a
// fixed roster.
func NewWorld(cfg SessionConfig) *World {
	w := &World{
		roster: cfg.Roster,
		spawn:  Vec2{X: cfg.SpawnX, Y: cfg.SpawnY},
		actors: make(map[ActorID]*Actor),
	}
	w.setRules(cfg)
	if w.roster == RosterFixed {
		w.actors[LeftPaddle] = &Actor{ID: LeftPaddle, Pos: Vec2{X: -cfg.PaddleX, Y: cfg.SpawnY}, Reserved: true}
		w.actors[RightPaddle] = &Actor{ID: RightPaddle, Pos: Vec2{X: cfg.PaddleX, Y: cfg.SpawnY}, Reserved: true}
	}
	return w
}

// setRules applies the hot-reloadable part of the config.
func (w *World) setRules(cfg SessionConfig) {
	w.speed = cfg.Speed
	w.bounds = nil
	if cfg.Bounds != nil {
		b := *cfg.Bounds
		w.bounds = &b
	}
}

// Join places an actor for id and returns its position. A fixed roster only
// accepts its reserved ids and never allocates; joining an existing id
// returns the existing actor.
func (w *World) Join(id ActorID) (Vec2, error) {
	if a, ok := w.actors[id]; ok {
		return a.Pos, nil
	}
	if w.roster == RosterFixed {
		return Vec2{}, ErrRosterFull
	}
	a := &Actor{ID: id, Pos: w.spawn}
	w.actors[id] = a
	return a.Pos, nil
}

// Apply integrates one control vector: pos += speed * delta.
// Returns false, leaving the world untouched, when id is not present.
func (w *World) Apply(id ActorID, delta Vec2) (Vec2, bool) {
	a, ok := w.actors[id]
	if !ok {
		return Vec2{}, false
	}
	if a.Reserved {
		// paddles slide vertically
		delta.X = 0
	}
	a.Pos = a.Pos.Add(delta.Scale(w.speed))
	if w.bounds != nil {
		a.Pos = w.bounds.clamp(a.Pos)
	}
	return a.Pos, true
}

// place moves an existing actor without integrating anything.
func (w *World) place(id ActorID, pos Vec2) bool {
	a, ok := w.actors[id]
	if !ok {
		return false
	}
	a.Pos = pos
	return true
}

// Leave removes a dynamic actor. Absent and reserved ids are a no-op.
func (w *World) Leave(id ActorID) bool {
	a, ok := w.actors[id]
	if !ok || a.Reserved {
		return false
	}
	delete(w.actors, id)
	return true
}

// Actor returns a copy of the actor.
func (w *World) Actor(id ActorID) (Actor, bool) {
	a, ok := w.actors[id]
	if !ok {
		return Actor{}, false
	}
	return *a, true
}

// Len is the number of actors.
func (w *World) Len() int { return len(w.actors) }

// IDs returns the actor ids in ascending order.
func (w *World) IDs() []ActorID {
	ids := make([]ActorID, 0, len(w.actors))
	for id := range w.actors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot copies the world into a GameState. The result shares no memory
// with the live actors.
func (w *World) Snapshot(seq uint64) *protocol.GameState {
	st := &protocol.GameState{
		Seq:    seq,
		Actors: make([]protocol.ActorState, 0, len(w.actors)),
	}
	for _, id := range w.IDs() {
		a := w.actors[id]
		st.Actors = append(st.Actors, protocol.ActorState{ActorID: int64(id), X: a.Pos.X, Y: a.Pos.Y})
	}
	if w.roster == RosterFixed {
		left, right := w.actors[LeftPaddle].Pos.Y, w.actors[RightPaddle].Pos.Y
		st.LeftY, st.RightY = &left, &right
	}
	return st
}
