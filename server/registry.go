package server

import "sort"

// Registry maps actor ids to outbound handles and hands out identities.
// Like World it relies on the session lock.
type Registry struct {
	roster  RosterMode
	nextID  ActorID
	claimed map[ActorID]bool // fixed roster: reserved slots in use
	targets map[ActorID]*Outbox
}

func NewRegistry(roster RosterMode) *Registry {
	return &Registry{
		roster:  roster,
		claimed: make(map[ActorID]bool),
		targets: make(map[ActorID]*Outbox),
	}
}

// AssignIdentity returns the id for a new connection. Dynamic ids come from
// a counter that never goes back, so an id is never reused even after leave.
// Fixed rosters hand out the lowest free paddle, or ErrRosterFull.
func (r *Registry) AssignIdentity() (ActorID, error) {
	if r.roster == RosterFixed {
		for _, id := range []ActorID{LeftPaddle, RightPaddle} {
			if !r.claimed[id] {
				r.claimed[id] = true
				return id, nil
			}
		}
		return 0, ErrRosterFull
	}
	id := r.nextID
	r.nextID++
	return id, nil
}

// Release frees a fixed-roster slot. Dynamic ids are never returned.
func (r *Registry) Release(id ActorID) {
	delete(r.claimed, id)
}

// Register attaches the outbound handle for id.
func (r *Registry) Register(id ActorID, out *Outbox) {
	r.targets[id] = out
}

// Deregister detaches id and closes its outbox. Returns false if id was not
// registered.
func (r *Registry) Deregister(id ActorID) (*Outbox, bool) {
	out, ok := r.targets[id]
	if !ok {
		return nil, false
	}
	delete(r.targets, id)
	r.Release(id)
	out.close()
	return out, true
}

// Lookup returns the outbox registered for id.
func (r *Registry) Lookup(id ActorID) (*Outbox, bool) {
	out, ok := r.targets[id]
	return out, ok
}

// Targets returns the registered outboxes ordered by actor id.
func (r *Registry) Targets() []*Outbox {
	out := make([]*Outbox, 0, len(r.targets))
	for _, id := range r.IDs() {
		out = append(out, r.targets[id])
	}
	return out
}

// IDs returns the registered actor ids in ascending order.
func (r *Registry) IDs() []ActorID {
	ids := make([]ActorID, 0, len(r.targets))
	for id := range r.targets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) Len() int { return len(r.targets) }
