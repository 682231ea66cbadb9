package server

import (
	"time"

	"go.uber.org/multierr"
)

// EventKind names a state-changing session event.
type EventKind string

const (
	EventJoin  EventKind = "join"
	EventLeave EventKind = "leave"
	EventInput EventKind = "input"
)

// Event is one accepted change, in the order the session applied it.
type Event struct {
	At      time.Time `json:"at"`
	Session string    `json:"session"`
	Seq     uint64    `json:"seq"`
	Kind    EventKind `json:"kind"`
	ActorID ActorID   `json:"actor_id"`
	ConnID  string    `json:"conn_id,omitempty"`
	Codec   string    `json:"codec,omitempty"`
	Delta   Vec2      `json:"delta"`
	Speed   float64   `json:"speed,omitempty"`
	Bounds  *Bounds   `json:"bounds,omitempty"` // input only, nil when unbounded
	Pos     Vec2      `json:"pos"`
}

// EventSink receives events from inside the session's critical section, so
// Record must not block.
type EventSink interface {
	Record(ev Event)
	Close() error
}

type sinkList []EventSink

func (l sinkList) Record(ev Event) {
	for _, s := range l {
		s.Record(ev)
	}
}

func (l sinkList) Close() error {
	var err error
	for _, s := range l {
		err = multierr.Append(err, s.Close())
	}
	return err
}
