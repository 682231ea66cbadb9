package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed marks an inbound frame that could not be decoded or validated.
// The connection stays open; the frame is dropped.
var ErrMalformed = errors.New("protocol: malformed message")

// Direction is the discrete control used by the fixed two-paddle roster.
type Direction int32

const (
	DirectionNone Direction = iota
	DirectionUp
	DirectionDown
)

func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "up"
	case DirectionDown:
		return "down"
	default:
		return "none"
	}
}

// Sign is the unit step along the y axis: +1 up, -1 down, 0 otherwise.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionUp:
		return 1
	case DirectionDown:
		return -1
	default:
		return 0
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "", "none":
		*d = DirectionNone
	case "up":
		*d = DirectionUp
	case "down":
		*d = DirectionDown
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrMalformed, string(b))
	}
	return nil
}

// Message is the closed set of payloads an Envelope can carry:
// *ControlInput (client to server) and *GameState (server to client).
type Message interface {
	isMessage()
}

// ControlInput is a client's movement request for one actor.
// Either Direction is set, or DX/DY carry a continuous vector in [-1, 1].
type ControlInput struct {
	ActorID   int64     `json:"actor_id" msgpack:"actor_id" jsonschema:"minimum=0"`
	Direction Direction `json:"direction,omitempty" msgpack:"direction,omitempty"`
	DX        float64   `json:"dx,omitempty" msgpack:"dx,omitempty" jsonschema:"minimum=-1,maximum=1"`
	DY        float64   `json:"dy,omitempty" msgpack:"dy,omitempty" jsonschema:"minimum=-1,maximum=1"`
}

// ActorState is one actor inside a GameState.
type ActorState struct {
	ActorID int64   `json:"actor_id" msgpack:"actor_id"`
	X       float64 `json:"x" msgpack:"x"`
	Y       float64 `json:"y" msgpack:"y"`
}

// GameState is the full snapshot of a session's world.
// LeftY/RightY are only set for the fixed two-paddle roster.
type GameState struct {
	Seq    uint64       `json:"seq" msgpack:"seq"`
	Actors []ActorState `json:"actors" msgpack:"actors"`
	LeftY  *float64     `json:"left_y,omitempty" msgpack:"left_y,omitempty"`
	RightY *float64     `json:"right_y,omitempty" msgpack:"right_y,omitempty"`
}

func (*ControlInput) isMessage() {}
func (*GameState) isMessage()    {}

// Actor returns the actor with the given id, if present.
func (s *GameState) Actor(id int64) (ActorState, bool) {
	for _, a := range s.Actors {
		if a.ActorID == id {
			return a, true
		}
	}
	return ActorState{}, false
}

// Envelope is the wire form of a Message: exactly one field is set.
type Envelope struct {
	ControlInput *ControlInput `json:"control_input,omitempty" msgpack:"control_input,omitempty"`
	GameState    *GameState    `json:"game_state,omitempty" msgpack:"game_state,omitempty"`
}

// Wrap puts a message into its envelope.
func Wrap(m Message) Envelope {
	switch v := m.(type) {
	case *ControlInput:
		return Envelope{ControlInput: v}
	case *GameState:
		return Envelope{GameState: v}
	}
	return Envelope{}
}

// Unwrap returns the single payload of the envelope.
func (e Envelope) Unwrap() (Message, error) {
	switch {
	case e.ControlInput != nil && e.GameState != nil:
		return nil, fmt.Errorf("%w: envelope carries both payloads", ErrMalformed)
	case e.ControlInput != nil:
		return e.ControlInput, nil
	case e.GameState != nil:
		return e.GameState, nil
	}
	return nil, fmt.Errorf("%w: empty envelope", ErrMalformed)
}
