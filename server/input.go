package server

import (
	"errors"
	"fmt"
	"math"

	"arenasync/protocol"
)

var (
	// ErrMalformedInput covers out-of-range, non-finite or contradictory controls.
	ErrMalformedInput = errors.New("malformed control input")
	// ErrNotOwner is a control input naming an actor the connection does not own.
	ErrNotOwner = errors.New("control input for a foreign actor")
)

// ControlDelta interprets a control input as a control vector.
// A direction is a unit step along y. Otherwise dx and dy must each lie in
// [-1, 1]; when both are non-zero each is divided by √2 so a full diagonal
// has unit length.
func ControlDelta(in protocol.ControlInput) (Vec2, error) {
	if !isFinite(in.DX) || !isFinite(in.DY) {
		return Vec2{}, fmt.Errorf("%w: non-finite vector (%v, %v)", ErrMalformedInput, in.DX, in.DY)
	}
	switch in.Direction {
	case protocol.DirectionNone:
	case protocol.DirectionUp, protocol.DirectionDown:
		if in.DX != 0 || in.DY != 0 {
			return Vec2{}, fmt.Errorf("%w: direction combined with a vector", ErrMalformedInput)
		}
		return Vec2{Y: in.Direction.Sign()}, nil
	default:
		return Vec2{}, fmt.Errorf("%w: unknown direction %d", ErrMalformedInput, in.Direction)
	}
	if math.Abs(in.DX) > 1 || math.Abs(in.DY) > 1 {
		return Vec2{}, fmt.Errorf("%w: vector (%v, %v) outside [-1, 1]", ErrMalformedInput, in.DX, in.DY)
	}
	d := Vec2{X: in.DX, Y: in.DY}
	if d.X != 0 && d.Y != 0 {
		d = d.Scale(1 / math.Sqrt2)
	}
	return d, nil
}
