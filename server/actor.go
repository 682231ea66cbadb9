package server

import (
	"math"
	"strconv"
)

// ActorID identifies an actor for the whole lifetime of its connection.
type ActorID int64

func (id ActorID) String() string { return strconv.FormatInt(int64(id), 10) }

// Reserved paddle ids of the fixed roster.
const (
	LeftPaddle  ActorID = 1
	RightPaddle ActorID = 2
)

// Vec2 is a 2D position or control vector.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec2) Add(o Vec2) Vec2      { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }
func (v Vec2) Scale(k float64) Vec2 { return Vec2{X: v.X * k, Y: v.Y * k} }
func (v Vec2) Len() float64         { return math.Hypot(v.X, v.Y) }
func isFinite(f float64) bool       { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// Actor is one controllable entity of the authoritative world.
type Actor struct {
	ID       ActorID
	Pos      Vec2
	Reserved bool // fixed-roster paddle, never removed
}
