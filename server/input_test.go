package server

import (
	"errors"
	"math"
	"testing"

	"arenasync/protocol"
)

func TestControlDelta(t *testing.T) {
	d := 1 / math.Sqrt2
	cases := []struct {
		name string
		in   protocol.ControlInput
		want Vec2
	}{
		{"idle", protocol.ControlInput{}, Vec2{}},
		{"right", protocol.ControlInput{DX: 1}, Vec2{X: 1}},
		{"partial", protocol.ControlInput{DY: -0.5}, Vec2{Y: -0.5}},
		{"diagonal", protocol.ControlInput{DX: 1, DY: 1}, Vec2{X: d, Y: d}},
		{"diagonal mixed", protocol.ControlInput{DX: -1, DY: 1}, Vec2{X: -d, Y: d}},
		{"up", protocol.ControlInput{Direction: protocol.DirectionUp}, Vec2{Y: 1}},
		{"down", protocol.ControlInput{Direction: protocol.DirectionDown}, Vec2{Y: -1}},
	}
	for _, tc := range cases {
		got, err := ControlDelta(tc.in)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if math.Abs(got.X-tc.want.X) > 1e-12 || math.Abs(got.Y-tc.want.Y) > 1e-12 {
			t.Fatalf("%s: got %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestControlDeltaDiagonalIsUnitLength(t *testing.T) {
	got, err := ControlDelta(protocol.ControlInput{DX: 1, DY: -1})
	if err != nil {
		t.Fatalf("diagonal: %v", err)
	}
	if math.Abs(got.Len()-1) > 1e-12 {
		t.Fatalf("diagonal length = %v, want 1", got.Len())
	}
	if math.Abs(got.X-0.7071) > 1e-4 {
		t.Fatalf("diagonal x = %v, want ~0.7071", got.X)
	}
}

func TestControlDeltaRejects(t *testing.T) {
	cases := []struct {
		name string
		in   protocol.ControlInput
	}{
		{"nan", protocol.ControlInput{DX: math.NaN()}},
		{"inf", protocol.ControlInput{DY: math.Inf(1)}},
		{"too large", protocol.ControlInput{DX: 1.5}},
		{"too small", protocol.ControlInput{DY: -2}},
		{"direction with vector", protocol.ControlInput{Direction: protocol.DirectionUp, DX: 1}},
		{"unknown direction", protocol.ControlInput{Direction: protocol.Direction(9)}},
	}
	for _, tc := range cases {
		if _, err := ControlDelta(tc.in); !errors.Is(err, ErrMalformedInput) {
			t.Fatalf("%s: err=%v, want ErrMalformedInput", tc.name, err)
		}
	}
}
