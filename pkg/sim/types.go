package sim

import (
	"math"
	"strconv"
)

// Pos defines the position of the tool head in mm.
type Pos struct {
	X, Y, Z float64
}

// Add is a helper to add Pos.
func (p Pos) Add(p1 Pos) Pos {
	return Pos{X: p.X + p1.X, Y: p.Y + p1.Y, Z: p.Z + p1.Z}
}

// Sub is a helper to subtract Pos.
func (p Pos) Sub(p1 Pos) Pos {
	return Pos{X: p.X - p1.X, Y: p.Y - p1.Y, Z: p.Z - p1.Z}
}

// Scale multiplies every axis by f.
func (p Pos) Scale(f float64) Pos {
	return Pos{X: p.X * f, Y: p.Y * f, Z: p.Z * f}
}

// Length is the distance from origin.
func (p Pos) Length() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

// String formats like M114 output.
func (p Pos) String() string {
	return "X:" + formatMM(p.X) + " Y:" + formatMM(p.Y) + " Z:" + formatMM(p.Z)
}

func formatMM(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
