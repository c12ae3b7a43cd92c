package game

import "math"

// Clamp returns v limited to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NormalizeAxis maps a raw input axis onto the unit disk. Each component is
// first clamped to [-1, 1]; a vector longer than 1 is scaled down so
// diagonals cannot exceed unit input.
func NormalizeAxis(ax, az float64) (float64, float64) {
	ax = Clamp(ax, -1.0, 1.0)
	az = Clamp(az, -1.0, 1.0)
	magSq := ax*ax + az*az
	if magSq <= 1.0 {
		return ax, az
	}
	mag := math.Sqrt(magSq)
	return ax / mag, az / mag
}

// MoveConstraints bundles the movement policy for a world. MaxAccel is
// consumed by the integrator, not by ApplyMoveConstraints itself.
type MoveConstraints struct {
	MaxSpeed float64
	MaxAccel float64
	MinX     float64
	MaxX     float64
	MinZ     float64
	MaxZ     float64
}

// MoveFlags reports which clamps fired during constraint evaluation.
type MoveFlags struct {
	SpeedClamped bool
	XClamped     bool
	ZClamped     bool
}

// Any reports whether any clamp fired.
func (f MoveFlags) Any() bool {
	return f.SpeedClamped || f.XClamped || f.ZClamped
}

// ApplyMoveConstraints clamps velocity to the maximum speed and position to
// the world rectangle. A position clamp on an axis zeroes the velocity on
// that axis so a player cannot grind against the boundary.
func ApplyMoveConstraints(x, z, vx, vz float64, c MoveConstraints) (float64, float64, float64, float64, MoveFlags) {
	var flags MoveFlags

	maxV := math.Max(0, c.MaxSpeed)
	vx2 := Clamp(vx, -maxV, maxV)
	vz2 := Clamp(vz, -maxV, maxV)
	if vx2 != vx || vz2 != vz {
		flags.SpeedClamped = true
	}

	x2 := Clamp(x, c.MinX, c.MaxX)
	z2 := Clamp(z, c.MinZ, c.MaxZ)
	if x2 != x {
		flags.XClamped = true
		vx2 = 0
	}
	if z2 != z {
		flags.ZClamped = true
		vz2 = 0
	}

	return x2, z2, vx2, vz2, flags
}
