package mcl

import "math"

// Pose is a planar pose.
type Pose struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Yaw float64 `json:"yaw"`
}

// Compose returns a ⊕ b: b expressed in a's frame, moved into a's parent.
func Compose(a, b Pose) Pose {
	c, s := math.Cos(a.Yaw), math.Sin(a.Yaw)
	return Pose{
		X:   a.X + c*b.X - s*b.Y,
		Y:   a.Y + s*b.X + c*b.Y,
		Yaw: NormalizeAngle(a.Yaw + b.Yaw),
	}
}

// Inverse returns the pose p⁻¹ such that Compose(p, p⁻¹) is the identity.
func Inverse(p Pose) Pose {
	c, s := math.Cos(p.Yaw), math.Sin(p.Yaw)
	return Pose{
		X:   -c*p.X - s*p.Y,
		Y:   s*p.X - c*p.Y,
		Yaw: NormalizeAngle(-p.Yaw),
	}
}

// WrapAngle brings an angle back into (-π, π] with a single ±2π step. It is
// enough for per-step motion; anything still out of range (large noise
// draws) is normalised fully.
func WrapAngle(a float64) float64 {
	if a > math.Pi {
		a -= 2 * math.Pi
	} else if a <= -math.Pi {
		a += 2 * math.Pi
	}
	if a > math.Pi || a <= -math.Pi {
		return NormalizeAngle(a)
	}
	return a
}

// NormalizeAngle maps any finite angle into (-π, π].
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a > math.Pi {
		a -= 2 * math.Pi
	} else if a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
