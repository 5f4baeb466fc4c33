package kinematics

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
)

// Pose is a position on the field (metres) and a heading (CCW from the field
// X axis).  It's a value type; copies never alias.
type Pose struct {
	Translation r2.Point
	Heading     s1.Angle
}

func NewPose(x, y float64, heading s1.Angle) Pose {
	return Pose{Translation: r2.Point{X: x, Y: y}, Heading: heading.Normalized()}
}

func (p Pose) X() float64 { return p.Translation.X }
func (p Pose) Y() float64 { return p.Translation.Y }

func (p Pose) String() string {
	return fmt.Sprintf("(%.3f, %.3f) %.1f°", p.Translation.X, p.Translation.Y, p.Heading.Degrees())
}

// Twist is a motion along an arc in the robot's own frame: DX forward, DY
// left, DTheta radians CCW.
type Twist struct {
	DX, DY, DTheta float64
}

// Exp applies a twist to the pose, following the constant curvature arc it
// describes.  A zero twist returns p exactly, heading unnormalized.
func (p Pose) Exp(t Twist) Pose {
	if t == (Twist{}) {
		return p
	}
	sin, cos := math.Sincos(t.DTheta)
	var s, c float64
	if math.Abs(t.DTheta) < 1e-9 {
		s = 1 - t.DTheta*t.DTheta/6
		c = 0.5 * t.DTheta
	} else {
		s = sin / t.DTheta
		c = (1 - cos) / t.DTheta
	}
	local := r2.Point{X: t.DX*s - t.DY*c, Y: t.DX*c + t.DY*s}
	return Pose{
		Translation: p.Translation.Add(rotate(local, p.Heading)),
		Heading:     (p.Heading + s1.Angle(t.DTheta)).Normalized(),
	}
}

// Log returns the twist that takes p to end.  It is the inverse of Exp.
func (p Pose) Log(end Pose) Twist {
	rel := p.RelativeTo(end)
	dTheta := rel.Heading.Radians()
	halfDTheta := dTheta / 2
	cosMinusOne := math.Cos(dTheta) - 1

	var halfThetaByTanHalfDTheta float64
	if math.Abs(cosMinusOne) < 1e-9 {
		halfThetaByTanHalfDTheta = 1 - dTheta*dTheta/12
	} else {
		halfThetaByTanHalfDTheta = -(halfDTheta * math.Sin(dTheta)) / cosMinusOne
	}

	// Multiply the translation by (a - ib) as a complex number.
	a, b := halfThetaByTanHalfDTheta, -halfDTheta
	tx, ty := rel.Translation.X, rel.Translation.Y
	return Twist{
		DX:     tx*a - ty*b,
		DY:     tx*b + ty*a,
		DTheta: dTheta,
	}
}

// RelativeTo expresses end in the frame of p.
func (p Pose) RelativeTo(end Pose) Pose {
	return Pose{
		Translation: rotate(end.Translation.Sub(p.Translation), -p.Heading),
		Heading:     (end.Heading - p.Heading).Normalized(),
	}
}
