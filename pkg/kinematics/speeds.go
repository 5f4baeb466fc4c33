package kinematics

import (
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
)

// ChassisSpeeds is a planar velocity: metres per second along X (forward) and
// Y (left), radians per second counter-clockwise about the chassis centre.
// Whether it is field or robot relative depends on the call it's passed to.
type ChassisSpeeds struct {
	VX, VY, Omega float64
}

func (c ChassisSpeeds) String() string {
	return fmt.Sprintf("vx=%.3f vy=%.3f ω=%.3f", c.VX, c.VY, c.Omega)
}

// Times scales all three components.
func (c ChassisSpeeds) Times(k float64) ChassisSpeeds {
	return ChassisSpeeds{VX: c.VX * k, VY: c.VY * k, Omega: c.Omega * k}
}

func (c ChassisSpeeds) IsZero() bool {
	return c.VX == 0 && c.VY == 0 && c.Omega == 0
}

// FromFieldRelative converts a field relative command into the robot frame
// by rotating the translation by -heading.
func FromFieldRelative(field ChassisSpeeds, heading s1.Angle) ChassisSpeeds {
	v := rotate(r2.Point{X: field.VX, Y: field.VY}, -heading)
	return ChassisSpeeds{VX: v.X, VY: v.Y, Omega: field.Omega}
}

// Discretize corrects a continuous command for being held constant over one
// control period.  The command is treated as the pose delta we want after dt;
// the returned speeds are the constant twist that actually reaches that pose,
// which removes the drift sideways when translating and rotating together.
func Discretize(speeds ChassisSpeeds, dt time.Duration) ChassisSpeeds {
	secs := dt.Seconds()
	if secs <= 0 {
		return speeds
	}
	target := Pose{
		Translation: r2.Point{X: speeds.VX * secs, Y: speeds.VY * secs},
		Heading:     s1.Angle(speeds.Omega * secs),
	}
	twist := Pose{}.Log(target)
	return ChassisSpeeds{
		VX:    twist.DX / secs,
		VY:    twist.DY / secs,
		Omega: twist.DTheta / secs,
	}
}

func rotate(p r2.Point, a s1.Angle) r2.Point {
	sin, cos := math.Sincos(a.Radians())
	return r2.Point{X: p.X*cos - p.Y*sin, Y: p.X*sin + p.Y*cos}
}
