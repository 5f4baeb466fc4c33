package odometry

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"

	"github.com/tigerbot-team/swervebot/pkg/kinematics"
)

func newKinematics(t *testing.T) *kinematics.Kinematics {
	t.Helper()
	k, err := kinematics.New([kinematics.NumModules]r2.Point{
		{X: 0.3, Y: 0.3}, {X: 0.3, Y: -0.3}, {X: -0.3, Y: 0.3}, {X: -0.3, Y: -0.3},
	})
	if err != nil {
		t.Fatalf("kinematics.New failed: %v", err)
	}
	return k
}

func uniform(distance float64, angle s1.Angle) (p [kinematics.NumModules]kinematics.ModulePosition) {
	for i := range p {
		p[i] = kinematics.ModulePosition{Distance: distance, Angle: angle}
	}
	return
}

func expectPose(t *testing.T, actual kinematics.Pose, x, y, headingDeg float64) {
	t.Helper()
	if math.Abs(actual.X()-x) > 1e-9 || math.Abs(actual.Y()-y) > 1e-9 ||
		math.Abs((actual.Heading-s1.Angle(headingDeg)*s1.Degree).Normalized().Degrees()) > 1e-9 {
		t.Errorf("pose %v, expected (%.3f, %.3f) %.1f°", actual, x, y, headingDeg)
	}
}

func TestStraightLine(t *testing.T) {
	o := New(newKinematics(t), 0, uniform(0, 0), kinematics.Pose{})
	for i := 1; i <= 10; i++ {
		o.Update(0, uniform(0.1*float64(i), 0))
	}
	expectPose(t, o.Pose(), 1, 0, 0)
}

func TestStraightLineAlongInitialHeading(t *testing.T) {
	start := kinematics.NewPose(1, 1, 30*s1.Degree)
	o := New(newKinematics(t), 0, uniform(0, 0), start)
	o.Update(0, uniform(2, 0))
	expectPose(t, o.Pose(), 1+2*math.Cos(math.Pi/6), 1+2*math.Sin(math.Pi/6), 30)
}

func TestNoMovementNoChange(t *testing.T) {
	for _, heading := range []s1.Angle{0, 1, -2.5, math.Pi} {
		start := kinematics.NewPose(0.5, -0.5, 0.2)
		o := New(newKinematics(t), heading, uniform(3, 0.7), start)
		for i := 0; i < 5; i++ {
			o.Update(heading, uniform(3, 0.7))
		}
		expectPose(t, o.Pose(), 0.5, -0.5, 0.2*180/math.Pi)
	}
}

func TestResetThenStillReturnsResetPose(t *testing.T) {
	o := New(newKinematics(t), 0, uniform(0, 0), kinematics.Pose{})
	o.Update(0.3, uniform(1, 0.2))

	target := kinematics.NewPose(4, 2, -1)
	o.ResetPosition(0.3, uniform(1, 0.2), target)
	got := o.Update(0.3, uniform(1, 0.2))
	if got != target {
		t.Errorf("expected exactly %v after reset, got %v", target, got)
	}
}

func TestStillKeepsUnnormalizedPose(t *testing.T) {
	for _, target := range []kinematics.Pose{
		{Translation: r2.Point{X: 1, Y: 2}, Heading: -math.Pi},
		{Translation: r2.Point{X: -3, Y: 0.5}, Heading: 3 * math.Pi},
	} {
		o := New(newKinematics(t), 0.4, uniform(2, 0), target)
		if got := o.Update(0.4, uniform(2, 0)); got != target {
			t.Errorf("expected exactly %v while still, got %v", target, got)
		}
	}
}

func TestHeadingFollowsGyro(t *testing.T) {
	// Field heading is 90° while the gyro reads 0.
	o := New(newKinematics(t), 0, uniform(0, 0), kinematics.NewPose(0, 0, math.Pi/2))
	o.Update(0.25, uniform(0, 0))
	expectPose(t, o.Pose(), 0, 0, 90+0.25*180/math.Pi)

	// Driving "forward" in robot frame now moves along field +Y (roughly).
	o = New(newKinematics(t), 0, uniform(0, 0), kinematics.NewPose(0, 0, math.Pi/2))
	o.Update(0, uniform(1, 0))
	expectPose(t, o.Pose(), 0, 1, 90)
}

func TestStrafe(t *testing.T) {
	o := New(newKinematics(t), 0, uniform(0, math.Pi/2), kinematics.Pose{})
	o.Update(0, uniform(0.5, math.Pi/2))
	expectPose(t, o.Pose(), 0, 0.5, 0)
}

func TestArc(t *testing.T) {
	// Turning a quarter circle of radius 1 while the wheels report 1 m/s
	// forward: the gyro supplies the rotation.
	o := New(newKinematics(t), 0, uniform(0, 0), kinematics.Pose{})
	o.Update(math.Pi/2, uniform(math.Pi/2, 0))
	expectPose(t, o.Pose(), 1, 1, 90)
}
