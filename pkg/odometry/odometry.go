package odometry

import (
	"github.com/golang/geo/s1"

	"github.com/tigerbot-team/swervebot/pkg/kinematics"
)

// Odometry dead-reckons the chassis pose from wheel distances and the gyro.
// Heading comes straight from the gyro; the wheels only supply translation.
type Odometry struct {
	kinematics *kinematics.Kinematics

	pose          kinematics.Pose
	lastGyro      s1.Angle
	lastPositions [kinematics.NumModules]kinematics.ModulePosition
}

// New starts tracking from initial.  heading and positions are the current
// gyro and wheel readings, which become the baseline for the first Update.
func New(
	k *kinematics.Kinematics,
	heading s1.Angle,
	positions [kinematics.NumModules]kinematics.ModulePosition,
	initial kinematics.Pose,
) *Odometry {
	o := &Odometry{kinematics: k}
	o.ResetPosition(heading, positions, initial)
	return o
}

// ResetPosition rebases the estimate so that the current readings correspond
// to pose.
func (o *Odometry) ResetPosition(
	heading s1.Angle,
	positions [kinematics.NumModules]kinematics.ModulePosition,
	pose kinematics.Pose,
) {
	o.pose = pose
	o.lastGyro = heading
	o.lastPositions = positions
}

// Update integrates the movement since the previous call and returns the new
// pose.
func (o *Odometry) Update(heading s1.Angle, positions [kinematics.NumModules]kinematics.ModulePosition) kinematics.Pose {
	dTheta := (heading - o.lastGyro).Normalized()

	var deltas [kinematics.NumModules]kinematics.ModulePosition
	for i, p := range positions {
		deltas[i] = kinematics.ModulePosition{
			Distance: p.Distance - o.lastPositions[i].Distance,
			Angle:    p.Angle,
		}
	}

	twist := o.kinematics.ToTwist(deltas)
	twist.DTheta = dTheta.Radians()

	o.pose = o.pose.Exp(twist)
	o.lastGyro = heading
	o.lastPositions = positions
	return o.pose
}

func (o *Odometry) Pose() kinematics.Pose {
	return o.pose
}
