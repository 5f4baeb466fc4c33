package swervedrive

import (
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/swervebot/pkg/kinematics"
)

// ZeroHeading makes the current heading zero and starts accepting drive
// commands.  The pose keeps its position and takes the new heading.
func (s *SwerveDrive) ZeroHeading() error {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()

	err := s.gyro.Reset()
	if err != nil {
		// Carry on from the old zero.
		s.log.Errorw("failed to zero gyro", "error", err)
		err = errors.Wrap(err, "failed to zero gyro")
	}
	heading := s.rotation()
	s.odometry.ResetPosition(heading, s.modulePositions(),
		kinematics.Pose{Translation: s.pose.Translation, Heading: heading})
	s.pose = s.odometry.Pose()

	if !s.zeroed {
		s.log.Infow("heading zeroed, accepting drive commands", "heading", s.heading())
	}
	s.zeroed = true
	return err
}

// ZeroHeadingAfter zeroes the heading once, after the gyro has had settle to
// stabilise.  Drive is refused until then.  The returned func cancels it if
// it hasn't run yet.
func (s *SwerveDrive) ZeroHeadingAfter(settle time.Duration) (cancel func()) {
	timer := time.AfterFunc(settle, func() {
		_ = s.ZeroHeading()
	})
	return func() { timer.Stop() }
}

// Ready is true once the heading has been zeroed and the drive isn't
// disabled.
func (s *SwerveDrive) Ready() bool {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()
	return s.zeroed && !s.disabled
}
