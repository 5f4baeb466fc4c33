package swervemodule

import "github.com/pkg/errors"

// ErrNotReady is returned by sensors that haven't produced a valid reading
// yet, for example an absolute encoder with no magnet detected.
var ErrNotReady = errors.New("sensor not ready")

type IdleMode int

const (
	Brake IdleMode = iota
	Coast
)

func (m IdleMode) String() string {
	if m == Coast {
		return "coast"
	}
	return "brake"
}

// Motor is a motor controller with an integrated encoder.
type Motor interface {
	// Position is the shaft position in rotations since the last reset.
	Position() (float64, error)
	// Velocity is the shaft speed in RPM.
	Velocity() (float64, error)
	// Set sets the duty cycle, -1 to 1.
	Set(duty float64) error
	ResetPosition() error
	SetIdleMode(mode IdleMode) error
}

// AbsoluteEncoder reads the steering angle, in radians in [0, 2π), before
// the module's offset is applied.
type AbsoluteEncoder interface {
	Angle() (float64, error)
}
