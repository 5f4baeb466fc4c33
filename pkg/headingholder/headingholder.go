package headingholder

import (
	"math"
	"time"

	"github.com/tigerbot-team/swervebot/pkg/headingholder/angle"
	"github.com/tigerbot-team/swervebot/pkg/pid"
)

// settleIterations is how many consecutive cycles the heading has to stay
// within tolerance (or stop changing) before a rotation counts as done.
const settleIterations = 7

// HeadingHolder turns the chassis to a target heading.  It's stepped from
// the control loop: each Update takes the current heading and returns the
// rotation rate to command.
type HeadingHolder struct {
	pid       *pid.Controller
	tolerance float64
	period    time.Duration

	target         angle.PlusMinus180
	lastError      float64
	iterationsNear int
}

// New creates a holder.  gains act on the heading error in radians and
// produce rad/s; tolerance is in degrees.
func New(gains pid.Gains, tolerance float64, period time.Duration) *HeadingHolder {
	p := pid.New(gains)
	p.EnableContinuousInput(-math.Pi, math.Pi)
	return &HeadingHolder{
		pid:       p,
		tolerance: tolerance,
		period:    period,
	}
}

// SetTarget starts a new rotation to heading degrees.
func (h *HeadingHolder) SetTarget(heading float64) {
	h.target = angle.FromFloat(heading)
	h.pid.Reset()
	h.lastError = 0
	h.iterationsNear = 0
}

// SetGains changes the gains without disturbing a rotation in progress.
func (h *HeadingHolder) SetGains(gains pid.Gains) {
	h.pid.Gains = gains
}

func (h *HeadingHolder) Target() angle.PlusMinus180 {
	return h.target
}

// Update returns the rotation rate (rad/s, CCW positive) that moves the
// chassis from current towards the target.
func (h *HeadingHolder) Update(current angle.PlusMinus180) float64 {
	angleError := h.target.Sub(current).Float()

	deltaMagnitude := 5.0
	if h.lastError != 0 {
		deltaMagnitude = math.Abs(h.lastError - angleError)
	}
	if math.Abs(angleError) < h.tolerance ||
		angleError > 0 && h.lastError < 0 ||
		angleError < 0 && h.lastError > 0 ||
		deltaMagnitude < 0.1 {
		h.iterationsNear++
	} else {
		h.iterationsNear = 0
	}
	h.lastError = angleError

	return h.pid.Calculate(current.Angle().Radians(), h.target.Angle().Radians(), h.period)
}

// Settled is true once the heading has stayed near the target for long
// enough.
func (h *HeadingHolder) Settled() bool {
	return h.iterationsNear > settleIterations
}

// Error is the heading error, in degrees, seen by the last Update.
func (h *HeadingHolder) Error() float64 {
	return h.lastError
}
