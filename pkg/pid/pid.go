package pid

import (
	"math"
	"time"
)

// Gains configures a Controller.  MaxIntegral and MaxOutput of zero mean
// unbounded.
type Gains struct {
	P           float64 `yaml:"p"`
	I           float64 `yaml:"i"`
	D           float64 `yaml:"d"`
	MaxIntegral float64 `yaml:"max_integral"`
	MaxOutput   float64 `yaml:"max_output"`
}

// Controller is a PID loop stepped once per control cycle.  It isn't safe for
// concurrent use; each wheel module and the heading holder own their own.
type Controller struct {
	Gains Gains

	continuous         bool
	minInput, maxInput float64

	integral  float64
	lastError float64
	primed    bool
}

func New(gains Gains) *Controller {
	return &Controller{Gains: gains}
}

// EnableContinuousInput treats min and max as the same point, so the error is
// always taken the short way round.  Used for angles.
func (c *Controller) EnableContinuousInput(min, max float64) {
	c.continuous = true
	c.minInput = min
	c.maxInput = max
}

// Calculate returns the output for one step of length dt.
func (c *Controller) Calculate(measurement, setpoint float64, dt time.Duration) float64 {
	err := setpoint - measurement
	if c.continuous {
		err = c.wrap(err)
	}
	secs := dt.Seconds()

	var derivative float64
	if c.primed && secs > 0 {
		derivative = (err - c.lastError) / secs
	}
	c.lastError = err
	c.primed = true

	if c.Gains.I != 0 && secs > 0 {
		c.integral = clamp(c.integral+err*secs, c.Gains.MaxIntegral)
	}

	out := c.Gains.P*err + c.Gains.I*c.integral + c.Gains.D*derivative
	return clamp(out, c.Gains.MaxOutput)
}

// LastError is the (wrapped) error seen by the most recent Calculate.
func (c *Controller) LastError() float64 {
	return c.lastError
}

// Reset clears the integral and derivative history.
func (c *Controller) Reset() {
	c.integral = 0
	c.lastError = 0
	c.primed = false
}

func (c *Controller) wrap(err float64) float64 {
	span := c.maxInput - c.minInput
	if span <= 0 {
		return err
	}
	half := span / 2
	err = math.Mod(err+half, span)
	if err < 0 {
		err += span
	}
	return err - half
}

func clamp(v, limit float64) float64 {
	if limit <= 0 {
		return v
	}
	if v > limit {
		return limit
	} else if v < -limit {
		return -limit
	}
	return v
}
