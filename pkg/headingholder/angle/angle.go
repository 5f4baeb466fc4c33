package angle

import (
	"math"

	"github.com/golang/geo/s1"
)

// PlusMinus180 is an angle in degrees, stored as a value in range (-180, 180].
// All operations clamp their output into range.
type PlusMinus180 struct {
	float64
}

func (a PlusMinus180) Add(b PlusMinus180) PlusMinus180 {
	return FromFloat(a.float64 + b.float64)
}

func (a PlusMinus180) Sub(b PlusMinus180) PlusMinus180 {
	return FromFloat(a.float64 - b.float64)
}

func (a PlusMinus180) AddFloat(f float64) PlusMinus180 {
	return FromFloat(a.float64 + f)
}

func (a PlusMinus180) SubFloat(f float64) PlusMinus180 {
	return FromFloat(a.float64 - f)
}

// Float returns the angle in degrees, range (-180, 180].
func (a PlusMinus180) Float() float64 {
	return a.float64
}

// Angle converts to an s1.Angle in radians.
func (a PlusMinus180) Angle() s1.Angle {
	return s1.Angle(a.float64) * s1.Degree
}

// FromFloat converts a float of any magnitude to a PlusMinus180 by calculating
// f mod 360 and shifting into range.
func FromFloat(f float64) PlusMinus180 {
	d := math.Mod(f, 360)
	if d <= -180 {
		d += 360
	} else if d > 180 {
		d -= 360
	}
	return PlusMinus180{d}
}

// FromAngle converts an s1.Angle of any magnitude.
func FromAngle(a s1.Angle) PlusMinus180 {
	return FromFloat(a.Degrees())
}

// Heading wraps a cumulative gyro reading (degrees, any magnitude) into
// [-180, 180) using the IEEE remainder.  Exactly +180 maps to -180 so the
// range is half open.
func Heading(cumulativeDegrees float64) float64 {
	h := math.Remainder(cumulativeDegrees, 360)
	if h >= 180 {
		h -= 360
	}
	return h
}

// Wrap normalises an angle in radians into (-π, π].
func Wrap(a s1.Angle) s1.Angle {
	return a.Normalized()
}
