package kinematics

import (
	"fmt"
	"math"

	"github.com/golang/geo/s1"
)

// Module indexes, in the order every [4] array in this repo uses.
const (
	FrontLeft = iota
	FrontRight
	BackLeft
	BackRight

	NumModules
)

var ModuleNames = [NumModules]string{"front-left", "front-right", "back-left", "back-right"}

// ModuleState is a wheel's signed linear speed (m/s) and steering angle.
type ModuleState struct {
	Speed float64
	Angle s1.Angle
}

func (s ModuleState) String() string {
	return fmt.Sprintf("%.3fm/s @ %.1f°", s.Speed, s.Angle.Degrees())
}

// ModulePosition is the cumulative distance a wheel has rolled (m) and its
// current steering angle.
type ModulePosition struct {
	Distance float64
	Angle    s1.Angle
}

func (p ModulePosition) String() string {
	return fmt.Sprintf("%.3fm @ %.1f°", p.Distance, p.Angle.Degrees())
}

// Optimize picks whichever of the target angle and the target plus 180° is
// closer to the current angle, negating the speed for the latter, so the
// module never turns more than 90° for a new command.
func Optimize(desired ModuleState, current s1.Angle) ModuleState {
	delta := (desired.Angle - current).Normalized()
	if math.Abs(delta.Radians()) > math.Pi/2 {
		return ModuleState{
			Speed: -desired.Speed,
			Angle: (desired.Angle + math.Pi).Normalized(),
		}
	}
	return ModuleState{Speed: desired.Speed, Angle: desired.Angle.Normalized()}
}
