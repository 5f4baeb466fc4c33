package kinematics

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// maxCondition bounds the condition number of the normal matrix.  Anything
// above this is a footprint too small or too degenerate to solve reliably.
const maxCondition = 1e10

var ErrDegenerateGeometry = errors.New("degenerate module geometry")

// Kinematics converts between chassis speeds and the four module states for a
// fixed module layout.  It holds no state other than the geometry, which can't
// be changed after New.
type Kinematics struct {
	offsets [NumModules]r2.Point

	// inverse is the least-squares pseudo-inverse of the matrix mapping
	// [vx vy ω] to the stacked module vectors [v0x v0y v1x v1y ...].
	inverse *mat.Dense
}

// New validates the module offsets (metres from the chassis centre, X
// forward, Y left) and precomputes the inverse transform.
func New(offsets [NumModules]r2.Point) (*Kinematics, error) {
	for i, o := range offsets {
		if math.IsNaN(o.X) || math.IsNaN(o.Y) || math.IsInf(o.X, 0) || math.IsInf(o.Y, 0) {
			return nil, errors.Wrapf(ErrDegenerateGeometry, "%s offset %v is not finite", ModuleNames[i], o)
		}
		for j := 0; j < i; j++ {
			if o.Sub(offsets[j]).Norm() < 1e-6 {
				return nil, errors.Wrapf(ErrDegenerateGeometry, "%s and %s modules coincide at %v",
					ModuleNames[j], ModuleNames[i], o)
			}
		}
	}

	data := make([]float64, 0, 2*NumModules*3)
	for _, o := range offsets {
		data = append(data,
			1, 0, -o.Y,
			0, 1, o.X,
		)
	}
	forward := mat.NewDense(2*NumModules, 3, data)

	var normal mat.Dense
	normal.Mul(forward.T(), forward)
	if c := mat.Cond(&normal, 2); c > maxCondition || math.IsInf(c, 0) {
		return nil, errors.Wrapf(ErrDegenerateGeometry, "normal matrix is ill-conditioned (cond=%g)", c)
	}
	var normalInv mat.Dense
	if err := normalInv.Inverse(&normal); err != nil {
		return nil, errors.Wrap(ErrDegenerateGeometry, err.Error())
	}
	inverse := mat.NewDense(3, 2*NumModules, nil)
	inverse.Mul(&normalInv, forward.T())

	return &Kinematics{
		offsets: offsets,
		inverse: inverse,
	}, nil
}

// Offsets returns a copy of the module layout.
func (k *Kinematics) Offsets() [NumModules]r2.Point {
	return k.offsets
}

// ToModuleStates computes each module's velocity as the chassis translation
// plus the tangential velocity from rotation about the centre.  A module whose
// velocity comes out exactly zero keeps the angle in hold, normally the last
// angle it was commanded to, so the wheels don't snap back to 0° when idle.
func (k *Kinematics) ToModuleStates(speeds ChassisSpeeds, hold [NumModules]s1.Angle) (states [NumModules]ModuleState) {
	for i, o := range k.offsets {
		vx := speeds.VX - speeds.Omega*o.Y
		vy := speeds.VY + speeds.Omega*o.X
		if vx == 0 && vy == 0 {
			states[i] = ModuleState{Speed: 0, Angle: hold[i]}
			continue
		}
		states[i] = ModuleState{
			Speed: math.Hypot(vx, vy),
			Angle: s1.Angle(math.Atan2(vy, vx)),
		}
	}
	return
}

// ToChassisSpeeds is the least-squares inverse of ToModuleStates.  With
// inconsistent module vectors (slip, noise) it returns the chassis velocity
// that best explains them.
func (k *Kinematics) ToChassisSpeeds(states [NumModules]ModuleState) ChassisSpeeds {
	var vecs [2 * NumModules]float64
	for i, s := range states {
		sin, cos := math.Sincos(s.Angle.Radians())
		vecs[2*i] = s.Speed * cos
		vecs[2*i+1] = s.Speed * sin
	}
	x := k.solve(vecs)
	return ChassisSpeeds{VX: x[0], VY: x[1], Omega: x[2]}
}

// ToTwist turns per-module distance deltas into the chassis motion that best
// explains them.  Each delta's angle should be the module's current angle.
func (k *Kinematics) ToTwist(deltas [NumModules]ModulePosition) Twist {
	var vecs [2 * NumModules]float64
	for i, d := range deltas {
		sin, cos := math.Sincos(d.Angle.Radians())
		vecs[2*i] = d.Distance * cos
		vecs[2*i+1] = d.Distance * sin
	}
	x := k.solve(vecs)
	return Twist{DX: x[0], DY: x[1], DTheta: x[2]}
}

func (k *Kinematics) solve(vecs [2 * NumModules]float64) (x [3]float64) {
	var out mat.VecDense
	out.MulVec(k.inverse, mat.NewVecDense(len(vecs), vecs[:]))
	for i := range x {
		x[i] = out.AtVec(i)
	}
	return
}

// Desaturate scales every module speed by the same factor so none exceeds
// max.  Angles and the ratios between speeds are untouched; if nothing is
// over the limit the states are left alone.
func Desaturate(states *[NumModules]ModuleState, max float64) {
	if max < 0 {
		max = 0
	}
	var realMax float64
	for _, s := range states {
		realMax = math.Max(realMax, math.Abs(s.Speed))
	}
	if realMax <= max {
		return
	}
	scale := max / realMax
	for i := range states {
		states[i].Speed *= scale
	}
}
