package hardware

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/swervebot/pkg/chassis"
	"github.com/tigerbot-team/swervebot/pkg/headingholder/angle"
	"github.com/tigerbot-team/swervebot/pkg/kinematics"
	"github.com/tigerbot-team/swervebot/pkg/swervemodule"
)

const (
	// steerFreeRPM is a NEO's free speed.
	steerFreeRPM = 5676

	simBatteryVolts = 12.6
	// simSagVolts is the drop at full duty on all eight motors.
	simSagVolts = 1.5
)

// Sim is a kinematic model of the chassis: motors reach the speed their duty
// cycle asks for instantly, encoders follow the steering motors, and the
// gyro integrates the rotation the wheels produce.
type Sim struct {
	cfg        chassis.Config
	kinematics *kinematics.Kinematics

	lock    sync.Mutex
	drive   [kinematics.NumModules]*SimMotor
	steer   [kinematics.NumModules]*SimMotor
	encoder [kinematics.NumModules]*SimEncoder
	gyro    *SimGyro
	pose    kinematics.Pose
}

// NewSim builds hardware backed by a Sim.  Call Sim.Step to advance it, or
// Start to have it step itself once per control period.
func NewSim(cfg chassis.Config, log golog.Logger) (*Hardware, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	k, err := kinematics.New(cfg.Offsets())
	if err != nil {
		return nil, err
	}
	sim := &Sim{cfg: cfg, kinematics: k, gyro: &SimGyro{}}
	h := &Hardware{log: log, Sim: sim, Gyro: sim.gyro, Voltage: sim}

	for i := range h.Modules {
		mcfg := cfg.Module(i)
		// Full duty on the drive motor is full chassis speed.
		sim.drive[i] = &SimMotor{freeRPM: mcfg.MaxSpeed / mcfg.DriveVelocityFactor()}
		sim.steer[i] = &SimMotor{freeRPM: steerFreeRPM}
		sim.encoder[i] = &SimEncoder{}
		sim.encoder[i].set(mcfg.Offset)

		h.Modules[i], err = swervemodule.New(mcfg, sim.drive[i], sim.steer[i], sim.encoder[i],
			log.Named(kinematics.ModuleNames[i]))
		if err != nil {
			return nil, err
		}
	}
	h.loops = append(h.loops, sim.loop)
	return h, nil
}

func (s *Sim) loop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Step(s.cfg.Period)
		}
	}
}

// Step advances the model by dt.
func (s *Sim) Step(dt time.Duration) {
	s.lock.Lock()
	defer s.lock.Unlock()

	secs := dt.Seconds()
	var deltas [kinematics.NumModules]kinematics.ModulePosition
	for i := range s.drive {
		mcfg := s.cfg.Module(i)
		driveSign, steerSign := 1.0, 1.0
		if mcfg.DriveInverted {
			driveSign = -1
		}
		if mcfg.SteerInverted {
			steerSign = -1
		}

		steerTurned := s.steer[i].step(secs)
		wheelAngle := s.wheelAngle(i) + steerSign*steerTurned*mcfg.SteerPositionFactor()
		s.encoder[i].set(wheelAngle + mcfg.Offset)

		driveTurned := s.drive[i].step(secs)
		deltas[i] = kinematics.ModulePosition{
			Distance: driveSign * driveTurned * mcfg.DrivePositionFactor(),
			Angle:    s1.Angle(wheelAngle),
		}
	}

	twist := s.kinematics.ToTwist(deltas)
	s.pose = s.pose.Exp(twist)
	s.gyro.turn(twist.DTheta * 180 / math.Pi)
}

func (s *Sim) wheelAngle(i int) float64 {
	raw, _ := s.encoder[i].value()
	return raw - s.cfg.Module(i).Offset
}

// Pose is where the chassis really is, from the field origin it started at.
func (s *Sim) Pose() kinematics.Pose {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.pose
}

func (s *Sim) Encoder(i int) *SimEncoder { return s.encoder[i] }
func (s *Sim) DriveMotor(i int) *SimMotor { return s.drive[i] }
func (s *Sim) SteerMotor(i int) *SimMotor { return s.steer[i] }
func (s *Sim) Gyro() *SimGyro             { return s.gyro }

// BusVoltage sags with the total duty cycle of all the motors.
func (s *Sim) BusVoltage() (float64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	var load float64
	for i := range s.drive {
		load += math.Abs(s.drive[i].Duty()) + math.Abs(s.steer[i].Duty())
	}
	return simBatteryVolts - simSagVolts*load/(2*kinematics.NumModules), nil
}

// SimMotor implements swervemodule.Motor.
type SimMotor struct {
	freeRPM float64

	lock      sync.Mutex
	duty      float64
	rpm       float64
	rotations float64
	idle      swervemodule.IdleMode
	err       error
}

var _ swervemodule.Motor = (*SimMotor)(nil)

// step returns how many rotations the motor made in secs.
func (m *SimMotor) step(secs float64) float64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.rpm = m.duty * m.freeRPM
	turned := m.rpm / 60 * secs
	m.rotations += turned
	return turned
}

// Fail makes reads return err until called again with nil.
func (m *SimMotor) Fail(err error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.err = err
}

func (m *SimMotor) Position() (float64, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.rotations, m.err
}

func (m *SimMotor) Velocity() (float64, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.rpm, m.err
}

func (m *SimMotor) Set(duty float64) error {
	if math.IsNaN(duty) {
		return errors.New("NaN duty cycle")
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.duty = math.Max(-1, math.Min(1, duty))
	return nil
}

func (m *SimMotor) Duty() float64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.duty
}

func (m *SimMotor) ResetPosition() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.rotations = 0
	return nil
}

func (m *SimMotor) SetIdleMode(mode swervemodule.IdleMode) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.idle = mode
	return nil
}

func (m *SimMotor) IdleMode() swervemodule.IdleMode {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.idle
}

// SimEncoder implements swervemodule.AbsoluteEncoder.
type SimEncoder struct {
	lock  sync.Mutex
	angle float64
	err   error
}

func (e *SimEncoder) set(a float64) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.angle = math.Mod(a, 2*math.Pi)
	if e.angle < 0 {
		e.angle += 2 * math.Pi
	}
}

func (e *SimEncoder) value() (float64, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.angle, nil
}

// Fail makes Angle return err until called again with nil.
func (e *SimEncoder) Fail(err error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.err = err
}

func (e *SimEncoder) Angle() (float64, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.err != nil {
		return 0, e.err
	}
	return e.angle, nil
}

// SimGyro implements swervedrive.HeadingSensor.
type SimGyro struct {
	lock       sync.Mutex
	cumulative float64
	zero       float64
	err        error
}

func (g *SimGyro) turn(degrees float64) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.cumulative += degrees
}

// Fail makes Angle and Reset return err until called again with nil.
func (g *SimGyro) Fail(err error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.err = err
}

func (g *SimGyro) Angle() (float64, error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.err != nil {
		return 0, g.err
	}
	return g.cumulative - g.zero, nil
}

func (g *SimGyro) Reset() error {
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.err != nil {
		return g.err
	}
	g.zero = g.cumulative
	return nil
}

// Heading is the true heading, in [-180, 180), ignoring the zero.
func (g *SimGyro) Heading() float64 {
	g.lock.Lock()
	defer g.lock.Unlock()
	return angle.Heading(g.cumulative)
}
