package swervemodule

import (
	"math"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/swervebot/pkg/headingholder/angle"
	"github.com/tigerbot-team/swervebot/pkg/kinematics"
	"github.com/tigerbot-team/swervebot/pkg/pid"
)

type Config struct {
	Name string

	// Gear ratios are output rotations per motor rotation, e.g. 1/6.75.
	DriveGearRatio float64
	SteerGearRatio float64
	WheelDiameter  float64 // metres

	// Offset is subtracted from the absolute encoder reading so that 0 is
	// the wheel pointing straight ahead.
	Offset        float64
	DriveInverted bool
	SteerInverted bool

	SteerPID pid.Gains
	DrivePID pid.Gains
	// MaxSpeed (m/s) maps to full duty in the drive feedforward.
	MaxSpeed float64

	Period time.Duration
}

func (c Config) Validate() error {
	if c.DriveGearRatio <= 0 || c.SteerGearRatio <= 0 {
		return errors.Errorf("%s: gear ratios must be positive", c.Name)
	}
	if c.WheelDiameter <= 0 {
		return errors.Errorf("%s: wheel diameter must be positive", c.Name)
	}
	if c.MaxSpeed <= 0 {
		return errors.Errorf("%s: max speed must be positive", c.Name)
	}
	if c.Period <= 0 {
		return errors.Errorf("%s: control period must be positive", c.Name)
	}
	return nil
}

// DrivePositionFactor converts drive motor rotations to metres.
func (c Config) DrivePositionFactor() float64 {
	return c.DriveGearRatio * math.Pi * c.WheelDiameter
}

// DriveVelocityFactor converts drive motor RPM to m/s.
func (c Config) DriveVelocityFactor() float64 {
	return c.DrivePositionFactor() / 60
}

// SteerPositionFactor converts steering motor rotations to radians.
func (c Config) SteerPositionFactor() float64 {
	return c.SteerGearRatio * 2 * math.Pi
}

type sensor int

const (
	angleSensor sensor = iota
	drivePositionSensor
	driveVelocitySensor
	numSensors
)

var sensorNames = [numSensors]string{"absolute-encoder", "drive-position", "drive-velocity"}

// Module is one steered and driven wheel.  It is only ever used from the
// control loop so it does no locking of its own.
type Module struct {
	cfg     Config
	log     golog.Logger
	drive   Motor
	steer   Motor
	encoder AbsoluteEncoder

	steerPID *pid.Controller
	drivePID *pid.Controller

	// Last good readings, used while a sensor is faulted.
	angle         s1.Angle
	drivePosition float64
	driveVelocity float64
	faulted       [numSensors]bool

	desired     kinematics.ModuleState
	writeErrors int
}

func New(cfg Config, drive, steer Motor, encoder AbsoluteEncoder, log golog.Logger) (*Module, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Module{
		cfg:      cfg,
		log:      log,
		drive:    drive,
		steer:    steer,
		encoder:  encoder,
		steerPID: pid.New(cfg.SteerPID),
		drivePID: pid.New(cfg.DrivePID),
	}
	m.steerPID.EnableContinuousInput(-math.Pi, math.Pi)
	m.desired.Angle = m.RotatePosition()
	return m, nil
}

func (m *Module) Name() string {
	return m.cfg.Name
}

// DrivePosition is the distance the wheel has rolled in metres.
func (m *Module) DrivePosition() float64 {
	rotations, err := m.drive.Position()
	if m.noteRead(drivePositionSensor, err) {
		m.drivePosition = m.driveSign() * rotations * m.cfg.DrivePositionFactor()
	}
	return m.drivePosition
}

// DriveVelocity is the wheel's linear speed in m/s.
func (m *Module) DriveVelocity() float64 {
	rpm, err := m.drive.Velocity()
	if m.noteRead(driveVelocitySensor, err) {
		m.driveVelocity = m.driveSign() * rpm * m.cfg.DriveVelocityFactor()
	}
	return m.driveVelocity
}

// RotatePosition is the steering angle with the offset removed, in (-π, π].
func (m *Module) RotatePosition() s1.Angle {
	raw, err := m.encoder.Angle()
	if err == nil && (math.IsNaN(raw) || math.IsInf(raw, 0)) {
		err = errors.Errorf("absolute encoder returned %v", raw)
	}
	if m.noteRead(angleSensor, err) {
		m.angle = angle.Wrap(s1.Angle(raw - m.cfg.Offset))
	}
	return m.angle
}

// RawAbsoluteAngle returns the encoder reading with no offset applied, for
// calibrating Offset.
func (m *Module) RawAbsoluteAngle() (float64, error) {
	return m.encoder.Angle()
}

func (m *Module) State() kinematics.ModuleState {
	return kinematics.ModuleState{Speed: m.DriveVelocity(), Angle: m.RotatePosition()}
}

func (m *Module) Position() kinematics.ModulePosition {
	return kinematics.ModulePosition{Distance: m.DrivePosition(), Angle: m.RotatePosition()}
}

// Desired is the most recent state passed to SetDesiredState, after
// optimization.
func (m *Module) Desired() kinematics.ModuleState {
	return m.desired
}

// Degraded is true while any of the module's sensors is failing.
func (m *Module) Degraded() bool {
	for _, f := range m.faulted {
		if f {
			return true
		}
	}
	return false
}

// WriteErrors counts failed actuator writes since construction.
func (m *Module) WriteErrors() int {
	return m.writeErrors
}

// SetDesiredState steers towards the target angle the short way round and
// drives at the target speed.  While a sensor is failing the drive output is
// zero; with no steering angle the steering motor is released too.
func (m *Module) SetDesiredState(state kinematics.ModuleState) {
	current := m.RotatePosition()
	velocity := m.DriveVelocity()
	m.DrivePosition()

	opt := kinematics.Optimize(state, current)
	m.desired = opt

	steerDuty := m.steerPID.Calculate(current.Radians(), opt.Angle.Radians(), m.cfg.Period)
	driveDuty := opt.Speed/m.cfg.MaxSpeed + m.drivePID.Calculate(velocity, opt.Speed, m.cfg.Period)

	if m.faulted[angleSensor] {
		steerDuty = 0
		m.steerPID.Reset()
	}
	if m.Degraded() {
		driveDuty = 0
		m.drivePID.Reset()
	}

	m.setDuty(m.steer, "steer", m.steerSign()*clampDuty(steerDuty))
	m.setDuty(m.drive, "drive", m.driveSign()*clampDuty(driveDuty))
}

// SetSteerGains retunes the steering loop.
func (m *Module) SetSteerGains(gains pid.Gains) {
	m.steerPID.Gains = gains
}

// SteerGains returns the gains the steering loop is currently using.
func (m *Module) SteerGains() pid.Gains {
	return m.steerPID.Gains
}

// Stop cuts both motors without changing the remembered target angle.
func (m *Module) Stop() {
	m.setDuty(m.drive, "drive", 0)
	m.setDuty(m.steer, "steer", 0)
	m.desired.Speed = 0
	m.drivePID.Reset()
	m.steerPID.Reset()
}

// ResetEncoder zeroes both motors' integrated encoders.
func (m *Module) ResetEncoder() error {
	if err := m.drive.ResetPosition(); err != nil {
		return errors.Wrapf(err, "%s: failed to reset drive encoder", m.cfg.Name)
	}
	if err := m.steer.ResetPosition(); err != nil {
		return errors.Wrapf(err, "%s: failed to reset steering encoder", m.cfg.Name)
	}
	m.drivePosition = 0
	return nil
}

func (m *Module) SetBrakeMode() {
	m.setIdleMode(Brake)
}

func (m *Module) SetCoastMode() {
	m.setIdleMode(Coast)
}

func (m *Module) setIdleMode(mode IdleMode) {
	for _, motor := range []Motor{m.drive, m.steer} {
		if err := motor.SetIdleMode(mode); err != nil {
			m.writeErrors++
			m.log.Errorw("failed to set idle mode", "module", m.cfg.Name, "mode", mode, "error", err)
		}
	}
}

func (m *Module) setDuty(motor Motor, which string, duty float64) {
	if err := motor.Set(duty); err != nil {
		m.writeErrors++
		m.log.Errorw("failed to set duty cycle", "module", m.cfg.Name, "motor", which, "duty", duty, "error", err)
	}
}

// noteRead records whether a sensor read worked, logging transitions into and
// out of the fault state.  It returns true if the reading can be used.
func (m *Module) noteRead(s sensor, err error) bool {
	if err != nil {
		if !m.faulted[s] {
			m.faulted[s] = true
			m.log.Warnw("sensor fault, using last good value",
				"module", m.cfg.Name, "sensor", sensorNames[s], "error", err)
		}
		return false
	}
	if m.faulted[s] {
		m.faulted[s] = false
		m.log.Infow("sensor recovered", "module", m.cfg.Name, "sensor", sensorNames[s])
	}
	return true
}

func (m *Module) driveSign() float64 {
	if m.cfg.DriveInverted {
		return -1
	}
	return 1
}

func (m *Module) steerSign() float64 {
	if m.cfg.SteerInverted {
		return -1
	}
	return 1
}

func clampDuty(d float64) float64 {
	if d > 1 {
		return 1
	} else if d < -1 {
		return -1
	}
	return d
}
