package swervedrive

import (
	"math"
	"sync"

	"github.com/edaniels/golog"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/tigerbot-team/swervebot/pkg/chassis"
	"github.com/tigerbot-team/swervebot/pkg/headingholder"
	"github.com/tigerbot-team/swervebot/pkg/headingholder/angle"
	"github.com/tigerbot-team/swervebot/pkg/kinematics"
	"github.com/tigerbot-team/swervebot/pkg/odometry"
	"github.com/tigerbot-team/swervebot/pkg/pid"
	"github.com/tigerbot-team/swervebot/pkg/ratelimit"
)

var ErrNoVoltageSensor = errors.New("no voltage sensor configured")

// Module is a steered and driven wheel; *swervemodule.Module implements it.
type Module interface {
	Name() string
	SetDesiredState(state kinematics.ModuleState)
	Desired() kinematics.ModuleState
	State() kinematics.ModuleState
	Position() kinematics.ModulePosition
	Stop()
	ResetEncoder() error
	SetBrakeMode()
	SetCoastMode()
	Degraded() bool
}

// HeadingSensor reports the cumulative heading in degrees, CCW positive,
// without wrapping.  Reset must atomically make the current heading zero.
type HeadingSensor interface {
	Angle() (float64, error)
	Reset() error
}

type VoltageSensor interface {
	BusVoltage() (float64, error)
}

// SwerveDrive coordinates the four modules, the gyro and odometry.  Drive and
// Periodic are meant to be called once per control period from a single
// loop; the toggles and accessors may be called from elsewhere.
type SwerveDrive struct {
	cfg        chassis.Config
	log        golog.Logger
	kinematics *kinematics.Kinematics
	modules    [kinematics.NumModules]Module
	gyro       HeadingSensor
	voltage    VoltageSensor

	controlLock sync.Mutex

	mode    Mode
	toggles [numToggles]toggle

	xLimiter, yLimiter, rotLimiter *ratelimit.Limiter

	holder   *headingholder.HeadingHolder
	rotating bool

	odometry *odometry.Odometry
	pose     kinematics.Pose
	speeds   kinematics.ChassisSpeeds

	lastGyro    float64
	gyroFaulted bool

	zeroed   bool
	disabled bool
}

func New(cfg chassis.Config, modules [kinematics.NumModules]Module, gyro HeadingSensor, log golog.Logger) (*SwerveDrive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	k, err := kinematics.New(cfg.Offsets())
	if err != nil {
		return nil, err
	}
	for i, m := range modules {
		if m == nil {
			return nil, errors.Errorf("%s module missing", kinematics.ModuleNames[i])
		}
	}
	if gyro == nil {
		return nil, errors.New("heading sensor missing")
	}

	s := &SwerveDrive{
		cfg:        cfg,
		log:        log,
		kinematics: k,
		modules:    modules,
		gyro:       gyro,
		mode:       Mode{FieldOriented: cfg.FieldOriented},
		toggles:    newToggles(),
		xLimiter:   ratelimit.New(cfg.SlewRate, cfg.Period),
		yLimiter:   ratelimit.New(cfg.SlewRate, cfg.Period),
		rotLimiter: ratelimit.New(cfg.SlewRate, cfg.Period),
		holder:     headingholder.New(cfg.HeadingPID, cfg.HeadingTolerance, cfg.Period),
	}
	heading := s.rotation()
	s.odometry = odometry.New(k, heading, s.modulePositions(), kinematics.Pose{Heading: heading})
	s.pose = s.odometry.Pose()
	return s, nil
}

// SetVoltageSensor attaches an optional supply voltage sensor.
func (s *SwerveDrive) SetVoltageSensor(v VoltageSensor) {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()
	s.voltage = v
}

// Drive is the main teleop entry point.  speeds are field relative if
// field-oriented mode is on, otherwise robot relative.  Nothing is driven
// until the gyro has been zeroed, or while disabled.
func (s *SwerveDrive) Drive(speeds kinematics.ChassisSpeeds, maxSpeed float64) {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()

	if !s.ready() {
		return
	}

	if s.mode.SlowMode {
		speeds = speeds.Times(s.cfg.SlowModeScale)
		maxSpeed = math.Min(maxSpeed, s.cfg.SlowDriveSpeed)
	}
	if s.rotating {
		speeds.Omega = s.holder.Update(angle.FromFloat(s.heading()))
		if s.holder.Settled() {
			s.log.Infow("rotation complete", "target", s.holder.Target().Float(), "error", s.holder.Error())
			s.rotating = false
		}
	}
	if s.mode.FieldOriented {
		speeds = kinematics.FromFieldRelative(speeds, s.rotation())
	}
	s.driveRobotRelative(speeds, maxSpeed)
}

// DriveRobotRelative drives without any mode transformation other than the
// wheel locks, capped at the path following speed.  It's the output used by
// path followers.
func (s *SwerveDrive) DriveRobotRelative(speeds kinematics.ChassisSpeeds) {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()

	if !s.ready() {
		return
	}
	s.driveRobotRelative(speeds, s.cfg.PathMaxSpeed)
}

func (s *SwerveDrive) driveRobotRelative(speeds kinematics.ChassisSpeeds, maxSpeed float64) {
	if s.mode.Locked() {
		lockAngle := s1.Angle(0)
		if s.mode.NinetyLock {
			lockAngle = math.Pi / 2
		}
		s.resetLimiters()
		s.speeds = kinematics.ChassisSpeeds{}
		var states [kinematics.NumModules]kinematics.ModuleState
		for i := range states {
			states[i].Angle = lockAngle
		}
		s.setModuleStates(states, maxSpeed)
		return
	}

	limited := kinematics.ChassisSpeeds{
		VX:    s.xLimiter.Step(speeds.VX),
		VY:    s.yLimiter.Step(speeds.VY),
		Omega: s.rotLimiter.Step(speeds.Omega),
	}
	s.speeds = limited

	var hold [kinematics.NumModules]s1.Angle
	for i, m := range s.modules {
		hold[i] = m.Desired().Angle
	}
	states := s.kinematics.ToModuleStates(kinematics.Discretize(limited, s.cfg.Period), hold)
	s.setModuleStates(states, maxSpeed)
}

// SetModuleStates sends states straight to the modules after desaturating
// them to max.
func (s *SwerveDrive) SetModuleStates(states [kinematics.NumModules]kinematics.ModuleState, max float64) {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()

	if !s.ready() {
		return
	}
	s.setModuleStates(states, max)
}

func (s *SwerveDrive) setModuleStates(states [kinematics.NumModules]kinematics.ModuleState, max float64) {
	kinematics.Desaturate(&states, max)
	for i, m := range s.modules {
		m.SetDesiredState(states[i])
	}
}

// GoToZero parks the wheels pointing forward with no drive.
func (s *SwerveDrive) GoToZero() {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()

	if !s.ready() {
		return
	}
	s.resetLimiters()
	s.speeds = kinematics.ChassisSpeeds{}
	s.setModuleStates([kinematics.NumModules]kinematics.ModuleState{}, s.cfg.MaxDriveSpeed)
}

// Stop cuts all motors, leaving the wheels wherever they are.
func (s *SwerveDrive) Stop() {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()
	s.stop()
}

func (s *SwerveDrive) stop() {
	s.resetLimiters()
	s.speeds = kinematics.ChassisSpeeds{}
	for _, m := range s.modules {
		m.Stop()
	}
}

// ZeroModules resets every module's motor encoders.
func (s *SwerveDrive) ZeroModules() error {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()

	var err error
	for _, m := range s.modules {
		err = multierr.Append(err, m.ResetEncoder())
	}
	// Some distances jumped even if others failed; keep the pose where it is.
	s.odometry.ResetPosition(s.rotation(), s.modulePositions(), s.pose)
	return err
}

func (s *SwerveDrive) SetBrakeMode() {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()
	for _, m := range s.modules {
		m.SetBrakeMode()
	}
}

func (s *SwerveDrive) SetCoastMode() {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()
	for _, m := range s.modules {
		m.SetCoastMode()
	}
}

// Disable stops the modules and keeps them stopped until Enable.
func (s *SwerveDrive) Disable() {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()

	if !s.disabled {
		s.log.Infow("drive disabled")
	}
	s.disabled = true
	s.rotating = false
	s.stop()
}

func (s *SwerveDrive) Enable() {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()

	if s.disabled {
		s.log.Infow("drive enabled")
	}
	s.disabled = false
}

// ready stops the modules and returns false if driving isn't allowed yet.
func (s *SwerveDrive) ready() bool {
	if s.disabled || !s.zeroed {
		s.stop()
		return false
	}
	return true
}

func (s *SwerveDrive) resetLimiters() {
	s.xLimiter.Reset(0)
	s.yLimiter.Reset(0)
	s.rotLimiter.Reset(0)
}

// RotateToAngle turns the chassis to heading degrees, overriding the
// rotation part of Drive until it settles.
func (s *SwerveDrive) RotateToAngle(heading float64) {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()

	s.holder.SetTarget(heading)
	s.rotating = true
	s.log.Infow("rotating to heading", "target", s.holder.Target().Float())
}

// RotateToAmp faces the amp, which is at 90° for red and -90° for blue.
func (s *SwerveDrive) RotateToAmp() {
	s.RotateToAngle(s.cfg.AmpHeading())
}

// RotateToSpeaker faces the speaker, straight downfield.
func (s *SwerveDrive) RotateToSpeaker() {
	s.RotateToAngle(0)
}

func (s *SwerveDrive) SetHeadingGains(gains pid.Gains) {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()
	s.holder.SetGains(gains)
}

func (s *SwerveDrive) CancelRotation() {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()
	s.rotating = false
}

func (s *SwerveDrive) Rotating() bool {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()
	return s.rotating
}

// Periodic updates odometry.  Call it once per control period, after Drive.
func (s *SwerveDrive) Periodic() {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()

	s.pose = s.odometry.Update(s.rotation(), s.modulePositions())
}

// ResetOdometry makes the current position pose.
func (s *SwerveDrive) ResetOdometry(pose kinematics.Pose) {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()

	s.odometry.ResetPosition(s.rotation(), s.modulePositions(), pose)
	s.pose = pose
}

func (s *SwerveDrive) Pose() kinematics.Pose {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()
	return s.pose
}

// ChassisSpeeds is the last commanded robot relative speed, after rate
// limiting.
func (s *SwerveDrive) ChassisSpeeds() kinematics.ChassisSpeeds {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()
	return s.speeds
}

// MeasuredChassisSpeeds is the robot relative speed the wheels report.
func (s *SwerveDrive) MeasuredChassisSpeeds() kinematics.ChassisSpeeds {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()
	return s.kinematics.ToChassisSpeeds(s.moduleStates())
}

// Heading is the gyro heading in degrees, in [-180, 180).
func (s *SwerveDrive) Heading() float64 {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()
	return s.heading()
}

func (s *SwerveDrive) Rotation() s1.Angle {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()
	return s.rotation()
}

func (s *SwerveDrive) ModuleStates() [kinematics.NumModules]kinematics.ModuleState {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()
	return s.moduleStates()
}

func (s *SwerveDrive) ModulePositions() [kinematics.NumModules]kinematics.ModulePosition {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()
	return s.modulePositions()
}

// Degraded is true while the gyro or any module has a failing sensor.
func (s *SwerveDrive) Degraded() bool {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()

	if s.gyroFaulted {
		return true
	}
	for _, m := range s.modules {
		if m.Degraded() {
			return true
		}
	}
	return false
}

func (s *SwerveDrive) SupplyVoltage() (float64, error) {
	s.controlLock.Lock()
	v := s.voltage
	s.controlLock.Unlock()

	if v == nil {
		return 0, ErrNoVoltageSensor
	}
	return v.BusVoltage()
}

func (s *SwerveDrive) moduleStates() (states [kinematics.NumModules]kinematics.ModuleState) {
	for i, m := range s.modules {
		states[i] = m.State()
	}
	return
}

func (s *SwerveDrive) modulePositions() (positions [kinematics.NumModules]kinematics.ModulePosition) {
	for i, m := range s.modules {
		positions[i] = m.Position()
	}
	return
}

func (s *SwerveDrive) heading() float64 {
	return angle.Heading(s.readGyro())
}

func (s *SwerveDrive) rotation() s1.Angle {
	return s1.Angle(s.heading()) * s1.Degree
}

// readGyro returns the cumulative gyro angle, or the last good one if the
// gyro is failing.
func (s *SwerveDrive) readGyro() float64 {
	v, err := s.gyro.Angle()
	if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
		err = errors.Errorf("gyro returned %v", v)
	}
	if err != nil {
		if !s.gyroFaulted {
			s.gyroFaulted = true
			s.log.Warnw("gyro fault, holding last heading", "heading", s.lastGyro, "error", err)
		}
		return s.lastGyro
	}
	if s.gyroFaulted {
		s.gyroFaulted = false
		s.log.Infow("gyro recovered", "heading", v)
	}
	s.lastGyro = v
	return v
}
