package teleop

import (
	"context"
	"math"
	"sync"

	"github.com/edaniels/golog"

	"github.com/tigerbot-team/swervebot/pkg/joystick"
	"github.com/tigerbot-team/swervebot/pkg/kinematics"
	"github.com/tigerbot-team/swervebot/pkg/tunable"
)

const (
	translateExpo = 1.6
	yawExpo       = 2.5
	deadband      = 0.05

	eventBuffer = 64
)

// Drive is the part of the chassis controller the operator can reach.
// *swervedrive.SwerveDrive implements it.
type Drive interface {
	Drive(speeds kinematics.ChassisSpeeds, maxSpeed float64)
	ToggleFieldOriented(pressed bool)
	ToggleSlowMode(pressed bool)
	ToggleNinetyLock(pressed bool)
	ToggleZeroLock(pressed bool)
	RotateToAmp()
	RotateToSpeaker()
	CancelRotation()
	Rotating() bool
	ZeroHeading() error
	Disable()
	Enable()
}

type EventSource interface {
	ReadEvent() (*joystick.Event, error)
}

// Teleop maps a PS4-style controller onto the chassis:
//
//	left stick        translate
//	right stick X     rotate (cancels any automatic rotation)
//	L1 (hold)         slow mode toggles on press
//	R1                field-oriented toggles on press
//	cross (hold)      wheels locked at 0°
//	square (hold)     wheels locked at 90°
//	triangle          face the amp
//	circle            face the speaker
//	options           zero the gyro
//	PS                cancel automatic rotation
//	d-pad             left/right selects a tunable, up/down adjusts it
//
// Events are queued by Loop and applied by Tick so that everything that
// touches the drive happens on the control loop's goroutine.
type Teleop struct {
	drive          Drive
	maxDriveSpeed  float64
	maxRotateSpeed float64
	tunables       *tunable.Tunables
	log            golog.Logger

	events chan *joystick.Event

	leftStickX, leftStickY, rightStickX int16
}

// New creates a Teleop.  tunables may be nil.
func New(drive Drive, maxDriveSpeed, maxRotateSpeed float64, tunables *tunable.Tunables, log golog.Logger) *Teleop {
	return &Teleop{
		drive:          drive,
		maxDriveSpeed:  maxDriveSpeed,
		maxRotateSpeed: maxRotateSpeed,
		tunables:       tunables,
		log:            log,
		events:         make(chan *joystick.Event, eventBuffer),
	}
}

// Loop reads events from source until it fails or ctx is done.
func (t *Teleop) Loop(ctx context.Context, wg *sync.WaitGroup, source EventSource) {
	defer wg.Done()
	for ctx.Err() == nil {
		event, err := source.ReadEvent()
		if err != nil {
			if ctx.Err() == nil {
				t.log.Errorw("joystick read failed, disabling drive", "error", err)
				// Lost control authority.  Disable is safe to call from here
				// and cuts output immediately; the zeroed sticks stop a later
				// Enable resuming the last command.
				t.drive.Disable()
				t.OnJoystickEvent(&joystick.Event{Type: joystick.EventTypeAxis, Number: joystick.AxisLStickX})
				t.OnJoystickEvent(&joystick.Event{Type: joystick.EventTypeAxis, Number: joystick.AxisLStickY})
				t.OnJoystickEvent(&joystick.Event{Type: joystick.EventTypeAxis, Number: joystick.AxisRStickX})
			}
			return
		}
		t.OnJoystickEvent(event)
	}
}

// OnJoystickEvent queues an event for the next Tick.  If the queue is full
// the event is dropped.
func (t *Teleop) OnJoystickEvent(event *joystick.Event) {
	select {
	case t.events <- event:
	default:
		t.log.Warnw("dropping joystick event", "event", event)
	}
}

// Tick applies queued events and sends the current stick command.
func (t *Teleop) Tick() {
	for {
		select {
		case event := <-t.events:
			t.apply(event)
		default:
			t.drive.Drive(t.Speeds(), t.maxDriveSpeed)
			return
		}
	}
}

// Speeds is the command for the current stick positions.
func (t *Teleop) Speeds() kinematics.ChassisSpeeds {
	return Mix(t.leftStickX, t.leftStickY, t.rightStickX, t.maxDriveSpeed, t.maxRotateSpeed)
}

func (t *Teleop) apply(event *joystick.Event) {
	switch event.Type {
	case joystick.EventTypeAxis:
		switch event.Number {
		case joystick.AxisLStickX:
			t.leftStickX = event.Value
		case joystick.AxisLStickY:
			t.leftStickY = event.Value
		case joystick.AxisRStickX:
			t.rightStickX = event.Value
			if stick(event.Value) != 0 && t.drive.Rotating() {
				t.drive.CancelRotation()
			}
		case joystick.AxisDPadX:
			if t.tunables == nil {
				return
			}
			if event.Value > 0 {
				t.tunables.SelectNext()
			} else if event.Value < 0 {
				t.tunables.SelectPrev()
			}
		case joystick.AxisDPadY:
			if t.tunables == nil || t.tunables.Current() == nil {
				return
			}
			// Up is negative.
			if event.Value < 0 {
				t.tunables.Current().Add(1)
			} else if event.Value > 0 {
				t.tunables.Current().Add(-1)
			}
		}
	case joystick.EventTypeButton:
		pressed := event.Pressed()
		switch event.Number {
		case joystick.ButtonL1:
			t.drive.ToggleSlowMode(pressed)
		case joystick.ButtonR1:
			t.drive.ToggleFieldOriented(pressed)
		case joystick.ButtonCross:
			t.drive.ToggleZeroLock(pressed)
		case joystick.ButtonSquare:
			t.drive.ToggleNinetyLock(pressed)
		case joystick.ButtonTriangle:
			if pressed {
				t.drive.RotateToAmp()
			}
		case joystick.ButtonCircle:
			if pressed {
				t.drive.RotateToSpeaker()
			}
		case joystick.ButtonPS:
			if pressed {
				t.drive.CancelRotation()
			}
		case joystick.ButtonOptions:
			if pressed {
				if err := t.drive.ZeroHeading(); err != nil {
					t.log.Warnw("failed to zero heading", "error", err)
				}
			}
		}
	}
}

// Mix converts raw stick values to a chassis command.  Stick up is forward,
// stick left is left and right stick left turns CCW.
func Mix(lStickX, lStickY, rStickX int16, maxDriveSpeed, maxRotateSpeed float64) kinematics.ChassisSpeeds {
	vx := applyExpo(-stick(lStickY), translateExpo)
	vy := applyExpo(-stick(lStickX), translateExpo)
	omega := applyExpo(-stick(rStickX), yawExpo)

	// Keep diagonal commands inside the unit circle.
	if m := math.Hypot(vx, vy); m > 1 {
		vx /= m
		vy /= m
	}
	return kinematics.ChassisSpeeds{
		VX:    vx * maxDriveSpeed,
		VY:    vy * maxDriveSpeed,
		Omega: omega * maxRotateSpeed,
	}
}

// stick maps a raw axis value to [-1, 1] with a deadband round the centre.
func stick(raw int16) float64 {
	v := math.Max(-1, float64(raw)/math.MaxInt16)
	if math.Abs(v) < deadband {
		return 0
	}
	return v
}

func applyExpo(value float64, expo float64) float64 {
	absVal := math.Abs(value)
	absExpo := math.Pow(absVal, expo)
	signedExpo := math.Copysign(absExpo, value)
	return signedExpo
}
