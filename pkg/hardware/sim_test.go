package hardware

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/swervebot/pkg/chassis"
	"github.com/tigerbot-team/swervebot/pkg/kinematics"
	"github.com/tigerbot-team/swervebot/pkg/swervedrive"
	"github.com/tigerbot-team/swervebot/pkg/swervemodule"
)

type rig struct {
	t     *testing.T
	cfg   chassis.Config
	hw    *Hardware
	drive *swervedrive.SwerveDrive
}

func newRig(t *testing.T) *rig {
	log := golog.NewTestLogger(t)
	cfg := chassis.Default()
	hw, err := NewSim(cfg, log)
	if err != nil {
		t.Fatal(err)
	}
	drive, err := swervedrive.New(cfg, hw.DriveModules(), hw.Gyro, log)
	if err != nil {
		t.Fatal(err)
	}
	drive.SetVoltageSensor(hw.Voltage)
	if err := drive.ZeroHeading(); err != nil {
		t.Fatal(err)
	}
	return &rig{t: t, cfg: cfg, hw: hw, drive: drive}
}

// run drives with speeds for d, stepping the simulation the way the control
// loop would.
func (r *rig) run(speeds kinematics.ChassisSpeeds, d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += r.cfg.Period {
		r.drive.Drive(speeds, r.cfg.MaxDriveSpeed)
		r.hw.Sim.Step(r.cfg.Period)
		r.drive.Periodic()
	}
}

func TestSimDrivesForward(t *testing.T) {
	r := newRig(t)
	r.run(kinematics.ChassisSpeeds{VX: 1}, 2*time.Second)

	actual := r.hw.Sim.Pose()
	if actual.X() < 1.6 || actual.X() > 2.0 {
		t.Errorf("drove to %v, expected about 1.8m forward", actual)
	}
	if math.Abs(actual.Y()) > 1e-6 || math.Abs(actual.Heading.Degrees()) > 1e-6 {
		t.Errorf("drifted to %v", actual)
	}

	estimated := r.drive.Pose()
	if d := estimated.Translation.Sub(actual.Translation).Norm(); d > 1e-3 {
		t.Errorf("odometry %v is %.4fm from the true pose %v", estimated, d, actual)
	}

	measured := r.drive.MeasuredChassisSpeeds()
	if math.Abs(measured.VX-1) > 0.02 {
		t.Errorf("measured speed %v, expected 1m/s forward", measured)
	}
}

func TestSimStrafes(t *testing.T) {
	r := newRig(t)
	r.run(kinematics.ChassisSpeeds{VY: 0.5}, 3*time.Second)

	actual := r.hw.Sim.Pose()
	if actual.Y() < 1 || math.Abs(actual.X()) > 0.1 {
		t.Errorf("strafed to %v, expected about 1.4m left", actual)
	}
	estimated := r.drive.Pose()
	if d := estimated.Translation.Sub(actual.Translation).Norm(); d > 0.05 {
		t.Errorf("odometry %v is %.4fm from the true pose %v", estimated, d, actual)
	}
	for i, m := range r.drive.ModuleStates() {
		if math.Abs(math.Abs(m.Angle.Degrees())-90) > 1 {
			t.Errorf("%s module at %v, expected ±90°", kinematics.ModuleNames[i], m.Angle.Degrees())
		}
	}
}

func TestSimRotates(t *testing.T) {
	r := newRig(t)
	r.run(kinematics.ChassisSpeeds{Omega: 1}, 2*time.Second)

	heading := r.hw.Sim.Gyro().Heading()
	if heading < 60 || heading > 115 {
		t.Errorf("turned to %v°, expected roughly 100°", heading)
	}
	if d := math.Abs(r.drive.Heading() - heading); d > 1e-6 {
		t.Errorf("drive heading %v differs from gyro %v", r.drive.Heading(), heading)
	}
	if p := r.hw.Sim.Pose(); p.Translation.Norm() > 0.1 {
		t.Errorf("chassis wandered to %v while rotating in place", p)
	}
}

func TestSimEncoderFault(t *testing.T) {
	r := newRig(t)
	r.run(kinematics.ChassisSpeeds{VX: 1}, 500*time.Millisecond)

	r.hw.Sim.Encoder(kinematics.BackLeft).Fail(errors.New("I2C timeout"))
	r.run(kinematics.ChassisSpeeds{VX: 1}, 100*time.Millisecond)
	if !r.drive.Degraded() {
		t.Error("expected degraded with a failed encoder")
	}
	if d := r.hw.Sim.DriveMotor(kinematics.BackLeft).Duty(); d != 0 {
		t.Errorf("degraded module still driving at %v", d)
	}
	if d := r.hw.Sim.DriveMotor(kinematics.FrontLeft).Duty(); d <= 0 {
		t.Errorf("healthy module stopped (duty %v)", d)
	}

	r.hw.Sim.Encoder(kinematics.BackLeft).Fail(nil)
	r.run(kinematics.ChassisSpeeds{VX: 1}, 100*time.Millisecond)
	if r.drive.Degraded() {
		t.Error("expected recovery")
	}
}

func TestSimLockAndIdleModes(t *testing.T) {
	r := newRig(t)
	r.drive.ToggleNinetyLock(true)
	r.run(kinematics.ChassisSpeeds{VX: 1}, time.Second)
	for i, m := range r.drive.ModuleStates() {
		if math.Abs(m.Angle.Degrees()-90) > 1 && math.Abs(m.Angle.Degrees()+90) > 1 {
			t.Errorf("%s module at %v°, expected locked at 90°", kinematics.ModuleNames[i], m.Angle.Degrees())
		}
	}
	if p := r.hw.Sim.Pose(); p.Translation.Norm() > 0.05 {
		t.Errorf("moved to %v while locked", p)
	}

	r.drive.SetCoastMode()
	if m := r.hw.Sim.DriveMotor(0).IdleMode(); m != swervemodule.Coast {
		t.Errorf("idle mode %v, expected coast", m)
	}
}

func TestSimVoltage(t *testing.T) {
	r := newRig(t)
	v, err := r.drive.SupplyVoltage()
	if err != nil {
		t.Fatal(err)
	}
	if v != simBatteryVolts {
		t.Errorf("voltage at rest %v", v)
	}
	r.run(kinematics.ChassisSpeeds{VX: 3}, time.Second)
	if v, _ := r.drive.SupplyVoltage(); v >= simBatteryVolts {
		t.Errorf("expected sag under load, got %v", v)
	}
}

func TestSimStartAndShutdown(t *testing.T) {
	hw, err := NewSim(chassis.Default(), golog.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := hw.Sim.SteerMotor(0).Set(1); err != nil {
		t.Fatal(err)
	}
	hw.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for {
		if a, _ := hw.Sim.Encoder(0).Angle(); math.Abs(a-chassis.Default().FrontLeft.Offset) > 0.01 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("simulation never stepped")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := hw.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if d := hw.Sim.SteerMotor(0).Duty(); d != 0 {
		t.Errorf("steer duty %v after shutdown", d)
	}
}
