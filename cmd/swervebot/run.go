package main

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/swervebot/pkg/hardware"
	"github.com/tigerbot-team/swervebot/pkg/joystick"
	"github.com/tigerbot-team/swervebot/pkg/swervedrive"
	"github.com/tigerbot-team/swervebot/pkg/teleop"
	"github.com/tigerbot-team/swervebot/pkg/tunable"
)

const statusInterval = 5 * time.Second

type RunCmd struct {
	Joystick string `help:"Joystick device." default:"/dev/input/js0" env:"JOYSTICK_DEVICE"`
}

func (r *RunCmd) Run(c *Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	hw, err := c.openHardware()
	if err != nil {
		return err
	}
	defer func() {
		if err := hw.Shutdown(); err != nil {
			c.log.Warnw("errors during shutdown", "error", err)
		}
	}()

	drive, err := swervedrive.New(c.cfg, hw.DriveModules(), hw.Gyro, c.log.Named("drive"))
	if err != nil {
		return errors.Wrap(err, "failed to create drive")
	}
	if hw.Voltage != nil {
		drive.SetVoltageSensor(hw.Voltage)
	}

	hw.Start(ctx)
	drive.SetBrakeMode()
	cancelZero := drive.ZeroHeadingAfter(c.cfg.GyroSettle)
	defer cancelZero()

	var wg sync.WaitGroup
	defer wg.Wait()

	var tp *teleop.Teleop
	js, err := joystick.Open(r.Joystick)
	if err != nil {
		c.log.Warnw("no joystick, the robot will sit still", "device", r.Joystick, "error", err)
	} else {
		tp = teleop.New(drive, c.cfg.MaxDriveSpeed, c.cfg.MaxRotateSpeed, newTunables(c, hw, drive), c.log.Named("teleop"))
		wg.Add(2)
		go tp.Loop(ctx, &wg, js)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			// Unblocks the pending read.
			js.Close()
		}()
	}

	ticker := time.NewTicker(c.cfg.Period)
	defer ticker.Stop()
	lastStatus := time.Now()
	c.log.Infow("control loop running", "period", c.cfg.Period)
	for {
		select {
		case <-ctx.Done():
			c.log.Infow("stopping")
			drive.Disable()
			return nil
		case <-ticker.C:
		}

		if tp != nil {
			tp.Tick()
		}
		drive.Periodic()

		if time.Since(lastStatus) > statusInterval {
			lastStatus = time.Now()
			logStatus(c, drive)
		}
	}
}

func logStatus(c *Context, drive *swervedrive.SwerveDrive) {
	kv := []interface{}{
		"ready", drive.Ready(),
		"mode", drive.Mode().String(),
		"pose", drive.Pose().String(),
		"speeds", drive.MeasuredChassisSpeeds().String(),
		"degraded", drive.Degraded(),
	}
	if v, err := drive.SupplyVoltage(); err == nil {
		kv = append(kv, "volts", v)
	}
	c.log.Infow("status", kv...)
}

// newTunables lets the operator retune the steering and heading loops from
// the d-pad.  Steering gains are scaled per corner so corners with their own
// gains keep them in proportion.
func newTunables(c *Context, hw *hardware.Hardware, drive *swervedrive.SwerveDrive) *tunable.Tunables {
	ts := tunable.New(c.log.Named("tunable"))
	ts.Create("steer-gain-scale", 1, 0.1, func(scale float64) {
		for i, m := range hw.Modules {
			g := c.cfg.Module(i).SteerPID
			g.P *= scale
			g.I *= scale
			g.D *= scale
			m.SetSteerGains(g)
		}
	})
	ts.Create("heading-p", c.cfg.HeadingPID.P, 0.25, func(p float64) {
		g := c.cfg.HeadingPID
		g.P = p
		drive.SetHeadingGains(g)
	})
	return ts
}
