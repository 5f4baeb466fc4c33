package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tigerbot-team/swervebot/pkg/chassis"
	"github.com/tigerbot-team/swervebot/pkg/kinematics"
)

type CalibrateCmd struct {
	Samples  int           `help:"Readings to average per module." default:"20"`
	Interval time.Duration `help:"Time between readings." default:"50ms"`
	Write    string        `help:"Write the config with the measured offsets to this file." type:"path"`
}

// Run averages each module's raw encoder angle.  Point every wheel straight
// ahead, bevel gears to the left, before running it.
func (cc *CalibrateCmd) Run(c *Context) error {
	hw, err := c.openHardware()
	if err != nil {
		return err
	}
	defer hw.Shutdown()
	hw.Start(context.Background())

	cfg := c.cfg
	corners := []*chassis.ModuleConfig{&cfg.FrontLeft, &cfg.FrontRight, &cfg.BackLeft, &cfg.BackRight}
	for i, m := range hw.Modules {
		var sin, cos float64
		var n int
		for s := 0; s < cc.Samples; s++ {
			a, err := m.RawAbsoluteAngle()
			if err != nil {
				c.log.Warnw("bad reading", "module", m.Name(), "error", err)
			} else {
				sin += math.Sin(a)
				cos += math.Cos(a)
				n++
			}
			time.Sleep(cc.Interval)
		}
		if n == 0 {
			fmt.Printf("%-12s no readings\n", kinematics.ModuleNames[i])
			continue
		}
		offset := math.Atan2(sin, cos)
		if offset < 0 {
			offset += 2 * math.Pi
		}
		fmt.Printf("%-12s offset %.4f rad (%.1f°), was %.4f, %d samples\n",
			kinematics.ModuleNames[i], offset, offset*180/math.Pi, corners[i].Offset, n)
		corners[i].Offset = offset
	}

	if cc.Write != "" {
		if err := cfg.Save(cc.Write); err != nil {
			return err
		}
		c.log.Infow("wrote calibrated config", "path", cc.Write)
	}
	return nil
}

type DumpConfigCmd struct {
	Path string `arg:"" help:"File to write." type:"path"`
}

func (d *DumpConfigCmd) Run(c *Context) error {
	return c.cfg.Save(d.Path)
}
