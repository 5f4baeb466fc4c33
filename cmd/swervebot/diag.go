package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tigerbot-team/swervebot/pkg/bno08x"
	"github.com/tigerbot-team/swervebot/pkg/hardware"
	"github.com/tigerbot-team/swervebot/pkg/ina219"
	"github.com/tigerbot-team/swervebot/pkg/joystick"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

type JoyTestCmd struct {
	Joystick string `help:"Joystick device." default:"/dev/input/js0" env:"JOYSTICK_DEVICE"`
}

// Run prints joystick events, for checking the button mapping.
func (j *JoyTestCmd) Run(c *Context) error {
	js, err := joystick.Open(j.Joystick)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	go func() {
		<-ctx.Done()
		js.Close()
	}()
	for {
		event, err := js.ReadEvent()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Println(event)
	}
}

type PowerCmd struct {
	Interval time.Duration `help:"Time between readings." default:"500ms"`
}

// Run prints the power sensor's readings.
func (p *PowerCmd) Run(c *Context) error {
	hw := c.cfg.Hardware
	sensor, err := ina219.NewI2C(hw.I2CDevice, hw.PowerSensorAddr)
	if err != nil {
		return err
	}
	defer sensor.Close()
	if err := sensor.Configure(hardware.PowerShuntOhms, hardware.PowerMaxCurrent); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		voltage, err := sensor.BusVoltage()
		fmt.Printf("%.2fV %v ", voltage, err)
		current, err := sensor.Current()
		fmt.Printf("%.3fA %v ", current, err)
		power, err := sensor.Power()
		fmt.Printf("%.3fW %v\n", power, err)
	}
}

type GyroCmd struct {
	Duration time.Duration `help:"How long to watch the gyro for." default:"30s"`
}

// Run zeroes the gyro and prints its reports, then the total drift.  Keep
// the robot still to measure drift.
func (g *GyroCmd) Run(c *Context) error {
	gyro := bno08x.New(c.cfg.Hardware.GyroDevice, c.log.Named("gyro"))
	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, g.Duration)
	defer cancelTimeout()

	var wg sync.WaitGroup
	wg.Add(1)
	go gyro.LoopReadingReports(ctx, &wg)
	defer wg.Wait()

	time.Sleep(c.cfg.GyroSettle)
	if err := gyro.Reset(); err != nil {
		return err
	}
	start := time.Now()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			heading, err := gyro.Angle()
			if err != nil {
				return err
			}
			elapsed := time.Since(start)
			fmt.Printf("Drift %.3f° in %v (%.4f°/min)\n", heading, elapsed.Round(time.Second),
				heading/elapsed.Minutes())
			return nil
		case <-ticker.C:
		}
		heading, err := gyro.Angle()
		fmt.Printf("%v heading %8.3f %v\n", gyro.CurrentReport(), heading, err)
	}
}
