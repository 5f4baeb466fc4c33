package hardware

import (
	"context"
	"io"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/tigerbot-team/swervebot/pkg/as5048"
	"github.com/tigerbot-team/swervebot/pkg/as5600"
	"github.com/tigerbot-team/swervebot/pkg/bno08x"
	"github.com/tigerbot-team/swervebot/pkg/canmotor"
	"github.com/tigerbot-team/swervebot/pkg/chassis"
	"github.com/tigerbot-team/swervebot/pkg/ina219"
	"github.com/tigerbot-team/swervebot/pkg/kinematics"
	"github.com/tigerbot-team/swervebot/pkg/mux"
	"github.com/tigerbot-team/swervebot/pkg/swervedrive"
	"github.com/tigerbot-team/swervebot/pkg/swervemodule"
)

const (
	// Shunt and full scale current of the power sensor board.
	PowerShuntOhms  = 0.1
	PowerMaxCurrent = 3.2
)

// Hardware is the assembled robot: the four wheel modules, the gyro and,
// optionally, a supply voltage sensor.  Background loops that keep the
// sensor caches fresh run between Start and Shutdown.
type Hardware struct {
	Modules [kinematics.NumModules]*swervemodule.Module
	Gyro    swervedrive.HeadingSensor
	// Voltage is nil if there's no power sensor.
	Voltage swervedrive.VoltageSensor
	// Sim is set when the hardware is simulated.
	Sim *Sim

	log     golog.Logger
	loops   []func(ctx context.Context, wg *sync.WaitGroup)
	closers []io.Closer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open connects to the real devices described by cfg.  Devices that only
// produce readings asynchronously (CAN status, gyro reports) won't have
// anything to report until Start has been called.
func Open(cfg chassis.Config, log golog.Logger) (*Hardware, error) {
	h := &Hardware{log: log}
	if err := h.open(cfg); err != nil {
		return nil, multierr.Append(err, h.closeAll())
	}
	return h, nil
}

func (h *Hardware) open(cfg chassis.Config) error {
	hw := cfg.Hardware
	log := h.log

	bus, err := canmotor.Open(hw.CANInterface, log.Named("can"))
	if err != nil {
		return err
	}
	h.closers = append(h.closers, bus)
	h.loops = append(h.loops, bus.Loop)

	encoders, err := h.openEncoders(cfg)
	if err != nil {
		return err
	}

	gyro := bno08x.New(hw.GyroDevice, log.Named("gyro"))
	h.Gyro = gyro
	h.loops = append(h.loops, gyro.LoopReadingReports)

	if hw.PowerSensorAddr != 0 {
		h.Voltage = h.openPowerSensor(hw.I2CDevice, hw.PowerSensorAddr)
	}

	for i := range h.Modules {
		corner := cfg.Corner(i)
		name := kinematics.ModuleNames[i]
		m, err := swervemodule.New(
			cfg.Module(i),
			bus.Motor(corner.DriveCANID, hw.MotorCountsPerRev),
			bus.Motor(corner.SteerCANID, hw.MotorCountsPerRev),
			encoders[i],
			log.Named(name),
		)
		if err != nil {
			return err
		}
		h.Modules[i] = m
	}
	return nil
}

func (h *Hardware) openEncoders(cfg chassis.Config) (encoders [kinematics.NumModules]swervemodule.AbsoluteEncoder, err error) {
	hw := cfg.Hardware
	switch hw.EncoderType {
	case chassis.EncoderAS5600:
		mx, err := mux.New(hw.I2CDevice, hw.MuxAddr)
		if err != nil {
			return encoders, err
		}
		h.closers = append(h.closers, mx)
		bus, err := as5600.OpenBus(hw.I2CDevice)
		if err != nil {
			return encoders, err
		}
		h.closers = append(h.closers, bus)
		for i := range encoders {
			encoders[i] = as5600.New(bus, mx, cfg.Corner(i).EncoderPort)
		}
	case chassis.EncoderAS5048:
		for i := range encoders {
			enc, err := as5048.Open(hw.SPIBus, cfg.Corner(i).EncoderPort)
			if err != nil {
				return encoders, err
			}
			encoders[i] = enc
		}
	default:
		return encoders, errors.Errorf("unknown encoder type %q", hw.EncoderType)
	}
	return encoders, nil
}

// openPowerSensor returns nil, after logging, if the sensor can't be set up.
// Voltage reporting is a nice-to-have.
func (h *Hardware) openPowerSensor(device string, addr int) swervedrive.VoltageSensor {
	p, err := ina219.NewI2C(device, addr)
	if err != nil {
		h.log.Warnw("no power sensor", "error", err)
		return nil
	}
	if err := p.Configure(PowerShuntOhms, PowerMaxCurrent); err != nil {
		h.log.Warnw("failed to configure power sensor", "error", err)
		p.Close()
		return nil
	}
	h.closers = append(h.closers, p)
	return p
}

// DriveModules returns the modules in the form the chassis controller takes.
func (h *Hardware) DriveModules() (modules [kinematics.NumModules]swervedrive.Module) {
	for i, m := range h.Modules {
		modules[i] = m
	}
	return
}

// Start runs the background loops until Shutdown.
func (h *Hardware) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	for _, loop := range h.loops {
		h.wg.Add(1)
		go loop(ctx, &h.wg)
	}
}

// Shutdown stops the motors and the background loops and releases the
// devices.
func (h *Hardware) Shutdown() error {
	for _, m := range h.Modules {
		if m != nil {
			m.Stop()
		}
	}
	if h.cancel != nil {
		h.cancel()
		h.wg.Wait()
	}
	return h.closeAll()
}

func (h *Hardware) closeAll() (err error) {
	for i := len(h.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, h.closers[i].Close())
	}
	h.closers = nil
	return err
}
