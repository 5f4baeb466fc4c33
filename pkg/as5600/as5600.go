package as5600

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/io/i2c"

	"github.com/tigerbot-team/swervebot/pkg/swervemodule"
)

const (
	Addr = 0x36

	RegStatus   = 0x0b
	RegRawAngle = 0x0c // 12 bits, big endian
	RegAngle    = 0x0e

	statusMagnetHigh     = 1 << 3
	statusMagnetLow      = 1 << 4
	statusMagnetDetected = 1 << 5

	countsPerRev = 4096
)

type Bus interface {
	ReadReg(reg byte, buf []byte) error
}

// Selector routes the shared bus to one sensor; *mux.Mux implements it.
type Selector interface {
	WithPort(num int, fn func() error) error
}

// OpenBus opens the I2C device that all the AS5600s share.  They all have
// the same address so they have to sit behind a mux.
func OpenBus(deviceFile string) (*i2c.Device, error) {
	dev, err := i2c.Open(&i2c.Devfs{Dev: deviceFile}, Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open AS5600 bus %s", deviceFile)
	}
	return dev, nil
}

// AS5600 is a 12-bit magnetic absolute encoder on one mux port.
type AS5600 struct {
	bus  Bus
	mux  Selector
	port int
}

func New(bus Bus, mux Selector, port int) *AS5600 {
	return &AS5600{bus: bus, mux: mux, port: port}
}

// Angle returns the raw angle in radians, [0, 2π).  It returns
// swervemodule.ErrNotReady if no magnet is detected.
func (a *AS5600) Angle() (float64, error) {
	var status [1]byte
	var raw [2]byte
	err := a.mux.WithPort(a.port, func() error {
		if err := a.bus.ReadReg(RegStatus, status[:]); err != nil {
			return errors.Wrap(err, "failed to read AS5600 status")
		}
		if status[0]&statusMagnetDetected == 0 {
			return errors.Wrapf(swervemodule.ErrNotReady, "AS5600 on port %d: no magnet", a.port)
		}
		return errors.Wrap(a.bus.ReadReg(RegRawAngle, raw[:]), "failed to read AS5600 angle")
	})
	if err != nil {
		return 0, err
	}
	counts := (uint16(raw[0])<<8 | uint16(raw[1])) & (countsPerRev - 1)
	return float64(counts) * 2 * math.Pi / countsPerRev, nil
}

// MagnetStrength describes the magnet field for calibration output.
func (a *AS5600) MagnetStrength() (string, error) {
	var status [1]byte
	err := a.mux.WithPort(a.port, func() error {
		return a.bus.ReadReg(RegStatus, status[:])
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to read AS5600 status")
	}
	switch {
	case status[0]&statusMagnetDetected == 0:
		return "none", nil
	case status[0]&statusMagnetLow != 0:
		return "too weak", nil
	case status[0]&statusMagnetHigh != 0:
		return "too strong", nil
	}
	return "ok", nil
}
