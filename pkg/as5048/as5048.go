package as5048

import (
	"fmt"
	"math"
	"math/bits"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

const (
	cmdReadAngle = 0x3fff
	cmdClearErr  = 0x0001

	flagParity = 1 << 15
	flagRead   = 1 << 14
	flagError  = 1 << 14

	countsPerRev = 1 << 14
)

var (
	errParity = errors.New("AS5048A parity error")
	errFlag   = errors.New("AS5048A error flag set")
)

type conn interface {
	Tx(w, r []byte) error
}

// AS5048 is a 14-bit magnetic absolute encoder on its own chip select.
type AS5048 struct {
	lock sync.Mutex
	c    conn
}

// Open connects to the encoder on bus.cs, e.g. /dev/spidev0 and 1.
func Open(bus string, cs int) (*AS5048, error) {
	// Make sure periph is initialized.
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialise periph")
	}
	name := fmt.Sprintf("%s.%d", bus, cs)
	p, err := spireg.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", name)
	}
	c, err := p.Connect(physic.MegaHertz, spi.Mode1, 16)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", name)
	}
	return &AS5048{c: c}, nil
}

// Angle returns the raw angle in radians, [0, 2π).
func (a *AS5048) Angle() (float64, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	// Responses lag commands by one frame, so send the read twice.
	if _, err := a.transfer(command(cmdReadAngle, true)); err != nil {
		return 0, err
	}
	resp, err := a.transfer(command(cmdReadAngle, true))
	if err != nil {
		return 0, err
	}
	if bits.OnesCount16(resp)%2 != 0 {
		return 0, errParity
	}
	if resp&flagError != 0 {
		// Reading the error register clears it for next time.
		_, _ = a.transfer(command(cmdClearErr, true))
		return 0, errFlag
	}
	return float64(resp&(countsPerRev-1)) * 2 * math.Pi / countsPerRev, nil
}

func (a *AS5048) transfer(cmd uint16) (uint16, error) {
	w := []byte{byte(cmd >> 8), byte(cmd)}
	r := make([]byte, 2)
	if err := a.c.Tx(w, r); err != nil {
		return 0, errors.Wrap(err, "AS5048A transfer failed")
	}
	return uint16(r[0])<<8 | uint16(r[1]), nil
}

// command builds a frame with the read bit and even parity.
func command(addr uint16, read bool) uint16 {
	cmd := addr & 0x3fff
	if read {
		cmd |= flagRead
	}
	if bits.OnesCount16(cmd)%2 != 0 {
		cmd |= flagParity
	}
	return cmd
}
