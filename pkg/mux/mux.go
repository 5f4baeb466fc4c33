package mux

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/io/i2c"
)

const DefaultAddr = 0x70

const numPorts = 8

type device interface {
	Write(buf []byte) error
	Close() error
}

// Mux is a TCA9548A I2C switch.  Devices behind it share the upstream bus, so
// every transaction goes through WithPort, which holds the mux for the
// duration.
type Mux struct {
	dev device

	lock     sync.Mutex
	selected int
}

func New(deviceFile string, addr int) (*Mux, error) {
	dev, err := i2c.Open(&i2c.Devfs{Dev: deviceFile}, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open mux at %#x on %s", addr, deviceFile)
	}
	return newMux(dev), nil
}

func newMux(dev device) *Mux {
	return &Mux{dev: dev, selected: -1}
}

// WithPort selects port num, if it isn't already, and runs fn with the mux
// held.
func (m *Mux) WithPort(num int, fn func() error) error {
	if num < 0 || num >= numPorts {
		return errors.Errorf("mux port %d out of range", num)
	}
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.selected != num {
		if err := m.dev.Write([]byte{1 << uint(num)}); err != nil {
			m.selected = -1
			return errors.Wrapf(err, "failed to select mux port %d", num)
		}
		m.selected = num
	}
	return fn()
}

func (m *Mux) DisableAllPorts() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.selected = -1
	return m.dev.Write([]byte{0})
}

func (m *Mux) Close() error {
	return m.dev.Close()
}
