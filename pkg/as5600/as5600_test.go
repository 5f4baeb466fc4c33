package as5600

import (
	"math"
	"testing"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/swervebot/pkg/swervemodule"
)

type fakeBus struct {
	regs map[byte][]byte
}

func (f *fakeBus) ReadReg(reg byte, buf []byte) error {
	copy(buf, f.regs[reg])
	return nil
}

type fakeMux struct {
	selected []int
}

func (f *fakeMux) WithPort(num int, fn func() error) error {
	f.selected = append(f.selected, num)
	return fn()
}

func TestAngle(t *testing.T) {
	bus := &fakeBus{regs: map[byte][]byte{
		RegStatus:   {statusMagnetDetected},
		RegRawAngle: {0xf4, 0x00}, // 0x400 after masking: a quarter turn
	}}
	m := &fakeMux{}
	enc := New(bus, m, 5)
	a, err := enc.Angle()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(a-math.Pi/2) > 1e-12 {
		t.Errorf("angle %v, expected π/2", a)
	}
	if len(m.selected) != 1 || m.selected[0] != 5 {
		t.Errorf("expected port 5 selected, got %v", m.selected)
	}
}

func TestNoMagnet(t *testing.T) {
	bus := &fakeBus{regs: map[byte][]byte{RegStatus: {0}}}
	enc := New(bus, &fakeMux{}, 0)
	if _, err := enc.Angle(); errors.Cause(err) != swervemodule.ErrNotReady {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if s, _ := enc.MagnetStrength(); s != "none" {
		t.Errorf("magnet strength %q", s)
	}

	bus.regs[RegStatus] = []byte{statusMagnetDetected | statusMagnetLow}
	if s, _ := enc.MagnetStrength(); s != "too weak" {
		t.Errorf("magnet strength %q", s)
	}
}
