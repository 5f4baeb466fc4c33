package as5048

import (
	"math"
	"math/bits"
	"testing"
)

// fakeConn answers each frame with the next canned response.
type fakeConn struct {
	sent      []uint16
	responses []uint16
}

func (f *fakeConn) Tx(w, r []byte) error {
	f.sent = append(f.sent, uint16(w[0])<<8|uint16(w[1]))
	var resp uint16
	if len(f.responses) > 0 {
		resp, f.responses = f.responses[0], f.responses[1:]
	}
	r[0], r[1] = byte(resp>>8), byte(resp)
	return nil
}

func withParity(v uint16) uint16 {
	if bits.OnesCount16(v)%2 != 0 {
		v |= flagParity
	}
	return v
}

func TestCommandParity(t *testing.T) {
	if c := command(cmdReadAngle, true); c != 0xffff {
		t.Errorf("read angle command %#x, expected 0xffff", c)
	}
	if c := command(cmdClearErr, true); c != 0x4001 {
		t.Errorf("clear error command %#x, expected 0x4001", c)
	}
}

func TestAngle(t *testing.T) {
	c := &fakeConn{responses: []uint16{0, withParity(0x1000)}}
	a, err := (&AS5048{c: c}).Angle()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(a-math.Pi/2) > 1e-12 {
		t.Errorf("angle %v, expected π/2", a)
	}
	if len(c.sent) != 2 {
		t.Errorf("expected two frames, got %d", len(c.sent))
	}
}

func TestBadParity(t *testing.T) {
	c := &fakeConn{responses: []uint16{0, withParity(0x1000) ^ flagParity}}
	if _, err := (&AS5048{c: c}).Angle(); err != errParity {
		t.Errorf("expected a parity error, got %v", err)
	}
}

func TestErrorFlag(t *testing.T) {
	c := &fakeConn{responses: []uint16{0, withParity(flagError | 0x10)}}
	if _, err := (&AS5048{c: c}).Angle(); err != errFlag {
		t.Errorf("expected the error flag, got %v", err)
	}
	if len(c.sent) != 3 || c.sent[2] != 0x4001 {
		t.Errorf("expected a clear-error frame, sent %#x", c.sent)
	}
}
