package canmotor

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/go-daq/canbus"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/swervebot/pkg/swervemodule"
)

type fakeSocket struct {
	lock   sync.Mutex
	sent   []canbus.Frame
	frames chan canbus.Frame
	closed chan struct{}
	once   sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		frames: make(chan canbus.Frame, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeSocket) Send(frame canbus.Frame) (int, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.sent = append(f.sent, frame)
	return len(frame.Data), nil
}

func (f *fakeSocket) Recv() (canbus.Frame, error) {
	select {
	case frame := <-f.frames:
		return frame, nil
	case <-f.closed:
		return canbus.Frame{}, errors.New("socket closed")
	}
}

func (f *fakeSocket) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSocket) lastSent(t *testing.T) canbus.Frame {
	t.Helper()
	f.lock.Lock()
	defer f.lock.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("nothing sent")
	}
	return f.sent[len(f.sent)-1]
}

func status(position int32, rpm float64, flags byte) []byte {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data, uint32(position))
	binary.LittleEndian.PutUint16(data[4:], uint16(int16(rpm*8)))
	data[6] = flags
	return data
}

func newTestBus(t *testing.T) (*Bus, *fakeSocket, *fakeSocket) {
	tx, rx := newFakeSocket(), newFakeSocket()
	return newBus(tx, rx, golog.NewTestLogger(t)), tx, rx
}

func TestSignalExtract(t *testing.T) {
	data := status(-1234, -55.5, flagFault)
	if v := statusPosition.extractInt32(data); v != -1234 {
		t.Errorf("position %v", v)
	}
	if v := statusVelocity.extract(data); v != -55.5 {
		t.Errorf("velocity %v", v)
	}
	if v := statusFlags.extract(data); v != flagFault {
		t.Errorf("flags %v", v)
	}
}

func TestNotReadyBeforeStatus(t *testing.T) {
	bus, _, _ := newTestBus(t)
	m := bus.Motor(3, 42)
	if _, err := m.Position(); errors.Cause(err) != swervemodule.ErrNotReady {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestPositionAndVelocity(t *testing.T) {
	bus, _, _ := newTestBus(t)
	m := bus.Motor(3, 100)
	m.handleStatus(status(1000, 12, 0), time.Now())
	m.handleStatus(status(1250, 12, 0), time.Now())
	pos, err := m.Position()
	if err != nil {
		t.Fatal(err)
	}
	// The first frame is the baseline.
	if pos != 2.5 {
		t.Errorf("position %v, expected 2.5", pos)
	}
	if v, _ := m.Velocity(); v != 12 {
		t.Errorf("velocity %v", v)
	}
}

func TestCounterWrap(t *testing.T) {
	bus, _, _ := newTestBus(t)
	m := bus.Motor(1, 1)
	m.handleStatus(status(math.MaxInt32-10, 0, 0), time.Now())
	m.handleStatus(status(math.MinInt32+9, 0, 0), time.Now())
	if pos, _ := m.Position(); pos != 20 {
		t.Errorf("position %v across wrap, expected 20", pos)
	}
}

func TestStaleAndFault(t *testing.T) {
	bus, _, _ := newTestBus(t)
	m := bus.Motor(1, 1)
	m.handleStatus(status(0, 0, 0), time.Now().Add(-time.Second))
	if _, err := m.Position(); errors.Cause(err) != errStale {
		t.Errorf("expected stale, got %v", err)
	}
	m.handleStatus(status(0, 0, flagFault), time.Now())
	if _, err := m.Velocity(); err == nil {
		t.Error("expected fault error")
	}
}

func TestResetPosition(t *testing.T) {
	bus, tx, _ := newTestBus(t)
	m := bus.Motor(2, 1)
	m.handleStatus(status(500, 0, 0), time.Now())
	m.handleStatus(status(800, 0, 0), time.Now())
	if err := m.ResetPosition(); err != nil {
		t.Fatal(err)
	}
	if pos, _ := m.Position(); pos != 0 {
		t.Errorf("position %v after reset, expected 0", pos)
	}
	tx.lock.Lock()
	sent := len(tx.sent)
	tx.lock.Unlock()
	if sent != 0 {
		t.Errorf("reset sent %d frames, expected none", sent)
	}
	m.handleStatus(status(810, 0, 0), time.Now())
	if pos, _ := m.Position(); pos != 10 {
		t.Errorf("position %v after reset, expected 10", pos)
	}
}

func TestResetPositionFrameInFlight(t *testing.T) {
	bus, _, _ := newTestBus(t)
	m := bus.Motor(2, 42)
	m.handleStatus(status(4200, 0, 0), time.Now())
	if err := m.ResetPosition(); err != nil {
		t.Fatal(err)
	}
	// A frame sent before the reset arrives after it; the wheel hasn't moved.
	m.handleStatus(status(4200, 0, 0), time.Now())
	m.handleStatus(status(4200, 0, 0), time.Now())
	if pos, _ := m.Position(); pos != 0 {
		t.Errorf("stationary wheel reads %v rotations after reset", pos)
	}
}

func TestSetDuty(t *testing.T) {
	bus, tx, _ := newTestBus(t)
	m := bus.Motor(5, 1)
	for _, tc := range []struct {
		duty     float64
		expected int16
	}{
		{0, 0},
		{1, math.MaxInt16},
		{-1, -math.MaxInt16},
		{2, math.MaxInt16},
		{0.5, math.MaxInt16 / 2},
	} {
		if err := m.Set(tc.duty); err != nil {
			t.Fatal(err)
		}
		f := tx.lastSent(t)
		if f.ID != commandBase+5 || f.Kind != canbus.SFF || f.Data[0] != cmdDuty {
			t.Fatalf("unexpected frame %+v", f)
		}
		if v := int16(binary.LittleEndian.Uint16(f.Data[1:])); v != tc.expected {
			t.Errorf("duty %v encoded as %d, expected %d", tc.duty, v, tc.expected)
		}
	}
}

func TestIdleMode(t *testing.T) {
	bus, tx, _ := newTestBus(t)
	m := bus.Motor(5, 1)
	if err := m.SetIdleMode(swervemodule.Coast); err != nil {
		t.Fatal(err)
	}
	f := tx.lastSent(t)
	if f.Data[0] != cmdIdleMode || f.Data[1] != byte(swervemodule.Coast) {
		t.Errorf("unexpected frame %+v", f)
	}
}

func TestLoopDispatches(t *testing.T) {
	bus, _, rx := newTestBus(t)
	m := bus.Motor(4, 1)
	other := bus.Motor(6, 1)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go bus.Loop(ctx, &wg)

	rx.frames <- canbus.Frame{ID: statusBase + 4, Data: status(0, 30, 0), Kind: canbus.SFF}
	rx.frames <- canbus.Frame{ID: commandBase + 6, Data: status(0, 30, 0), Kind: canbus.SFF}
	rx.frames <- canbus.Frame{ID: statusBase + 9, Data: status(0, 30, 0), Kind: canbus.SFF}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if v, err := m.Velocity(); err == nil && v == 30 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("status never arrived")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	wg.Wait()

	if _, err := other.Velocity(); errors.Cause(err) != swervemodule.ErrNotReady {
		t.Errorf("command frame was treated as status: %v", err)
	}
}
