package canmotor

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/tigerbot-team/swervebot/pkg/swervemodule"
)

// Controllers listen on commandBase+id and report status on statusBase+id
// every few milliseconds.
const (
	commandBase = 0x200
	statusBase  = 0x180
	idMask      = 0x07f

	cmdDuty     = 0x01
	cmdIdleMode = 0x02

	flagFault = 1 << 0

	// staleAfter is how long a motor's status can go unrefreshed before its
	// readings are treated as failed.
	staleAfter = 100 * time.Millisecond
)

var errStale = errors.New("motor status is stale")

type socket interface {
	Send(frame canbus.Frame) (int, error)
	Recv() (canbus.Frame, error)
	Close() error
}

// Bus is one SocketCAN interface shared by all the motor controllers on it.
type Bus struct {
	log golog.Logger

	txLock sync.Mutex
	tx     socket
	rx     socket

	lock   sync.Mutex
	motors map[uint32]*Motor
}

func Open(iface string, log golog.Logger) (*Bus, error) {
	tx, err := canbus.New()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create CAN socket")
	}
	if err := tx.Bind(iface); err != nil {
		tx.Close()
		return nil, errors.Wrapf(err, "failed to bind %s", iface)
	}

	rx, err := canbus.New()
	if err != nil {
		tx.Close()
		return nil, errors.Wrap(err, "failed to create CAN socket")
	}
	err = rx.SetFilters([]unix.CanFilter{
		{Id: statusBase, Mask: unix.CAN_SFF_MASK &^ idMask},
	})
	if err != nil {
		tx.Close()
		rx.Close()
		return nil, errors.Wrap(err, "failed to set CAN filters")
	}
	if err := rx.Bind(iface); err != nil {
		tx.Close()
		rx.Close()
		return nil, errors.Wrapf(err, "failed to bind %s", iface)
	}
	return newBus(tx, rx, log), nil
}

func newBus(tx, rx socket, log golog.Logger) *Bus {
	return &Bus{
		log:    log,
		tx:     tx,
		rx:     rx,
		motors: map[uint32]*Motor{},
	}
}

// Motor returns the controller with the given CAN id.  countsPerRev is the
// resolution of its position counter.
func (b *Bus) Motor(id uint32, countsPerRev float64) *Motor {
	id &= idMask
	b.lock.Lock()
	defer b.lock.Unlock()
	if m, ok := b.motors[id]; ok {
		return m
	}
	m := &Motor{bus: b, id: id, countsPerRev: countsPerRev}
	b.motors[id] = m
	return m
}

// Loop receives status frames until ctx is done.
func (b *Bus) Loop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	go func() {
		<-ctx.Done()
		b.rx.Close()
	}()

	for ctx.Err() == nil {
		frame, err := b.rx.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Errorw("CAN receive failed", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		b.handleFrame(frame)
	}
}

func (b *Bus) handleFrame(frame canbus.Frame) {
	if frame.Kind != canbus.SFF || frame.ID&^idMask != statusBase || len(frame.Data) < 7 {
		return
	}
	b.lock.Lock()
	m := b.motors[frame.ID&idMask]
	b.lock.Unlock()
	if m == nil {
		return
	}
	m.handleStatus(frame.Data, time.Now())
}

func (b *Bus) send(id uint32, data []byte) error {
	b.txLock.Lock()
	defer b.txLock.Unlock()
	frame := canbus.Frame{
		ID:   commandBase + id,
		Data: data,
		Kind: canbus.SFF,
	}
	if _, err := b.tx.Send(frame); err != nil {
		return errors.Wrapf(err, "failed to send to motor %d", id)
	}
	return nil
}

func (b *Bus) Close() error {
	b.rx.Close()
	return b.tx.Close()
}

// Motor is one controller.  It implements swervemodule.Motor.
type Motor struct {
	bus          *Bus
	id           uint32
	countsPerRev float64

	lock     sync.Mutex
	polled   bool
	lastRaw  int32
	counts   int64
	rpm      float64
	faulted  bool
	lastSeen time.Time
}

var _ swervemodule.Motor = (*Motor)(nil)

// handleStatus accumulates the raw position counter, which is allowed to
// wrap, into a 64-bit count.
func (m *Motor) handleStatus(data []byte, now time.Time) {
	raw := statusPosition.extractInt32(data)

	m.lock.Lock()
	defer m.lock.Unlock()
	if m.polled {
		m.counts += int64(raw - m.lastRaw)
	}
	m.lastRaw = raw
	m.polled = true
	m.rpm = statusVelocity.extract(data)
	m.faulted = uint8(statusFlags.extract(data))&flagFault != 0
	m.lastSeen = now
}

func (m *Motor) check() error {
	if m.lastSeen.IsZero() {
		return errors.Wrapf(swervemodule.ErrNotReady, "no status from motor %d", m.id)
	}
	if age := time.Since(m.lastSeen); age > staleAfter {
		return errors.Wrapf(errStale, "motor %d last seen %v ago", m.id, age.Round(time.Millisecond))
	}
	if m.faulted {
		return errors.Errorf("motor %d reports a fault", m.id)
	}
	return nil
}

// Position is in rotations since the last reset.
func (m *Motor) Position() (float64, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	return float64(m.counts) / m.countsPerRev, nil
}

// Velocity is in RPM.
func (m *Motor) Velocity() (float64, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	return m.rpm, nil
}

func (m *Motor) Set(duty float64) error {
	duty = math.Max(-1, math.Min(1, duty))
	data := make([]byte, 3)
	data[0] = cmdDuty
	binary.LittleEndian.PutUint16(data[1:], uint16(int16(duty*math.MaxInt16)))
	return m.bus.send(m.id, data)
}

func (m *Motor) SetIdleMode(mode swervemodule.IdleMode) error {
	return m.bus.send(m.id, []byte{cmdIdleMode, byte(mode)})
}

// ResetPosition makes the current position zero.  The controller's own
// counter is left alone: frames already in flight would otherwise be taken
// as the new baseline.
func (m *Motor) ResetPosition() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.counts = 0
	return nil
}
