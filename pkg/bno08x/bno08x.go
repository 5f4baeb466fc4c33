package bno08x

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/tigerbot-team/swervebot/pkg/headingholder/angle"
)

const ReportFrequency = 100
const ReportInterval = time.Second / ReportFrequency

// staleAfter is how old the last report can be before Angle reports an
// error.
const staleAfter = 50 * ReportInterval

var (
	ErrNoReport    = errors.New("no report from BNO08X")
	errBadChecksum = errors.New("bad checksum")
	errLostSync    = errors.New("lost sync")
)

const packetLen = 19

var packetHeader = []byte{0xaa, 0xaa}

// IMUReport is one UART-RVC packet.  Angles are in hundredths of a degree,
// accelerations in hundredths of m/s².
type IMUReport struct {
	Time   time.Time
	Index  uint8
	Yaw    int16
	Pitch  int16
	Roll   int16
	XAccel int16
	YAccel int16
	ZAccel int16
}

func (i IMUReport) String() string {
	return fmt.Sprintf("[%02x] Y:%7.2f P:%7.2f R:%7.2f X:%7.2f Y:%7.2f Z:%7.2f",
		i.Index, float64(i.Yaw)/100.0, float64(i.Pitch)/100.0, float64(i.Roll)/100.0,
		float64(i.XAccel)/100.0, float64(i.YAccel)/100.0, float64(i.ZAccel)/100.0)
}

func (i IMUReport) YawDegrees() float64 {
	return float64(i.Yaw) / 100.0
}

// BNO08X reads yaw reports from the sensor's UART-RVC output and turns them
// into a continuous, zeroable heading.
type BNO08X struct {
	device string
	log    golog.Logger

	lock       sync.Mutex
	lastReport IMUReport
	haveReport bool
	cumulative float64

	// zero holds the float64 bits of the cumulative yaw that reads as 0.
	zero uint64
}

func New(device string, log golog.Logger) *BNO08X {
	return &BNO08X{device: device, log: log}
}

func (b *BNO08X) CurrentReport() IMUReport {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.lastReport
}

// Angle is the heading in degrees since the last Reset, unwrapped so that it
// keeps counting past ±180.
func (b *BNO08X) Angle() (float64, error) {
	b.lock.Lock()
	have, when, cumulative := b.haveReport, b.lastReport.Time, b.cumulative
	b.lock.Unlock()

	if !have {
		return 0, ErrNoReport
	}
	if age := time.Since(when); age > staleAfter {
		return 0, errors.Wrapf(ErrNoReport, "last report %v ago", age.Round(time.Millisecond))
	}
	return cumulative - math.Float64frombits(atomic.LoadUint64(&b.zero)), nil
}

// Reset makes the current heading zero.
func (b *BNO08X) Reset() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if !b.haveReport {
		return ErrNoReport
	}
	atomic.StoreUint64(&b.zero, math.Float64bits(b.cumulative))
	return nil
}

// LoopReadingReports reads from the serial port until ctx is done, reopening
// it if it fails.
func (b *BNO08X) LoopReadingReports(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for ctx.Err() == nil {
		err := b.openAndLoop(ctx)
		if ctx.Err() != nil {
			return
		}
		b.log.Warnw("BNO08X loop stopped; will retry", "device", b.device, "error", err)
		time.Sleep(100 * time.Millisecond)
	}
}

func (b *BNO08X) openAndLoop(ctx context.Context) error {
	mode := &serial.Mode{
		BaudRate: 115200,
	}
	s, err := serial.Open(b.device, mode)
	if err != nil {
		return errors.Wrapf(err, "failed to open serial port %s", b.device)
	}
	defer s.Close()
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return b.readReports(ctx, s)
}

// readReports syncs to the packet stream and feeds every good packet to
// setReport.  It resyncs on a bad packet and returns on a read error.
func (b *BNO08X) readReports(ctx context.Context, r io.Reader) error {
	br := bufio.NewReader(r)
	buf := make([]byte, packetLen)
	for ctx.Err() == nil {
		if err := resync(br); err != nil {
			return err
		}
		b.log.Debugw("BNO08X in sync with packet stream", "device", b.device)
		for ctx.Err() == nil {
			if _, err := io.ReadFull(br, buf); err != nil {
				return errors.Wrap(err, "failed to read from serial")
			}
			report, err := decodePacket(buf)
			if err != nil {
				b.log.Debugw("BNO08X resyncing", "error", err)
				break
			}
			report.Time = time.Now()
			b.setReport(report)
		}
	}
	return ctx.Err()
}

func resync(br *bufio.Reader) error {
	for {
		buf, err := br.Peek(len(packetHeader))
		if err != nil {
			return errors.Wrap(err, "failed to read from serial")
		}
		if bytes.Equal(buf, packetHeader) {
			return nil
		}
		if _, err := br.Discard(1); err != nil {
			return errors.Wrap(err, "failed to read from serial")
		}
	}
}

func decodePacket(buf []byte) (IMUReport, error) {
	if !bytes.Equal(buf[:2], packetHeader) {
		return IMUReport{}, errLostSync
	}
	var checksum uint8
	for _, b := range buf[2 : packetLen-1] {
		checksum += b
	}
	if buf[packetLen-1] != checksum {
		return IMUReport{}, errors.Wrapf(errBadChecksum, "%x != %x", buf[packetLen-1], checksum)
	}
	return IMUReport{
		Index:  buf[2],
		Yaw:    int16(binary.LittleEndian.Uint16(buf[3:5])),
		Pitch:  int16(binary.LittleEndian.Uint16(buf[5:7])),
		Roll:   int16(binary.LittleEndian.Uint16(buf[7:9])),
		XAccel: int16(binary.LittleEndian.Uint16(buf[9:11])),
		YAccel: int16(binary.LittleEndian.Uint16(buf[11:13])),
		ZAccel: int16(binary.LittleEndian.Uint16(buf[13:15])),
	}, nil
}

// setReport stores a report and accumulates the yaw change since the last
// one, taking the short way across ±180.
func (b *BNO08X) setReport(report IMUReport) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.haveReport {
		delta := angle.FromFloat(report.YawDegrees()).Sub(angle.FromFloat(b.lastReport.YawDegrees()))
		b.cumulative += delta.Float()
	} else {
		b.cumulative = report.YawDegrees()
		atomic.StoreUint64(&b.zero, math.Float64bits(b.cumulative))
	}
	b.lastReport = report
	b.haveReport = true
}
