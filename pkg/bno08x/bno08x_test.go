package bno08x

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

func packet(index uint8, yawCentiDegrees int16) []byte {
	buf := make([]byte, packetLen)
	copy(buf, packetHeader)
	buf[2] = index
	binary.LittleEndian.PutUint16(buf[3:5], uint16(yawCentiDegrees))
	binary.LittleEndian.PutUint16(buf[13:15], uint16(981))
	var checksum uint8
	for _, b := range buf[2 : packetLen-1] {
		checksum += b
	}
	buf[packetLen-1] = checksum
	return buf
}

func feed(t *testing.T, b *BNO08X, chunks ...[]byte) {
	t.Helper()
	err := b.readReports(context.Background(), bytes.NewReader(bytes.Join(chunks, nil)))
	if err == nil {
		t.Fatal("expected readReports to stop with an error at end of input")
	}
}

func expectAngle(t *testing.T, b *BNO08X, expected float64) {
	t.Helper()
	a, err := b.Angle()
	if err != nil {
		t.Fatalf("Angle failed: %v", err)
	}
	if math.Abs(a-expected) > 1e-9 {
		t.Errorf("angle %.2f, expected %.2f", a, expected)
	}
}

func TestDecodePacket(t *testing.T) {
	r, err := decodePacket(packet(7, -4500))
	if err != nil {
		t.Fatal(err)
	}
	if r.Index != 7 || r.YawDegrees() != -45 || r.ZAccel != 981 {
		t.Errorf("decoded %v", r)
	}

	bad := packet(7, -4500)
	bad[5]++
	if _, err := decodePacket(bad); errors.Cause(err) != errBadChecksum {
		t.Errorf("expected a checksum error, got %v", err)
	}
}

func TestNoReportYet(t *testing.T) {
	b := New("", golog.NewTestLogger(t))
	if _, err := b.Angle(); errors.Cause(err) != ErrNoReport {
		t.Errorf("expected ErrNoReport, got %v", err)
	}
	if err := b.Reset(); err != ErrNoReport {
		t.Errorf("expected ErrNoReport from Reset, got %v", err)
	}
}

func TestResyncsAndSkipsBadPackets(t *testing.T) {
	b := New("", golog.NewTestLogger(t))
	bad := packet(2, 9000)
	bad[18]++
	feed(t, b,
		[]byte{0x01, 0xaa, 0x13},
		packet(1, 1000),
		bad,
		[]byte{0x55},
		packet(3, 2000),
	)
	if r := b.CurrentReport(); r.Index != 3 {
		t.Errorf("expected the last good report, got %v", r)
	}
	expectAngle(t, b, 10)
}

func TestUnwrapsAcrossHalfTurn(t *testing.T) {
	b := New("", golog.NewTestLogger(t))
	feed(t, b, packet(0, 17000), packet(1, 17900), packet(2, -17900), packet(3, -17000))
	expectAngle(t, b, 20)

	// And all the way round.
	b = New("", golog.NewTestLogger(t))
	var chunks [][]byte
	for i := 0; i <= 8; i++ {
		chunks = append(chunks, packet(uint8(i), int16(math.Remainder(float64(i)*50, 360)*100)))
	}
	feed(t, b, chunks...)
	expectAngle(t, b, 400)
}

func TestReset(t *testing.T) {
	b := New("", golog.NewTestLogger(t))
	feed(t, b, packet(0, 0), packet(1, 9000))
	expectAngle(t, b, 90)
	if err := b.Reset(); err != nil {
		t.Fatal(err)
	}
	expectAngle(t, b, 0)
	feed(t, b, packet(2, 8000))
	expectAngle(t, b, -10)
}
