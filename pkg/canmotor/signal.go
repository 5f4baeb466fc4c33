package canmotor

// signal is a little-endian bit field in a CAN payload, scaled to physical
// units.
type signal struct {
	start  uint // bit offset
	length uint // bits, at most 32
	signed bool
	scale  float64
}

func (s signal) extract(data []byte) float64 {
	var raw uint64
	for i := len(data) - 1; i >= 0; i-- {
		raw = raw<<8 | uint64(data[i])
	}
	raw = (raw >> s.start) & (1<<s.length - 1)
	if s.signed && raw&(1<<(s.length-1)) != 0 {
		return float64(int64(raw)-int64(1)<<s.length) * s.scale
	}
	return float64(raw) * s.scale
}

func (s signal) extractInt32(data []byte) int32 {
	unscaled := s
	unscaled.scale = 1
	return int32(unscaled.extract(data))
}

var (
	statusPosition = signal{start: 0, length: 32, signed: true, scale: 1}
	statusVelocity = signal{start: 32, length: 16, signed: true, scale: 1.0 / 8}
	statusFlags    = signal{start: 48, length: 8, scale: 1}
)
