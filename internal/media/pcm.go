package media

import "encoding/binary"

// FloatToInt16 converts one sample in [-1, 1] to signed 16-bit, clamping
// anything outside the range. Negative values scale by 0x8000 and positive
// ones by 0x7fff so both ends of the range are reachable.
func FloatToInt16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7fff)
}

// EncodePCM16 writes samples as little-endian signed 16-bit PCM. Float
// samples go through FloatToInt16 first.
func EncodePCM16[S int16 | float32](samples []S) []byte {
	out := make([]byte, 2*len(samples))
	switch v := any(samples).(type) {
	case []float32:
		for i, s := range v {
			binary.LittleEndian.PutUint16(out[2*i:], uint16(FloatToInt16(s)))
		}
	case []int16:
		for i, s := range v {
			binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
		}
	}
	return out
}

// Framer slices a stream of samples into frames of a fixed size. Leftover
// samples are carried into the next Push; nothing is dropped or merged.
type Framer struct {
	size int
	buf  []int16
}

func NewFramer(size int) *Framer {
	if size < 1 {
		size = 1
	}
	return &Framer{size: size, buf: make([]int16, 0, size)}
}

// Push appends samples and calls emit once per completed frame, in order.
// The slice passed to emit is only valid for the duration of the call.
func (f *Framer) Push(samples []int16, emit func(frame []int16)) {
	for len(samples) > 0 {
		n := min(f.size-len(f.buf), len(samples))
		f.buf = append(f.buf, samples[:n]...)
		samples = samples[n:]
		if len(f.buf) == f.size {
			emit(f.buf)
			f.buf = f.buf[:0]
		}
	}
}

// Pending is the number of samples waiting for a full frame.
func (f *Framer) Pending() int { return len(f.buf) }

// Resample converts mono samples between rates by linear interpolation.
func Resample(in []int16, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 || len(in) == 0 {
		return in
	}
	n := len(in) * to / from
	if n == 0 {
		return nil
	}
	out := make([]int16, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = int16(float64(in[j])*(1-frac) + float64(in[j+1])*frac)
	}
	return out
}
