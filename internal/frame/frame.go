package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Magic marks the start of every scan datagram.
	Magic uint32 = 0xdeadbeef

	// HeaderSize is the length of the fixed header preceding bin powers.
	HeaderSize = 93

	// MaxBins is the largest bin count a frame may carry.
	MaxBins = 512

	// MaxDatagramSize is the receive buffer size, large enough for a full
	// frame and the trailing report data the scanner may append.
	MaxDatagramSize = 1216

	// SpanWidth is the width in MHz covered by the bins of one frame.
	SpanWidth = 40
)

const (
	offsetMagic      = 0
	offsetCenterFreq = 4
	offsetTimestamp  = 44
	offsetBinCount   = 87
	offsetBins       = HeaderSize
)

var (
	// ErrInvalidFrame is returned for datagrams that are not scan frames.
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrChannelUnavailable is returned when the frame channel cannot be
	// opened at the requested address.
	ErrChannelUnavailable = errors.New("frame channel unavailable")
)

// Frame is a single spectral scan: the power of each FFT bin around a center
// frequency.
type Frame struct {
	// CenterFreq is the scan center frequency in MHz.
	CenterFreq uint16

	// Timestamp is the scanner clock in microseconds. It wraps around.
	Timestamp int32

	// Bins holds the power per bin in dBm, lowest frequency first.
	Bins []int8
}

// StartFreq returns the frequency in MHz of the lower edge of the span.
func (f Frame) StartFreq() float64 {
	return float64(f.CenterFreq) - SpanWidth/2.0
}

// EndFreq returns the frequency in MHz of the upper edge of the span.
func (f Frame) EndFreq() float64 {
	return float64(f.CenterFreq) + SpanWidth/2.0
}

// BinFreq returns the center frequency in MHz of bin i.
func (f Frame) BinFreq(i int) float64 {
	if len(f.Bins) == 0 {
		return float64(f.CenterFreq)
	}
	return f.StartFreq() + (float64(i)+0.5)*SpanWidth/float64(len(f.Bins))
}

// Size returns the encoded length of the frame.
func (f Frame) Size() int {
	return HeaderSize + len(f.Bins)
}

// MarshalBinary encodes the frame in the scanner's datagram layout.
func (f Frame) MarshalBinary() ([]byte, error) {
	return f.AppendBinary(make([]byte, 0, f.Size()))
}

// AppendBinary appends the encoded frame to b.
func (f Frame) AppendBinary(b []byte) ([]byte, error) {
	if len(f.Bins) > MaxBins {
		return nil, fmt.Errorf("%w: %d bins exceeds %d", ErrInvalidFrame, len(f.Bins), MaxBins)
	}

	start := len(b)
	b = append(b, make([]byte, f.Size())...)
	buf := b[start:]

	binary.LittleEndian.PutUint32(buf[offsetMagic:], Magic)
	binary.LittleEndian.PutUint16(buf[offsetCenterFreq:], f.CenterFreq)
	binary.LittleEndian.PutUint32(buf[offsetTimestamp:], uint32(f.Timestamp))
	binary.LittleEndian.PutUint16(buf[offsetBinCount:], uint16(len(f.Bins)))

	for i, p := range f.Bins {
		buf[offsetBins+i] = byte(p)
	}

	return b, nil
}

// Decode parses a datagram. The returned frame does not alias b.
func Decode(b []byte) (Frame, error) {
	if len(b) < HeaderSize {
		return Frame{}, fmt.Errorf("%w: short datagram of %d bytes", ErrInvalidFrame, len(b))
	}
	if m := binary.LittleEndian.Uint32(b[offsetMagic:]); m != Magic {
		return Frame{}, fmt.Errorf("%w: bad magic %#08x", ErrInvalidFrame, m)
	}

	count := int(binary.LittleEndian.Uint16(b[offsetBinCount:]))
	if count > MaxBins {
		return Frame{}, fmt.Errorf("%w: %d bins exceeds %d", ErrInvalidFrame, count, MaxBins)
	}
	if len(b) < HeaderSize+count {
		return Frame{}, fmt.Errorf("%w: truncated bins, want %d got %d", ErrInvalidFrame, count, len(b)-HeaderSize)
	}

	f := Frame{
		CenterFreq: binary.LittleEndian.Uint16(b[offsetCenterFreq:]),
		Timestamp:  int32(binary.LittleEndian.Uint32(b[offsetTimestamp:])),
		Bins:       make([]int8, count),
	}
	for i := range f.Bins {
		f.Bins[i] = int8(b[offsetBins+i])
	}

	return f, nil
}

// TagCenterFreq sets the center frequency of an encoded datagram to freq if
// the scanner left it unset.
func TagCenterFreq(b []byte, freq uint16) bool {
	if len(b) < HeaderSize {
		return false
	}
	if binary.LittleEndian.Uint16(b[offsetCenterFreq:]) != 0 {
		return false
	}

	binary.LittleEndian.PutUint16(b[offsetCenterFreq:], freq)
	return true
}
