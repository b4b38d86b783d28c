package frames

import (
	"errors"
	"fmt"
	"time"
)

const (
	// Size is the byte length of one 20 ms G.711 µ-law frame at 8 kHz mono.
	Size = 160
	// Duration is the playback time of one frame.
	Duration = 20 * time.Millisecond
	// SilenceByte is µ-law zero.
	SilenceByte = 0xFF
)

// ErrInvalidFrameLength is returned for payloads that are not exactly Size bytes.
var ErrInvalidFrameLength = errors.New("invalid frame length")

// Frame is one immutable 20 ms µ-law payload. The array type makes any
// other length unrepresentable.
type Frame [Size]byte

var silence = func() Frame {
	var f Frame
	for i := range f {
		f[i] = SilenceByte
	}
	return f
}()

// Silence returns the constant 0xFF x 160 frame.
func Silence() Frame {
	return silence
}

// FromBytes copies b into a Frame. Any length other than Size is rejected.
func FromBytes(b []byte) (Frame, error) {
	var f Frame
	if len(b) != Size {
		return f, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidFrameLength, len(b), Size)
	}
	copy(f[:], b)
	return f, nil
}

// Bytes returns a copy of the payload.
func (f Frame) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, f[:])
	return b
}

// IsSilence reports whether every byte is µ-law zero.
func (f Frame) IsSilence() bool {
	return f == silence
}
