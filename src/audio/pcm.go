package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Sample rates used on the call path.
const (
	TelephonyRate = 8000
	PipelineRate  = 16000
	DuplexRate    = 24000
)

// BytesToPCM converts little-endian 16-bit bytes to samples.
func BytesToPCM(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("invalid PCM data length: %d", len(data))
	}
	pcm := make([]int16, len(data)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return pcm, nil
}

// PCMToBytes converts samples to little-endian 16-bit bytes.
func PCMToBytes(pcm []int16) []byte {
	data := make([]byte, len(pcm)*2)
	for i, val := range pcm {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(val))
	}
	return data
}

// RMS returns the root-mean-square amplitude of pcm.
func RMS(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(pcm)))
}

// Peak returns the largest absolute sample value.
func Peak(pcm []int16) float64 {
	var peak float64
	for _, s := range pcm {
		a := math.Abs(float64(s))
		if a > peak {
			peak = a
		}
	}
	return peak
}

// clamp rounds v and limits it to ±limit.
func clamp(v, limit float64) int16 {
	v = math.Round(v)
	if v > limit {
		v = limit
	} else if v < -limit {
		v = -limit
	}
	return int16(v)
}
