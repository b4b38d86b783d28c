package vad

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func pcmFrame(fn func(i int) float64) []byte {
	buf := make([]byte, 640)
	for i := 0; i < 320; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(fn(i))))
	}
	return buf
}

func sineFrame(amp float64) []byte {
	return pcmFrame(func(i int) float64 {
		return amp * math.Sin(2*math.Pi*440*float64(i)/16000)
	})
}

func TestSilenceIsNotVoiced(t *testing.T) {
	v := NewEnergyAnalyzer(DefaultVADParams())
	assert.False(t, v.IsVoiced(make([]byte, 640)))

	d := v.Analyze(make([]byte, 640))
	assert.False(t, d.Voiced)
	assert.False(t, d.Keep)
	assert.Equal(t, VADStateQuiet, d.State)
}

func TestFullScaleSineIsVoiced(t *testing.T) {
	v := NewEnergyAnalyzer(DefaultVADParams())
	assert.True(t, v.IsVoiced(sineFrame(32767)))
}

func TestQuietSineIsNotVoiced(t *testing.T) {
	v := NewEnergyAnalyzer(DefaultVADParams())
	// RMS of a sine is amp/sqrt(2); 600/sqrt(2) is below 500.
	assert.False(t, v.IsVoiced(sineFrame(600)))
	assert.True(t, v.IsVoiced(sineFrame(800)))
}

func TestEnergyRatioRejectsImpulse(t *testing.T) {
	params := DefaultVADParams()
	params.RMSThreshold = 100
	params.EnergyRatioThreshold = 0.1
	v := NewEnergyAnalyzer(params)

	click := pcmFrame(func(i int) float64 {
		if i == 0 {
			return 32767
		}
		return 0
	})
	rms, peak := levels(click)
	assert.InDelta(t, 32767/math.Sqrt(320), rms, 0.5)
	assert.Equal(t, 32767.0, peak)
	assert.False(t, v.IsVoiced(click))
}

func TestLevelsIgnoresTrailingByte(t *testing.T) {
	frame := sineFrame(8000)
	rms, peak := levels(frame)
	oddRMS, oddPeak := levels(append(frame, 0x7f))
	assert.Equal(t, rms, oddRMS)
	assert.Equal(t, peak, oddPeak)

	rms, peak = levels(nil)
	assert.Zero(t, rms)
	assert.Zero(t, peak)
}

func TestHangoverKeepsTail(t *testing.T) {
	params := DefaultVADParams()
	params.HangoverFrames = 2
	v := NewEnergyAnalyzer(params)
	silence := make([]byte, 640)

	d := v.Analyze(sineFrame(10000))
	assert.True(t, d.Voiced)
	assert.Equal(t, VADStateSpeaking, d.State)

	for i := 0; i < 2; i++ {
		d = v.Analyze(silence)
		assert.False(t, d.Voiced)
		assert.True(t, d.Keep)
		assert.Equal(t, VADStateHangover, d.State)
	}

	d = v.Analyze(silence)
	assert.False(t, d.Keep)
	assert.Equal(t, VADStateQuiet, d.State)
}

func TestHangoverNeverStartsFromQuiet(t *testing.T) {
	params := DefaultVADParams()
	params.HangoverFrames = 5
	v := NewEnergyAnalyzer(params)

	assert.False(t, v.Analyze(make([]byte, 640)).Keep)

	v.Analyze(sineFrame(10000))
	v.Restart()
	assert.False(t, v.Analyze(make([]byte, 640)).Keep)
}
