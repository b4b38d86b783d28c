package vad

import (
	"sync"

	"github.com/square-key-labs/strawgo-bridge/src/audio"
	"github.com/square-key-labs/strawgo-bridge/src/logger"
)

// VADState represents the current state of voice activity detection
type VADState int

const (
	VADStateQuiet VADState = iota + 1
	VADStateSpeaking
	VADStateHangover
)

func (s VADState) String() string {
	switch s {
	case VADStateQuiet:
		return "quiet"
	case VADStateSpeaking:
		return "speaking"
	case VADStateHangover:
		return "hangover"
	default:
		return "unknown"
	}
}

// VADParams holds configuration parameters for voice activity detection
type VADParams struct {
	// RMSThreshold: a frame needs RMS strictly above this to count as speech (default: 500)
	RMSThreshold float64

	// EnergyRatioThreshold: RMS/peak must be strictly above this; rejects
	// clicks and other impulsive noise (default: 0.01)
	EnergyRatioThreshold float64

	// HangoverFrames: unvoiced frames that still belong to the utterance
	// after the last voiced one (default: 0, no hangover)
	HangoverFrames int
}

// DefaultVADParams returns the default VAD parameters
func DefaultVADParams() VADParams {
	return VADParams{
		RMSThreshold:         500,
		EnergyRatioThreshold: 0.01,
	}
}

// Decision is the result of analysing one frame.
type Decision struct {
	// Voiced is the raw two-factor classification of this frame.
	Voiced bool
	// Keep is true for voiced frames and for frames inside the hangover tail.
	Keep  bool
	State VADState
	RMS   float64
	Peak  float64
}

// VADAnalyzer is the interface for voice activity detection implementations
type VADAnalyzer interface {
	// Analyze classifies one PCM16 little-endian frame
	Analyze(buffer []byte) Decision

	// Restart resets the VAD analyzer state
	Restart()
}

// EnergyAnalyzer classifies frames by RMS and RMS-to-peak ratio.
type EnergyAnalyzer struct {
	params VADParams

	mu        sync.Mutex
	state     VADState
	remaining int
}

// NewEnergyAnalyzer creates a new energy-based analyzer
func NewEnergyAnalyzer(params VADParams) *EnergyAnalyzer {
	return &EnergyAnalyzer{params: params, state: VADStateQuiet}
}

// Params returns the analyzer configuration.
func (v *EnergyAnalyzer) Params() VADParams {
	return v.params
}

// IsVoiced applies the stateless two-factor test to a frame.
func (v *EnergyAnalyzer) IsVoiced(buffer []byte) bool {
	rms, peak := levels(buffer)
	return v.voiced(rms, peak)
}

func (v *EnergyAnalyzer) voiced(rms, peak float64) bool {
	if peak == 0 {
		return false
	}
	return rms > v.params.RMSThreshold && rms/peak > v.params.EnergyRatioThreshold
}

// Analyze classifies buffer and advances the hangover state machine.
func (v *EnergyAnalyzer) Analyze(buffer []byte) Decision {
	rms, peak := levels(buffer)
	voiced := v.voiced(rms, peak)

	v.mu.Lock()
	defer v.mu.Unlock()

	oldState := v.state
	switch {
	case voiced:
		v.state = VADStateSpeaking
		v.remaining = v.params.HangoverFrames
	case v.state != VADStateQuiet && v.remaining > 0:
		v.state = VADStateHangover
		v.remaining--
	default:
		v.state = VADStateQuiet
		v.remaining = 0
	}
	if oldState != v.state {
		logger.Debug("[VADAnalyzer] %s → %s (rms=%.1f, peak=%.0f)", oldState, v.state, rms, peak)
	}

	return Decision{
		Voiced: voiced,
		Keep:   v.state != VADStateQuiet,
		State:  v.state,
		RMS:    rms,
		Peak:   peak,
	}
}

// Restart resets the VAD analyzer state
func (v *EnergyAnalyzer) Restart() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = VADStateQuiet
	v.remaining = 0
}

// levels measures a PCM16 little-endian buffer; a trailing odd byte is ignored.
func levels(buffer []byte) (rms, peak float64) {
	pcm, _ := audio.BytesToPCM(buffer[:len(buffer)&^1])
	return audio.RMS(pcm), audio.Peak(pcm)
}
