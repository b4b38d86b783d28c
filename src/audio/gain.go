package audio

import "math"

// AGCConfig controls the one-sided inbound gain stage.
type AGCConfig struct {
	TargetDBFS float64 // RMS target relative to full scale, e.g. -18
	MaxGain    float64 // upper bound on the applied gain
	Clamp      float64 // absolute sample limit after gain
}

// DefaultAGCConfig boosts quiet telephony audio toward -18 dBFS RMS.
func DefaultAGCConfig() AGCConfig {
	return AGCConfig{TargetDBFS: -18, MaxGain: 4, Clamp: 28000}
}

// TargetRMS returns the RMS amplitude the AGC aims for.
func (c AGCConfig) TargetRMS() float64 {
	return math.MaxInt16 * math.Pow(10, c.TargetDBFS/20)
}

// ApplyAGC boosts pcm toward the target RMS. Audio at or above the target,
// and digital silence, is returned unchanged.
func ApplyAGC(pcm []int16, cfg AGCConfig) []int16 {
	rms := RMS(pcm)
	target := cfg.TargetRMS()
	if rms == 0 || rms >= target {
		return pcm
	}
	gain := math.Min(target/rms, cfg.MaxGain)
	if gain <= 1 {
		return pcm
	}
	out := make([]int16, len(pcm))
	for i, s := range pcm {
		out[i] = clamp(float64(s)*gain, cfg.Clamp)
	}
	return out
}

// Emphasis is a first-order pre-emphasis filter, y[n] = x[n] - alpha*x[n-1],
// that lifts consonant energy before the 8 kHz band limit.
type Emphasis struct {
	Alpha float64
	last  float64
}

// Process filters pcm, carrying the last input sample.
func (e *Emphasis) Process(pcm []int16) []int16 {
	out := make([]int16, len(pcm))
	for i, s := range pcm {
		x := float64(s)
		out[i] = clamp(x-e.Alpha*e.last, math.MaxInt16)
		e.last = x
	}
	return out
}

// Reset clears the carried sample.
func (e *Emphasis) Reset() { e.last = 0 }

// Normalizer moves chunk peaks toward a fraction of full scale with a gain
// that adapts smoothly between chunks.
type Normalizer struct {
	Target    float64 // fraction of full scale, e.g. 0.30
	MaxGain   float64
	MinGain   float64
	Smoothing float64 // 0..1, share of the correction applied per chunk
	Floor     float64 // peaks below this do not adapt the gain

	gain float64
}

// NewNormalizer returns a normalizer aiming at 30% of full scale with gain in [0.25, 2.5].
func NewNormalizer() *Normalizer {
	return &Normalizer{Target: 0.30, MaxGain: 2.5, MinGain: 0.25, Smoothing: 0.3, Floor: 200, gain: 1}
}

// Gain returns the gain applied to the most recent chunk.
func (n *Normalizer) Gain() float64 { return n.gain }

// Process scales pcm by the adapted gain.
func (n *Normalizer) Process(pcm []int16) []int16 {
	if peak := Peak(pcm); peak >= n.Floor {
		want := n.Target * math.MaxInt16 / peak
		want = math.Max(n.MinGain, math.Min(n.MaxGain, want))
		n.gain += (want - n.gain) * n.Smoothing
	}
	out := make([]int16, len(pcm))
	for i, s := range pcm {
		out[i] = clamp(float64(s)*n.gain, math.MaxInt16)
	}
	return out
}

// Reset returns the gain to unity.
func (n *Normalizer) Reset() { n.gain = 1 }
