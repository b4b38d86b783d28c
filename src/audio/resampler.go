package audio

import "math"

const antiAliasTaps = 15

// Resampler converts a PCM stream between two rates. It keeps filter history,
// the last input sample and the fractional read position between calls, so
// a stream fed in arbitrary chunks produces the same output as one fed whole.
// A Resampler is not safe for concurrent use.
type Resampler struct {
	inRate  int
	outRate int
	step    float64

	taps    []float64
	history []float64

	prev float64
	pos  float64
}

// NewResampler creates a resampler from inRate to outRate.
// Downsampling runs a windowed-sinc low-pass before interpolation.
func NewResampler(inRate, outRate int) *Resampler {
	r := &Resampler{
		inRate:  inRate,
		outRate: outRate,
		step:    float64(inRate) / float64(outRate),
	}
	if outRate < inRate {
		r.taps = lowPass(antiAliasTaps, 0.45*float64(outRate)/float64(inRate))
	}
	r.Reset()
	return r
}

// Reset discards carried state.
func (r *Resampler) Reset() {
	r.prev = 0
	if r.taps != nil {
		r.history = make([]float64, len(r.taps)-1)
	}
	// Upsampling starts one output step before the first input sample, which
	// keeps the output length at exactly len(in)*outRate/inRate per chunk.
	if r.step < 1 {
		r.pos = r.step - 1
	} else {
		r.pos = 0
	}
}

// InRate returns the input sample rate.
func (r *Resampler) InRate() int { return r.inRate }

// OutRate returns the output sample rate.
func (r *Resampler) OutRate() int { return r.outRate }

// Process resamples the next chunk of the stream.
func (r *Resampler) Process(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	if r.inRate == r.outRate {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}

	x := r.filter(in)
	n := len(x)

	out := make([]int16, 0, int(float64(n)/r.step)+2)
	t := r.pos
	for t <= float64(n-1) {
		i := int(math.Floor(t))
		frac := t - float64(i)

		var a, b float64
		if i < 0 {
			a, b = r.prev, x[0]
		} else {
			a = x[i]
			b = a
			if i+1 < n {
				b = x[i+1]
			}
		}
		out = append(out, clamp(a+(b-a)*frac, math.MaxInt16))
		t += r.step
	}

	r.pos = t - float64(n)
	r.prev = x[n-1]
	return out
}

// filter applies the anti-alias FIR, carrying the last len(taps)-1 inputs.
func (r *Resampler) filter(in []int16) []float64 {
	x := make([]float64, len(in))
	if r.taps == nil {
		for i, s := range in {
			x[i] = float64(s)
		}
		return x
	}

	buf := make([]float64, len(r.history)+len(in))
	copy(buf, r.history)
	for i, s := range in {
		buf[len(r.history)+i] = float64(s)
	}
	for i := range x {
		var acc float64
		for k, tap := range r.taps {
			acc += tap * buf[i+k]
		}
		x[i] = acc
	}
	copy(r.history, buf[len(buf)-len(r.history):])
	return x
}

// lowPass builds a Hamming-windowed sinc with cutoff given as a fraction of
// the input rate, normalized to unity DC gain.
func lowPass(n int, cutoff float64) []float64 {
	taps := make([]float64, n)
	mid := float64(n-1) / 2
	var sum float64
	for i := range taps {
		x := float64(i) - mid
		sinc := 2 * cutoff
		if x != 0 {
			sinc = math.Sin(2*math.Pi*cutoff*x) / (math.Pi * x)
		}
		window := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		taps[i] = sinc * window
		sum += taps[i]
	}
	for i := range taps {
		taps[i] /= sum
	}
	return taps
}
