package audio

import (
	"encoding/base64"
	"fmt"

	"github.com/square-key-labs/strawgo-bridge/src/frames"
)

// Decoder turns carrier µ-law payloads into 16 kHz PCM for the pipeline.
// It owns the ingress resampler state for one call.
type Decoder struct {
	resampler *Resampler
	agc       AGCConfig
	enhance   bool
}

// DecoderConfig holds decoder options
type DecoderConfig struct {
	OutputRate int // defaults to PipelineRate
	AGC        *AGCConfig
	DisableAGC bool
}

// NewDecoder creates a per-call inbound decoder.
func NewDecoder(config DecoderConfig) *Decoder {
	rate := config.OutputRate
	if rate == 0 {
		rate = PipelineRate
	}
	agc := DefaultAGCConfig()
	if config.AGC != nil {
		agc = *config.AGC
	}
	return &Decoder{
		resampler: NewResampler(TelephonyRate, rate),
		agc:       agc,
		enhance:   !config.DisableAGC,
	}
}

// DecodePayload base64-decodes one carrier frame and decodes it. Malformed
// base64 and payloads that are not exactly one frame are rejected before
// touching the resampler state.
func (d *Decoder) DecodePayload(b64 string) ([]byte, error) {
	mulaw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode media payload: %w", err)
	}
	frame, err := frames.FromBytes(mulaw)
	if err != nil {
		return nil, err
	}
	return d.Decode(frame.Bytes()), nil
}

// Decode converts µ-law at 8 kHz to little-endian PCM16 at the output rate.
func (d *Decoder) Decode(mulaw []byte) []byte {
	if len(mulaw) == 0 {
		return nil
	}
	pcm := d.resampler.Process(MulawToPCM(mulaw))
	return PCMToBytes(d.applyAGC(pcm))
}

func (d *Decoder) applyAGC(pcm []int16) []int16 {
	if !d.enhance {
		return pcm
	}
	return ApplyAGC(pcm, d.agc)
}

// Reset discards resampler state.
func (d *Decoder) Reset() {
	d.resampler.Reset()
}

// Encoder turns provider PCM into 160-byte µ-law frames. It carries the
// enhancement filters, the resampler, an odd trailing byte and the partial
// µ-law frame between calls, so chunk boundaries are seamless.
type Encoder struct {
	inRate    int
	resampler *Resampler
	emphasis  *Emphasis
	norm      *Normalizer
	enhance   bool

	odd       []byte
	remainder []byte
}

// EncoderConfig holds encoder options
type EncoderConfig struct {
	InputRate      int     // provider PCM rate; defaults to PipelineRate
	EmphasisAlpha  float64 // defaults to 0.3
	DisableEnhance bool
}

// NewEncoder creates a per-call outbound encoder.
func NewEncoder(config EncoderConfig) *Encoder {
	rate := config.InputRate
	if rate == 0 {
		rate = PipelineRate
	}
	alpha := config.EmphasisAlpha
	if alpha == 0 {
		alpha = 0.3
	}
	return &Encoder{
		inRate:    rate,
		resampler: NewResampler(rate, TelephonyRate),
		emphasis:  &Emphasis{Alpha: alpha},
		norm:      NewNormalizer(),
		enhance:   !config.DisableEnhance,
	}
}

// InputRate returns the PCM rate the encoder expects.
func (e *Encoder) InputRate() int { return e.inRate }

// Encode consumes the next PCM16 chunk and returns every complete frame it
// produced. Leftover bytes stay in the encoder for the next call.
func (e *Encoder) Encode(pcm []byte) []frames.Frame {
	data := pcm
	if len(e.odd) > 0 {
		data = append(append([]byte{}, e.odd...), pcm...)
		e.odd = e.odd[:0]
	}
	if len(data)%2 == 1 {
		e.odd = append(e.odd, data[len(data)-1])
		data = data[:len(data)-1]
	}
	if len(data) == 0 {
		return nil
	}

	// Even length is guaranteed above.
	samples, _ := BytesToPCM(data)
	if e.enhance {
		samples = e.norm.Process(e.emphasis.Process(samples))
	}
	e.remainder = append(e.remainder, PCMToMulaw(e.resampler.Process(samples))...)

	n := len(e.remainder) / frames.Size
	if n == 0 {
		return nil
	}
	out := make([]frames.Frame, n)
	for i := range out {
		copy(out[i][:], e.remainder[i*frames.Size:])
	}
	e.remainder = append(e.remainder[:0], e.remainder[n*frames.Size:]...)
	return out
}

// Pending returns the number of µ-law bytes waiting for a full frame.
func (e *Encoder) Pending() int { return len(e.remainder) }

// Flush pads the partial frame with µ-law silence and returns it, or nil
// when nothing is pending. Call at the end of an utterance.
func (e *Encoder) Flush() []frames.Frame {
	e.odd = e.odd[:0]
	if len(e.remainder) == 0 {
		return nil
	}
	f := frames.Silence()
	copy(f[:], e.remainder)
	e.remainder = e.remainder[:0]
	return []frames.Frame{f}
}

// Reset discards all carried state, used on barge-in.
func (e *Encoder) Reset() {
	e.odd = e.odd[:0]
	e.remainder = e.remainder[:0]
	e.resampler.Reset()
	e.emphasis.Reset()
	e.norm.Reset()
}
