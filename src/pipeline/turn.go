package pipeline

import (
	"time"

	"github.com/square-key-labs/strawgo-bridge/src/audio"
	"github.com/square-key-labs/strawgo-bridge/src/audio/vad"
)

// TurnReason records why a turn was closed.
type TurnReason string

const (
	// TurnMaxDuration: the turn reached the configured duration while the caller was still talking.
	TurnMaxDuration TurnReason = "max_duration"
	// TurnSilence: the turn reached the configured duration after the caller went quiet.
	TurnSilence TurnReason = "silence"
	// TurnBufferFull: the sample ceiling tripped before the duration, i.e. frames
	// arrived faster than real time.
	TurnBufferFull TurnReason = "buffer_full"
)

// Turn is one closed span of caller speech, PCM16 at 16 kHz.
type Turn struct {
	PCM          []byte
	StartedAt    time.Time
	EndedAt      time.Time
	Reason       TurnReason
	VoicedFrames int
}

// Samples returns the number of PCM samples in the turn.
func (t *Turn) Samples() int { return len(t.PCM) / 2 }

// TurnBuffer accumulates voiced inbound audio and decides when a turn closes.
// The duration limit governs; the sample ceiling is derived from it.
// It is owned by the session's receive loop and not safe for concurrent use.
type TurnBuffer struct {
	analyzer    vad.VADAnalyzer
	maxDuration time.Duration
	maxSamples  int

	pcm       []byte
	voiced    int
	startedAt time.Time
}

// NewTurnBuffer creates a buffer closing turns after maxDuration.
func NewTurnBuffer(analyzer vad.VADAnalyzer, maxDuration time.Duration) *TurnBuffer {
	return &TurnBuffer{
		analyzer:    analyzer,
		maxDuration: maxDuration,
		maxSamples:  int(maxDuration.Seconds() * audio.PipelineRate),
	}
}

// MaxSamples is the sample ceiling.
func (b *TurnBuffer) MaxSamples() int { return b.maxSamples }

// Open reports whether a turn has started.
func (b *TurnBuffer) Open() bool { return !b.startedAt.IsZero() }

// Add classifies one decoded frame received at now and returns the closed
// turn, if this frame closed one.
func (b *TurnBuffer) Add(pcm []byte, now time.Time) (*Turn, vad.Decision) {
	d := b.analyzer.Analyze(pcm)

	switch {
	case d.Voiced:
		if b.startedAt.IsZero() {
			b.startedAt = now
		}
		b.pcm = append(b.pcm, pcm...)
		b.voiced++
	case d.Keep && b.Open():
		// hangover tail
		b.pcm = append(b.pcm, pcm...)
	}

	if !b.Open() {
		return nil, d
	}

	var reason TurnReason
	switch {
	case now.Sub(b.startedAt) >= b.maxDuration:
		reason = TurnMaxDuration
		if !d.Keep {
			reason = TurnSilence
		}
	case len(b.pcm)/2 > b.maxSamples:
		reason = TurnBufferFull
	default:
		return nil, d
	}

	turn := &Turn{
		PCM:          b.pcm,
		StartedAt:    b.startedAt,
		EndedAt:      now,
		Reason:       reason,
		VoicedFrames: b.voiced,
	}
	b.Reset()
	return turn, d
}

// Reset drops any buffered audio.
func (b *TurnBuffer) Reset() {
	b.pcm = nil
	b.voiced = 0
	b.startedAt = time.Time{}
}
