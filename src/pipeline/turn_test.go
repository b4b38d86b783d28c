package pipeline

import (
	"testing"
	"time"

	"github.com/square-key-labs/strawgo-bridge/src/audio/vad"
	"github.com/square-key-labs/strawgo-bridge/src/frames"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTurnBuffer(hangover int) *TurnBuffer {
	params := vad.DefaultVADParams()
	params.HangoverFrames = hangover
	return NewTurnBuffer(vad.NewEnergyAnalyzer(params), 3*time.Second)
}

func TestTurnClosesOnceAtDuration(t *testing.T) {
	b := newTestTurnBuffer(0)
	assert.Equal(t, 48000, b.MaxSamples())

	t0 := time.Unix(0, 0)
	var turns []*Turn
	var closedAt []int
	for k := 0; k < 160; k++ { // 3.2 s of speech
		if turn, _ := b.Add(tone(0.02), t0.Add(time.Duration(k)*frames.Duration)); turn != nil {
			turns = append(turns, turn)
			closedAt = append(closedAt, k)
		}
	}

	require.Len(t, turns, 1)
	assert.Equal(t, []int{150}, closedAt)
	assert.Equal(t, TurnMaxDuration, turns[0].Reason)
	assert.Equal(t, 151*320, turns[0].Samples())
	assert.Equal(t, 151, turns[0].VoicedFrames)
	assert.Equal(t, 3*time.Second, turns[0].EndedAt.Sub(turns[0].StartedAt))

	// The tail after the close has opened a new turn.
	assert.True(t, b.Open())
}

func TestSilenceNeverOpensTurn(t *testing.T) {
	b := newTestTurnBuffer(6)
	t0 := time.Unix(0, 0)
	for k := 0; k < 300; k++ {
		turn, d := b.Add(make([]byte, 640), t0.Add(time.Duration(k)*frames.Duration))
		require.Nil(t, turn)
		require.False(t, d.Voiced)
	}
	assert.False(t, b.Open())
}

func TestHangoverTailThenSilenceClose(t *testing.T) {
	b := newTestTurnBuffer(6)
	t0 := time.Unix(0, 0)

	var turn *Turn
	for k := 0; k < 200 && turn == nil; k++ {
		pcm := make([]byte, 640)
		if k < 10 {
			pcm = tone(0.02)
		}
		turn, _ = b.Add(pcm, t0.Add(time.Duration(k)*frames.Duration))
	}

	require.NotNil(t, turn)
	assert.Equal(t, TurnSilence, turn.Reason)
	assert.Equal(t, 10, turn.VoicedFrames)
	assert.Equal(t, (10+6)*320, turn.Samples(), "voiced frames plus the hangover tail")
}

func TestBufferFullWhenFasterThanRealTime(t *testing.T) {
	b := newTestTurnBuffer(0)
	now := time.Unix(0, 0)

	var turn *Turn
	n := 0
	for turn == nil && n < 500 {
		turn, _ = b.Add(tone(0.02), now)
		n++
	}
	require.NotNil(t, turn)
	assert.Equal(t, TurnBufferFull, turn.Reason)
	assert.Equal(t, 151, n)
	assert.Greater(t, turn.Samples(), b.MaxSamples())
}

func TestStateTransitions(t *testing.T) {
	var c stateCell
	assert.Equal(t, StateInactive, c.Load())
	assert.True(t, c.Transition(StateInactive, StateActive))
	assert.False(t, c.Transition(StateInactive, StateActive))
	c.Store(StateClosed)
	assert.Equal(t, "CLOSED", c.Load().String())
}
