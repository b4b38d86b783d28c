package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/square-key-labs/strawgo-bridge/src/audio"
	"github.com/square-key-labs/strawgo-bridge/src/frames"
	"github.com/square-key-labs/strawgo-bridge/src/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(value int16, seconds float64) []byte {
	pcm := make([]int16, int(seconds*audio.PipelineRate))
	for i := range pcm {
		pcm[i] = value
	}
	return audio.PCMToBytes(pcm)
}

func newTestStreamer(tts *fakeTTS, queue *frames.EgressQueue, counters *stats.Counters) *TTSStreamer {
	return NewTTSStreamer(TTSStreamerConfig{
		TTS:          tts,
		Queue:        queue,
		Encoder:      audio.NewEncoder(audio.EncoderConfig{DisableEnhance: true}),
		Counters:     counters,
		ChunkTimeout: 50 * time.Millisecond,
	})
}

func runStreamer(t *testing.T, s *TTSStreamer) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitIdle(t *testing.T, s *TTSStreamer) {
	require.Eventually(t, func() bool { return !s.InFlight() }, 3*time.Second, 5*time.Millisecond)
}

func drain(q *frames.EgressQueue) []frames.Frame {
	var out []frames.Frame
	for {
		f, ok := q.Pop()
		if !ok {
			return out
		}
		out = append(out, f)
	}
}

func mean(f frames.Frame) float64 {
	var sum float64
	for _, s := range audio.MulawToPCM(f[:]) {
		sum += float64(s)
	}
	return sum / frames.Size
}

func TestUtterancesKeepSubmissionOrder(t *testing.T) {
	tts := &fakeTTS{script: func(text string) *fakeStream {
		v := int16(1000)
		if text == "second" {
			v = -1000
		}
		// Two chunks per utterance, each 0.1 s.
		return &fakeStream{chunks: [][]byte{constant(v, 0.1), constant(v, 0.1)}}
	}}
	q := frames.NewEgressQueue(150)
	s := newTestStreamer(tts, q, &stats.Counters{})
	runStreamer(t, s)

	require.NoError(t, s.Submit(context.Background(), Utterance{Text: "first", Tag: TagGreeting}))
	require.NoError(t, s.Submit(context.Background(), Utterance{Text: "second", Tag: TagResponse}))
	waitIdle(t, s)

	out := drain(q)
	require.Len(t, out, 20)
	for i, f := range out {
		if i < 10 {
			assert.Positive(t, mean(f), "frame %d", i)
		} else {
			assert.Negative(t, mean(f), "frame %d", i)
		}
	}
	assert.Equal(t, []string{"first", "second"}, tts.spoken())
}

func TestProviderErrorKeepsQueuedFrames(t *testing.T) {
	tts := &fakeTTS{script: func(text string) *fakeStream {
		return &fakeStream{
			chunks:  [][]byte{tone(0.1), tone(0.05)},
			failErr: errors.New("provider reset"),
		}
	}}
	q := frames.NewEgressQueue(150)
	s := newTestStreamer(tts, q, &stats.Counters{})
	runStreamer(t, s)

	require.NoError(t, s.Submit(context.Background(), Utterance{Text: "x"}))
	waitIdle(t, s)

	// 0.15 s is 7.5 frames; the partial tail is discarded, not flushed.
	assert.Equal(t, 7, q.Len())
}

func TestChunkTimeoutPingsThenContinues(t *testing.T) {
	var stream *fakeStream
	tts := &fakeTTS{script: func(text string) *fakeStream {
		stream = &fakeStream{chunks: [][]byte{tone(0.1)}, delay: 120 * time.Millisecond}
		return stream
	}}
	q := frames.NewEgressQueue(150)
	s := newTestStreamer(tts, q, &stats.Counters{})
	runStreamer(t, s)

	require.NoError(t, s.Submit(context.Background(), Utterance{Text: "slow"}))
	waitIdle(t, s)

	assert.Equal(t, int32(1), stream.pings.Load())
	assert.Equal(t, 5, q.Len())
}

func TestChunkTimeoutAbortsWhenPingFails(t *testing.T) {
	var stream *fakeStream
	tts := &fakeTTS{script: func(text string) *fakeStream {
		stream = &fakeStream{hang: true, pingErr: errors.New("socket gone")}
		return stream
	}}
	q := frames.NewEgressQueue(150)
	s := newTestStreamer(tts, q, &stats.Counters{})
	runStreamer(t, s)

	require.NoError(t, s.Submit(context.Background(), Utterance{Text: "stuck"}))
	waitIdle(t, s)

	assert.Equal(t, int32(1), stream.pings.Load())
	assert.Zero(t, q.Len())
}

func TestStreamerSkipsWhenInactive(t *testing.T) {
	tts := &fakeTTS{}
	q := frames.NewEgressQueue(150)
	s := NewTTSStreamer(TTSStreamerConfig{TTS: tts, Queue: q, IsActive: func() bool { return false }})
	runStreamer(t, s)

	require.NoError(t, s.Submit(context.Background(), Utterance{Text: "late"}))
	waitIdle(t, s)
	assert.Empty(t, tts.spoken())
	assert.Zero(t, q.Len())
}

func TestSubmitBlocksWhenMailboxFull(t *testing.T) {
	s := NewTTSStreamer(TTSStreamerConfig{TTS: &fakeTTS{}, Queue: frames.NewEgressQueue(10), MailboxSize: 1})

	require.NoError(t, s.Submit(context.Background(), Utterance{Text: "one"}))
	assert.True(t, s.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := s.Submit(ctx, Utterance{Text: "two"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueOverflowCountsDrops(t *testing.T) {
	tts := &fakeTTS{script: func(string) *fakeStream {
		return &fakeStream{chunks: [][]byte{tone(0.5)}}
	}}
	q := frames.NewEgressQueue(10)
	counters := &stats.Counters{}
	s := newTestStreamer(tts, q, counters)
	runStreamer(t, s)

	require.NoError(t, s.Submit(context.Background(), Utterance{Text: "long"}))
	waitIdle(t, s)

	assert.Equal(t, 10, q.Len())
	assert.Equal(t, uint64(15), counters.DroppedFrames.Load())
}
