package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/square-key-labs/strawgo-bridge/src/audio"
	"github.com/square-key-labs/strawgo-bridge/src/frames"
	"github.com/square-key-labs/strawgo-bridge/src/logger"
	"github.com/square-key-labs/strawgo-bridge/src/services"
	"github.com/square-key-labs/strawgo-bridge/src/stats"
)

// Utterance tags.
const (
	TagGreeting = "greeting"
	TagResponse = "response"
)

// DefaultMailboxSize bounds queued utterances; Submit blocks beyond it.
const DefaultMailboxSize = 8

// ErrStreamerStopped is returned by Submit after the worker has exited.
var ErrStreamerStopped = errors.New("tts streamer stopped")

// Utterance is one text submitted for synthesis.
type Utterance struct {
	Text string
	Tag  string
}

// TTSStreamerConfig holds configuration for a TTSStreamer
type TTSStreamerConfig struct {
	TTS          services.StreamingTTS
	Queue        *frames.EgressQueue
	Encoder      *audio.Encoder // must take PCM at TTS.SampleRate()
	Counters     *stats.Counters
	ChunkTimeout time.Duration // default 15s
	MailboxSize  int
	IsActive     func() bool
}

// TTSStreamer synthesizes utterances one at a time and pushes the encoded
// frames to the egress queue, so frame order matches submission order.
type TTSStreamer struct {
	cfg     TTSStreamerConfig
	mailbox chan Utterance
	pending atomic.Int32
	stopped chan struct{}
	log     *logger.Logger

	mu      sync.Mutex
	current services.AudioStream
}

// NewTTSStreamer creates a streamer. Run starts its worker.
func NewTTSStreamer(cfg TTSStreamerConfig) *TTSStreamer {
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = 15 * time.Second
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultMailboxSize
	}
	if cfg.Counters == nil {
		cfg.Counters = &stats.Counters{}
	}
	if cfg.IsActive == nil {
		cfg.IsActive = func() bool { return true }
	}
	if cfg.Encoder == nil {
		cfg.Encoder = audio.NewEncoder(audio.EncoderConfig{InputRate: cfg.TTS.SampleRate()})
	}
	return &TTSStreamer{
		cfg:     cfg,
		mailbox: make(chan Utterance, cfg.MailboxSize),
		stopped: make(chan struct{}),
		log:     logger.WithPrefix("TTSStreamer"),
	}
}

// Submit enqueues an utterance, blocking while the mailbox is full.
func (s *TTSStreamer) Submit(ctx context.Context, u Utterance) error {
	s.pending.Add(1)
	select {
	case s.mailbox <- u:
		return nil
	case <-ctx.Done():
		s.pending.Add(-1)
		return ctx.Err()
	case <-s.stopped:
		s.pending.Add(-1)
		return ErrStreamerStopped
	}
}

// InFlight reports whether an utterance is queued or being synthesized.
func (s *TTSStreamer) InFlight() bool { return s.pending.Load() > 0 }

// Run serves the mailbox until ctx is done.
func (s *TTSStreamer) Run(ctx context.Context) {
	defer close(s.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-s.mailbox:
			if err := s.speak(ctx, u); err != nil && ctx.Err() == nil {
				s.log.Error("Utterance %q aborted: %v", u.Tag, err)
			}
			s.pending.Add(-1)
		}
	}
}

// Abort closes the provider stream of the utterance in flight, if any.
func (s *TTSStreamer) Abort() {
	s.mu.Lock()
	stream := s.current
	s.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
}

func (s *TTSStreamer) setCurrent(stream services.AudioStream) {
	s.mu.Lock()
	s.current = stream
	s.mu.Unlock()
}

func (s *TTSStreamer) speak(ctx context.Context, u Utterance) error {
	if !s.cfg.IsActive() {
		return nil
	}
	start := time.Now()
	stream, err := s.cfg.TTS.Synthesize(ctx, u.Text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	s.setCurrent(stream)
	defer func() {
		s.setCurrent(nil)
		stream.Close()
	}()
	s.cfg.Counters.Utterances.Add(1)

	queued := 0
	pinged := false
	for {
		if !s.cfg.IsActive() {
			s.log.Debug("Session inactive, stopping %q after %d frames", u.Tag, queued)
			return nil
		}

		chunkCtx, cancel := context.WithTimeout(ctx, s.cfg.ChunkTimeout)
		pcm, err := stream.Next(chunkCtx)
		cancel()

		switch {
		case err == nil:
			pinged = false
			queued += s.push(s.cfg.Encoder.Encode(pcm))
		case errors.Is(err, io.EOF):
			queued += s.push(s.cfg.Encoder.Flush())
			s.log.Debug("Finished %q: %d frames in %v", u.Tag, queued, time.Since(start))
			return nil
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && !pinged:
			s.log.Warn("No audio for %v on %q, checking provider", s.cfg.ChunkTimeout, u.Tag)
			pingCtx, cancel := context.WithTimeout(ctx, s.cfg.ChunkTimeout)
			perr := stream.Ping(pingCtx)
			cancel()
			if perr != nil {
				s.cfg.Encoder.Reset()
				return fmt.Errorf("provider unresponsive: %w", perr)
			}
			pinged = true
		default:
			// Frames already queued still play; the partial remainder is discarded.
			s.cfg.Encoder.Reset()
			return err
		}
	}
}

func (s *TTSStreamer) push(fs []frames.Frame) int {
	if len(fs) == 0 {
		return 0
	}
	if evicted := s.cfg.Queue.PushAll(fs); evicted > 0 {
		s.cfg.Counters.DroppedFrames.Add(uint64(evicted))
		s.log.Warn("Egress queue full, dropped %d oldest frames", evicted)
	}
	return len(fs)
}
