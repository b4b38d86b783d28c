package transports

import (
	"context"
	"time"

	"github.com/square-key-labs/strawgo-bridge/src/frames"
	"github.com/square-key-labs/strawgo-bridge/src/logger"
	"github.com/square-key-labs/strawgo-bridge/src/serializers"
	"github.com/square-key-labs/strawgo-bridge/src/stats"
)

const (
	// lateWarnSlack is how far past one interval a loop gap may stretch before warning.
	lateWarnSlack = 5 * time.Millisecond
	// maxBacklogTicks bounds catch-up after a stall; beyond it the schedule re-anchors.
	maxBacklogTicks = 5
)

// PacingConfig holds configuration for a PacingSender
type PacingConfig struct {
	Queue      *frames.EgressQueue
	Conn       MediaConn
	Serializer serializers.FrameSerializer
	StreamSid  string
	Interval   time.Duration // default: frames.Duration
	Counters   *stats.Counters

	// IsActive is polled every tick; the sender stops once it returns false.
	IsActive func() bool
	// OnConnectionLost is called once when a write fails with a closed-socket error.
	OnConnectionLost func(err error)
}

// PacingSender writes exactly one frame per interval to the carrier, taking
// queued frames when available and silence otherwise. Deadlines are computed
// from a monotonic start time so sleep error never accumulates.
type PacingSender struct {
	cfg PacingConfig
	log *logger.Logger
}

// NewPacingSender creates a sender. Run must be called at most once.
func NewPacingSender(cfg PacingConfig) *PacingSender {
	if cfg.Interval <= 0 {
		cfg.Interval = frames.Duration
	}
	if cfg.Counters == nil {
		cfg.Counters = &stats.Counters{}
	}
	if cfg.IsActive == nil {
		cfg.IsActive = func() bool { return true }
	}
	return &PacingSender{cfg: cfg, log: logger.WithPrefix("Pacer")}
}

// Run emits frames until ctx is done, IsActive reports false, or the
// connection is lost. Only a lost connection yields a non-nil error.
func (p *PacingSender) Run(ctx context.Context) error {
	interval := p.cfg.Interval
	timer := time.NewTimer(interval)
	timer.Stop()
	defer timer.Stop()

	start := time.Now()
	next := start
	var prevLoop time.Time

	p.log.Debug("Started for stream %s at %v", p.cfg.StreamSid, interval)
	for {
		if ctx.Err() != nil {
			return nil
		}

		loopStart := time.Now()
		if !prevLoop.IsZero() {
			if gap := loopStart.Sub(prevLoop); gap > interval+lateWarnSlack {
				p.log.Warn("Stream %s inter-frame gap %v", p.cfg.StreamSid, gap)
			}
		}
		prevLoop = loopStart

		if !p.cfg.IsActive() {
			p.log.Debug("Session no longer active, stopping stream %s", p.cfg.StreamSid)
			return nil
		}

		if err := p.sendOne(); err != nil {
			p.log.Info("Connection lost on stream %s: %v", p.cfg.StreamSid, err)
			if p.cfg.OnConnectionLost != nil {
				p.cfg.OnConnectionLost(err)
			}
			return err
		}

		next = next.Add(interval)
		now := time.Now()
		if !now.Before(next) {
			p.cfg.Counters.LateFrames.Add(1)
			if behind := now.Sub(next); behind > maxBacklogTicks*interval {
				p.log.Warn("Stream %s fell %v behind, re-anchoring schedule", p.cfg.StreamSid, behind)
				next = now
			}
			continue
		}

		timer.Reset(next.Sub(now))
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

// sendOne writes the next frame. It returns an error only when the
// connection is gone; other write failures are logged and the frame is lost.
func (p *PacingSender) sendOne() error {
	frame, ok := p.cfg.Queue.Pop()
	if !ok {
		frame = frames.Silence()
	}

	data, err := p.cfg.Serializer.SerializeMedia(p.cfg.StreamSid, frame)
	if err != nil {
		p.log.Error("Serialization error: %v", err)
		return nil
	}

	if err := p.cfg.Conn.WriteMessage(data); err != nil {
		if IsConnectionClosed(err) {
			return err
		}
		p.log.Warn("Write failed on stream %s: %v", p.cfg.StreamSid, err)
		return nil
	}

	p.cfg.Counters.FramesSent.Add(1)
	if ok {
		p.cfg.Counters.AudioFrames.Add(1)
	} else {
		p.cfg.Counters.SilenceFrames.Add(1)
	}
	return nil
}
