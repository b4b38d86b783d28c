package pipeline

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/square-key-labs/strawgo-bridge/src/audio"
	"github.com/square-key-labs/strawgo-bridge/src/frames"
	"github.com/square-key-labs/strawgo-bridge/src/logger"
	"github.com/square-key-labs/strawgo-bridge/src/serializers"
	"github.com/square-key-labs/strawgo-bridge/src/services"
	"github.com/square-key-labs/strawgo-bridge/src/stats"
	"github.com/square-key-labs/strawgo-bridge/src/transports"
)

// DuplexPumpConfig holds configuration for a DuplexPump
type DuplexPumpConfig struct {
	Session    services.DuplexSession
	Encoder    *audio.Encoder // must take PCM at the provider's output rate
	Queue      *frames.EgressQueue
	Conn       transports.MediaConn
	Serializer serializers.FrameSerializer
	StreamSid  string
	Counters   *stats.Counters
	IsActive   func() bool
}

// DuplexPump moves a realtime provider's reply audio into the egress queue.
// Caller audio goes straight to the provider, bypassing turn handling.
type DuplexPump struct {
	cfg      DuplexPumpConfig
	speaking atomic.Bool
	log      *logger.Logger
}

// NewDuplexPump creates a pump.
func NewDuplexPump(cfg DuplexPumpConfig) *DuplexPump {
	if cfg.Counters == nil {
		cfg.Counters = &stats.Counters{}
	}
	if cfg.IsActive == nil {
		cfg.IsActive = func() bool { return true }
	}
	return &DuplexPump{cfg: cfg, log: logger.WithPrefix("Duplex")}
}

// Speaking reports whether a provider turn is being received.
func (p *DuplexPump) Speaking() bool { return p.speaking.Load() }

// SendAudio forwards decoded caller PCM.
func (p *DuplexPump) SendAudio(pcm []byte) error {
	return p.cfg.Session.SendAudio(pcm)
}

// Run receives provider events until ctx is done or the provider ends the session.
func (p *DuplexPump) Run(ctx context.Context) error {
	for {
		ev, err := p.cfg.Session.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !p.cfg.IsActive() {
			return nil
		}
		p.handle(ev)
	}
}

func (p *DuplexPump) handle(ev *services.DuplexEvent) {
	if ev.Interrupted {
		p.bargeIn()
	}
	if len(ev.Audio) > 0 {
		if !p.speaking.Swap(true) {
			p.cfg.Counters.Utterances.Add(1)
		}
		p.push(p.cfg.Encoder.Encode(ev.Audio))
	}
	if ev.Transcript != "" {
		p.log.Debug("Assistant: %s", ev.Transcript)
	}
	if ev.TurnComplete {
		p.push(p.cfg.Encoder.Flush())
		p.speaking.Store(false)
	}
}

// bargeIn drops everything not yet played, locally and at the carrier.
func (p *DuplexPump) bargeIn() {
	dropped := p.cfg.Queue.Clear()
	p.cfg.Encoder.Reset()
	p.speaking.Store(false)
	p.log.Info("Caller barged in, dropped %d queued frames", dropped)

	data, err := p.cfg.Serializer.SerializeClear(p.cfg.StreamSid)
	if err != nil {
		p.log.Error("Serialize clear: %v", err)
		return
	}
	if err := p.cfg.Conn.WriteMessage(data); err != nil {
		p.log.Warn("Send clear: %v", err)
	}
}

func (p *DuplexPump) push(fs []frames.Frame) {
	if len(fs) == 0 {
		return
	}
	if evicted := p.cfg.Queue.PushAll(fs); evicted > 0 {
		p.cfg.Counters.DroppedFrames.Add(uint64(evicted))
	}
}
