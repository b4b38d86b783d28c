package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/square-key-labs/strawgo-bridge/src/audio"
	"github.com/square-key-labs/strawgo-bridge/src/audio/vad"
	"github.com/square-key-labs/strawgo-bridge/src/config"
	"github.com/square-key-labs/strawgo-bridge/src/frames"
	"github.com/square-key-labs/strawgo-bridge/src/logger"
	"github.com/square-key-labs/strawgo-bridge/src/providers"
	"github.com/square-key-labs/strawgo-bridge/src/serializers"
	"github.com/square-key-labs/strawgo-bridge/src/services"
	"github.com/square-key-labs/strawgo-bridge/src/stats"
	"github.com/square-key-labs/strawgo-bridge/src/transports"
)

// turnChannelSize bounds closed turns waiting for the orchestrator.
const turnChannelSize = 4

// SessionConfig holds per-call settings
type SessionConfig struct {
	VAD             vad.VADParams
	TurnDuration    time.Duration
	MaxEgressFrames int
	FrameInterval   time.Duration

	ASRTimeout      time.Duration
	TTSChunkTimeout time.Duration
	ReceiveIdle     time.Duration
	Retry           services.RetryPolicy

	SystemPrompt string
	Greeting     string
	Temperature  float64

	// Cleanup grace per step.
	PacerGrace    time.Duration
	WorkerGrace   time.Duration
	ProviderGrace time.Duration
}

// DefaultSessionConfig returns the built-in per-call settings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfigFrom(config.Default())
}

// SessionConfigFrom derives per-call settings from the bridge configuration.
func SessionConfigFrom(cfg *config.Config) SessionConfig {
	return SessionConfig{
		VAD: vad.VADParams{
			RMSThreshold:         cfg.Audio.VADRMSThreshold,
			EnergyRatioThreshold: cfg.Audio.VADEnergyThreshold,
			HangoverFrames:       cfg.Audio.VADHangoverFrames,
		},
		TurnDuration:    cfg.AudioBufferDuration(),
		MaxEgressFrames: cfg.Audio.MaxEgressFrames,
		FrameInterval:   cfg.FrameInterval(),
		ASRTimeout:      cfg.ASRTimeout(),
		TTSChunkTimeout: cfg.TTSChunkTimeout(),
		ReceiveIdle:     cfg.ReceiveIdleTimeout(),
		Retry:           services.DefaultRetryPolicy,
		SystemPrompt:    cfg.Providers.SystemPrompt,
		Greeting:        cfg.Providers.Greeting,
		Temperature:     cfg.Providers.OpenAI.Temperature,
		PacerGrace:      2 * time.Second,
		WorkerGrace:     2 * time.Second,
		ProviderGrace:   3 * time.Second,
	}
}

// CallSession supervises one call: the receive loop runs in Run, and the
// pacer, TTS worker and turn orchestrator (or the duplex pump) run as
// goroutines started on the carrier's start event.
type CallSession struct {
	id         string
	cfg        SessionConfig
	conn       transports.MediaConn
	serializer serializers.FrameSerializer
	factory    providers.Factory
	now        func() time.Time
	log        *logger.Logger
	onClosed   func(*CallSession)

	state     stateCell
	counters  stats.Counters
	queue     *frames.EgressQueue
	createdAt time.Time

	mu        sync.Mutex
	callID    string
	phone     string
	startedAt time.Time

	// Set on start, read by cleanup after the receive loop stops writing them.
	decoder      *audio.Decoder
	turns        *TurnBuffer
	turnCh       chan *Turn
	bundle       *providers.Bundle
	streamer     *TTSStreamer
	orchestrator *TurnOrchestrator
	pump         *DuplexPump
	duplex       services.DuplexSession

	pacerCancel  context.CancelFunc
	workerCancel context.CancelFunc
	pacerDone    chan struct{}
	workersDone  chan struct{}

	cleaning atomic.Bool
	closed   chan struct{}
}

func newCallSession(id string, cfg SessionConfig, conn transports.MediaConn, factory providers.Factory) *CallSession {
	return &CallSession{
		id:         id,
		cfg:        cfg,
		conn:       conn,
		serializer: serializers.NewTwilioFrameSerializer(),
		factory:    factory,
		now:        time.Now,
		log:        logger.WithPrefix("Session " + shortID(id)),
		queue:      frames.NewEgressQueue(cfg.MaxEgressFrames),
		createdAt:  time.Now(),
		closed:     make(chan struct{}),
	}
}

// ID returns the session's local identifier.
func (s *CallSession) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *CallSession) State() State { return s.state.Load() }

// CallID returns the carrier stream id, empty before start.
func (s *CallSession) CallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}

// Done is closed once cleanup has finished.
func (s *CallSession) Done() <-chan struct{} { return s.closed }

// Stats implements stats.Source.
func (s *CallSession) Stats() stats.Snapshot {
	snap := s.counters.Snapshot()
	s.mu.Lock()
	snap.CallID = s.callID
	snap.StartedAt = s.startedAt
	s.mu.Unlock()
	snap.State = s.State().String()
	return snap
}

func (s *CallSession) isActive() bool { return s.state.Load() == StateActive }

type readResult struct {
	data []byte
	err  error
}

// Run serves the carrier socket until the call ends, then cleans up.
func (s *CallSession) Run(ctx context.Context) {
	reason := "receive loop ended"
	defer func() {
		s.cleanup(reason)
		<-s.closed
	}()

	reads := make(chan readResult)
	go s.readLoop(reads)

	idle := time.NewTimer(s.cfg.ReceiveIdle)
	defer idle.Stop()

	s.log.Info("Media socket accepted from %s", s.conn.RemoteAddr())
	for {
		select {
		case <-ctx.Done():
			reason = "server shutdown"
			return
		case <-s.closed:
			return
		case <-idle.C:
			if s.synthesizing() {
				idle.Reset(s.cfg.ReceiveIdle)
				continue
			}
			reason = "receive idle timeout"
			return
		case r := <-reads:
			if r.err != nil {
				if !transports.IsConnectionClosed(r.err) {
					s.log.Warn("Read error: %v", r.err)
				}
				reason = "carrier disconnected"
				return
			}
			idle.Reset(s.cfg.ReceiveIdle)
			if stop := s.handleMessage(ctx, r.data); stop != "" {
				reason = stop
				return
			}
		}
	}
}

func (s *CallSession) readLoop(out chan<- readResult) {
	for {
		data, err := s.conn.ReadMessage()
		select {
		case out <- readResult{data: data, err: err}:
		case <-s.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *CallSession) synthesizing() bool {
	if s.streamer != nil && s.streamer.InFlight() {
		return true
	}
	return s.pump != nil && s.pump.Speaking()
}

// handleMessage dispatches one carrier message. A non-empty result ends the call.
func (s *CallSession) handleMessage(ctx context.Context, data []byte) string {
	ev, err := s.serializer.Deserialize(data)
	if err != nil {
		s.log.Warn("Skipping carrier message: %v", err)
		return ""
	}

	switch ev.Type {
	case serializers.EventConnected:
		s.log.Debug("Carrier connected")
	case serializers.EventStart:
		if s.State() != StateInactive {
			s.log.Warn("Duplicate start event for %s ignored", ev.StreamSid)
			return ""
		}
		if err := s.start(ctx, ev); err != nil {
			s.log.Error("Failed to start call %s: %v", ev.StreamSid, err)
			return "start failed"
		}
	case serializers.EventMedia:
		if !s.isActive() {
			s.log.Warn("Media in state %s skipped", s.State())
			return ""
		}
		s.handleMedia(ev.Payload)
	case serializers.EventStop:
		s.log.Info("Carrier stop event")
		return "carrier stop"
	case serializers.EventMark:
		s.log.Debug("Mark %q played", ev.MarkName)
	case serializers.EventDTMF:
		s.log.Info("DTMF digit %s", ev.Digit)
	default:
		s.log.Debug("Unknown carrier event %q skipped", ev.Name)
	}
	return ""
}

func (s *CallSession) handleMedia(payload string) {
	pcm, err := s.decoder.DecodePayload(payload)
	if err != nil {
		s.log.Warn("Inbound frame discarded: %v", err)
		return
	}

	if s.pump != nil {
		if err := s.pump.SendAudio(pcm); err != nil {
			s.log.Warn("Forward caller audio: %v", err)
		}
		return
	}

	turn, _ := s.turns.Add(pcm, s.now())
	if turn == nil {
		return
	}
	select {
	case s.turnCh <- turn:
		s.counters.TurnsDispatch.Add(1)
		s.log.Debug("Turn closed (%s, %d samples)", turn.Reason, turn.Samples())
	default:
		s.counters.TurnsSkipped.Add(1)
		s.log.Warn("Orchestrator busy, dropping %s turn", turn.Reason)
	}
}

// start activates the call and spawns its workers.
func (s *CallSession) start(ctx context.Context, ev *serializers.Event) error {
	bundle, err := s.factory.NewBundle(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.callID = ev.StreamSid
	s.phone = ev.PhoneNumber
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.bundle = bundle
	s.log = logger.WithPrefix("Session " + ev.StreamSid)

	pacerCtx, pacerCancel := context.WithCancel(ctx)
	workerCtx, workerCancel := context.WithCancel(ctx)
	s.pacerCancel = pacerCancel
	s.workerCancel = workerCancel

	if duplexTTS, ok := bundle.Duplex(); ok {
		err = s.startDuplex(workerCtx, duplexTTS)
	} else {
		err = s.startPipeline(bundle)
	}
	if err == nil && !s.state.Transition(StateInactive, StateActive) {
		err = services.NewError(services.KindInternal, "session", "start", errIllegalTransition)
	}
	if err != nil {
		pacerCancel()
		workerCancel()
		return err
	}
	s.launchWorkers(workerCtx)
	s.log.Info("Call started (phone %s)", ev.PhoneNumber)

	pacer := transports.NewPacingSender(transports.PacingConfig{
		Queue:      s.queue,
		Conn:       s.conn,
		Serializer: s.serializer,
		StreamSid:  ev.StreamSid,
		Interval:   s.cfg.FrameInterval,
		Counters:   &s.counters,
		IsActive:   s.isActive,
		OnConnectionLost: func(error) {
			s.state.Transition(StateActive, StateClosing)
		},
	})
	s.pacerDone = make(chan struct{})
	go func() {
		err := pacer.Run(pacerCtx)
		close(s.pacerDone)
		if err != nil {
			s.cleanup("carrier connection lost")
		}
	}()

	s.greet(workerCtx)
	return nil
}

func (s *CallSession) startPipeline(bundle *providers.Bundle) error {
	tts, ok := bundle.Streaming()
	if !ok {
		return services.NewError(services.KindConfig, bundle.TTS.Name(), "start", errNoTTSShape)
	}

	s.decoder = audio.NewDecoder(audio.DecoderConfig{})
	s.turns = NewTurnBuffer(vad.NewEnergyAnalyzer(s.cfg.VAD), s.cfg.TurnDuration)
	s.turnCh = make(chan *Turn, turnChannelSize)
	s.streamer = NewTTSStreamer(TTSStreamerConfig{
		TTS:          tts,
		Queue:        s.queue,
		Encoder:      audio.NewEncoder(audio.EncoderConfig{InputRate: tts.SampleRate()}),
		Counters:     &s.counters,
		ChunkTimeout: s.cfg.TTSChunkTimeout,
		IsActive:     s.isActive,
	})
	s.orchestrator = NewTurnOrchestrator(TurnOrchestratorConfig{
		ASR:          bundle.ASR,
		Dialog:       bundle.Dialog,
		Speaker:      s.streamer,
		Counters:     &s.counters,
		ASRTimeout:   s.cfg.ASRTimeout,
		Retry:        s.cfg.Retry,
		SystemPrompt: s.cfg.SystemPrompt,
		Temperature:  s.cfg.Temperature,
	})
	return nil
}

// launchWorkers starts the goroutines built by startPipeline or startDuplex.
// It must run after the ACTIVE transition.
func (s *CallSession) launchWorkers(ctx context.Context) {
	s.workersDone = make(chan struct{})
	if s.pump != nil {
		go func() {
			defer close(s.workersDone)
			if err := s.pump.Run(ctx); err != nil {
				s.log.Error("Duplex provider stopped: %v", err)
			}
		}()
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.streamer.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.orchestrator.Run(ctx, s.turnCh)
	}()
	go func() {
		wg.Wait()
		close(s.workersDone)
	}()
}

func (s *CallSession) startDuplex(ctx context.Context, tts services.DuplexTTS) error {
	session, err := tts.Connect(ctx, s.cfg.SystemPrompt)
	if err != nil {
		return err
	}
	s.duplex = session
	s.decoder = audio.NewDecoder(audio.DecoderConfig{OutputRate: tts.InputSampleRate()})
	s.pump = NewDuplexPump(DuplexPumpConfig{
		Session:    session,
		Encoder:    audio.NewEncoder(audio.EncoderConfig{InputRate: tts.OutputSampleRate()}),
		Queue:      s.queue,
		Conn:       s.conn,
		Serializer: s.serializer,
		StreamSid:  s.CallID(),
		Counters:   &s.counters,
		IsActive:   s.isActive,
	})
	return nil
}

func (s *CallSession) greet(ctx context.Context) {
	if s.cfg.Greeting == "" {
		return
	}
	var err error
	if s.duplex != nil {
		err = s.duplex.SendText(s.cfg.Greeting)
	} else {
		err = s.streamer.Submit(ctx, Utterance{Text: s.cfg.Greeting, Tag: TagGreeting})
	}
	if err != nil {
		s.log.Warn("Greeting not sent: %v", err)
	}
}

// cleanup tears the call down once; later callers return immediately.
func (s *CallSession) cleanup(reason string) {
	if !s.cleaning.CompareAndSwap(false, true) {
		return
	}
	s.state.Store(StateClosing)
	s.log.Info("Cleaning up: %s", reason)
	started := time.Now()

	if s.pacerCancel != nil {
		s.pacerCancel()
		s.await("pacer", s.pacerDone, s.cfg.PacerGrace)
	}
	if s.workerCancel != nil {
		s.workerCancel()
		s.await("workers", s.workersDone, s.cfg.WorkerGrace)
	}

	providerDone := make(chan struct{})
	go func() {
		defer close(providerDone)
		if s.streamer != nil {
			s.streamer.Abort()
		}
		if s.duplex != nil {
			if err := s.duplex.Close(); err != nil {
				s.log.Debug("Close duplex session: %v", err)
			}
		}
		if err := s.bundle.Close(); err != nil {
			s.log.Warn("Close providers: %v", err)
		}
	}()
	s.await("providers", providerDone, s.cfg.ProviderGrace)

	if err := s.conn.Close(); err != nil {
		s.log.Debug("Close carrier socket: %v", err)
	}

	s.state.Store(StateClosed)
	snap := s.Stats()
	s.log.Info("Closed after %v: frames_sent=%d audio=%d silence=%d late=%d dropped=%d turns=%d",
		time.Since(started), snap.FramesSent, snap.AudioFrames, snap.SilenceFrames,
		snap.LateFrames, snap.DroppedFrames, snap.TurnsDispatch)
	if s.onClosed != nil {
		s.onClosed(s)
	}
	close(s.closed)
}

func (s *CallSession) await(name string, done <-chan struct{}, grace time.Duration) {
	if done == nil {
		return
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		s.log.Warn("%s did not stop within %v", name, grace)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
