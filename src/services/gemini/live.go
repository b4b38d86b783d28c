package gemini

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/square-key-labs/strawgo-bridge/src/logger"
	"github.com/square-key-labs/strawgo-bridge/src/services"
)

const (
	liveInputRate  = 16000
	liveOutputRate = 24000
)

// LiveService is a duplex speech-to-speech provider on the Gemini Live API.
type LiveService struct {
	client *genai.Client
	model  string
	voice  string
	log    *logger.Logger
}

// LiveConfig holds configuration for Gemini Live
type LiveConfig struct {
	Client ClientConfig
	Model  string // e.g., "gemini-2.0-flash-live-001"
	Voice  string // prebuilt voice name, e.g. "Puck"
}

// NewLiveService creates a Gemini Live duplex service
func NewLiveService(ctx context.Context, config LiveConfig) (*LiveService, error) {
	client, err := NewClient(ctx, config.Client)
	if err != nil {
		return nil, err
	}
	return &LiveService{
		client: client,
		model:  config.Model,
		voice:  config.Voice,
		log:    logger.WithPrefix("GeminiLive"),
	}, nil
}

func (s *LiveService) Name() string { return "gemini-live" }

func (s *LiveService) Close() error { return nil }

func (s *LiveService) Capabilities() services.Capability { return services.CapDuplexAudio }

func (s *LiveService) InputSampleRate() int { return liveInputRate }

func (s *LiveService) OutputSampleRate() int { return liveOutputRate }

// Connect opens one live session for a call.
func (s *LiveService) Connect(ctx context.Context, systemPrompt string) (services.DuplexSession, error) {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	if s.voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: s.voice},
			},
		}
	}

	session, err := s.client.Live.Connect(ctx, s.model, cfg)
	if err != nil {
		return nil, classify("connect", err)
	}
	s.log.Info("Live session connected (model %s)", s.model)
	return &liveSession{session: session, log: s.log}, nil
}

type liveSession struct {
	session *genai.Session
	log     *logger.Logger

	sendMu    sync.Mutex
	closeOnce sync.Once
}

func (l *liveSession) SendAudio(pcm []byte) error {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	err := l.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: fmt.Sprintf("audio/pcm;rate=%d", liveInputRate)},
	})
	if err != nil {
		return services.NewError(services.KindConnectionLost, "gemini-live", "send_audio", err)
	}
	return nil
}

func (l *liveSession) SendText(text string) error {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	if err := l.session.SendRealtimeInput(genai.LiveRealtimeInput{Text: text}); err != nil {
		return services.NewError(services.KindConnectionLost, "gemini-live", "send_text", err)
	}
	return nil
}

// Receive blocks for the next server message. The SDK read takes no
// context, so cancelling ctx closes the session to unblock it.
func (l *liveSession) Receive(ctx context.Context) (*services.DuplexEvent, error) {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := l.session.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, services.NewError(services.KindConnectionLost, "gemini-live", "receive", err)
		}
		if ev := toEvent(msg); ev != nil {
			return ev, nil
		}
	}
}

func (l *liveSession) Close() error {
	var err error
	l.closeOnce.Do(func() { err = l.session.Close() })
	return err
}

// toEvent flattens a server message, or returns nil for setup and tool traffic.
func toEvent(msg *genai.LiveServerMessage) *services.DuplexEvent {
	if msg == nil || msg.ServerContent == nil {
		return nil
	}
	sc := msg.ServerContent
	ev := &services.DuplexEvent{TurnComplete: sc.TurnComplete, Interrupted: sc.Interrupted}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part != nil && part.InlineData != nil {
				ev.Audio = append(ev.Audio, part.InlineData.Data...)
			}
		}
	}
	if sc.OutputTranscription != nil {
		ev.Transcript = sc.OutputTranscription.Text
	}
	if len(ev.Audio) == 0 && ev.Transcript == "" && !ev.TurnComplete && !ev.Interrupted {
		return nil
	}
	return ev
}
