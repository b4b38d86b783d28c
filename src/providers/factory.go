// Package providers builds the per-call provider bundle from configuration.
package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/square-key-labs/strawgo-bridge/src/config"
	"github.com/square-key-labs/strawgo-bridge/src/services"
	"github.com/square-key-labs/strawgo-bridge/src/services/cartesia"
	"github.com/square-key-labs/strawgo-bridge/src/services/deepgram"
	"github.com/square-key-labs/strawgo-bridge/src/services/elevenlabs"
	"github.com/square-key-labs/strawgo-bridge/src/services/gemini"
	"github.com/square-key-labs/strawgo-bridge/src/services/openai"
)

// Bundle is the set of providers one call uses. In duplex mode ASR and
// Dialog are nil and TTS implements services.DuplexTTS.
type Bundle struct {
	ASR    services.ASRService
	Dialog services.DialogService
	TTS    services.TTSService
}

// Duplex returns the duplex provider, if the bundle is in duplex mode.
func (b *Bundle) Duplex() (services.DuplexTTS, bool) {
	if b == nil || b.TTS == nil || !b.TTS.Capabilities().Has(services.CapDuplexAudio) {
		return nil, false
	}
	d, ok := b.TTS.(services.DuplexTTS)
	return d, ok
}

// Streaming returns the text-to-PCM provider, if the bundle has one.
func (b *Bundle) Streaming() (services.StreamingTTS, bool) {
	if b == nil || b.TTS == nil || !b.TTS.Capabilities().Has(services.CapStreamTextToPCM) {
		return nil, false
	}
	s, ok := b.TTS.(services.StreamingTTS)
	return s, ok
}

// Close releases every provider in the bundle.
func (b *Bundle) Close() error {
	if b == nil {
		return nil
	}
	var errs []error
	for _, svc := range []services.AIService{b.ASR, b.Dialog, b.TTS} {
		if svc != nil {
			if err := svc.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", svc.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Factory creates a Bundle for each new call.
type Factory interface {
	NewBundle(ctx context.Context) (*Bundle, error)
}

// ConfigFactory builds bundles from the provider configuration.
type ConfigFactory struct {
	cfg config.ProvidersConfig
}

// NewFactory returns a factory for cfg.
func NewFactory(cfg config.ProvidersConfig) *ConfigFactory {
	return &ConfigFactory{cfg: cfg}
}

// IsDuplex reports whether the configured TTS is a duplex provider.
func (f *ConfigFactory) IsDuplex() bool {
	return f.cfg.TTS == "gemini-live"
}

func (f *ConfigFactory) NewBundle(ctx context.Context) (*Bundle, error) {
	tts, err := f.newTTS(ctx)
	if err != nil {
		return nil, err
	}
	b := &Bundle{TTS: tts}
	if f.IsDuplex() {
		return b, nil
	}

	// Assigned through locals: a failed constructor returns a typed nil.
	asr, err := f.newASR()
	if err != nil {
		b.Close()
		return nil, err
	}
	b.ASR = asr

	dialog, err := f.newDialog(ctx)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.Dialog = dialog
	return b, nil
}

func (f *ConfigFactory) googleClient() gemini.ClientConfig {
	g := f.cfg.Google
	return gemini.ClientConfig{APIKey: g.APIKey, Backend: g.Backend, Project: g.Project, Location: g.Location}
}

func (f *ConfigFactory) newASR() (services.ASRService, error) {
	switch f.cfg.ASR {
	case "deepgram":
		d := f.cfg.Deepgram
		return deepgram.NewASRService(deepgram.ASRConfig{APIKey: d.APIKey, Model: d.Model, Language: d.Language})
	case "openai":
		o := f.cfg.OpenAI
		return openai.NewWhisperService(openai.WhisperConfig{APIKey: o.APIKey, Model: o.WhisperModel, BaseURL: o.BaseURL})
	default:
		return nil, unknownProvider("asr", f.cfg.ASR)
	}
}

func (f *ConfigFactory) newDialog(ctx context.Context) (services.DialogService, error) {
	switch f.cfg.Dialog {
	case "openai":
		o := f.cfg.OpenAI
		return openai.NewLLMService(openai.LLMConfig{APIKey: o.APIKey, Model: o.Model, Temperature: o.Temperature, BaseURL: o.BaseURL})
	case "gemini":
		return gemini.NewLLMService(ctx, gemini.LLMConfig{
			Client:      f.googleClient(),
			Model:       f.cfg.Google.Model,
			Temperature: f.cfg.OpenAI.Temperature,
		})
	default:
		return nil, unknownProvider("dialog", f.cfg.Dialog)
	}
}

func (f *ConfigFactory) newTTS(ctx context.Context) (services.TTSService, error) {
	switch f.cfg.TTS {
	case "elevenlabs":
		e := f.cfg.ElevenLabs
		return elevenlabs.NewTTSService(elevenlabs.TTSConfig{APIKey: e.APIKey, VoiceID: e.VoiceID, Model: e.Model})
	case "cartesia":
		c := f.cfg.Cartesia
		return cartesia.NewTTSService(cartesia.TTSConfig{APIKey: c.APIKey, VoiceID: c.VoiceID, Model: c.Model})
	case "gemini-live":
		return gemini.NewLiveService(ctx, gemini.LiveConfig{
			Client: f.googleClient(),
			Model:  f.cfg.Google.LiveModel,
			Voice:  f.cfg.Google.Voice,
		})
	default:
		return nil, unknownProvider("tts", f.cfg.TTS)
	}
}

func unknownProvider(role, name string) error {
	return services.NewError(services.KindConfig, name, "configure", fmt.Errorf("unknown %s provider %q", role, name))
}
