package pipeline

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/square-key-labs/strawgo-bridge/src/audio"
	"github.com/square-key-labs/strawgo-bridge/src/logger"
	"github.com/square-key-labs/strawgo-bridge/src/services"
	"github.com/square-key-labs/strawgo-bridge/src/stats"
)

// resetWords start a fresh conversation when any appears as a word.
var resetWords = map[string]struct{}{
	"hello": {}, "hi": {}, "hey": {}, "start": {}, "new": {}, "help": {}, "menu": {}, "general": {},
}

// IsResetCommand reports whether a transcript should clear the dialog context.
func IsResetCommand(transcript string) bool {
	t := strings.ToLower(strings.TrimSpace(transcript))
	if t == "reset" {
		return true
	}
	words := strings.FieldsFunc(t, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	for _, w := range words {
		if _, ok := resetWords[w]; ok {
			return true
		}
	}
	return false
}

// Speaker accepts text for synthesis.
type Speaker interface {
	Submit(ctx context.Context, u Utterance) error
}

// TurnOrchestratorConfig holds configuration for a TurnOrchestrator
type TurnOrchestratorConfig struct {
	ASR          services.ASRService
	Dialog       services.DialogService
	Speaker      Speaker
	Counters     *stats.Counters
	ASRTimeout   time.Duration // default 30s
	Retry        services.RetryPolicy
	SystemPrompt string
	Temperature  float64
}

// TurnOrchestrator runs ASR, dialog and TTS submission for each closed turn,
// one at a time and in arrival order. It owns the dialog context.
type TurnOrchestrator struct {
	cfg    TurnOrchestratorConfig
	dialog *services.LLMContext
	log    *logger.Logger
}

// NewTurnOrchestrator creates an orchestrator with an empty dialog context.
func NewTurnOrchestrator(cfg TurnOrchestratorConfig) *TurnOrchestrator {
	if cfg.ASRTimeout <= 0 {
		cfg.ASRTimeout = 30 * time.Second
	}
	if cfg.Counters == nil {
		cfg.Counters = &stats.Counters{}
	}
	if cfg.Retry == (services.RetryPolicy{}) {
		cfg.Retry = services.DefaultRetryPolicy
	}
	dialog := services.NewLLMContext(cfg.SystemPrompt)
	if cfg.Temperature != 0 {
		dialog.Temperature = cfg.Temperature
	}
	return &TurnOrchestrator{cfg: cfg, dialog: dialog, log: logger.WithPrefix("Turns")}
}

// Run handles turns until ctx is done or turns is closed.
func (o *TurnOrchestrator) Run(ctx context.Context, turns <-chan *Turn) {
	for {
		select {
		case <-ctx.Done():
			return
		case turn, ok := <-turns:
			if !ok {
				return
			}
			o.Handle(ctx, turn)
		}
	}
}

// Handle processes one turn. Failures skip the turn and are counted.
func (o *TurnOrchestrator) Handle(ctx context.Context, turn *Turn) {
	if turn == nil || turn.VoicedFrames == 0 {
		return
	}
	started := time.Now()

	wav := audio.EncodeWAV(turn.PCM, audio.PipelineRate, 1)
	text, err := services.Retry(ctx, o.cfg.Retry, "asr", func(ctx context.Context) (string, error) {
		actx, cancel := context.WithTimeout(ctx, o.cfg.ASRTimeout)
		defer cancel()
		return o.cfg.ASR.Transcribe(actx, wav, services.WAV16kMono)
	})
	if err != nil {
		o.skip(ctx, "ASR failed: %v", err)
		return
	}
	if text == "" {
		o.skip(ctx, "Empty transcript for %.2fs turn (%s)", float64(turn.Samples())/audio.PipelineRate, turn.Reason)
		return
	}
	o.log.Info("User: %s", text)

	if IsResetCommand(text) {
		o.log.Info("Reset word heard, clearing %d dialog messages", o.dialog.Len())
		o.dialog.Clear()
	}

	resp, err := services.Retry(ctx, o.cfg.Retry, "dialog", func(ctx context.Context) (*services.DialogResponse, error) {
		return o.cfg.Dialog.Respond(ctx, text, o.dialog)
	})
	if err != nil {
		o.skip(ctx, "Dialog failed: %v", err)
		return
	}
	if resp.Context != nil {
		o.dialog = resp.Context
	}
	if resp.Text == "" {
		o.skip(ctx, "Dialog returned no text")
		return
	}
	o.log.Info("Assistant: %s (%v after turn close)", resp.Text, time.Since(started))

	if err := o.cfg.Speaker.Submit(ctx, Utterance{Text: resp.Text, Tag: TagResponse}); err != nil && ctx.Err() == nil {
		o.log.Error("Submit response: %v", err)
	}
}

func (o *TurnOrchestrator) skip(ctx context.Context, format string, args ...interface{}) {
	if ctx.Err() != nil {
		return
	}
	o.cfg.Counters.TurnsSkipped.Add(1)
	o.log.Warn(format, args...)
}

// DialogLen returns the number of messages in the dialog context.
func (o *TurnOrchestrator) DialogLen() int { return o.dialog.Len() }
