// Package config loads bridge settings from defaults, an optional YAML file,
// a .env file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full bridge configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Providers ProvidersConfig `yaml:"providers"`
	LogLevel  string          `yaml:"log_level"`
}

// ServerConfig HTTP and media-socket settings
type ServerConfig struct {
	HTTPAddress string `yaml:"http_address"` // listen address, e.g. ":8080"
	StreamPath  string `yaml:"stream_path"`  // path mounted for the media WebSocket
	PublicHost  string `yaml:"public_host"`  // host used in the webhook stream URL; request Host when empty
}

// AudioConfig core audio path settings
type AudioConfig struct {
	VADRMSThreshold        float64 `yaml:"vad_rms_threshold"`
	VADEnergyThreshold     float64 `yaml:"vad_energy_threshold"`
	VADHangoverFrames      int     `yaml:"vad_hangover_frames"`
	AudioBufferDurationSec float64 `yaml:"audio_buffer_duration_s"`
	MaxEgressFrames        int     `yaml:"max_egress_frames"`
	FrameIntervalMs        int     `yaml:"frame_interval_ms"`
}

// TimeoutConfig provider and socket timeouts, in seconds
type TimeoutConfig struct {
	ASRSec         float64 `yaml:"asr_s"`
	TTSChunkSec    float64 `yaml:"tts_chunk_s"`
	ReceiveIdleSec float64 `yaml:"receive_idle_s"`
}

// ProvidersConfig selects and configures the speech and dialog providers
type ProvidersConfig struct {
	ASR          string `yaml:"asr"`    // deepgram | openai
	Dialog       string `yaml:"dialog"` // openai | gemini
	TTS          string `yaml:"tts"`    // elevenlabs | cartesia | gemini-live
	SystemPrompt string `yaml:"system_prompt"`
	Greeting     string `yaml:"greeting"`

	Deepgram   DeepgramConfig   `yaml:"deepgram"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Google     GoogleConfig     `yaml:"google"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs"`
	Cartesia   CartesiaConfig   `yaml:"cartesia"`
}

type DeepgramConfig struct {
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

type OpenAIConfig struct {
	APIKey       string  `yaml:"api_key"`
	Model        string  `yaml:"model"`
	WhisperModel string  `yaml:"whisper_model"`
	Temperature  float64 `yaml:"temperature"`
	BaseURL      string  `yaml:"base_url"`
}

type GoogleConfig struct {
	APIKey    string `yaml:"api_key"`
	Backend   string `yaml:"backend"` // gemini | vertex
	Project   string `yaml:"project"`
	Location  string `yaml:"location"`
	Model     string `yaml:"model"`
	LiveModel string `yaml:"live_model"`
	Voice     string `yaml:"voice"`
}

type ElevenLabsConfig struct {
	APIKey  string `yaml:"api_key"`
	VoiceID string `yaml:"voice_id"`
	Model   string `yaml:"model"`
}

type CartesiaConfig struct {
	APIKey  string `yaml:"api_key"`
	VoiceID string `yaml:"voice_id"`
	Model   string `yaml:"model"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddress: ":8080",
			StreamPath:  "/stream",
		},
		Audio: AudioConfig{
			VADRMSThreshold:        500,
			VADEnergyThreshold:     0.01,
			VADHangoverFrames:      6,
			AudioBufferDurationSec: 3.0,
			MaxEgressFrames:        150,
			FrameIntervalMs:        20,
		},
		Timeouts: TimeoutConfig{
			ASRSec:         30,
			TTSChunkSec:    15,
			ReceiveIdleSec: 30,
		},
		Providers: ProvidersConfig{
			ASR:          "deepgram",
			Dialog:       "openai",
			TTS:          "elevenlabs",
			Greeting:     "Hello",
			SystemPrompt: "You are a friendly voice assistant on a phone call. Answer in one or two short spoken sentences.",
			Deepgram:     DeepgramConfig{Model: "nova-2", Language: "en"},
			OpenAI:       OpenAIConfig{Model: "gpt-4o-mini", WhisperModel: "whisper-1", Temperature: 0.7},
			Google: GoogleConfig{
				Backend:   "gemini",
				Location:  "us-central1",
				Model:     "gemini-2.0-flash",
				LiveModel: "gemini-2.0-flash-live-001",
				Voice:     "Puck",
			},
			ElevenLabs: ElevenLabsConfig{VoiceID: "21m00Tcm4TlvDq8ikWAM", Model: "eleven_flash_v2_5"},
			Cartesia:   CartesiaConfig{Model: "sonic-2"},
		},
		LogLevel: "info",
	}
}

// Load builds the configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("HTTP_ADDRESS", &c.Server.HTTPAddress)
	e.str("TELEPHONY_STREAM_PATH", &c.Server.StreamPath)
	e.str("PUBLIC_HOST", &c.Server.PublicHost)

	e.float("VAD_RMS_THRESHOLD", &c.Audio.VADRMSThreshold)
	e.float("VAD_ENERGY_THRESHOLD", &c.Audio.VADEnergyThreshold)
	e.int("VAD_HANGOVER_FRAMES", &c.Audio.VADHangoverFrames)
	e.float("AUDIO_BUFFER_DURATION_S", &c.Audio.AudioBufferDurationSec)
	e.int("MAX_EGRESS_FRAMES", &c.Audio.MaxEgressFrames)
	e.int("FRAME_INTERVAL_MS", &c.Audio.FrameIntervalMs)

	e.float("ASR_TIMEOUT_S", &c.Timeouts.ASRSec)
	e.float("TTS_CHUNK_TIMEOUT_S", &c.Timeouts.TTSChunkSec)
	e.float("RECEIVE_IDLE_TIMEOUT_S", &c.Timeouts.ReceiveIdleSec)
	e.str("LOG_LEVEL", &c.LogLevel)

	p := &c.Providers
	e.str("ASR_PROVIDER", &p.ASR)
	e.str("DIALOG_PROVIDER", &p.Dialog)
	e.str("TTS_PROVIDER", &p.TTS)
	e.str("SYSTEM_PROMPT", &p.SystemPrompt)
	e.str("GREETING_TEXT", &p.Greeting)

	e.str("DEEPGRAM_API_KEY", &p.Deepgram.APIKey)
	e.str("DEEPGRAM_MODEL", &p.Deepgram.Model)
	e.str("OPENAI_API_KEY", &p.OpenAI.APIKey)
	e.str("OPENAI_MODEL", &p.OpenAI.Model)
	e.str("OPENAI_WHISPER_MODEL", &p.OpenAI.WhisperModel)
	e.str("OPENAI_BASE_URL", &p.OpenAI.BaseURL)
	e.str("GOOGLE_API_KEY", &p.Google.APIKey)
	e.str("GOOGLE_BACKEND", &p.Google.Backend)
	e.str("GOOGLE_CLOUD_PROJECT", &p.Google.Project)
	e.str("GOOGLE_CLOUD_LOCATION", &p.Google.Location)
	e.str("GEMINI_MODEL", &p.Google.Model)
	e.str("GEMINI_LIVE_MODEL", &p.Google.LiveModel)
	e.str("GEMINI_VOICE", &p.Google.Voice)
	e.str("ELEVENLABS_API_KEY", &p.ElevenLabs.APIKey)
	e.str("ELEVENLABS_VOICE_ID", &p.ElevenLabs.VoiceID)
	e.str("ELEVENLABS_MODEL", &p.ElevenLabs.Model)
	e.str("CARTESIA_API_KEY", &p.Cartesia.APIKey)
	e.str("CARTESIA_VOICE_ID", &p.Cartesia.VoiceID)
	e.str("CARTESIA_MODEL", &p.Cartesia.Model)

	return errors.Join(e.errs...)
}

// Validate rejects settings the audio path cannot run with. Missing provider
// credentials are reported per session instead.
func (c *Config) Validate() error {
	var errs []error
	if !strings.HasPrefix(c.Server.StreamPath, "/") {
		errs = append(errs, fmt.Errorf("stream path must start with '/': %q", c.Server.StreamPath))
	}
	if c.Audio.FrameIntervalMs != 20 {
		errs = append(errs, fmt.Errorf("frame interval is fixed at 20ms, got %dms", c.Audio.FrameIntervalMs))
	}
	if c.Audio.VADRMSThreshold < 0 || c.Audio.VADEnergyThreshold < 0 {
		errs = append(errs, errors.New("VAD thresholds must not be negative"))
	}
	if c.Audio.VADHangoverFrames < 0 {
		errs = append(errs, errors.New("VAD hangover must not be negative"))
	}
	if c.Audio.AudioBufferDurationSec <= 0 {
		errs = append(errs, errors.New("audio buffer duration must be positive"))
	}
	if c.Audio.MaxEgressFrames <= 0 {
		errs = append(errs, errors.New("max egress frames must be positive"))
	}
	if c.Timeouts.ASRSec <= 0 || c.Timeouts.TTSChunkSec <= 0 || c.Timeouts.ReceiveIdleSec <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	return errors.Join(errs...)
}

// AudioBufferDuration is the maximum length of one caller turn.
func (c *Config) AudioBufferDuration() time.Duration { return seconds(c.Audio.AudioBufferDurationSec) }

// FrameInterval is the egress pacing interval.
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.Audio.FrameIntervalMs) * time.Millisecond
}

// ASRTimeout bounds one transcription call.
func (c *Config) ASRTimeout() time.Duration { return seconds(c.Timeouts.ASRSec) }

// TTSChunkTimeout bounds the wait for the next synthesized chunk.
func (c *Config) TTSChunkTimeout() time.Duration { return seconds(c.Timeouts.TTSChunkSec) }

// ReceiveIdleTimeout is how long the carrier may stay silent on the socket.
func (c *Config) ReceiveIdleTimeout() time.Duration { return seconds(c.Timeouts.ReceiveIdleSec) }

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}
