package gemini

import (
	"context"
	"strings"

	"google.golang.org/genai"

	"github.com/square-key-labs/strawgo-bridge/src/logger"
	"github.com/square-key-labs/strawgo-bridge/src/services"
)

// LLMService provides dialog turns using Google Gemini
type LLMService struct {
	client      *genai.Client
	model       string
	temperature float64
	log         *logger.Logger
}

// LLMConfig holds configuration for Gemini
type LLMConfig struct {
	Client      ClientConfig
	Model       string // e.g., "gemini-2.0-flash"
	Temperature float64
}

// NewLLMService creates a new Gemini LLM service
func NewLLMService(ctx context.Context, config LLMConfig) (*LLMService, error) {
	client, err := NewClient(ctx, config.Client)
	if err != nil {
		return nil, err
	}
	return &LLMService{
		client:      client,
		model:       config.Model,
		temperature: config.Temperature,
		log:         logger.WithPrefix("Gemini"),
	}, nil
}

func (s *LLMService) Name() string { return "gemini" }

func (s *LLMService) Close() error { return nil }

// Respond generates the reply to userText given the dialog history.
func (s *LLMService) Respond(ctx context.Context, userText string, dialog *services.LLMContext) (*services.DialogResponse, error) {
	if dialog == nil {
		dialog = services.NewLLMContext("")
	}

	contents := make([]*genai.Content, 0, dialog.Len()+1)
	for _, msg := range dialog.Messages {
		role := genai.RoleUser
		if msg.Role == "assistant" {
			role = genai.RoleModel // Gemini uses "model" instead of "assistant"
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, genai.Role(role)))
	}
	contents = append(contents, genai.NewContentFromText(userText, genai.RoleUser))

	temperature := s.temperature
	if dialog.Temperature != 0 {
		temperature = dialog.Temperature
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(temperature)),
	}
	if dialog.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(dialog.SystemPrompt, genai.RoleUser)
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, cfg)
	if err != nil {
		return nil, classify("respond", err)
	}

	text := strings.TrimSpace(resp.Text())
	s.log.Debug("Assistant response length: %d", len(text))
	return &services.DialogResponse{Text: text, Context: dialog.WithExchange(userText, text)}, nil
}
