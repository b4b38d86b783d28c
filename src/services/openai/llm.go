package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/square-key-labs/strawgo-bridge/src/logger"
	"github.com/square-key-labs/strawgo-bridge/src/services"
)

const defaultBaseURL = "https://api.openai.com"

// LLMService provides dialog turns using OpenAI chat completions
type LLMService struct {
	apiKey      string
	model       string
	temperature float64
	baseURL     string
	client      *http.Client
	log         *logger.Logger
}

// LLMConfig holds configuration for OpenAI
type LLMConfig struct {
	APIKey      string
	Model       string // e.g., "gpt-4o-mini"
	Temperature float64
	BaseURL     string // defaults to https://api.openai.com
	HTTPClient  *http.Client
}

// NewLLMService creates a new OpenAI LLM service
func NewLLMService(config LLMConfig) (*LLMService, error) {
	if config.APIKey == "" {
		return nil, services.MissingCredential("openai", "OPENAI_API_KEY")
	}
	return &LLMService{
		apiKey:      config.APIKey,
		model:       config.Model,
		temperature: config.Temperature,
		baseURL:     baseURL(config.BaseURL),
		client:      httpClient(config.HTTPClient),
		log:         logger.WithPrefix("OpenAI"),
	}, nil
}

func baseURL(u string) string {
	if u == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(u, "/")
}

func httpClient(c *http.Client) *http.Client {
	if c == nil {
		return &http.Client{}
	}
	return c
}

func (s *LLMService) Name() string { return "openai" }

func (s *LLMService) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

// Respond sends the history plus userText and returns the reply with an
// extended copy of dialog.
func (s *LLMService) Respond(ctx context.Context, userText string, dialog *services.LLMContext) (*services.DialogResponse, error) {
	if dialog == nil {
		dialog = services.NewLLMContext("")
	}

	messages := make([]chatMessage, 0, dialog.Len()+2)
	if dialog.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: dialog.SystemPrompt})
	}
	for _, msg := range dialog.Messages {
		messages = append(messages, chatMessage{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userText})

	temperature := s.temperature
	if dialog.Temperature != 0 {
		temperature = dialog.Temperature
	}
	body, err := json.Marshal(chatRequest{Model: s.model, Messages: messages, Temperature: temperature, Stream: true})
	if err != nil {
		return nil, services.NewError(services.KindInternal, s.Name(), "respond", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, services.NewError(services.KindInternal, s.Name(), "respond", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, services.Classify(s.Name(), "respond", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, services.StatusError(s.Name(), "respond", resp.StatusCode, b)
	}

	text, err := readStream(resp.Body)
	if err != nil {
		return nil, services.Classify(s.Name(), "respond", err)
	}
	text = strings.TrimSpace(text)
	s.log.Debug("Assistant: %s", text)

	return &services.DialogResponse{Text: text, Context: dialog.WithExchange(userText, text)}, nil
}

// readStream concatenates the content deltas of a server-sent event stream.
func readStream(r io.Reader) (string, error) {
	var full strings.Builder
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 {
			full.WriteString(chunk.Choices[0].Delta.Content)
		}
	}
	return full.String(), scanner.Err()
}
