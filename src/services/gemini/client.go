package gemini

import (
	"context"
	"errors"
	"net/http"

	"cloud.google.com/go/auth/credentials"
	"google.golang.org/genai"

	"github.com/square-key-labs/strawgo-bridge/src/services"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// ClientConfig selects the Gemini API or Vertex AI backend.
type ClientConfig struct {
	APIKey   string
	Backend  string // "gemini" (default) or "vertex"
	Project  string
	Location string

	// BaseURL and HTTPClient override the transport, mostly for tests.
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient builds a genai client. Vertex AI uses application default credentials.
func NewClient(ctx context.Context, config ClientConfig) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		HTTPClient:  config.HTTPClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: config.BaseURL},
	}

	switch config.Backend {
	case "vertex":
		if config.Project == "" {
			return nil, services.MissingCredential("gemini", "GOOGLE_CLOUD_PROJECT")
		}
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes: []string{cloudPlatformScope},
		})
		if err != nil {
			return nil, services.NewError(services.KindConfig, "gemini", "credentials", err)
		}
		cc.Backend = genai.BackendVertexAI
		cc.Project = config.Project
		cc.Location = config.Location
		cc.Credentials = creds
	default:
		if config.APIKey == "" {
			return nil, services.MissingCredential("gemini", "GOOGLE_API_KEY")
		}
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = config.APIKey
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, services.NewError(services.KindConfig, "gemini", "connect", err)
	}
	return client, nil
}

// classify maps genai API errors onto service error kinds.
func classify(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return services.StatusError("gemini", op, apiErr.Code, []byte(apiErr.Message))
	}
	return services.Classify("gemini", op, err)
}
