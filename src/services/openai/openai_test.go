package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/square-key-labs/strawgo-bridge/src/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondStreamsAndExtendsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 4)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "what time is it", req.Messages[3].Content)
		assert.True(t, req.Stream)

		for _, tok := range []string{"It is", " noon."} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	llm, err := NewLLMService(LLMConfig{APIKey: "key", Model: "gpt-4o-mini", BaseURL: srv.URL})
	require.NoError(t, err)

	dialog := services.NewLLMContext("be brief")
	dialog.AddUserMessage("hi")
	dialog.AddAssistantMessage("hello")

	resp, err := llm.Respond(context.Background(), "what time is it", dialog)
	require.NoError(t, err)
	assert.Equal(t, "It is noon.", resp.Text)
	assert.Equal(t, 4, resp.Context.Len())
	assert.Equal(t, 2, dialog.Len(), "input context must not be mutated")
}

func TestRespondRateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	llm, err := NewLLMService(LLMConfig{APIKey: "key", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = llm.Respond(context.Background(), "hi", nil)
	assert.True(t, services.IsTransient(err))
}

func TestWhisperTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "utterance.wav", hdr.Filename)
		w.Write([]byte(`{"text":" reset "}`))
	}))
	defer srv.Close()

	asr, err := NewWhisperService(WhisperConfig{APIKey: "key", BaseURL: srv.URL})
	require.NoError(t, err)

	text, err := asr.Transcribe(context.Background(), []byte("RIFF...."), services.WAV16kMono)
	require.NoError(t, err)
	assert.Equal(t, "reset", text)
}
