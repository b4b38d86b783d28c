package cartesia

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSynthesize(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tts/websocket", r.URL.Path)
		assert.Equal(t, "key", r.URL.Query().Get("api_key"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var req generationRequest
		require.NoError(t, conn.ReadJSON(&req))
		assert.Equal(t, "Goodbye", req.Transcript)
		assert.False(t, req.Continue)
		assert.Equal(t, 16000, req.OutputFormat.SampleRate)
		assert.Equal(t, "pcm_s16le", req.OutputFormat.Encoding)

		conn.WriteJSON(response{Type: "chunk", ContextID: req.ContextID, Data: base64.StdEncoding.EncodeToString([]byte{9, 9})})
		conn.WriteJSON(response{Type: "timestamps", ContextID: req.ContextID})
		conn.WriteJSON(response{Type: "done", ContextID: req.ContextID})
		conn.ReadMessage()
	}))
	defer srv.Close()

	tts, err := NewTTSService(TTSConfig{APIKey: "key", VoiceID: "v", BaseURL: wsURL(srv)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := tts.Synthesize(ctx, "Goodbye")
	require.NoError(t, err)
	defer stream.Close()

	chunk, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, chunk)

	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestNextHonoursTimeout(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	tts, err := NewTTSService(TTSConfig{APIKey: "key", BaseURL: wsURL(srv)})
	require.NoError(t, err)

	stream, err := tts.Synthesize(context.Background(), "hi")
	require.NoError(t, err)
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = stream.Next(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// A silent but healthy provider still answers pings.
	assert.NoError(t, stream.Ping(context.Background()))
}
