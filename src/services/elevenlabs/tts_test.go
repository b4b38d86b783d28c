package elevenlabs

import (
	"context"
	"encoding/base64"
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

func TestSynthesizeStreamsUntilFinal(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("xi-api-key"))
		assert.Equal(t, "pcm_16000", r.URL.Query().Get("output_format"))
		assert.True(t, strings.HasPrefix(r.URL.Path, "/v1/text-to-speech/voice/"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var ctxID string
		for i := 0; i < 4; i++ {
			var msg textMessage
			require.NoError(t, conn.ReadJSON(&msg))
			ctxID = msg.ContextID
			switch i {
			case 1:
				assert.Equal(t, "Hello caller ", msg.Text)
			case 2:
				assert.True(t, msg.Flush)
				assert.False(t, msg.CloseContext)
			case 3:
				assert.True(t, msg.CloseContext)
				assert.Empty(t, msg.Text)
			}
		}
		// The provider only finishes a context once it is closed.
		conn.WriteJSON(audioMessage{Audio: base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}), ContextID: ctxID})
		conn.WriteJSON(audioMessage{Audio: base64.StdEncoding.EncodeToString([]byte{1, 2}), ContextID: "stale"})
		conn.WriteJSON(audioMessage{Audio: base64.StdEncoding.EncodeToString([]byte{5, 6}), ContextID: ctxID})
		conn.WriteJSON(audioMessage{IsFinal: true, ContextID: ctxID})
		conn.ReadMessage()
	}))
	defer srv.Close()

	tts, err := NewTTSService(TTSConfig{APIKey: "key", VoiceID: "voice", Model: "m", BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := tts.Synthesize(ctx, "Hello caller")
	require.NoError(t, err)
	defer stream.Close()

	var got []byte
	for {
		chunk, err := stream.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, chunk...)
	}
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, got)
}

func TestParserProviderError(t *testing.T) {
	tts, err := NewTTSService(TTSConfig{APIKey: "key"})
	require.NoError(t, err)

	_, _, err = tts.parser("c")([]byte(`{"error":"quota_exceeded","message":"out of credits"}`))
	assert.ErrorContains(t, err, "quota_exceeded")
}
