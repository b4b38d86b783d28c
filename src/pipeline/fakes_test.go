package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/square-key-labs/strawgo-bridge/src/audio"
	"github.com/square-key-labs/strawgo-bridge/src/frames"
	"github.com/square-key-labs/strawgo-bridge/src/providers"
	"github.com/square-key-labs/strawgo-bridge/src/services"
	"github.com/square-key-labs/strawgo-bridge/src/stats"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory carrier socket.
type fakeConn struct {
	mu       sync.Mutex
	writes   [][]byte
	failWith error
	incoming chan []byte
	closed   bool
	done     chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 256), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-c.incoming:
		return msg, nil
	case <-c.done:
		return nil, errors.New("read: use of closed network connection")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write: use of closed network connection")
	}
	if c.failWith != nil {
		return c.failWith
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake" }

func (c *fakeConn) fail(err error) {
	c.mu.Lock()
	c.failWith = err
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type envelope struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Media     *struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// sent decodes every outbound message.
func (c *fakeConn) sent(t *testing.T) []envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]envelope, 0, len(c.writes))
	for _, w := range c.writes {
		var e envelope
		require.NoError(t, json.Unmarshal(w, &e))
		out = append(out, e)
	}
	return out
}

// fakeASR returns scripted transcripts in order, then the last one forever.
type fakeASR struct {
	mu          sync.Mutex
	transcripts []string
	err         error
	flaky       error // returned by the first call only
	calls       atomic.Int32
}

func (a *fakeASR) Name() string { return "fake-asr" }
func (a *fakeASR) Close() error { return nil }

func (a *fakeASR) Transcribe(ctx context.Context, wav []byte, format services.AudioFormat) (string, error) {
	n := int(a.calls.Add(1))
	if n == 1 && a.flaky != nil {
		return "", a.flaky
	}
	if a.err != nil {
		return "", a.err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.transcripts) == 0 {
		return "", nil
	}
	if n > len(a.transcripts) {
		n = len(a.transcripts)
	}
	return a.transcripts[n-1], nil
}

// fakeDialog echoes the user text and records the history length it saw.
type fakeDialog struct {
	mu      sync.Mutex
	seenLen []int
	err     error
}

func (d *fakeDialog) Name() string { return "fake-dialog" }
func (d *fakeDialog) Close() error { return nil }

func (d *fakeDialog) Respond(ctx context.Context, userText string, dialog *services.LLMContext) (*services.DialogResponse, error) {
	d.mu.Lock()
	d.seenLen = append(d.seenLen, dialog.Len())
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	text := "You said " + userText
	return &services.DialogResponse{Text: text, Context: dialog.WithExchange(userText, text)}, nil
}

func (d *fakeDialog) seen() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.seenLen...)
}

// fakeTTS produces a scripted stream per utterance.
type fakeTTS struct {
	rate   int
	script func(text string) *fakeStream

	mu    sync.Mutex
	texts []string
}

func (f *fakeTTS) Name() string                      { return "fake-tts" }
func (f *fakeTTS) Close() error                      { return nil }
func (f *fakeTTS) Capabilities() services.Capability { return services.CapStreamTextToPCM }

func (f *fakeTTS) SampleRate() int {
	if f.rate == 0 {
		return audio.PipelineRate
	}
	return f.rate
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string) (services.AudioStream, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	st := &fakeStream{chunks: [][]byte{tone(0.2)}}
	if f.script != nil {
		st = f.script(text)
	}
	st.closed = make(chan struct{})
	return st, nil
}

func (f *fakeTTS) spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeStream struct {
	chunks  [][]byte
	failErr error         // returned after the chunks
	hang    bool          // block after the chunks until ctx or Close
	pingErr error
	delay   time.Duration // before the first chunk only

	delayed   bool
	idx       int
	pings     atomic.Int32
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *fakeStream) Next(ctx context.Context) ([]byte, error) {
	if s.delay > 0 && !s.delayed {
		s.delayed = true
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.idx < len(s.chunks) {
		s.idx++
		return s.chunks[s.idx-1], nil
	}
	if s.failErr != nil {
		return nil, s.failErr
	}
	if s.hang {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closed:
			return nil, services.ErrStreamClosed
		}
	}
	return nil, io.EOF
}

func (s *fakeStream) Ping(ctx context.Context) error {
	s.pings.Add(1)
	return s.pingErr
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type fakeFactory struct {
	bundle *providers.Bundle
	err    error
}

func (f *fakeFactory) NewBundle(ctx context.Context) (*providers.Bundle, error) {
	return f.bundle, f.err
}

// tone returns seconds of a 440 Hz sine as PCM16 at 16 kHz.
func tone(seconds float64) []byte {
	n := int(seconds * audio.PipelineRate)
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/audio.PipelineRate))
	}
	return audio.PCMToBytes(pcm)
}

// speechFrame is one µ-law carrier frame of a loud tone.
func speechFrame() frames.Frame {
	pcm := make([]int16, frames.Size)
	for i := range pcm {
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/audio.TelephonyRate))
	}
	f, _ := frames.FromBytes(audio.PCMToMulaw(pcm))
	return f
}

func startMsg(sid, phone string) []byte {
	return []byte(fmt.Sprintf(`{"event":"start","start":{"streamSid":%q,"callSid":"CA1","customParameters":{"phone_number":%q}}}`, sid, phone))
}

func mediaMsg(f frames.Frame) []byte {
	return []byte(fmt.Sprintf(`{"event":"media","media":{"track":"inbound","payload":%q}}`, base64.StdEncoding.EncodeToString(f.Bytes())))
}

var stopMsg = []byte(`{"event":"stop"}`)

func testSessionConfig() SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.Greeting = ""
	cfg.Retry = services.RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond}
	return cfg
}

func streamingBundle(asr *fakeASR, dialog *fakeDialog, tts *fakeTTS) *providers.Bundle {
	return &providers.Bundle{ASR: asr, Dialog: dialog, TTS: tts}
}

// harness runs one session on a fake socket.
type harness struct {
	t        *testing.T
	conn     *fakeConn
	manager  *Manager
	registry *stats.Registry
	done     chan struct{}
}

func newHarness(t *testing.T, cfg SessionConfig, factory providers.Factory, opts ...ManagerOption) *harness {
	h := &harness{
		t:        t,
		conn:     newFakeConn(),
		registry: stats.NewRegistry(),
		done:     make(chan struct{}),
	}
	h.manager = NewManager(cfg, factory, h.registry, opts...)
	go func() {
		h.manager.ServeMedia(context.Background(), h.conn)
		close(h.done)
	}()
	t.Cleanup(func() {
		h.conn.Close()
		select {
		case <-h.done:
		case <-time.After(10 * time.Second):
			t.Error("session did not finish")
		}
	})
	return h
}

func (h *harness) send(msg []byte) { h.conn.incoming <- msg }

func (h *harness) session() *CallSession {
	var s *CallSession
	require.Eventually(h.t, func() bool {
		if all := h.manager.Sessions(); len(all) == 1 {
			s = all[0]
			return true
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return s
}

func (h *harness) waitDone(within time.Duration) {
	select {
	case <-h.done:
	case <-time.After(within):
		h.t.Fatal("media handler did not return")
	}
}

func (h *harness) waitState(s *CallSession, want State, within time.Duration) {
	require.Eventually(h.t, func() bool { return s.State() == want }, within, 5*time.Millisecond,
		"state is %s, want %s", s.State(), want)
}

// stepClock advances 20 ms per call, matching one inbound frame.
func stepClock() func() time.Time {
	base := time.Unix(1_700_000_000, 0)
	var n atomic.Int64
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)-1) * frames.Duration)
	}
}
