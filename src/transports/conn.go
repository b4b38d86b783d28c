package transports

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MediaConn is the carrier side of one call: a message-oriented, text-framed
// socket. ReadMessage is called from a single goroutine; WriteMessage may be
// called concurrently.
type MediaConn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
	RemoteAddr() string
}

// ConnConfig holds configuration for a carrier WebSocket connection
type ConnConfig struct {
	WriteTimeout time.Duration // per-write deadline (default: 5s)
	MaxMessage   int64         // inbound message size limit in bytes (default: 64KiB)
}

// Conn adapts a gorilla WebSocket to MediaConn.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex // Protect concurrent writes to WebSocket
	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn wraps an upgraded WebSocket.
func NewConn(ws *websocket.Conn, config ConnConfig) *Conn {
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.MaxMessage == 0 {
		config.MaxMessage = 64 << 10
	}
	ws.SetReadLimit(config.MaxMessage)
	return &Conn{
		ws:           ws,
		writeTimeout: config.WriteTimeout,
		closed:       make(chan struct{}),
	}
}

// ReadMessage blocks until the next message arrives or the socket fails.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// WriteMessage sends one text message.
func (c *Conn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame, best effort, and closes the socket. Safe to call repeatedly.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		// WriteControl may run concurrently with WriteMessage.
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
