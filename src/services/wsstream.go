package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ChunkParser decodes one provider message. It returns the PCM carried by
// the message, whether the utterance is complete, or a provider error.
type ChunkParser func(message []byte) (pcm []byte, done bool, err error)

var errNoPong = errors.New("no pong before deadline")

type streamItem struct {
	pcm []byte
	err error
}

// WSStream adapts a per-utterance provider WebSocket into an AudioStream.
// A reader goroutine decodes messages into a buffered channel and
// delivers pongs to Ping.
type WSStream struct {
	conn     *websocket.Conn
	service  string
	items    chan streamItem
	pongs    chan struct{}
	readDone chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// NewWSStream starts reading conn with parse.
func NewWSStream(service string, conn *websocket.Conn, parse ChunkParser) *WSStream {
	s := &WSStream{
		conn:     conn,
		service:  service,
		items:    make(chan streamItem, 64),
		pongs:    make(chan struct{}, 1),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		select {
		case s.pongs <- struct{}{}:
		default:
		}
		return nil
	})
	go s.readLoop(parse)
	return s
}

func (s *WSStream) readLoop(parse ChunkParser) {
	defer close(s.readDone)
	defer close(s.items)
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.emit(streamItem{err: NewError(KindConnectionLost, s.service, "receive", err)})
			}
			return
		}

		pcm, finished, err := parse(message)
		if err != nil {
			s.emit(streamItem{err: err})
			return
		}
		if len(pcm) > 0 && !s.emit(streamItem{pcm: pcm}) {
			return
		}
		if finished {
			s.emit(streamItem{err: io.EOF})
			return
		}
	}
}

func (s *WSStream) emit(item streamItem) bool {
	select {
	case s.items <- item:
		return true
	case <-s.done:
		return false
	}
}

// WriteJSON sends a control message on the stream's socket.
func (s *WSStream) WriteJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		return NewError(KindConnectionLost, s.service, "send", err)
	}
	return nil
}

// Next returns the next chunk, io.EOF at end of utterance, or ctx's error.
func (s *WSStream) Next(ctx context.Context) ([]byte, error) {
	select {
	case item, ok := <-s.items:
		if !ok {
			return nil, ErrStreamClosed
		}
		return item.pcm, item.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ping sends a WebSocket ping and waits for the pong until ctx's deadline,
// or two seconds without one. A stream whose reader has stopped cannot pong.
func (s *WSStream) Ping(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(2 * time.Second)
	}
	select {
	case <-s.pongs:
	default:
	}

	s.writeMu.Lock()
	err := s.conn.WriteControl(websocket.PingMessage, nil, deadline)
	s.writeMu.Unlock()
	if err != nil {
		return NewError(KindConnectionLost, s.service, "ping", err)
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-s.pongs:
		return nil
	case <-s.readDone:
		return NewError(KindConnectionLost, s.service, "ping", ErrStreamClosed)
	case <-ctx.Done():
		return NewError(KindConnectionLost, s.service, "ping", ctx.Err())
	case <-timer.C:
		return NewError(KindConnectionLost, s.service, "ping", errNoPong)
	}
}

// Close stops the reader and closes the socket.
func (s *WSStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
