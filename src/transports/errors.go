package transports

import (
	"errors"
	"net"
	"os"
	"strings"

	"github.com/gorilla/websocket"
)

// closedSignatures are error fragments that mean the carrier socket is gone
// and writing again cannot succeed.
var closedSignatures = []string{
	"once a close message",
	"closed",
	"not connected",
	"accept first",
	"broken pipe",
	"connection reset",
}

// ErrConnClosed is returned by Conn after Close.
var ErrConnClosed = errors.New("websocket connection closed")

// IsConnectionClosed reports whether err means the peer connection is lost.
// The pacer exits on such errors instead of retrying on the next tick.
// A socket timeout counts: the websocket connection keeps returning it for
// every later write.
func IsConnectionClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnClosed) || errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range closedSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
