package transports

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/square-key-labs/strawgo-bridge/src/logger"
	"github.com/square-key-labs/strawgo-bridge/src/stats"
)

// MediaHandler serves one carrier media socket until the call ends.
type MediaHandler interface {
	ServeMedia(ctx context.Context, conn MediaConn)
}

// StatsReporter exposes the counters registry.
type StatsReporter interface {
	Report() stats.Report
}

// ServerConfig holds configuration for the HTTP server
type ServerConfig struct {
	Address    string // listen address (e.g., ":8080")
	StreamPath string // media WebSocket path (e.g., "/stream")
	PublicHost string // host advertised in the webhook; request Host when empty
	Media      MediaHandler
	Stats      StatsReporter
	Conn       ConnConfig
}

// Server is the bridge's HTTP surface: the media-stream upgrade, the
// carrier voice webhook, liveness and stats.
type Server struct {
	cfg      ServerConfig
	echo     *echo.Echo
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewServer creates a server and registers its routes.
func NewServer(cfg ServerConfig) *Server {
	if cfg.StreamPath == "" {
		cfg.StreamPath = "/stream"
	}
	if cfg.Media == nil {
		panic("Server requires a media handler")
	}

	s := &Server{
		cfg:  cfg,
		echo: echo.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // the carrier connects from its own origin
			},
		},
		log: logger.WithPrefix("HTTP"),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debug("%s %s %d %v", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	s.echo.GET(cfg.StreamPath, s.handleStream)
	s.echo.POST("/voice", s.handleVoice)
	s.echo.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	s.echo.GET("/stats", s.handleStats)
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("Listening on %s, media stream at %s", s.cfg.Address, s.cfg.StreamPath)
	if err := s.echo.Start(s.cfg.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests. Upgraded media sockets are not tracked
// by net/http; their sessions end through the session manager.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleStream(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade error: %v", err)
		return nil
	}
	started := time.Now()
	conn := NewConn(ws, s.cfg.Conn)
	defer conn.Close()

	s.cfg.Media.ServeMedia(c.Request().Context(), conn)
	s.log.Debug("Media socket from %s served for %v", ws.RemoteAddr(), time.Since(started))
	return nil
}

func (s *Server) handleVoice(c echo.Context) error {
	host := s.cfg.PublicHost
	if host == "" {
		host = c.Request().Host
	}
	from := c.FormValue("From")

	doc, err := VoiceWebhook(StreamURL(host, s.cfg.StreamPath), from)
	if err != nil {
		s.log.Error("TwiML generation failed: %v", err)
		return c.NoContent(http.StatusInternalServerError)
	}
	s.log.Info("Incoming call from %s (CallSid %s)", from, c.FormValue("CallSid"))
	c.Response().Header().Set(echo.HeaderContentType, "application/xml")
	return c.String(http.StatusOK, doc)
}

func (s *Server) handleStats(c echo.Context) error {
	if s.cfg.Stats == nil {
		return c.JSON(http.StatusOK, stats.Report{Sessions: []stats.Snapshot{}})
	}
	return c.JSON(http.StatusOK, s.cfg.Stats.Report())
}
