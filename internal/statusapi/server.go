// Package statusapi exposes a small read-only HTTP surface over the
// engine's live state: health, peer table, and history depth. It carries
// no control endpoints — every state change in the engine happens over the
// P2P protocol, never through this API.
package statusapi

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Engine is the subset of *engine.Engine the status API reads from. It is
// expressed as an interface so tests can supply a fake without depending
// on a live P2P stack.
type Engine interface {
	SessionID() string
	TCPPort() int
	LocalIP() string
	RoomName() string
	SelfShortID() string
	ActivePeers() map[string]PeerInfo
	HistoryLen() int
}

// PeerInfo is the read-only projection of a discovered peer returned by
// GET /peers.
type PeerInfo struct {
	SessionID string `json:"session_id"`
	Nickname  string `json:"nickname"`
	IP        string `json:"ip"`
	TCPPort   int    `json:"tcp_port"`
	RoomName  string `json:"room_name"`
	ShortID   string `json:"short_id"`
}

// Server wraps an Echo instance serving the introspection endpoints.
type Server struct {
	engine Engine
	echo   *echo.Echo
}

// New constructs a Server and registers its routes.
func New(eng Engine) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[statusapi] %s %s %d", v.Method, v.URI, v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = jsonErrorHandler

	s := &Server{engine: eng, echo: e}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/self", s.handleSelf)
	s.echo.GET("/peers", s.handlePeers)
}

// Run starts the server on addr and blocks until ctx is canceled, at which
// point it shuts down gracefully with a 5s timeout.
func (s *Server) Run(ctx context.Context, addr string) {
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Printf("[statusapi] server error: %v", err)
		}
	}()
	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutCtx); err != nil {
		log.Printf("[statusapi] shutdown: %v", err)
	}
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	SessionID  string `json:"session_id"`
	PeerCount  int    `json:"peer_count"`
	HistoryLen int    `json:"history_len"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:     "ok",
		SessionID:  s.engine.SessionID(),
		PeerCount:  len(s.engine.ActivePeers()),
		HistoryLen: s.engine.HistoryLen(),
	})
}

// SelfResponse is the payload for GET /self.
type SelfResponse struct {
	SessionID string `json:"session_id"`
	ShortID   string `json:"short_id"`
	TCPPort   int    `json:"tcp_port"`
	LocalIP   string `json:"local_ip"`
	RoomName  string `json:"room_name"`
}

func (s *Server) handleSelf(c echo.Context) error {
	return c.JSON(http.StatusOK, SelfResponse{
		SessionID: s.engine.SessionID(),
		ShortID:   s.engine.SelfShortID(),
		TCPPort:   s.engine.TCPPort(),
		LocalIP:   s.engine.LocalIP(),
		RoomName:  s.engine.RoomName(),
	})
}

// PeersResponse is the payload for GET /peers.
type PeersResponse struct {
	Peers []PeerInfo `json:"peers"`
}

func (s *Server) handlePeers(c echo.Context) error {
	peers := s.engine.ActivePeers()
	out := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		out = append(out, p)
	}
	return c.JSON(http.StatusOK, PeersResponse{Peers: out})
}

// jsonErrorHandler ensures all error responses have a consistent JSON body:
//
//	{"error": "message"}
func jsonErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if !c.Response().Committed {
		if c.Request().Method == http.MethodHead {
			c.NoContent(code) //nolint:errcheck
		} else {
			c.JSON(code, map[string]string{"error": msg}) //nolint:errcheck
		}
	}
}
