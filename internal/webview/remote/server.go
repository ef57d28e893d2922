// Package remote attaches a web page running in a real browser as the
// content surface. The page connects over a WebSocket, announces that its
// content has loaded, and answers evaluate requests.
package remote

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/mainloop"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/webview"
)

// Frame types exchanged with the page.
const (
	FrameReady    = "ready"
	FrameEvaluate = "evaluate"
	FrameResult   = "result"
)

// Frame is one WebSocket message in either direction.
type Frame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Script string          `json:"script,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Config holds WebSocket surface configuration.
type Config struct {
	EvaluateTimeout time.Duration
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	// PongWait is how long the page may stay silent before it is dropped.
	// It must exceed PingInterval.
	PongWait       time.Duration
	AllowedOrigins []string
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		EvaluateTimeout: 10 * time.Second,
		WriteTimeout:    10 * time.Second,
		PingInterval:    30 * time.Second,
		PongWait:        60 * time.Second,
		AllowedOrigins:  []string{"*"},
	}
}

// Server upgrades page connections and attaches them to the shell. Only the
// most recent connection is attached.
type Server struct {
	mu       sync.Mutex
	shell    *webview.Shell
	loop     mainloop.Scheduler
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
	current  *Conn
}

func NewServer(shell *webview.Shell, loop mainloop.Scheduler, cfg Config, logger *slog.Logger) *Server {
	if cfg.EvaluateTimeout <= 0 {
		cfg.EvaluateTimeout = DefaultConfig().EvaluateTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultConfig().PingInterval
	}
	if cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = 2 * cfg.PingInterval
	}
	return &Server{
		shell:  shell,
		loop:   loop,
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(cfg.AllowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("bridge upgrade failed", slog.Any("error", err))
		return
	}

	conn := newConn(s, ws)

	s.mu.Lock()
	previous := s.current
	s.current = conn
	s.mu.Unlock()
	if previous != nil {
		previous.Close()
	}

	s.shell.Attach(conn)
	s.logger.Info("bridge attached", slog.String("remote", r.RemoteAddr))

	go conn.writePump()
	go conn.readPump()
}

// Close drops the attached page, if any.
func (s *Server) Close() {
	s.mu.Lock()
	current := s.current
	s.current = nil
	s.mu.Unlock()
	if current != nil {
		current.Close()
	}
}

func (s *Server) release(c *Conn) {
	s.mu.Lock()
	if s.current == c {
		s.current = nil
	}
	s.mu.Unlock()
	s.shell.Detach(c)
}
