package remote

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/webview"
)

var errSendBufferFull = errors.New("remote: send buffer full")

// Conn is one attached page. It is the Bridge while connected and its own
// Surface once the page has reported ready.
type Conn struct {
	server *Server
	ws     *websocket.Conn
	send   chan []byte
	quit   chan struct{}

	mu      sync.Mutex
	ready   bool
	closed  bool
	pending map[string]*pendingEval
}

type pendingEval struct {
	done  func(string, error)
	timer *time.Timer
}

func newConn(s *Server, ws *websocket.Conn) *Conn {
	return &Conn{
		server:  s,
		ws:      ws,
		send:    make(chan []byte, 64),
		quit:    make(chan struct{}),
		pending: make(map[string]*pendingEval),
	}
}

func (c *Conn) Surface() webview.Surface {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready || c.closed {
		return nil
	}
	return c
}

// Evaluate sends script to the page. done runs on the main loop with the
// page's answer, a timeout, or ErrSurfaceClosed.
func (c *Conn) Evaluate(script string, done func(result string, err error)) {
	id := uuid.NewString()
	frame, err := json.Marshal(Frame{Type: FrameEvaluate, ID: id, Script: script})
	if err != nil {
		c.post(done, "", err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.post(done, "", webview.ErrSurfaceClosed)
		return
	}
	p := &pendingEval{done: done}
	p.timer = time.AfterFunc(c.server.cfg.EvaluateTimeout, func() {
		c.finish(id, "", webview.ErrEvaluateTimeout)
	})
	c.pending[id] = p
	c.mu.Unlock()

	select {
	case c.send <- frame:
	case <-c.quit:
		c.finish(id, "", webview.ErrSurfaceClosed)
	default:
		c.finish(id, "", errSendBufferFull)
	}
}

// Close disconnects the page and fails every outstanding evaluation.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]*pendingEval)
	close(c.quit)
	c.mu.Unlock()

	_ = c.ws.Close()
	for _, p := range pending {
		p.timer.Stop()
		c.post(p.done, "", webview.ErrSurfaceClosed)
	}
	c.server.release(c)
}

func (c *Conn) finish(id, result string, err error) {
	c.mu.Lock()
	p, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		return
	}
	p.timer.Stop()
	c.post(p.done, result, err)
}

func (c *Conn) post(done func(string, error), result string, err error) {
	if done == nil {
		return
	}
	c.server.loop.Post(func() { done(result, err) })
}

func (c *Conn) readPump() {
	defer c.Close()

	logger := c.server.logger
	pongWait := c.server.cfg.PongWait
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("bridge connection lost", slog.Any("error", err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warn("invalid bridge frame", slog.Any("error", err))
			continue
		}

		switch frame.Type {
		case FrameReady:
			c.mu.Lock()
			c.ready = true
			c.mu.Unlock()
			logger.Info("bridge content loaded")
			c.server.shell.NotifyReady()
		case FrameResult:
			if frame.Error != "" {
				c.finish(frame.ID, "", errors.New(frame.Error))
				continue
			}
			value := "null"
			if len(frame.Value) > 0 {
				value = string(frame.Value)
			}
			c.finish(frame.ID, value, nil)
		default:
			logger.Debug("ignoring bridge frame", slog.String("type", frame.Type))
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.server.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.quit:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.server.logger.Warn("bridge write failed", slog.Any("error", err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
