package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/eleven-am/voice-relay/internal/transport"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

var errConnectionClosed = errors.New("connection closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsClientConnection serializes every write to one websocket. It implements
// transport.Sink for the voice relay and the chat room member interface.
type wsClientConnection struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	closed  bool

	closeOnce sync.Once
	done      chan struct{}
}

func newWSClientConnection(ws *websocket.Conn, logger *slog.Logger) *wsClientConnection {
	return &wsClientConnection{
		ws:     ws,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (c *wsClientConnection) Send(_ context.Context, evt transport.ServerEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

func (c *wsClientConnection) SendText(_ context.Context, text string) error {
	return c.write(websocket.TextMessage, []byte(text))
}

func (c *wsClientConnection) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return errConnectionClosed
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, data)
}

// CloseWith sends a close frame with code and reason. The socket itself is
// released by Close.
func (c *wsClientConnection) CloseWith(code int, reason string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return errConnectionClosed
	}
	c.closed = true

	msg := websocket.FormatCloseMessage(code, reason)
	return c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (c *wsClientConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed = true
		c.writeMu.Unlock()

		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// readLoop delivers text frames to handle until the peer goes away or the
// pong deadline passes.
func (c *wsClientConnection) readLoop(ctx context.Context, handle func([]byte)) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if ctx.Err() != nil {
			return
		}

		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		handle(message)
	}
}

func (c *wsClientConnection) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}
