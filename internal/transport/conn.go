package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer, profiles included
	maxMessageSize = 1 << 16

	sendBufferSize = 64
)

// conn is the link to one control station server. It redials until the
// manager context is done.
type conn struct {
	url     string
	manager *Manager
	logger  *zap.Logger
	send    chan []byte
}

func (c *conn) run(ctx context.Context) {
	delay := c.manager.reconnectDelay
	for {
		ws, _, err := c.manager.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.logger.Debug("Control station unreachable",
				zap.String("server", c.url),
				zap.Error(err))
		} else {
			c.serve(ctx, ws)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *conn) serve(ctx context.Context, ws *websocket.Conn) {
	c.logger.Info("Connected to control station", zap.String("server", c.url))

	c.drain()
	c.enqueue(Envelope{Event: EventLogin, Timestamp: millis(time.Now()), Login: c.manager.login})

	done := make(chan struct{})
	go c.writePump(ws, done)

	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-done:
		}
	}()

	c.readPump(ctx, ws)
	close(done)

	c.manager.receiver.OnDisconnect(c.url)
	c.logger.Info("Disconnected from control station", zap.String("server", c.url))
}

func (c *conn) readPump(ctx context.Context, ws *websocket.Conn) {
	defer ws.Close()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				c.logger.Warn("Control station read error",
					zap.String("server", c.url),
					zap.Error(err))
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))

		c.handle(env)
	}
}

func (c *conn) handle(env Envelope) {
	switch env.Event {
	case EventCommand:
		c.manager.receiver.OnFrame(c.url, env.Data, fromMillis(env.Timestamp))
	case EventConfigure:
		if h := c.manager.profileHandler; h != nil {
			h(c.url, env.Profile)
		}
	case EventEcho:
		c.enqueue(Envelope{Event: EventEcho, Timestamp: env.Timestamp, Client: millis(time.Now())})
	default:
		c.logger.Debug("Unknown control station event",
			zap.String("server", c.url),
			zap.String("event", string(env.Event)))
	}
}

func (c *conn) writePump(ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case <-done:
			return

		case message := <-c.send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue never blocks; messages are dropped when the buffer is full.
func (c *conn) enqueue(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("Failed to marshal envelope", zap.Error(err))
		return
	}

	select {
	case c.send <- data:
	default:
		c.logger.Debug("Send buffer full, message dropped",
			zap.String("server", c.url),
			zap.String("event", string(env.Event)))
	}
}

// drain discards messages queued while disconnected.
func (c *conn) drain() {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}
