package realtime

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Websocket timings
const (
	WebSocketWriteTimeout = 10 * time.Second
	WebSocketPongTimeout  = 60 * time.Second
	WebSocketPingInterval = 30 * time.Second
	sendBufferSize        = 256
	maxClientMessageSize  = 512
)

// ErrClientClosed is returned by Send after the connection closed
var ErrClientClosed = errors.New("websocket client closed")

// ErrSendBufferFull is returned when a slow client cannot keep up
var ErrSendBufferFull = errors.New("websocket send buffer full")

// Client is one websocket subscriber. It implements registry.Conn.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	closeCode int
	logger    *zap.SugaredLogger
}

func newClient(conn *websocket.Conn, logger *zap.SugaredLogger) *Client {
	return &Client{
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		closeCode: websocket.CloseGoingAway,
		logger:    logger,
	}
}

// Send queues payload for the write pump without blocking
func (c *Client) Send(payload []byte) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		// slow consumer, drop it
		c.Close()
		return ErrSendBufferFull
	}
}

// IsOpen reports whether the connection is still usable
func (c *Client) IsOpen() bool {
	return !c.closed.Load()
}

// Close stops the pumps. The write pump sends a going-away frame on its way out.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
	return nil
}

// writePump writes queued payloads and pings to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(c.closeCode, ""),
				time.Now().Add(WebSocketWriteTimeout))
			return
		}
	}
}

// readPump keeps the read deadline fresh and detects disconnects. Subscribers
// are not expected to send anything.
func (c *Client) readPump(onExit func()) {
	defer func() {
		c.Close()
		onExit()
	}()

	c.conn.SetReadLimit(maxClientMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warnf("WebSocket read error: %v", err)
			}
			return
		}
	}
}
