package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MessageConn is one established transport connection. ReadMessage blocks
// until a text frame arrives or the connection fails; Close unblocks it.
type MessageConn interface {
	ReadMessage() (string, error)
	Close() error
}

// Transport establishes message connections
type Transport interface {
	Dial(ctx context.Context, url string) (MessageConn, error)
}

// TransportFunc adapts a function to Transport
type TransportFunc func(ctx context.Context, url string) (MessageConn, error)

// Dial calls f
func (f TransportFunc) Dial(ctx context.Context, url string) (MessageConn, error) {
	return f(ctx, url)
}

// WebSocketTransport dials channels with gorilla/websocket
type WebSocketTransport struct {
	// Dialer defaults to a copy of websocket.DefaultDialer
	Dialer *websocket.Dialer

	// Header is sent with the handshake (Origin, cookies)
	Header http.Header

	// PongWait is the longest the connection may stay silent before it is
	// treated as dead. Zero disables keepalive.
	PongWait time.Duration

	// ReadLimit caps a single frame in bytes
	ReadLimit int64
}

// NewWebSocketTransport returns a transport with keepalive enabled
func NewWebSocketTransport() *WebSocketTransport {
	d := *websocket.DefaultDialer
	d.HandshakeTimeout = 10 * time.Second
	return &WebSocketTransport{
		Dialer:    &d,
		PongWait:  60 * time.Second,
		ReadLimit: 1 << 20,
	}
}

// Dial performs the WebSocket handshake
func (t *WebSocketTransport) Dial(ctx context.Context, url string) (MessageConn, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, resp, err := dialer.DialContext(ctx, url, t.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake failed with HTTP %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}

	if t.ReadLimit > 0 {
		ws.SetReadLimit(t.ReadLimit)
	}

	c := &wsConn{
		ws:     ws,
		stopCh: make(chan struct{}),
	}
	if t.PongWait > 0 {
		c.pongWait = t.PongWait
		_ = ws.SetReadDeadline(time.Now().Add(t.PongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(t.PongWait))
		})
		go c.pingLoop(t.PongWait * 9 / 10)
	}
	return c, nil
}

// wsConn adapts a websocket.Conn to MessageConn
type wsConn struct {
	ws       *websocket.Conn
	pongWait time.Duration
	stopCh   chan struct{}
	once     sync.Once
}

func (c *wsConn) ReadMessage() (string, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return "", err
		}
		if c.pongWait > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
		}
		switch mt {
		case websocket.TextMessage, websocket.BinaryMessage:
			return string(data), nil
		}
	}
}

func (c *wsConn) pingLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-c.stopCh:
			return
		}
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stopCh)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}
