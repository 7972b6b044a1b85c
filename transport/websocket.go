package transport

import (
	"chat-session/contract"
	"chat-session/domain"
	"chat-session/domain/event"
	"chat-session/errors"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// WebsocketDialer opens websocket connections to the chat backend. The
// access credential travels as a bearer header on the upgrade request.
type WebsocketDialer struct {
	url              string
	dialer           *websocket.Dialer
	handshakeTimeout time.Duration
	log              *slog.Logger
}

func NewWebsocketDialer(url string, handshakeTimeout time.Duration, log *slog.Logger) *WebsocketDialer {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout
	return &WebsocketDialer{url: url, dialer: &dialer, handshakeTimeout: handshakeTimeout, log: log}
}

// Dial upgrades the connection and waits for the server's first frame:
// "connect" acknowledges the credential, "connect_error" rejects it.
func (d *WebsocketDialer) Dial(ctx context.Context, accessToken string) (contract.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)

	ws, resp, err := d.dialer.DialContext(ctx, d.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: upgrade rejected", errors.ErrAuthenticationFailed)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", errors.ErrNetworkUnavailable, d.url, err)
	}
	ws.SetReadLimit(maxMessageSize)

	if err := d.awaitAck(ctx, ws); err != nil {
		_ = ws.Close()
		return nil, err
	}
	d.log.Debug("Transport connected", "url", d.url)
	return newWebsocketConn(ws, d.log), nil
}

func (d *WebsocketDialer) awaitAck(ctx context.Context, ws *websocket.Conn) error {
	deadline := time.Now().Add(d.handshakeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = ws.SetReadDeadline(deadline)
	defer func() { _ = ws.SetReadDeadline(time.Time{}) }()

	// Unblock the read if ctx ends first.
	stop := context.AfterFunc(ctx, func() { _ = ws.SetReadDeadline(time.Now()) })
	defer stop()

	_, raw, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: awaiting handshake: %v", errors.ErrNetworkUnavailable, err)
	}
	evt, err := Decode(raw, time.Now)
	if err != nil {
		return fmt.Errorf("%w: handshake: %v", errors.ErrNetworkUnavailable, err)
	}

	switch e := evt.(type) {
	case event.Connected:
		return nil
	case event.ConnectRejected:
		if e.Unauthorized() {
			return fmt.Errorf("%w: %s", errors.ErrAuthenticationFailed, e.Message)
		}
		return fmt.Errorf("%w: %s", errors.ErrNetworkUnavailable, e.Message)
	default:
		return fmt.Errorf("%w: unexpected handshake event %q", errors.ErrNetworkUnavailable, evt.EventName())
	}
}

type websocketConn struct {
	ws        *websocket.Conn
	log       *slog.Logger
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWebsocketConn(ws *websocket.Conn, log *slog.Logger) *websocketConn {
	return &websocketConn{ws: ws, log: log}
}

func (c *websocketConn) Emit(cmd domain.Command) error {
	frame, err := Encode(cmd)
	if err != nil {
		return fmt.Errorf("encode %s: %w", cmd.Name(), err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: write %s: %v", errors.ErrNetworkUnavailable, cmd.Name(), err)
	}
	return nil
}

// Read returns the next known event. Unknown or malformed frames are
// logged and skipped.
func (c *websocketConn) Read() (event.Event, error) {
	for {
		msgType, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("Unexpected close from server", "error", err)
			}
			return nil, fmt.Errorf("%w: read: %v", errors.ErrNetworkUnavailable, err)
		}
		if msgType != websocket.TextMessage {
			c.log.Debug("Ignoring non-text frame", "type", msgType)
			continue
		}
		evt, err := Decode(raw, time.Now)
		if err != nil {
			c.log.Debug("Skipping frame", "error", err)
			continue
		}
		return evt, nil
	}
}

func (c *websocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
