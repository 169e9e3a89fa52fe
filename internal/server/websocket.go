package server

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsMaxMessage   = 64 << 10 // Commands are small JSON objects
)

// WebSocketConn is the JSON message connection used by the control socket.
type WebSocketConn interface {
	io.Closer
	WriteJSON(v any) error
	ReadJSON(v any) error
}

// Conn is a control socket connection with a write deadline per message.
type Conn struct {
	ws *websocket.Conn
}

// WriteJSON writes v as one text message.
func (c *Conn) WriteJSON(v any) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

// ReadJSON reads the next message into v.
func (c *Conn) ReadJSON(v any) error {
	return c.ws.ReadJSON(v)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     checkOrigin,
}

// checkOrigin allows clients without an Origin header, same-host origins,
// localhost and private network addresses.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		slog.Warn("rejected WebSocket connection: invalid origin", "origin", origin)
		return false
	}
	if originAllowed(u.Hostname(), r.Host) {
		return true
	}
	slog.Warn("rejected WebSocket connection", "origin", origin)
	return false
}

func originAllowed(host, requestHost string) bool {
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	if host == "localhost" || host == requestHost {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsPrivate())
}

// UpgradeConnection upgrades an HTTP request to a control socket.
func UpgradeConnection(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(wsMaxMessage)
	return &Conn{ws: ws}, nil
}
