// Package websocket implements the WebSocket transport on top of
// gorilla/websocket.
package websocket

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/islandsync/internal/core/observability/log"
	"github.com/zeusync/islandsync/internal/core/protocol"
)

var _ protocol.Transport = (*Transport)(nil)

// Transport dials WebSocket servers.
type Transport struct {
	config protocol.Config
	dialer *websocket.Dialer
	header http.Header
	logger log.Log
}

// NewTransport creates a WebSocket transport. header is sent with the
// handshake and may be nil.
func NewTransport(config protocol.Config, header http.Header, logger log.Log) *Transport {
	return &Transport{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.DialTimeout,
		},
		header: header,
		logger: logger.With(log.String("transport", "websocket")),
	}
}

// Type returns the transport type
func (t *Transport) Type() protocol.TransportType {
	return protocol.TransportWebSocket
}

// Dial connects to addr. addr is either a full ws:// or wss:// URL or a
// host:port, in which case the configured path is used.
func (t *Transport) Dial(ctx context.Context, addr string) (protocol.Conn, error) {
	target, err := t.url(addr)
	if err != nil {
		return nil, err
	}

	t.logger.Debug("Dialing WebSocket", log.String("url", target))
	conn, resp, err := t.dialer.DialContext(ctx, target, t.header)
	if err != nil {
		fields := []log.Field{log.String("url", target), log.Error(err)}
		if resp != nil {
			fields = append(fields, log.Int("status", resp.StatusCode))
		}
		t.logger.Warn("Failed to dial WebSocket", fields...)
		return nil, errors.Wrap(protocol.ErrDialFailed, err.Error())
	}

	c := NewConnection(conn, t.config)
	t.logger.Info("WebSocket connection established",
		log.String("connection_id", c.ID()),
		log.String("remote_addr", conn.RemoteAddr().String()),
	)
	return c, nil
}

func (t *Transport) url(addr string) (string, error) {
	if addr == "" {
		return "", protocol.ErrInvalidAddress
	}
	u, err := url.Parse(addr)
	if err == nil && (u.Scheme == "ws" || u.Scheme == "wss") {
		return u.String(), nil
	}
	u = &url.URL{Scheme: "ws", Host: addr, Path: t.config.Path}
	return u.String(), nil
}

// Upgrader accepts WebSocket connections on the server side.
type Upgrader struct {
	config   protocol.Config
	upgrader websocket.Upgrader
}

// NewUpgrader creates an upgrader. checkOrigin may be nil to accept every
// origin.
func NewUpgrader(config protocol.Config, checkOrigin func(r *http.Request) bool) *Upgrader {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Upgrader{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin,
		},
	}
}

// Upgrade upgrades an HTTP request to a connection.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.Wrap(err, "upgrade")
	}
	return NewConnection(conn, u.config), nil
}
