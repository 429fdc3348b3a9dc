package protocol

import (
	"context"
	"time"
)

// TransportType names a transport implementation.
type TransportType string

const (
	TransportWebSocket TransportType = "websocket"
	TransportQUIC      TransportType = "quic"
)

// Transport dials a server and returns a framed, message-oriented connection.
type Transport interface {
	Type() TransportType
	Dial(ctx context.Context, addr string) (Conn, error)
}

// Conn carries whole envelopes. Send may be called from several goroutines;
// Receive is called from a single reader goroutine.
type Conn interface {
	ID() string
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Config holds settings shared by every transport.
type Config struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	DialTimeout    time.Duration
	MaxMessageSize int
	// Path is the request path for transports that have one.
	Path string
}

// DefaultConfig returns conservative transport settings.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:    0,
		WriteTimeout:   10 * time.Second,
		DialTimeout:    10 * time.Second,
		MaxMessageSize: 1 << 20,
		Path:           "/islands",
	}
}
