// Package quic implements the QUIC transport on top of quic-go. A session
// uses a single bidirectional stream of length-prefixed frames.
package quic

import (
	"context"
	"crypto/tls"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/islandsync/internal/core/observability/log"
	"github.com/zeusync/islandsync/internal/core/protocol"
)

var _ protocol.Transport = (*Transport)(nil)

// Config holds QUIC-specific configuration
type Config struct {
	MaxIdleTimeout       time.Duration
	KeepAlivePeriod      time.Duration
	HandshakeIdleTimeout time.Duration
	TLSConfig            *tls.Config
}

// DefaultQUICConfig returns default QUIC configuration
func DefaultQUICConfig() Config {
	return Config{
		MaxIdleTimeout:       30 * time.Second,
		KeepAlivePeriod:      15 * time.Second,
		HandshakeIdleTimeout: 10 * time.Second,
		TLSConfig:            InsecureClientTLS(),
	}
}

// Transport dials QUIC servers.
type Transport struct {
	config     protocol.Config
	quicConfig Config
	logger     log.Log
}

// NewTransport creates a QUIC transport.
func NewTransport(config protocol.Config, quicConfig Config, logger log.Log) *Transport {
	if quicConfig.TLSConfig == nil {
		quicConfig.TLSConfig = InsecureClientTLS()
	}
	return &Transport{
		config:     config,
		quicConfig: quicConfig,
		logger:     logger.With(log.String("transport", "quic")),
	}
}

// Type returns the transport type
func (t *Transport) Type() protocol.TransportType {
	return protocol.TransportQUIC
}

// Dial connects to addr, opens the session stream and sends the handshake
// frame so the server can accept the stream.
func (t *Transport) Dial(ctx context.Context, addr string) (protocol.Conn, error) {
	if addr == "" {
		return nil, protocol.ErrInvalidAddress
	}
	if t.config.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.DialTimeout)
		defer cancel()
	}

	tlsConfig := t.quicConfig.TLSConfig.Clone()
	if tlsConfig.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			tlsConfig.ServerName = host
		} else {
			tlsConfig.ServerName = addr
		}
	}

	t.logger.Debug("Dialing QUIC connection", log.String("addr", addr))
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, t.buildQUICConfig())
	if err != nil {
		t.logger.Warn("Failed to dial QUIC connection", log.String("addr", addr), log.Error(err))
		return nil, errors.Wrap(protocol.ErrDialFailed, err.Error())
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream failed")
		return nil, errors.Wrap(protocol.ErrDialFailed, err.Error())
	}

	c := newConnection(conn, stream, t.config, t.logger)
	if err = c.writeFrame(ctx, nil); err != nil {
		_ = c.Close()
		return nil, errors.Wrap(protocol.ErrDialFailed, err.Error())
	}

	t.logger.Info("QUIC connection established",
		log.String("connection_id", c.ID()),
		log.String("remote_addr", conn.RemoteAddr().String()),
	)
	return c, nil
}

func (t *Transport) buildQUICConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:       t.quicConfig.MaxIdleTimeout,
		KeepAlivePeriod:      t.quicConfig.KeepAlivePeriod,
		HandshakeIdleTimeout: t.quicConfig.HandshakeIdleTimeout,
	}
}

// Listener accepts QUIC sessions on the server side.
type Listener struct {
	listener *quic.Listener
	config   protocol.Config
	closed   int32
	logger   log.Log
}

// Listen starts a QUIC listener on addr.
func Listen(addr string, tlsConfig *tls.Config, config protocol.Config, logger log.Log) (*Listener, error) {
	ln, err := quic.ListenAddr(addr, tlsConfig, &quic.Config{})
	if err != nil {
		return nil, protocol.WrapError(err, "failed to create QUIC listener")
	}
	l := &Listener{
		listener: ln,
		config:   config,
		logger:   logger.With(log.String("listener_addr", ln.Addr().String())),
	}
	l.logger.Info("QUIC listener created")
	return l, nil
}

// Accept waits for a session and its stream.
func (l *Listener) Accept(ctx context.Context) (*Connection, error) {
	if atomic.LoadInt32(&l.closed) == 1 {
		return nil, protocol.ErrConnectionClosed
	}
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, protocol.WrapError(err, "failed to accept QUIC connection")
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "accept stream failed")
		return nil, protocol.WrapError(err, "failed to accept QUIC stream")
	}
	return newConnection(conn, stream, l.config, l.logger), nil
}

// Addr returns the listener address
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close closes the listener
func (l *Listener) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	return l.listener.Close()
}

// deadline returns the earlier of the context deadline and now+timeout, or
// the zero time when neither is set.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}
	return d
}
