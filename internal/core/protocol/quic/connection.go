package quic

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/islandsync/internal/core/observability/log"
	"github.com/zeusync/islandsync/internal/core/protocol"
)

const headerSize = 4

var _ protocol.Conn = (*Connection)(nil)

// Connection carries envelopes over a single bidirectional QUIC stream. Each
// envelope is prefixed with its length as a 4-byte big-endian integer; a
// zero-length frame is a handshake and is never delivered.
type Connection struct {
	id     string
	conn   *quic.Conn
	stream *quic.Stream
	config protocol.Config
	closed int32
	logger log.Log

	writeMu sync.Mutex
	header  [headerSize]byte
}

func newConnection(conn *quic.Conn, stream *quic.Stream, config protocol.Config, logger log.Log) *Connection {
	id := uuid.New().String()
	return &Connection{
		id:     id,
		conn:   conn,
		stream: stream,
		config: config,
		logger: logger.With(log.String("connection_id", id)),
	}
}

// ID returns the connection ID
func (c *Connection) ID() string {
	return c.id
}

// Send writes one frame.
func (c *Connection) Send(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return errors.Wrap(protocol.ErrInvalidPayload, "empty frame")
	}
	return c.writeFrame(ctx, data)
}

func (c *Connection) writeFrame(ctx context.Context, data []byte) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return protocol.ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.config.MaxMessageSize > 0 && len(data) > c.config.MaxMessageSize {
		return errors.Wrapf(protocol.ErrMessageTooLarge, "message size %d exceeds limit %d", len(data), c.config.MaxMessageSize)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.stream.SetWriteDeadline(deadline(ctx, c.config.WriteTimeout))
	binary.BigEndian.PutUint32(c.header[:], uint32(len(data)))
	if _, err := c.stream.Write(c.header[:]); err != nil {
		return protocol.WrapError(err, "failed to write frame header")
	}
	if _, err := c.stream.Write(data); err != nil {
		return protocol.WrapError(err, "failed to write frame data")
	}
	return nil
}

// Receive reads the next non-empty frame.
func (c *Connection) Receive(ctx context.Context) ([]byte, error) {
	var header [headerSize]byte
	for {
		if atomic.LoadInt32(&c.closed) == 1 {
			return nil, protocol.ErrConnectionClosed
		}
		_ = c.stream.SetReadDeadline(deadline(ctx, c.config.ReadTimeout))

		if _, err := io.ReadFull(c.stream, header[:]); err != nil {
			if errors.Is(err, io.EOF) || atomic.LoadInt32(&c.closed) == 1 {
				return nil, errors.Wrap(protocol.ErrConnectionClosed, "stream ended")
			}
			return nil, protocol.WrapError(err, "failed to read frame header")
		}

		length := binary.BigEndian.Uint32(header[:])
		if c.config.MaxMessageSize > 0 && int(length) > c.config.MaxMessageSize {
			c.logger.Warn("Frame too large",
				log.Uint64("frame_length", uint64(length)),
				log.Int("max_size", c.config.MaxMessageSize),
			)
			return nil, errors.Wrapf(protocol.ErrMessageTooLarge, "frame of %d bytes", length)
		}
		if length == 0 {
			continue
		}

		data := make([]byte, length)
		if _, err := io.ReadFull(c.stream, data); err != nil {
			return nil, protocol.WrapError(err, "failed to read frame data")
		}
		return data, nil
	}
}

// Close closes the stream and the connection.
func (c *Connection) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	c.stream.CancelRead(0)
	_ = c.stream.Close()
	return c.conn.CloseWithError(0, "connection closed")
}
