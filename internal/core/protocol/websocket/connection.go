package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/islandsync/internal/core/protocol"
)

var _ protocol.Conn = (*Connection)(nil)

// Connection is a WebSocket connection carrying one envelope per text frame.
type Connection struct {
	id     string
	conn   *websocket.Conn
	config protocol.Config
	closed int32

	// Metrics
	messagesSent     uint64
	messagesReceived uint64
	bytesSent        uint64
	bytesReceived    uint64
	lastActivity     int64

	// Write mutex to ensure thread-safe writes
	writeMu sync.Mutex
}

// NewConnection wraps an established WebSocket connection.
func NewConnection(conn *websocket.Conn, config protocol.Config) *Connection {
	if config.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(config.MaxMessageSize))
	}
	return &Connection{
		id:           uuid.New().String(),
		conn:         conn,
		config:       config,
		lastActivity: time.Now().Unix(),
	}
}

// ID returns the connection ID
func (c *Connection) ID() string {
	return c.id
}

// Send writes data as one text frame. The write deadline is the earlier of
// the context deadline and the configured write timeout.
func (c *Connection) Send(ctx context.Context, data []byte) error {
	if c.IsClosed() {
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

	_ = c.conn.SetWriteDeadline(deadline(ctx, c.config.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "failed to write message")
	}

	atomic.AddUint64(&c.messagesSent, 1)
	atomic.AddUint64(&c.bytesSent, uint64(len(data)))
	atomic.StoreInt64(&c.lastActivity, time.Now().Unix())
	return nil
}

// Receive reads the next data frame. Closing the connection unblocks it.
func (c *Connection) Receive(ctx context.Context) ([]byte, error) {
	if c.IsClosed() {
		return nil, protocol.ErrConnectionClosed
	}

	_ = c.conn.SetReadDeadline(deadline(ctx, c.config.ReadTimeout))
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.IsClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, errors.Wrap(protocol.ErrConnectionClosed, err.Error())
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				return nil, errors.Wrap(protocol.ErrMessageTooLarge, err.Error())
			}
			return nil, errors.Wrap(err, "failed to read message")
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		atomic.AddUint64(&c.messagesReceived, 1)
		atomic.AddUint64(&c.bytesReceived, uint64(len(data)))
		atomic.StoreInt64(&c.lastActivity, time.Now().Unix())
		return data, nil
	}
}

// IsClosed checks if the connection is closed
func (c *Connection) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// LastActivity returns the time of the last activity
func (c *Connection) LastActivity() time.Time {
	return time.Unix(atomic.LoadInt64(&c.lastActivity), 0)
}

// Stats returns message and byte counters.
func (c *Connection) Stats() (messagesSent, messagesReceived, bytesSent, bytesReceived uint64) {
	return atomic.LoadUint64(&c.messagesSent),
		atomic.LoadUint64(&c.messagesReceived),
		atomic.LoadUint64(&c.bytesSent),
		atomic.LoadUint64(&c.bytesReceived)
}

// Close closes the connection
func (c *Connection) Close() error {
	return c.CloseWithReason("connection closed")
}

// CloseWithReason sends a close frame with reason and closes the connection.
func (c *Connection) CloseWithReason(reason string) error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}

	c.writeMu.Lock()
	closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return c.conn.Close()
}

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
