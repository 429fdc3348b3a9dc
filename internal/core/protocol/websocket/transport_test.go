package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/islandsync/internal/core/observability/log"
	"github.com/zeusync/islandsync/internal/core/protocol"
)

func echoServer(t *testing.T, config protocol.Config) *httptest.Server {
	t.Helper()
	upgrader := NewUpgrader(config, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			data, err := conn.Receive(context.Background())
			if err != nil {
				return
			}
			if err = conn.Send(context.Background(), data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTransport_RoundTrip(t *testing.T) {
	config := protocol.DefaultConfig()
	srv := echoServer(t, config)

	tr := NewTransport(config, nil, log.NewNop())
	assert.Equal(t, protocol.TransportWebSocket, tr.Type())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := tr.Dial(ctx, wsURL(srv))
	require.NoError(t, err)
	defer conn.Close()
	assert.NotEmpty(t, conn.ID())

	msg := []byte(`{"event":"get_globals"}`)
	require.NoError(t, conn.Send(ctx, msg))

	got, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	sent, received, _, _ := conn.(*Connection).Stats()
	assert.Equal(t, uint64(1), sent)
	assert.Equal(t, uint64(1), received)
}

func TestTransport_MaxMessageSize(t *testing.T) {
	config := protocol.DefaultConfig()
	config.MaxMessageSize = 8
	srv := echoServer(t, protocol.DefaultConfig())

	conn, err := NewTransport(config, nil, log.NewNop()).Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)
	defer conn.Close()

	err = conn.Send(context.Background(), []byte(`{"event":"get_globals"}`))
	assert.ErrorIs(t, err, protocol.ErrMessageTooLarge)
}

func TestTransport_CloseIsIdempotent(t *testing.T) {
	srv := echoServer(t, protocol.DefaultConfig())
	conn, err := NewTransport(protocol.DefaultConfig(), nil, log.NewNop()).Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())

	err = conn.Send(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
	_, err = conn.Receive(context.Background())
	assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
}

func TestTransport_DialFailure(t *testing.T) {
	tr := NewTransport(protocol.DefaultConfig(), nil, log.NewNop())

	_, err := tr.Dial(context.Background(), "")
	assert.ErrorIs(t, err, protocol.ErrInvalidAddress)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = tr.Dial(ctx, "ws://127.0.0.1:1/islands")
	assert.ErrorIs(t, err, protocol.ErrDialFailed)
}

func TestTransport_URL(t *testing.T) {
	tr := NewTransport(protocol.DefaultConfig(), nil, log.NewNop())

	u, err := tr.url("127.0.0.1:8080")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8080/islands", u)

	u, err = tr.url("wss://example.com/live")
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/live", u)
}
