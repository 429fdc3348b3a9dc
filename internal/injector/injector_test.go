package injector

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/islandsync/internal/config"
	"github.com/zeusync/islandsync/internal/core/protocol"
)

func TestInitializeApp(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "silent"
	cfg.Session.DefaultStreamLimit = 20
	cfg.Session.RateLimit = 100

	app, err := InitializeApp(cfg)
	require.NoError(t, err)
	require.NotNil(t, app.Engine)
	require.NotNil(t, app.Client)
	assert.NotEmpty(t, app.Engine.ID())
	assert.False(t, app.Client.IsConnected())
	assert.False(t, app.Engine.Access().RenderingEnabled())

	families, err := app.Registry.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "islandsync_mounted_instances")
}

func TestInitializeApp_SeparateSessions(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "silent"

	first, err := InitializeApp(cfg)
	require.NoError(t, err)
	second, err := InitializeApp(cfg)
	require.NoError(t, err)
	assert.NotEqual(t, first.Engine.ID(), second.Engine.ID())
}

func TestProvideTransport(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "silent"
	logger := ProvideLogger(cfg)

	transport, err := ProvideTransport(cfg, logger)
	require.NoError(t, err)
	assert.Equal(t, protocol.TransportWebSocket, transport.Type())

	cfg.Transport.Kind = protocol.TransportQUIC
	transport, err = ProvideTransport(cfg, logger)
	require.NoError(t, err)
	assert.Equal(t, protocol.TransportQUIC, transport.Type())

	cfg.Transport.Kind = "smoke-signal"
	_, err = ProvideTransport(cfg, logger)
	assert.True(t, errors.Is(err, protocol.ErrTransportNotSupported))
}

func TestProvideMiddlewares(t *testing.T) {
	cfg := config.Default()
	assert.Empty(t, ProvideMiddlewares(cfg, ProvideLogger(cfg)))

	cfg.Session.RateLimit = 10
	mws := ProvideMiddlewares(cfg, ProvideLogger(cfg))
	require.Len(t, mws, 1)
	assert.Equal(t, "rate_limit", mws[0].Name())
}
