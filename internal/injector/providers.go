// Package injector wires one engine and its client from the configuration.
// Every App is one synchronization session.
package injector

import (
	"net/http"

	"github.com/google/wire"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zeusync/islandsync/internal/config"
	"github.com/zeusync/islandsync/internal/core/engine"
	"github.com/zeusync/islandsync/internal/core/lifecycle"
	"github.com/zeusync/islandsync/internal/core/observability/log"
	"github.com/zeusync/islandsync/internal/core/observability/metrics"
	"github.com/zeusync/islandsync/internal/core/protocol"
	"github.com/zeusync/islandsync/internal/core/protocol/middlewares"
	"github.com/zeusync/islandsync/internal/core/protocol/quic"
	"github.com/zeusync/islandsync/internal/core/protocol/websocket"
	"github.com/zeusync/islandsync/internal/core/resolver"
	"github.com/zeusync/islandsync/sdk/go/client"
)

// App is a fully wired session.
type App struct {
	Config   config.Config
	Logger   log.Log
	Registry *prometheus.Registry
	Engine   *engine.Engine
	Client   *client.Client
}

// ProviderSet builds an App from a config.Config.
var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideRegistry,
	ProvideRecorder,
	ProvideCodec,
	ProvideResolver,
	ProvideMiddlewares,
	ProvideEngineOptions,
	ProvideRootFactory,
	ProvideEngine,
	ProvideTransport,
	ProvideClientConfig,
	ProvideClient,
	wire.Struct(new(App), "*"),
)

func ProvideLogger(cfg config.Config) log.Log {
	return log.New(cfg.LogLevel())
}

// ProvideRegistry returns a registry private to the session, with the Go
// runtime collectors attached.
func ProvideRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func ProvideRecorder(cfg config.Config, registry *prometheus.Registry) metrics.Recorder {
	return metrics.NewPrometheus(
		metrics.WithNamespace(cfg.Metrics.Namespace),
		metrics.WithRegistry(registry),
	)
}

func ProvideCodec(cfg config.Config) (*protocol.Codec, error) {
	opts := []protocol.CodecOption{protocol.WithMaxMessageSize(cfg.Transport.MaxMessageSize)}
	if !cfg.Session.ValidateSchema {
		opts = append(opts, protocol.WithoutSchema())
	}
	return protocol.NewCodec(opts...)
}

func ProvideResolver(logger log.Log) *resolver.Resolver {
	return resolver.New(nil, logger)
}

func ProvideMiddlewares(cfg config.Config, logger log.Log) []middlewares.Middleware {
	if cfg.Session.RateLimit <= 0 {
		return nil
	}
	return []middlewares.Middleware{
		middlewares.NewRateLimitMiddleware(cfg.Session.RateLimit, cfg.Session.RateWindow, logger),
	}
}

func ProvideEngineOptions(cfg config.Config, mws []middlewares.Middleware) engine.Options {
	return engine.Options{
		GlobalsEnabled:     cfg.Session.GlobalsEnabled,
		DefaultStreamLimit: cfg.Session.DefaultStreamLimit,
		Middlewares:        mws,
	}
}

type headlessRoot struct {
	id     string
	logger log.Log
}

func (r headlessRoot) Unmount() {
	r.logger.Debug("Standalone root released", log.Island(r.id))
}

// ProvideRootFactory gives standalone islands a root that renders nothing.
// The hydration payload is only logged.
func ProvideRootFactory(logger log.Log) lifecycle.RootFactory {
	logger = logger.With(log.Component("roots"))
	return lifecycle.RootFactoryFunc(func(instance *lifecycle.Instance, hydration *lifecycle.Hydration) (lifecycle.Root, error) {
		fields := []log.Field{log.Island(instance.ID), log.String("component", instance.ComponentName)}
		if hydration != nil {
			fields = append(fields, log.Int64("globals_version", hydration.GlobalsVersion))
		}
		logger.Debug("Standalone root created", fields...)
		return headlessRoot{id: instance.ID, logger: logger}, nil
	})
}

func ProvideEngine(
	options engine.Options,
	codec *protocol.Codec,
	res *resolver.Resolver,
	roots lifecycle.RootFactory,
	logger log.Log,
	recorder metrics.Recorder,
) *engine.Engine {
	return engine.New(options, codec, res, roots, logger, recorder)
}

func ProvideTransport(cfg config.Config, logger log.Log) (protocol.Transport, error) {
	settings := cfg.TransportSettings()
	switch cfg.Transport.Kind {
	case protocol.TransportWebSocket:
		return websocket.NewTransport(settings, http.Header{}, logger), nil
	case protocol.TransportQUIC:
		quicConfig := quic.DefaultQUICConfig()
		quicConfig.HandshakeIdleTimeout = cfg.Transport.ConnectTimeout
		quicConfig.TLSConfig = quic.ClientTLS()
		if cfg.Transport.InsecureSkipVerify {
			quicConfig.TLSConfig = quic.InsecureClientTLS()
		}
		return quic.NewTransport(settings, quicConfig, logger), nil
	default:
		return nil, errors.Wrapf(protocol.ErrTransportNotSupported, "%q", cfg.Transport.Kind)
	}
}

func ProvideClientConfig(cfg config.Config) client.Config {
	return client.Config{
		ServerAddr:           cfg.ServerAddr(),
		ConnectTimeout:       cfg.Transport.ConnectTimeout,
		ReconnectInterval:    cfg.Transport.ReconnectInterval,
		MaxReconnectInterval: cfg.Transport.MaxReconnectInterval,
		MaxReconnectAttempts: cfg.Transport.ReconnectAttempts,
		MessageTimeout:       cfg.Transport.WriteTimeout,
	}
}

func ProvideClient(
	cc client.Config,
	eng *engine.Engine,
	transport protocol.Transport,
	codec *protocol.Codec,
	logger log.Log,
) (*client.Client, error) {
	return client.New(cc, eng, transport, codec, logger)
}
