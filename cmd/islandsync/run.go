package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/islandsync/internal/config"
	"github.com/zeusync/islandsync/internal/core/observability/log"
	"github.com/zeusync/islandsync/internal/injector"
)

const shutdownTimeout = 5 * time.Second

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Mount the manifest islands and keep them in sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			app, err := injector.InitializeApp(cfg)
			if err != nil {
				return errors.Wrap(err, "initialize")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, app)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration")
	return cmd
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

// run serves one session until ctx ends or the client gives up.
func run(ctx context.Context, app *injector.App) error {
	logger := app.Logger.With(log.Component("cli"))
	islands := newIslandSet(app.Engine, logger)

	if path := app.Config.Islands.Manifest; path != "" {
		manifest, err := config.LoadManifest(path)
		if err != nil {
			return err
		}
		if err = islands.Apply(ctx, manifest); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := app.Client.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if listen := app.Config.Metrics.Listen; listen != "" {
		srv := &http.Server{
			Addr:              listen,
			Handler:           newRouter(app),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("Serving metrics and debug endpoints", log.String("addr", listen))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "http server")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if app.Config.Islands.Watch {
		g.Go(func() error {
			return watchManifest(gctx, app.Config.Islands.Manifest, islands, logger)
		})
	}

	err := g.Wait()
	_ = app.Client.Close()
	logger.Info("Session stopped", log.String("session_id", app.Engine.ID()))
	return err
}
