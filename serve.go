package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/z3r0dayexplo1t/bridge.gg-go/config"
	"github.com/z3r0dayexplo1t/bridge.gg-go/host"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the reference host",
		Long: `Serve the reference host over websocket.

Built-in methods:
  System.echo          returns its params
  System.time          returns the host clock
  MiniAppBridge.ready  acknowledges the mini-app and pushes host.params
                       as a paramsUpdated event

Prometheus metrics are served on host.metrics_path.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := cfg.Log.NewLogger()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	app := newDemoHost(cfg, logger, reg)

	mux := http.NewServeMux()
	mux.Handle(cfg.Host.Path, app.Handler())
	mux.Handle(cfg.Host.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(cfg.Host.Addr, mux)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("host stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.Close(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newDemoHost builds the host served by "serve".
func newDemoHost(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) *host.App {
	app := host.New(
		host.WithLogger(logger),
		host.WithRateLimit(cfg.Host.RateLimit.RPS, cfg.Host.RateLimit.Burst),
		host.WithRegisterer(reg),
	)

	app.Use(func(req *host.Request, next host.NextFunc) (any, error) {
		start := time.Now()
		result, err := next()
		logger.Debug("call handled",
			"socket", req.Socket.ID,
			"id", req.ID,
			"class", req.ClassName,
			"method", req.Method,
			"duration", time.Since(start),
			"error", err,
		)
		return result, err
	})

	app.Class("System").
		Handle("echo", func(req *host.Request) (any, error) {
			return req.Params, nil
		}).
		Handle("time", func(req *host.Request) (any, error) {
			return map[string]any{"now": time.Now().UTC().Format(time.RFC3339Nano)}, nil
		})

	app.Class("MiniAppBridge").
		Handle("ready", func(req *host.Request) (any, error) {
			var params struct {
				Version string `json:"version"`
			}
			if err := req.Bind(&params); err != nil {
				return nil, err
			}
			req.Set("version", params.Version)
			logger.Info("mini-app ready", "socket", req.Socket.ID, "version", params.Version)

			if len(cfg.Host.Params) > 0 {
				req.Emit("paramsUpdated", cfg.Host.Params)
			}
			return map[string]any{"accepted": true}, nil
		})

	return app
}
