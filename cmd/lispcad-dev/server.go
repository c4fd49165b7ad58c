package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chazu/lispcad/internal/config"
	"github.com/chazu/lispcad/internal/metrics"
	"github.com/chazu/lispcad/pkg/bridge"
	"github.com/chazu/lispcad/pkg/bridge/wsbridge"
	"github.com/chazu/lispcad/pkg/host"
)

// devServer exposes a host per WebSocket connection. Connections do not
// share code or meshes.
type devServer struct {
	ctx     context.Context
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// newServer builds the HTTP routes. Bridge connections end when ctx does.
func newServer(ctx context.Context, cfg config.Config, logger *zap.Logger, m *metrics.Metrics, g prometheus.Gatherer) *echo.Echo {
	d := &devServer{ctx: ctx, cfg: cfg, logger: logger, metrics: m}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/bridge", d.bridge)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func (d *devServer) bridge(c echo.Context) error {
	conn, err := wsbridge.Accept(c.Response(), c.Request(), wsbridge.WithReadLimit(d.cfg.MaxFrameBytes))
	if err != nil {
		// The upgrader has already answered the request.
		d.logger.Warn("bridge upgrade failed", zap.Error(err))
		return nil
	}
	defer conn.Close()

	remote := zap.String("remote", c.RealIP())
	logger := d.logger.With(remote)
	logger.Info("bridge connected")

	ctx, cancel := context.WithCancel(d.ctx)
	defer cancel()

	server := bridge.NewServer(conn, host.NewFromConfig(d.cfg, logger, d.metrics),
		bridge.WithLogger(logger),
		bridge.WithMetrics(d.metrics),
		bridge.WithQueueSize(d.cfg.QueueSize),
	)
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = server.Serve(ctx)
	}()

	err = conn.ReadLoop(ctx, server)
	server.Close()
	cancel()
	<-served

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("bridge closed", zap.Error(err))
		return nil
	}
	logger.Info("bridge closed")
	return nil
}
