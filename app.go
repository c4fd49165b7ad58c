package main

import (
	"context"
	"errors"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"
	"go.uber.org/zap"

	"github.com/chazu/lispcad/internal/config"
	"github.com/chazu/lispcad/internal/logging"
	"github.com/chazu/lispcad/internal/metrics"
	"github.com/chazu/lispcad/pkg/bridge"
	"github.com/chazu/lispcad/pkg/host"
)

// HostEvent is the runtime event carrying host to UI frames.
const HostEvent = "host_msg"

// emitFunc has the signature of runtime.EventsEmit.
type emitFunc func(ctx context.Context, name string, data ...interface{})

// errNotStarted is returned by FromUI before Wails has called startup.
var errNotStarted = errors.New("lispcad: app not started")

// wailsTransport sends frames to the webview as runtime events.
type wailsTransport struct {
	ctx  context.Context
	emit emitFunc
}

func (t wailsTransport) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.emit(t.ctx, HostEvent, string(frame))
	return nil
}

// App is the Wails backend. The frontend talks to it only through FromUI
// and the host_msg event.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	host    bridge.Handler
	emit    emitFunc

	mu     sync.Mutex
	ctx    context.Context
	server *bridge.Server
	cancel context.CancelFunc
	served chan struct{}
}

// NewApp creates an App answering requests with an sdfx-backed host.
func NewApp(cfg config.Config, logger *zap.Logger, m *metrics.Metrics) *App {
	logger = logging.OrNop(logger)
	return &App{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		host:    host.NewFromConfig(cfg, logger, m),
		emit:    runtime.EventsEmit,
	}
}

// startup is called by Wails on app startup. It starts the bridge server.
func (a *App) startup(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	server := bridge.NewServer(
		wailsTransport{ctx: ctx, emit: a.emit},
		a.host,
		bridge.WithLogger(a.logger),
		bridge.WithMetrics(a.metrics),
		bridge.WithQueueSize(a.cfg.QueueSize),
	)
	served := make(chan struct{})

	a.mu.Lock()
	a.ctx, a.server, a.cancel, a.served = ctx, server, cancel, served
	a.mu.Unlock()

	go func() {
		defer close(served)
		if err := server.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("bridge server stopped", zap.Error(err))
		}
	}()
	a.logger.Info("app started")
}

// shutdown is called by Wails when the window closes.
func (a *App) shutdown(ctx context.Context) {
	a.mu.Lock()
	server, cancel, served := a.server, a.cancel, a.served
	a.mu.Unlock()
	if server == nil {
		return
	}
	server.Close()
	cancel()
	<-served
	_ = a.logger.Sync()
}

// FromUI receives one encoded request from the frontend. Responses arrive
// later as host_msg events.
func (a *App) FromUI(frame string) error {
	a.mu.Lock()
	ctx, server := a.ctx, a.server
	a.mu.Unlock()
	if server == nil {
		return errNotStarted
	}
	return server.Deliver(ctx, []byte(frame))
}
