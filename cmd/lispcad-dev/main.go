// Command lispcad-dev runs the lispcad host without the desktop shell.
//
//	lispcad-dev                      serve /bridge and /metrics on LISPCAD_DEV_ADDR
//	lispcad-dev eval [-url u] [-out dir] script.lisp
//
// eval connects to a running server, evaluates the script and prints the
// console. With -out, every previewed mesh is saved as dir/model-<id>.stl.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/chazu/lispcad/internal/config"
	"github.com/chazu/lispcad/internal/logging"
	"github.com/chazu/lispcad/internal/metrics"
	"github.com/chazu/lispcad/pkg/bridge"
	"github.com/chazu/lispcad/pkg/bridge/wsbridge"
	"github.com/chazu/lispcad/pkg/msg"
	"github.com/chazu/lispcad/pkg/session"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "lispcad-dev:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	defer logger.Sync()

	if len(args) > 0 && args[0] == "eval" {
		return evalCmd(ctx, cfg, logger, args[1:], stdout)
	}
	if len(args) > 0 {
		return fmt.Errorf("unknown command %q", args[0])
	}
	return serve(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	e := newServer(ctx, cfg, logger, m, reg)
	errc := make(chan error, 1)
	go func() { errc <- e.Start(cfg.DevAddr) }()
	logger.Info("dev server listening", zap.String("addr", cfg.DevAddr))

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(sctx)
}

func evalCmd(ctx context.Context, cfg config.Config, logger *zap.Logger, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	url := fs.String("url", "ws://"+cfg.DevAddr+"/bridge", "bridge endpoint")
	out := fs.String("out", "", "directory to save previewed meshes into")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: lispcad-dev eval [-url u] [-out dir] script.lisp")
	}
	script, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		return err
	}

	conn, err := wsbridge.Dial(ctx, *url, wsbridge.WithReadLimit(cfg.MaxFrameBytes))
	if err != nil {
		return err
	}
	defer conn.Close()

	client := bridge.NewClient(conn, bridge.WithLogger(logger), bridge.WithQueueSize(cfg.QueueSize))
	defer client.Close()
	go func() {
		if err := conn.ReadLoop(ctx, client); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("read loop", zap.Error(err))
		}
	}()

	return evalScript(ctx, client, session.New(logger), script, *out, stdout)
}

// evalScript loads and evaluates script through c, printing console lines
// as they arrive. Each request is answered by exactly one response.
func evalScript(ctx context.Context, c *bridge.Client, s *session.Session, script, out string, stdout io.Writer) error {
	if _, err := c.Send(ctx, msg.RequestCode{Path: script}); err != nil {
		return err
	}
	if _, err := c.Send(ctx, msg.RequestEval{}); err != nil {
		return err
	}

	pending := 2
	saving := false
	failed := false
	for pending > 0 {
		var ev bridge.Event
		select {
		case ev = <-c.Events():
		case <-c.Done():
			return bridge.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
		pending--

		seen := len(s.Console())
		s.Apply(ev)
		for _, l := range s.Console()[seen:] {
			fmt.Fprintln(stdout, l)
			if l.Level == session.Error {
				failed = true
			}
		}

		if _, ok := ev.Response.(msg.EvalOk); ok && out != "" && !saving {
			saving = true
			for _, p := range s.Previews() {
				path := filepath.Join(out, fmt.Sprintf("model-%d.stl", p.ID))
				if _, err := c.Send(ctx, msg.SaveStlFile{MeshID: p.ID, Path: path}); err != nil {
					return err
				}
				pending++
			}
		}
	}
	if failed {
		return errors.New("evaluation reported errors")
	}
	return nil
}
