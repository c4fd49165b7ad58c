package main

import (
	"embed"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"go.uber.org/zap"

	"github.com/chazu/lispcad/internal/config"
	"github.com/chazu/lispcad/internal/logging"
	"github.com/chazu/lispcad/internal/metrics"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		logger.Fatal("metrics", zap.Error(err))
	}

	app := NewApp(cfg, logger, m)
	err = wails.Run(&options.App{
		Title:  "lispcad",
		Width:  1280,
		Height: 800,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		OnStartup:  app.startup,
		OnShutdown: app.shutdown,
		Bind:       []interface{}{app},
	})
	if err != nil {
		logger.Fatal("wails", zap.Error(err))
	}
}
