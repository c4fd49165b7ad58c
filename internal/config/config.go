// Package config loads lispcad settings from LISPCAD_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variable names.
const (
	EnvLogLevel      = "LISPCAD_LOG_LEVEL"
	EnvLogFormat     = "LISPCAD_LOG_FORMAT"
	EnvEvalTimeout   = "LISPCAD_EVAL_TIMEOUT"
	EnvMeshCells     = "LISPCAD_MESH_CELLS"
	EnvQueueSize     = "LISPCAD_QUEUE_SIZE"
	EnvAllowFileLoad = "LISPCAD_ALLOW_FILE_LOAD"
	EnvDevAddr       = "LISPCAD_DEV_ADDR"
	EnvMaxFrameBytes = "LISPCAD_MAX_FRAME_BYTES"
)

// Config holds the resolved settings.
type Config struct {
	LogLevel  string // zap level name
	LogFormat string // "console" or "json"

	EvalTimeout   time.Duration // hard limit for one script evaluation
	MeshCells     int           // marching cubes resolution along the longest axis
	AllowFileLoad bool          // whether scripts may call load-stl

	QueueSize int    // bridge queue depth in frames
	DevAddr   string // listen address of the headless dev server

	MaxFrameBytes int64 // largest inbound WebSocket frame accepted
}

// Default returns the settings used when no variables are set.
func Default() Config {
	return Config{
		LogLevel:      "info",
		LogFormat:     "console",
		EvalTimeout:   5 * time.Second,
		MeshCells:     200,
		AllowFileLoad: true,
		QueueSize:     64,
		DevAddr:       "127.0.0.1:7777",
		MaxFrameBytes: 64 << 20,
	}
}

// Load reads the process environment.
func Load() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup resolves settings through lookup, which has the signature of
// os.LookupEnv. Unset or blank variables keep their defaults; malformed
// values are an error.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvLogLevel); ok {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v, ok := get(EnvLogFormat); ok {
		v = strings.ToLower(v)
		if v != "console" && v != "json" {
			return Config{}, fmt.Errorf("config: %s: want console or json, got %q", EnvLogFormat, v)
		}
		cfg.LogFormat = v
	}
	if v, ok := get(EnvEvalTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", EnvEvalTimeout, err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("config: %s: must be positive, got %s", EnvEvalTimeout, d)
		}
		cfg.EvalTimeout = d
	}
	if v, ok := get(EnvMeshCells); ok {
		n, err := positiveInt(EnvMeshCells, v)
		if err != nil {
			return Config{}, err
		}
		cfg.MeshCells = n
	}
	if v, ok := get(EnvQueueSize); ok {
		n, err := positiveInt(EnvQueueSize, v)
		if err != nil {
			return Config{}, err
		}
		cfg.QueueSize = n
	}
	if v, ok := get(EnvAllowFileLoad); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", EnvAllowFileLoad, err)
		}
		cfg.AllowFileLoad = b
	}
	if v, ok := get(EnvDevAddr); ok {
		cfg.DevAddr = v
	}
	if v, ok := get(EnvMaxFrameBytes); ok {
		n, err := positiveInt(EnvMaxFrameBytes, v)
		if err != nil {
			return Config{}, err
		}
		cfg.MaxFrameBytes = int64(n)
	}
	return cfg, nil
}

func positiveInt(key, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("config: %s: must be positive, got %d", key, n)
	}
	return n, nil
}
