package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/surrealdb/signalr.go"
	"github.com/surrealdb/signalr.go/pkg/connection"
	"github.com/surrealdb/signalr.go/pkg/connection/gorillaws"
	"github.com/surrealdb/signalr.go/pkg/connection/gws"
	"github.com/surrealdb/signalr.go/pkg/connection/longpolling"
	"github.com/surrealdb/signalr.go/pkg/connection/sse"
	"github.com/surrealdb/signalr.go/pkg/constants"
	"github.com/surrealdb/signalr.go/pkg/logger"
	zlog "github.com/surrealdb/signalr.go/pkg/logger/zerolog"
)

type fileConfig struct {
	URL            string            `toml:"url"`
	Raw            bool              `toml:"raw"`
	Query          map[string]string `toml:"query"`
	Transports     []string          `toml:"transports"`
	Hubs           []string          `toml:"hubs"`
	LogLevel       string            `toml:"log_level"`
	LogFormat      string            `toml:"log_format"`
	Websocket      string            `toml:"websocket"`
	ReconnectDelay string            `toml:"reconnect_delay"`
	MetricsAddr    string            `toml:"metrics_addr"`
}

// config is the resolved CLI configuration.
type config struct {
	URL            string
	Raw            bool
	Query          map[string]string
	Transports     []string
	Hubs           []string
	LogLevel       string
	LogFormat      string
	Websocket      string
	ReconnectDelay time.Duration
	MetricsAddr    string
}

// cliOptions holds flag values shared by every command.
type cliOptions struct {
	url        string
	raw        bool
	transports []string
	query      map[string]string
	logLevel   string
	logFormat  string
	websocket  string

	cfg config
}

func defaultConfig() config {
	return config{
		URL:            "http://localhost:8080",
		LogLevel:       "warn",
		LogFormat:      "text",
		Websocket:      "gorilla",
		ReconnectDelay: constants.DefaultReconnectDelay,
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("url") {
		cfg.URL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("raw") {
		cfg.Raw = raw.Raw
	}
	if meta.IsDefined("query") {
		cfg.Query = raw.Query
	}
	if meta.IsDefined("transports") {
		cfg.Transports = raw.Transports
	}
	if meta.IsDefined("hubs") {
		cfg.Hubs = raw.Hubs
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}
	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(raw.LogFormat))
	}
	if meta.IsDefined("websocket") {
		cfg.Websocket = strings.ToLower(strings.TrimSpace(raw.Websocket))
	}
	if meta.IsDefined("reconnect_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReconnectDelay))
		if err != nil {
			return config{}, fmt.Errorf("parse reconnect_delay: %w", err)
		}
		cfg.ReconnectDelay = d
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config{}, fmt.Errorf("unknown config keys: %v", undecoded)
	}
	return cfg, nil
}

// resolveConfig layers the config file, the environment and the flags that
// were set explicitly.
func resolveConfig(path string, cmd *cobra.Command, opts *cliOptions) (config, error) {
	cfg := defaultConfig()
	if path != "" {
		var err error
		if cfg, err = loadConfig(path); err != nil {
			return config{}, err
		}
	}

	cfg.URL = signalr.GetEnvOrDefault("SIGNALR_URL", cfg.URL)
	cfg.LogLevel = signalr.GetEnvOrDefault("SIGNALR_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = signalr.GetEnvOrDefault("SIGNALR_LOG_FORMAT", cfg.LogFormat)
	cfg.Websocket = signalr.GetEnvOrDefault("SIGNALR_WEBSOCKET", cfg.Websocket)
	delay, err := signalr.GetEnvDurationOrDefault("SIGNALR_RECONNECT_DELAY", cfg.ReconnectDelay)
	if err != nil {
		return config{}, err
	}
	cfg.ReconnectDelay = delay

	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.URL = opts.url
	}
	if flags.Changed("raw") {
		cfg.Raw = opts.raw
	}
	if flags.Changed("transport") {
		cfg.Transports = opts.transports
	}
	if flags.Changed("query") {
		cfg.Query = opts.query
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = opts.logFormat
	}
	if flags.Changed("websocket") {
		cfg.Websocket = opts.websocket
	}
	return cfg, nil
}

func (cfg config) endpoint() string {
	if cfg.Raw {
		return cfg.URL
	}
	return strings.TrimRight(cfg.URL, "/") + signalr.DefaultPath
}

func (cfg config) logger() (logger.Logger, error) {
	switch cfg.LogFormat {
	case "json":
		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
		l, err := zlog.New().FromBuffer(os.Stderr).Level(level).Make()
		if err != nil {
			return nil, err
		}
		return l, nil
	case "", "text":
		var level slog.Level
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
		return logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
}

func (cfg config) registry() (*connection.Registry, error) {
	var websocket connection.Factory
	switch cfg.Websocket {
	case "", "gorilla":
		websocket = gorillaws.Factory()
	case "gws":
		websocket = gws.Factory(&gws.Dialer{})
	default:
		return nil, fmt.Errorf("unknown websocket library %q", cfg.Websocket)
	}

	r := connection.NewRegistry()
	if err := r.Register(constants.TransportWebSockets, websocket); err != nil {
		return nil, err
	}
	if err := r.Register(constants.TransportServerSentEvents, sse.Factory()); err != nil {
		return nil, err
	}
	if err := r.Register(constants.TransportLongPolling, longpolling.Factory()); err != nil {
		return nil, err
	}
	return r, nil
}

func (cfg config) startConfig() connection.StartConfig {
	return connection.StartConfig{Transport: connection.Names(cfg.Transports...)}
}
