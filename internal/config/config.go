package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the full hub configuration. Precedence: defaults, then the yaml
// file, then STREAMHUB_ environment variables.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	WebSocket WebSocketConfig `koanf:"websocket"`
	Hub       HubConfig       `koanf:"hub"`
	Streams   StreamsConfig   `koanf:"streams"`
	Producers ProducersConfig `koanf:"producers"`
	AI        AIConfig        `koanf:"ai"`
	Auth      AuthConfig      `koanf:"auth"`
	Log       LogConfig       `koanf:"log"`
}

type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type WebSocketConfig struct {
	WriteTimeout time.Duration `koanf:"write_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	PingInterval time.Duration `koanf:"ping_interval"`
	BufferSize   int           `koanf:"buffer_size"`
}

type HubConfig struct {
	QueueSize  int `koanf:"queue_size"`
	HistoryCap int `koanf:"history_cap"`
}

type StreamsConfig struct {
	InsightsInterval    time.Duration `koanf:"insights_interval"`
	PredictionsInterval time.Duration `koanf:"predictions_interval"`
	DataUpdatesInterval time.Duration `koanf:"data_updates_interval"`
}

type ProducersConfig struct {
	SweepInterval       time.Duration `koanf:"sweep_interval"`
	InsightsInterval    time.Duration `koanf:"insights_interval"`
	PredictionsInterval time.Duration `koanf:"predictions_interval"`
	MetricsInterval     time.Duration `koanf:"metrics_interval"`
	IdleTimeout         time.Duration `koanf:"idle_timeout"`
	StoreCapacity       int           `koanf:"store_capacity"`
}

type AIConfig struct {
	RequestTimeout time.Duration `koanf:"request_timeout"`
	DefaultModel   string        `koanf:"default_model"`
}

// AuthConfig selects the token verifier. Mode "sqlite" (default) verifies
// against the credential store at Path; mode "permissive" accepts any
// non-empty token and is for development only.
type AuthConfig struct {
	Mode string `koanf:"mode"`
	Path string `koanf:"path"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			WriteTimeout: 10 * time.Second,
			ReadTimeout:  60 * time.Second,
			PingInterval: 30 * time.Second,
			BufferSize:   100,
		},
		Hub: HubConfig{
			QueueSize:  1000,
			HistoryCap: 100,
		},
		Streams: StreamsConfig{
			InsightsInterval:    30 * time.Second,
			PredictionsInterval: 60 * time.Second,
			DataUpdatesInterval: 15 * time.Second,
		},
		Producers: ProducersConfig{
			SweepInterval:       60 * time.Second,
			InsightsInterval:    180 * time.Second,
			PredictionsInterval: 300 * time.Second,
			MetricsInterval:     30 * time.Second,
			IdleTimeout:         300 * time.Second,
			StoreCapacity:       500,
		},
		AI: AIConfig{
			RequestTimeout: 60 * time.Second,
			DefaultModel:   "gpt-4o-mini",
		},
		Auth: AuthConfig{
			Mode: "sqlite",
			Path: "./streamhub.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration: defaults, overridden by the yaml file at
// path (optional; empty path falls back to config.yaml when present),
// overridden by STREAMHUB_ environment variables where "__" separates
// nested keys (STREAMHUB_SERVER__PORT=9090).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = "config.yaml"
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("STREAMHUB_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "STREAMHUB_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	if c.WebSocket.WriteTimeout <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket timeouts must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("websocket buffer size must be positive")
	}
	if c.Hub.QueueSize <= 0 {
		return fmt.Errorf("hub queue size must be positive")
	}
	if c.Hub.HistoryCap <= 0 {
		return fmt.Errorf("hub history capacity must be positive")
	}
	if c.Streams.InsightsInterval <= 0 || c.Streams.PredictionsInterval <= 0 || c.Streams.DataUpdatesInterval <= 0 {
		return fmt.Errorf("stream intervals must be positive")
	}
	if c.Producers.SweepInterval <= 0 || c.Producers.InsightsInterval <= 0 ||
		c.Producers.PredictionsInterval <= 0 || c.Producers.MetricsInterval <= 0 {
		return fmt.Errorf("producer intervals must be positive")
	}
	if c.Producers.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}
	if c.Producers.StoreCapacity <= 0 {
		return fmt.Errorf("store capacity must be positive")
	}
	if c.AI.RequestTimeout <= 0 {
		return fmt.Errorf("ai request timeout must be positive")
	}
	switch c.Auth.Mode {
	case "sqlite":
		if c.Auth.Path == "" {
			return fmt.Errorf("auth path is required in sqlite mode")
		}
	case "permissive":
	default:
		return fmt.Errorf("auth mode must be 'sqlite' or 'permissive'")
	}
	return nil
}
