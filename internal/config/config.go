// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath  = "config.toml"
	DefaultHTTPAddr    = ":8080"
	DefaultPGHost      = "127.0.0.1"
	DefaultPGPort      = 5432
	DefaultPGUser      = "postgres"
	DefaultPGDatabase  = "flowdesk"
	DefaultPGSSLMode   = "disable"
	DefaultGatewayURL  = "ws://127.0.0.1:9090/stream"
	DefaultPassTimeout = 30 * time.Second
	DefaultSendRate    = 1.0
	DefaultSendBurst   = 3
	DefaultSweepCron   = "@every 10m"
	DefaultSweepIdle   = 24 * time.Hour
)

// Duration wraps time.Duration so TOML values like "30s" decode directly.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Engine   EngineConfig   `toml:"engine"`
	Sweeper  SweeperConfig  `toml:"sweeper"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// GatewayConfig holds the chat gateway websocket endpoint and credentials.
type GatewayConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

// EngineConfig holds routing engine tuning knobs.
type EngineConfig struct {
	// PassTimeout bounds one inbound event's pipeline pass.
	PassTimeout Duration `toml:"pass_timeout"`
	// SendRate / SendBurst throttle outbound sends per session.
	SendRate  float64 `toml:"send_rate"`
	SendBurst int     `toml:"send_burst"`
	// RouteGroups enables routing of group-chat traffic (off by default).
	RouteGroups bool `toml:"route_groups"`
}

// SweeperConfig holds the stale-ticket sweeper schedule and idle cutoff.
type SweeperConfig struct {
	Enabled bool     `toml:"enabled"`
	Cron    string   `toml:"cron"`
	MaxIdle Duration `toml:"max_idle"`
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Gateway: GatewayConfig{
			URL: DefaultGatewayURL,
		},
		Engine: EngineConfig{
			PassTimeout: Duration(DefaultPassTimeout),
			SendRate:    DefaultSendRate,
			SendBurst:   DefaultSendBurst,
		},
		Sweeper: SweeperConfig{
			Enabled: true,
			Cron:    DefaultSweepCron,
			MaxIdle: Duration(DefaultSweepIdle),
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
