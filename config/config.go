package config

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bybit   BybitConfig   `mapstructure:"bybit"`
	Hub     HubConfig     `mapstructure:"hub"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Watch   WatchConfig   `mapstructure:"watch"`
	Trading TradingConfig `mapstructure:"trading"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Log     LogConfig     `mapstructure:"log"`
}

type BybitConfig struct {
	REST RESTConfig `mapstructure:"rest"`
	WS   WSConfig   `mapstructure:"ws"`
}

type RESTConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Category string        `mapstructure:"category"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type WSConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HubConfig points at the local price hub's WebSocket endpoint.
type HubConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StreamConfig selects which streaming transport feeds the watcher.
// Transport is either "bybit" (exchange WebSocket) or "hub" (local hub).
type StreamConfig struct {
	Transport string `mapstructure:"transport"`
}

// WatchConfig is the initial subscription applied at startup.
type WatchConfig struct {
	Symbol    string `mapstructure:"symbol"`
	Timeframe string `mapstructure:"timeframe"`
}

// TradingConfig configures the remote trading API client.
// Email/Password are optional; when set, the watcher logs in at startup.
type TradingConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Email    string        `mapstructure:"email"`
	Password string        `mapstructure:"password"`
}

// ArchiveConfig controls the optional Postgres sink for finalized candles.
// Retention bounds how long archived candles are kept before pruning.
type ArchiveConfig struct {
	Enabled   bool           `mapstructure:"enabled"`
	Retention time.Duration  `mapstructure:"retention"`
	Postgres  PostgresConfig `mapstructure:"postgres"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
func Load() *Config {
	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		v.AddConfigPath(filepath.Join(pwd, "../../config"))
	} else {
		v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
	}

	// Support environment variables with dot notation (e.g., BYBIT_WS_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("bybit.rest.base_url", "https://api.bybit.com")
	v.SetDefault("bybit.rest.category", "spot")
	v.SetDefault("bybit.rest.timeout", 10*time.Second)
	v.SetDefault("bybit.ws.url", "wss://stream.bybit.com/v5/public/spot")
	v.SetDefault("stream.transport", "bybit")
	v.SetDefault("trading.timeout", 10*time.Second)
	v.SetDefault("archive.retention", 30*24*time.Hour)
	v.SetDefault("watch.symbol", "BTCUSDT")
	v.SetDefault("watch.timeframe", "1")
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Fatalf("failed to read config: %v", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	return &cfg
}
