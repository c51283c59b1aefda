package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	OKX      OKXConfig      `mapstructure:"okx"`
	Store    StoreConfig    `mapstructure:"store"`
	Stats    StatsConfig    `mapstructure:"stats"`
	Log      LogConfig      `mapstructure:"log"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type OKXConfig struct {
	WS      WSConfig `mapstructure:"ws"`
	Symbols []string `mapstructure:"symbols"`
}

type WSConfig struct {
	URL              string        `mapstructure:"url"`
	RequestID        string        `mapstructure:"request_id"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
}

// StoreConfig controls the per-symbol trade logs.
type StoreConfig struct {
	Dir   string `mapstructure:"dir"`   // directory holding <SYMBOL>.csv files
	Fsync bool   `mapstructure:"fsync"` // fsync after every appended record
}

type StatsConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Options defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

var DefaultSymbols = []string{
	"BTC-USDT", "ADA-USDT", "ETH-USDT", "DOGE-USDT",
	"XRP-USDT", "SOL-USDT", "LTC-USDT", "BNB-USDT",
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]+(-[A-Z0-9]+)*$`)

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
// An empty path falls back to the config directory next to the binary.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // config.yaml
		v.SetConfigType("yaml")

		ex, _ := os.Executable()
		if strings.Contains(ex, "go-build") {
			pwd, _ := os.Getwd()
			v.AddConfigPath(filepath.Join(pwd, "../../config"))
		} else {
			v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
		}
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// defaults and environment only
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("okx.ws.url", "wss://ws.okx.com:8443/ws/v5/public")
	v.SetDefault("okx.ws.request_id", "5323")
	v.SetDefault("okx.ws.reconnect_delay", 5*time.Second)
	v.SetDefault("okx.ws.handshake_timeout", 10*time.Second)
	v.SetDefault("okx.ws.ping_interval", 25*time.Second)
	v.SetDefault("okx.ws.read_timeout", 60*time.Second)
	v.SetDefault("okx.symbols", DefaultSymbols)

	v.SetDefault("store.dir", "trades")
	v.SetDefault("store.fsync", false)
	v.SetDefault("stats.interval", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_file", "")
	v.SetDefault("log.environment", "dev")

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "tradecollector")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.timezone", "UTC")
	v.SetDefault("postgres.create_db", false)
	v.SetDefault("postgres.queue_size", 4096)
	v.SetDefault("postgres.max_open_conns", 4)
	v.SetDefault("postgres.max_idle_conns", 2)
	v.SetDefault("postgres.conn_max_lifetime", time.Hour)

	// Support environment variables with dot notation (e.g., OKX_WS_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Validate normalizes the symbol list and rejects values the collector cannot run with.
func (cfg *Config) Validate() error {
	cfg.OKX.Symbols = normalizeSymbols(cfg.OKX.Symbols)
	if len(cfg.OKX.Symbols) == 0 {
		return errors.New("okx.symbols is empty")
	}
	for _, s := range cfg.OKX.Symbols {
		if !symbolPattern.MatchString(s) {
			return fmt.Errorf("okx.symbols: invalid symbol %q", s)
		}
	}

	ws := cfg.OKX.WS
	if strings.TrimSpace(ws.URL) == "" {
		return errors.New("okx.ws.url is empty")
	}
	if strings.TrimSpace(ws.RequestID) == "" {
		return errors.New("okx.ws.request_id is empty")
	}
	if ws.ReconnectDelay <= 0 || ws.HandshakeTimeout <= 0 || ws.PingInterval <= 0 || ws.ReadTimeout <= 0 {
		return errors.New("okx.ws durations must be positive")
	}
	if ws.ReadTimeout <= ws.PingInterval {
		return errors.New("okx.ws.read_timeout must exceed okx.ws.ping_interval")
	}

	if strings.TrimSpace(cfg.Store.Dir) == "" {
		return errors.New("store.dir is empty")
	}
	if cfg.Stats.Interval <= 0 {
		return errors.New("stats.interval must be positive")
	}
	if cfg.Postgres.Enabled && cfg.Postgres.QueueSize <= 0 {
		return errors.New("postgres.queue_size must be positive")
	}
	return nil
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
