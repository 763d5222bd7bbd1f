package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	MarketData MarketDataConfig `yaml:"marketdata" mapstructure:"marketdata"`
	Screen     ScreenConfig     `yaml:"screen" mapstructure:"screen"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// MarketDataConfig holds market data API settings.
type MarketDataConfig struct {
	Key           string  `yaml:"key" mapstructure:"key"`
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimitRPS  float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	BatchSize     int     `yaml:"batch_size" mapstructure:"batch_size"`
	MaxConcurrent int     `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	Mode          string  `yaml:"mode" mapstructure:"mode"` // "live" or "cached"

	RetryMaxAttempts int `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryBackoffMs   int `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// ScreenConfig holds screening defaults, overridable per run via flags.
type ScreenConfig struct {
	Index        string  `yaml:"index" mapstructure:"index"`
	ThresholdPct float64 `yaml:"threshold_pct" mapstructure:"threshold_pct"`
	Currency     string  `yaml:"currency" mapstructure:"currency"`
	Definitions  string  `yaml:"definitions" mapstructure:"definitions"` // optional factors YAML path
}

// ServerConfig configures the screening API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SCREENER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key needs one registered or AutomaticEnv will not
	// surface it through Unmarshal.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "screener.db")
	v.SetDefault("marketdata.key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("marketdata.base_url", "https://api.marketdata.sellsadvisors.com/v1")
	v.SetDefault("marketdata.rate_limit_rps", 10)
	v.SetDefault("marketdata.timeout_secs", 30)
	v.SetDefault("marketdata.batch_size", 100)
	v.SetDefault("marketdata.max_concurrent", 4)
	v.SetDefault("marketdata.mode", "live")
	v.SetDefault("marketdata.retry_max_attempts", 3)
	v.SetDefault("marketdata.retry_backoff_ms", 500)
	v.SetDefault("screen.index", "UKX")
	v.SetDefault("screen.threshold_pct", 0.80)
	v.SetDefault("screen.currency", "GBP")
	v.SetDefault("screen.definitions", "")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the config sections a command needs are usable.
// Known scopes: "screen" (market data access), "store" (run history).
func (c *Config) Validate(scope string) error {
	switch scope {
	case "screen":
		if c.MarketData.Key == "" {
			return eris.New("config: marketdata.key is required (set SCREENER_MARKETDATA_KEY)")
		}
		if c.Screen.ThresholdPct < 0 || c.Screen.ThresholdPct > 1 {
			return eris.Errorf("config: screen.threshold_pct %v outside [0,1]", c.Screen.ThresholdPct)
		}
		if c.Screen.Index == "" {
			return eris.New("config: screen.index is required")
		}
		mode := c.MarketData.Mode
		if mode != "" && mode != "live" && mode != "cached" {
			return eris.Errorf("config: marketdata.mode must be live or cached (got %q)", mode)
		}
	case "store":
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				return eris.New("config: store.database_url is required for the postgres driver")
			}
		case "sqlite":
			if c.Store.SQLitePath == "" {
				return eris.New("config: store.sqlite_path is required for the sqlite driver")
			}
		default:
			return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
		}
	default:
		return eris.Errorf("config: unknown validation scope %q", scope)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
