package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Census   CensusConfig   `yaml:"census" mapstructure:"census"`
	TIGERWeb TIGERWebConfig `yaml:"tigerweb" mapstructure:"tigerweb"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// CensusConfig configures the Data API client.
type CensusConfig struct {
	// APIKey is optional below ~500 requests per day per IP.
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// TIGERWebConfig configures the TIGERWeb client.
type TIGERWebConfig struct {
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`

	// BoundaryYear is the cartographic boundary vintage used for national
	// spatial queries.
	BoundaryYear int `yaml:"boundary_year" mapstructure:"boundary_year"`
}

// CacheConfig configures the metadata cache.
type CacheConfig struct {
	Path     string `yaml:"path" mapstructure:"path"`
	Disabled bool   `yaml:"disabled" mapstructure:"disabled"`
	TTLHours int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// RetryConfig configures API retry behavior.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultCachePath places the metadata cache under the user cache dir.
func DefaultCachePath() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return "censaurus.db"
	}
	return filepath.Join(base, "censaurus", "metadata.db")
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.censaurus")

	// Environment
	v.SetEnvPrefix("CENSAURUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("census.rate_limit", 50.0)
	v.SetDefault("census.concurrency", 50)
	v.SetDefault("tigerweb.rate_limit", 20.0)
	v.SetDefault("tigerweb.boundary_year", 2021)
	v.SetDefault("cache.path", DefaultCachePath())
	v.SetDefault("cache.ttl_hours", 720)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

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
