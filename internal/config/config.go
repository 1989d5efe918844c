// Package config loads application configuration from file and
// environment into one explicit struct handed down at process start.
// Nothing reads ambient global settings.
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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Google    GoogleConfig    `yaml:"google" mapstructure:"google"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Classify  ClassifyConfig  `yaml:"classify" mapstructure:"classify"`
	Plan      PlanConfig      `yaml:"plan" mapstructure:"plan"`
	Export    ExportConfig    `yaml:"export" mapstructure:"export"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the cache database backend.
type StoreConfig struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	Path        string     `yaml:"path" mapstructure:"path"`     // sqlite file path
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig tunes the Postgres connection pool.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// GoogleConfig holds Places API settings.
type GoogleConfig struct {
	Key          string     `yaml:"key" mapstructure:"key"`
	RegionCode   string     `yaml:"region_code" mapstructure:"region_code"`
	LanguageCode string     `yaml:"language_code" mapstructure:"language_code"`
	PageSize     int        `yaml:"page_size" mapstructure:"page_size"`
	MaxPages     int        `yaml:"max_pages" mapstructure:"max_pages"`
	RateLimit    float64    `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
	Bias         BiasConfig `yaml:"bias" mapstructure:"bias"`
	DetailsLimit int        `yaml:"details_limit" mapstructure:"details_limit"`
}

// BiasConfig is an optional rectangle the text search is biased toward.
// Defaults cover Newfoundland and Labrador.
type BiasConfig struct {
	Enabled bool    `yaml:"enabled" mapstructure:"enabled"`
	LowLat  float64 `yaml:"low_lat" mapstructure:"low_lat"`
	LowLng  float64 `yaml:"low_lng" mapstructure:"low_lng"`
	HighLat float64 `yaml:"high_lat" mapstructure:"high_lat"`
	HighLng float64 `yaml:"high_lng" mapstructure:"high_lng"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key             string `yaml:"key" mapstructure:"key"`
	Model           string `yaml:"model" mapstructure:"model"`
	MaxOutputTokens int64  `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
}

// ClassifyConfig bounds the classification phase.
type ClassifyConfig struct {
	MaxPerRun           int `yaml:"max_per_run" mapstructure:"max_per_run"`
	ScanLimit           int `yaml:"scan_limit" mapstructure:"scan_limit"`
	HomepageTimeoutSecs int `yaml:"homepage_timeout_secs" mapstructure:"homepage_timeout_secs"`
	HomepageMaxChars    int `yaml:"homepage_max_chars" mapstructure:"homepage_max_chars"`
}

// PlanConfig points at the query plan file.
type PlanConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ExportConfig configures CSV output.
type ExportConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the read-only HTTP API.
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
	v.SetEnvPrefix("TERRITORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "territory.db")
	v.SetDefault("google.region_code", "CA")
	v.SetDefault("google.language_code", "en")
	v.SetDefault("google.page_size", 20)
	v.SetDefault("google.max_pages", 3)
	v.SetDefault("google.rate_limit", 10)
	v.SetDefault("google.details_limit", 0)
	v.SetDefault("google.bias.enabled", true)
	v.SetDefault("google.bias.low_lat", 46.5)
	v.SetDefault("google.bias.low_lng", -59.5)
	v.SetDefault("google.bias.high_lat", 54.9)
	v.SetDefault("google.bias.high_lng", -52.0)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_output_tokens", 250)
	v.SetDefault("classify.max_per_run", 200)
	v.SetDefault("classify.scan_limit", 10000)
	v.SetDefault("classify.homepage_timeout_secs", 20)
	v.SetDefault("classify.homepage_max_chars", 10000)
	v.SetDefault("export.path", "data/exports/territory_ranked.csv")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
