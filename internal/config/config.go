// Package config provides configuration loading for fotopdf.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spherical/fotopdf/internal/domain"
	"github.com/spherical/fotopdf/internal/layout"
)

// Config holds all configuration for fotopdf.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Page          PageConfig          `yaml:"page"`
	Compression   CompressionConfig   `yaml:"compression"`
	LLM           LLMConfig           `yaml:"llm"`
	Cache         CacheConfig         `yaml:"cache"`
	Session       SessionConfig       `yaml:"session"`
	Preview       PreviewConfig       `yaml:"preview"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
}

// PageConfig holds the page geometry used by the composer.
type PageConfig struct {
	Size        string  `yaml:"size"` // A3, A4, A5, LETTER, LEGAL
	Unit        string  `yaml:"unit"` // mm, cm, in, pt
	Margin      float64 `yaml:"margin"`
	Orientation string  `yaml:"orientation"` // portrait, landscape, auto
	JPEGQuality int     `yaml:"jpeg_quality"`
	AutoOrient  bool    `yaml:"auto_orient"`
	Title       string  `yaml:"title"`
}

// CompressionConfig holds the re-encoder level table.
type CompressionConfig struct {
	DefaultLevel string             `yaml:"default_level"`
	Levels       []domain.LevelSpec `yaml:"levels"`
}

// LLMConfig holds settings for the filename suggestion service.
type LLMConfig struct {
	Enabled    bool          `yaml:"enabled"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// SessionConfig holds HTTP session lifetime settings.
type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxImages     int           `yaml:"max_images"`
}

// PreviewConfig holds thumbnail rendering settings.
type PreviewConfig struct {
	DPI          float64 `yaml:"dpi"`
	MaxDimension int     `yaml:"max_dimension"`
	Quality      int     `yaml:"quality"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.ConfigError("read config file", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.ConfigError("parse config file", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigError("validate config", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
			MaxUploadBytes:   200 << 20,
			AllowedOrigins:   []string{"*"},
		},
		Page: PageConfig{
			Size:        "A4",
			Unit:        "mm",
			Margin:      10,
			Orientation: string(domain.OrientationPortrait),
			JPEGQuality: 92,
			AutoOrient:  true,
			Title:       "fotopdf export",
		},
		Compression: CompressionConfig{
			DefaultLevel: string(domain.DefaultLevel),
			Levels:       domain.DefaultLevels(),
		},
		LLM: LLMConfig{
			Enabled:    true,
			Model:      "google/gemini-2.5-flash-preview-09-2025",
			BaseURL:    "https://openrouter.ai/api/v1",
			Timeout:    15 * time.Second,
			MaxRetries: 2,
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        24 * time.Hour,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
				Prefix:   "fotopdf:",
			},
		},
		Session: SessionConfig{
			TTL:           30 * time.Minute,
			SweepInterval: time.Minute,
			MaxImages:     200,
		},
		Preview: PreviewConfig{
			DPI:          72,
			MaxDimension: 600,
			Quality:      80,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "console",
			ServiceName: "fotopdf",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if _, err := c.Geometry(); err != nil {
		return fmt.Errorf("invalid page settings: %w", err)
	}

	if c.Page.JPEGQuality < 1 || c.Page.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", c.Page.JPEGQuality)
	}

	if len(c.Compression.Levels) == 0 {
		return fmt.Errorf("at least one compression level is required")
	}
	for _, l := range c.Compression.Levels {
		if err := domain.ValidateQuality(l.Quality); err != nil {
			return fmt.Errorf("level %s: %w", l.Level, err)
		}
		if l.MaxImageDimension < 0 {
			return fmt.Errorf("level %s: max_image_dimension must not be negative", l.Level)
		}
	}
	if _, ok := domain.FindLevel(c.Compression.Levels, domain.CompressionLevel(c.Compression.DefaultLevel)); !ok {
		return fmt.Errorf("default level %q is not in the level table", c.Compression.DefaultLevel)
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm timeout must be positive")
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}

	if c.Observability.LogFormat != "json" && c.Observability.LogFormat != "console" {
		return fmt.Errorf("invalid log format: %s", c.Observability.LogFormat)
	}

	return nil
}

// Geometry resolves the page settings into a page geometry.
func (c *Config) Geometry() (domain.PageGeometry, error) {
	orientation, err := domain.ParseOrientation(c.Page.Orientation)
	if err != nil {
		return domain.PageGeometry{}, err
	}
	return layout.Geometry(c.Page.Size, c.Page.Unit, c.Page.Margin, orientation)
}

// LLMAvailable reports whether suggestions can reach the remote service.
func (c *Config) LLMAvailable() bool {
	return c.LLM.Enabled && c.LLM.APIKey != ""
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return domain.ConfigError("SERVER_PORT must be an integer", err)
		}
		cfg.Server.Port = port
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}

	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}

	if v := os.Getenv("LLM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return domain.ConfigError("LLM_TIMEOUT must be a duration", err)
		}
		cfg.LLM.Timeout = d
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.URL = v
	}

	if v := os.Getenv("CACHE_DRIVER"); v != "" {
		cfg.Cache.Driver = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}

	if v := os.Getenv("PAGE_SIZE"); v != "" {
		cfg.Page.Size = v
	}

	if v := os.Getenv("PAGE_MARGIN"); v != "" {
		m, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return domain.ConfigError("PAGE_MARGIN must be a number", err)
		}
		cfg.Page.Margin = m
	}

	if v := os.Getenv("SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return domain.ConfigError("SESSION_TTL must be a duration", err)
		}
		cfg.Session.TTL = d
	}

	return nil
}
