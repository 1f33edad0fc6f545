// Package app wires fotopdf's components from a loaded configuration. Both
// binaries and the public package build on it.
package app

import (
	"github.com/spherical/fotopdf/internal/cache"
	"github.com/spherical/fotopdf/internal/config"
	"github.com/spherical/fotopdf/internal/convert"
	"github.com/spherical/fotopdf/internal/domain"
	"github.com/spherical/fotopdf/internal/imageio"
	"github.com/spherical/fotopdf/internal/llm"
	"github.com/spherical/fotopdf/internal/naming"
	"github.com/spherical/fotopdf/internal/observability"
	"github.com/spherical/fotopdf/internal/pdf"
)

// App holds the shared, long-lived components.
type App struct {
	Config    *config.Config
	Logger    *observability.Logger
	Cache     cache.Client
	Decoder   *imageio.Decoder
	Advisor   *naming.Advisor
	Composer  *pdf.Composer
	Reencoder *pdf.Reencoder
	Previewer *pdf.Previewer
	Validator *pdf.Validator
	Converter *convert.Service
}

// NewLogger builds the logger described by cfg.
func NewLogger(cfg *config.Config, service string) *observability.Logger {
	name := cfg.Observability.ServiceName
	if service != "" {
		name = service
	}
	return observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: name,
	})
}

// New builds every component. A Redis cache that cannot be reached is
// replaced by the in-memory cache; a missing API key disables suggestions.
func New(cfg *config.Config, logger *observability.Logger) (*App, error) {
	if logger == nil {
		logger = NewLogger(cfg, "")
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Cache:     newCache(cfg, logger),
		Validator: pdf.NewValidator(logger),
		Reencoder: pdf.NewReencoder(cfg.Compression.Levels, domain.CompressionLevel(cfg.Compression.DefaultLevel), logger),
		Previewer: pdf.NewPreviewer(pdf.PreviewConfig{
			DPI:          cfg.Preview.DPI,
			MaxDimension: cfg.Preview.MaxDimension,
			Quality:      cfg.Preview.Quality,
		}, logger),
	}

	a.Decoder = imageio.NewDecoder(imageio.Options{
		AutoOrient:  cfg.Page.AutoOrient,
		JPEGQuality: cfg.Page.JPEGQuality,
		Verify:      true,
	}, logger)

	geometry, err := cfg.Geometry()
	if err != nil {
		a.Close()
		return nil, err
	}
	if a.Composer, err = a.ComposerFor(geometry); err != nil {
		a.Close()
		return nil, err
	}

	var suggester domain.FilenameSuggester
	if cfg.LLMAvailable() {
		client, err := llm.NewClient(llm.Config{
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			BaseURL: cfg.LLM.BaseURL,
			Timeout: cfg.LLM.Timeout,
			Retry: &llm.RetryConfig{
				MaxRetries:     cfg.LLM.MaxRetries,
				InitialBackoff: llm.DefaultRetryConfig().InitialBackoff,
				MaxBackoff:     llm.DefaultRetryConfig().MaxBackoff,
			},
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		suggester = client
	} else {
		logger.Info().Msg("No API key configured, filename suggestions use the fallback name")
	}

	a.Advisor = naming.NewAdvisor(suggester, naming.Config{
		// The client applies its own deadline per attempt; this bounds retries too.
		Timeout:  cfg.LLM.Timeout * 2,
		Cache:    a.Cache,
		CacheTTL: cfg.Cache.TTL,
	}, logger)

	a.Converter = convert.NewService(a.Composer, a.Advisor, logger)
	return a, nil
}

// ComposerFor returns a composer for a page geometry other than the
// configured one, sharing the decoder.
func (a *App) ComposerFor(g domain.PageGeometry) (*pdf.Composer, error) {
	return pdf.NewComposer(pdf.ComposerConfig{
		Geometry: g,
		Title:    a.Config.Page.Title,
	}, a.Decoder, a.Logger)
}

// ConverterFor returns a conversion service that places pages on g.
func (a *App) ConverterFor(g domain.PageGeometry) (*convert.Service, error) {
	c, err := a.ComposerFor(g)
	if err != nil {
		return nil, err
	}
	return convert.NewService(c, a.Advisor, a.Logger), nil
}

// Close releases the cache connection.
func (a *App) Close() error {
	if a.Cache != nil {
		return a.Cache.Close()
	}
	return nil
}

func newCache(cfg *config.Config, logger *observability.Logger) cache.Client {
	if cfg.Cache.Driver == "redis" {
		rc, err := cache.NewRedisClient(cache.RedisConfig{
			URL:      cfg.Cache.Redis.URL,
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
			Prefix:   cfg.Cache.Redis.Prefix,
		})
		if err == nil {
			logger.Info().Msg("Using Redis suggestion cache")
			return rc
		}
		logger.Warn().Err(err).Msg("Redis unavailable, using in-memory cache")
	}
	return cache.NewMemoryClient(cfg.Cache.MaxEntries)
}
