// Package fotopdf is the public entry point for turning images into PDFs,
// shrinking existing PDFs and naming the results.
package fotopdf

import (
	"context"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/spherical/fotopdf/internal/app"
	"github.com/spherical/fotopdf/internal/config"
	"github.com/spherical/fotopdf/internal/convert"
	"github.com/spherical/fotopdf/internal/domain"
	"github.com/spherical/fotopdf/internal/imageio"
	"github.com/spherical/fotopdf/internal/layout"
	"github.com/spherical/fotopdf/internal/naming"
	"github.com/spherical/fotopdf/internal/observability"
)

// Re-export domain types for the public API
type (
	Config            = config.Config
	StreamEvent       = domain.StreamEvent
	EventType         = domain.EventType
	ImageAsset        = domain.ImageAsset
	ItemError         = domain.ItemError
	PageGeometry      = domain.PageGeometry
	ComposedDocument  = domain.ComposedDocument
	CompressionLevel  = domain.CompressionLevel
	LevelSpec         = domain.LevelSpec
	CompressionResult = domain.CompressionResult
	ProcessingStats   = domain.ProcessingStats
	Suggestion        = naming.Suggestion
	ConvertOptions    = convert.Options
	ConvertResult     = convert.Result
	ImageProgress     = convert.ImageProgress
)

// Event type constants
const (
	EventStart         = domain.EventStart
	EventImageComplete = domain.EventImageComplete
	EventImageSkipped  = domain.EventImageSkipped
	EventNaming        = domain.EventNaming
	EventError         = domain.EventError
	EventComplete      = domain.EventComplete
)

// Compression levels
const (
	LevelLow    = domain.LevelLow
	LevelMedium = domain.LevelMedium
	LevelHigh   = domain.LevelHigh
)

// NewImageAsset wraps image bytes into an asset with a fresh ID.
func NewImageAsset(name, mimeType string, data []byte) *ImageAsset {
	return domain.NewImageAsset(name, mimeType, data)
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return config.DefaultConfig()
}

// LoadConfig reads a YAML file (may be empty) and applies environment
// overrides.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Client is the main entry point for the library.
type Client struct {
	app *app.App
}

// NewClient creates a client from the environment. A .env file in the
// working directory is loaded first, and FOTOPDF_CONFIG may name a YAML
// config file.
func NewClient() (*Client, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	cfg, err := config.Load(os.Getenv("FOTOPDF_CONFIG"))
	if err != nil {
		return nil, err
	}
	return NewClientWithConfig(cfg)
}

// NewClientWithConfig creates a client with explicit configuration.
func NewClientWithConfig(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, domain.ConfigError("config is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigError("validate config", err)
	}
	a, err := app.New(cfg, app.NewLogger(cfg, ""))
	if err != nil {
		return nil, err
	}
	return &Client{app: a}, nil
}

// Geometry returns the configured page geometry.
func (c *Client) Geometry() PageGeometry {
	return c.app.Composer.Geometry()
}

// LoadImageFiles reads images from disk in the given order. Files that are
// not images by content are rejected.
func (c *Client) LoadImageFiles(paths []string) ([]*ImageAsset, error) {
	if len(paths) == 0 {
		return nil, domain.ValidationError("no images provided", domain.ErrNoImages)
	}
	assets := make([]*ImageAsset, 0, len(paths))
	for _, p := range paths {
		if err := c.app.Validator.ValidateImagePath(p); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, domain.IOError("failed to read "+p, err)
		}
		mime := imageio.SniffMIME(data)
		if !imageio.IsImage(mime, data) {
			return nil, domain.ValidationError(filepath.Base(p)+" is not an image", domain.ErrUnsupportedMediaType)
		}
		assets = append(assets, domain.NewImageAsset(filepath.Base(p), mime, data))
	}
	return assets, nil
}

// Convert composes assets into a PDF, one image per page, and names it.
func (c *Client) Convert(ctx context.Context, assets []*ImageAsset, opts ConvertOptions) (*ConvertResult, error) {
	return c.app.Converter.ProcessWithOptions(ctx, assets, opts, nil)
}

// Job is a conversion running in the background.
type Job struct {
	Events <-chan StreamEvent

	done   chan struct{}
	result *ConvertResult
	err    error
}

// Wait blocks until the conversion has finished.
func (j *Job) Wait() (*ConvertResult, error) {
	<-j.done
	return j.result, j.err
}

// ConvertStream starts a conversion and streams its progress. Events is
// closed when the conversion ends; call Wait for the outcome.
func (c *Client) ConvertStream(ctx context.Context, assets []*ImageAsset, opts ConvertOptions, geometry *PageGeometry) (*Job, error) {
	svc := c.app.Converter
	if geometry != nil {
		var err error
		if svc, err = c.app.ConverterFor(*geometry); err != nil {
			return nil, err
		}
	}

	eventCh := make(chan StreamEvent, len(assets)+8)
	job := &Job{Events: eventCh, done: make(chan struct{})}

	go func() {
		defer close(job.done)
		defer close(eventCh)
		job.result, job.err = svc.ProcessWithOptions(ctx, assets, opts, eventCh)
	}()

	return job, nil
}

// Geometry builds a page geometry from a named size, margin and orientation.
func Geometry(size, unit string, margin float64, orientation string) (PageGeometry, error) {
	o, err := domain.ParseOrientation(orientation)
	if err != nil {
		return PageGeometry{}, err
	}
	return layout.Geometry(size, unit, margin, o)
}

// Compress re-encodes the images of a PDF at a compression level. name is
// used to derive the output filename.
func (c *Client) Compress(ctx context.Context, pdf []byte, level CompressionLevel, name string) (*CompressionResult, error) {
	if err := c.app.Validator.ValidatePDFBytes(pdf); err != nil {
		return nil, err
	}
	return c.app.Reencoder.Compress(ctx, pdf, domain.CompressionRequest{Level: level, SourceName: name})
}

// CompressFile reads a PDF from disk and compresses it.
func (c *Client) CompressFile(ctx context.Context, path string, level CompressionLevel) (*CompressionResult, error) {
	if err := c.app.Validator.ValidatePDFPath(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.IOError("failed to read "+path, err)
	}
	return c.Compress(ctx, data, level, filepath.Base(path))
}

// SuggestFilename asks the advisor for an output name. It always returns a
// usable filename.
func (c *Client) SuggestFilename(ctx context.Context, names []string) Suggestion {
	return c.app.Advisor.Suggest(ctx, names)
}

// Preview renders one page (1-based) of a PDF to a JPEG thumbnail.
func (c *Client) Preview(ctx context.Context, pdf []byte, page int) ([]byte, error) {
	return c.app.Previewer.Render(ctx, pdf, page)
}

// PageCount returns the number of pages in a PDF.
func (c *Client) PageCount(pdf []byte) (int, error) {
	return c.app.Previewer.PageCount(pdf)
}

// Levels returns the compression level table.
func (c *Client) Levels() []LevelSpec {
	return c.app.Reencoder.Levels()
}

// DefaultLevel returns the configured compression level used when a call
// passes an empty level.
func (c *Client) DefaultLevel() CompressionLevel {
	return c.app.Reencoder.DefaultLevel()
}

// Logger returns the client's logger.
func (c *Client) Logger() *observability.Logger {
	return c.app.Logger
}

// Close releases the suggestion cache.
func (c *Client) Close() error {
	return c.app.Close()
}
