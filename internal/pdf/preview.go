package pdf

import (
	"bytes"
	"context"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"

	"github.com/spherical/fotopdf/internal/domain"
	"github.com/spherical/fotopdf/internal/observability"
)

// PreviewConfig controls thumbnail rendering.
type PreviewConfig struct {
	DPI          float64
	MaxDimension int
	Quality      int
}

// DefaultPreviewConfig returns sensible thumbnail settings.
func DefaultPreviewConfig() PreviewConfig {
	return PreviewConfig{DPI: 72, MaxDimension: 600, Quality: 80}
}

// Previewer renders PDF pages to JPEG thumbnails using go-fitz.
type Previewer struct {
	cfg    PreviewConfig
	logger *observability.Logger
}

// NewPreviewer creates a new previewer.
func NewPreviewer(cfg PreviewConfig, logger *observability.Logger) *Previewer {
	def := DefaultPreviewConfig()
	if cfg.DPI <= 0 {
		cfg.DPI = def.DPI
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = def.MaxDimension
	}
	if cfg.Quality < 1 || cfg.Quality > 100 {
		cfg.Quality = def.Quality
	}
	if logger == nil {
		logger = observability.Nop()
	}
	return &Previewer{cfg: cfg, logger: logger.WithComponent("preview")}
}

// PageCount returns the number of pages in data.
func (p *Previewer) PageCount(data []byte) (int, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return 0, domain.ValidationError("failed to open PDF", err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

// Render rasterizes page (1-based) of data and returns a JPEG thumbnail
// no larger than MaxDimension on either side.
func (p *Previewer) Render(ctx context.Context, data []byte, page int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, domain.ValidationError("failed to open PDF", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if page < 1 || page > pageCount {
		return nil, domain.ValidationError(fmt.Sprintf("page %d out of range (document has %d pages)", page, pageCount), nil)
	}

	img, err := doc.ImageDPI(page-1, p.cfg.DPI)
	if err != nil {
		return nil, domain.IOError(fmt.Sprintf("failed to render page %d", page), err)
	}

	thumb := imaging.Fit(img, p.cfg.MaxDimension, p.cfg.MaxDimension, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(p.cfg.Quality)); err != nil {
		return nil, domain.IOError("failed to encode preview", err)
	}

	p.logger.Debug().
		Int("page", page).
		Int("width", thumb.Bounds().Dx()).
		Int("height", thumb.Bounds().Dy()).
		Msg("Preview rendered")

	return buf.Bytes(), nil
}
