package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/phpdave11/gofpdf"

	"github.com/spherical/fotopdf/internal/domain"
	"github.com/spherical/fotopdf/internal/imageio"
	"github.com/spherical/fotopdf/internal/layout"
	"github.com/spherical/fotopdf/internal/observability"
)

// ComposerConfig configures the page composer.
type ComposerConfig struct {
	Geometry domain.PageGeometry
	Title    string
	Creator  string
}

// ProgressFunc is called after each input item, whether it was placed or not.
// err is a domain.ItemError when the item was skipped.
type ProgressFunc func(done, total int, asset *domain.ImageAsset, err error)

// Composer places images one per page using gofpdf.
type Composer struct {
	cfg     ComposerConfig
	decoder *imageio.Decoder
	logger  *observability.Logger
}

// NewComposer creates a composer for the given page geometry.
func NewComposer(cfg ComposerConfig, decoder *imageio.Decoder, logger *observability.Logger) (*Composer, error) {
	if err := layout.Validate(cfg.Geometry); err != nil {
		return nil, err
	}
	if cfg.Geometry.Unit == "" {
		cfg.Geometry.Unit = "mm"
	}
	if cfg.Creator == "" {
		cfg.Creator = "fotopdf"
	}
	if logger == nil {
		logger = observability.Nop()
	}
	if decoder == nil {
		decoder = imageio.NewDecoder(imageio.DefaultOptions(), logger)
	}
	return &Composer{
		cfg:     cfg,
		decoder: decoder,
		logger:  logger.WithComponent("composer"),
	}, nil
}

// Geometry returns the page geometry used by the composer.
func (c *Composer) Geometry() domain.PageGeometry {
	return c.cfg.Geometry
}

// Compose implements domain.Composer.
func (c *Composer) Compose(ctx context.Context, assets []*domain.ImageAsset) (*domain.ComposedDocument, error) {
	return c.ComposeWithProgress(ctx, assets, nil)
}

// ComposeWithProgress places every asset that decodes and embeds on its own
// page, in input order. Items that fail are skipped and reported in
// ItemErrors; the call only fails when no item could be placed.
func (c *Composer) ComposeWithProgress(ctx context.Context, assets []*domain.ImageAsset, progress ProgressFunc) (*domain.ComposedDocument, error) {
	if len(assets) == 0 {
		return nil, domain.ValidationError("no images to convert", domain.ErrNoImages)
	}

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        c.cfg.Geometry.Unit,
		Size:           gofpdf.SizeType{Wd: c.cfg.Geometry.Width, Ht: c.cfg.Geometry.Height},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreator(c.cfg.Creator, true)
	if c.cfg.Title != "" {
		pdf.SetTitle(c.cfg.Title, true)
	}

	doc := &domain.ComposedDocument{}
	total := len(assets)

	for i, asset := range assets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := c.place(pdf, i, doc.PageCount+1, asset)
		var se stageError
		if err != nil && !errors.As(err, &se) {
			return nil, err
		}
		var reported error
		if err != nil {
			ie := itemError(i, asset, err)
			doc.ItemErrors = append(doc.ItemErrors, ie)
			reported = ie
			c.logger.Warn().
				Err(err).
				Int("index", i).
				Str("image", ie.Name).
				Str("stage", string(ie.Stage)).
				Msg("Skipping image")
		} else {
			doc.Pages = append(doc.Pages, *page)
			doc.PageCount++
		}

		if progress != nil {
			progress(i+1, total, asset, reported)
		}
	}

	if doc.PageCount == 0 {
		return nil, domain.CompositionError(
			fmt.Sprintf("none of the %d images could be placed", total), domain.ErrNoValidImages)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, domain.CompositionError("failed to write PDF", err)
	}
	doc.Data = buf.Bytes()

	c.logger.Info().
		Int("pages", doc.PageCount).
		Int("skipped", doc.FailedCount()).
		Int64("bytes", doc.Size()).
		Msg("Document composed")

	return doc, nil
}

// place decodes one asset, registers it with the writer and only then adds
// the page, so a failed embed never leaves a blank page behind.
// Images are registered under their input position: gofpdf returns the
// already registered image for a repeated name, and asset IDs may be empty
// or shared.
func (c *Composer) place(pdf *gofpdf.Fpdf, index, pageNumber int, asset *domain.ImageAsset) (*domain.PlacedPage, error) {
	prepared, err := c.decoder.Prepare(asset)
	if err != nil {
		return nil, stageError{stage: domain.StageDecode, err: err}
	}

	page := layout.PageFor(c.cfg.Geometry, prepared.Width, prepared.Height)
	placement, err := layout.Fit(prepared.Width, prepared.Height, page)
	if err != nil {
		return nil, stageError{stage: domain.StageDecode, err: err}
	}

	name := fmt.Sprintf("img-%d", index)
	opts := gofpdf.ImageOptions{ImageType: prepared.PDFType, ReadDpi: false}
	pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(prepared.Data))
	if pdf.Err() {
		err := pdf.Error()
		pdf.ClearError()
		return nil, stageError{stage: domain.StageEmbed, err: err}
	}

	pdf.AddPageFormat("P", gofpdf.SizeType{Wd: page.Width, Ht: page.Height})
	pdf.ImageOptions(name, placement.X, placement.Y, placement.Width, placement.Height, false, opts, 0, "")
	if pdf.Err() {
		// The page exists at this point and the writer cannot remove it, so
		// the batch stops instead of emitting a blank page.
		return nil, domain.CompositionError(
			fmt.Sprintf("failed to draw image %q on page %d; the page cannot be removed", asset.Name, pageNumber), pdf.Error())
	}

	return &domain.PlacedPage{
		PageNumber: pageNumber,
		AssetID:    asset.ID,
		Name:       asset.Name,
		Layout:     placement,
	}, nil
}

type stageError struct {
	stage domain.ItemStage
	err   error
}

func (e stageError) Error() string { return e.err.Error() }
func (e stageError) Unwrap() error { return e.err }

func itemError(index int, asset *domain.ImageAsset, err error) domain.ItemError {
	ie := domain.ItemError{Index: index, Stage: domain.StageEmbed, Err: err}
	if asset != nil {
		ie.Name = asset.Name
	}
	var se stageError
	if errors.As(err, &se) {
		ie.Stage = se.stage
		ie.Err = se.err
	}
	return ie
}
