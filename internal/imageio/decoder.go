// Package imageio decodes user images and normalizes them into a form the
// PDF writer can embed directly.
package imageio

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spherical/fotopdf/internal/domain"
	"github.com/spherical/fotopdf/internal/observability"
)

// PDF image types understood by the writer.
const (
	TypeJPEG = "JPG"
	TypePNG  = "PNG"
	TypeGIF  = "GIF"
)

// Options control how images are normalized.
type Options struct {
	// AutoOrient applies the EXIF orientation of JPEGs before embedding.
	AutoOrient bool
	// JPEGQuality is used when a JPEG has to be re-encoded (1..100).
	JPEGQuality int
	// Verify fully decodes images that are embedded unchanged, so corrupt
	// pixel data is caught here instead of producing a broken page.
	Verify bool
}

// DefaultOptions returns the options used by the CLI and API.
func DefaultOptions() Options {
	return Options{AutoOrient: true, JPEGQuality: 92, Verify: true}
}

// Prepared is an asset that decoded successfully, with bytes ready to embed.
type Prepared struct {
	Asset       *domain.ImageAsset
	Data        []byte
	Format      string
	PDFType     string
	Width       int
	Height      int
	Orientation int
	// Normalized is set when Data differs from the asset's original bytes.
	Normalized bool
}

// Decoder turns ImageAssets into Prepared images.
type Decoder struct {
	opts   Options
	logger *observability.Logger
}

// NewDecoder creates a decoder.
func NewDecoder(opts Options, logger *observability.Logger) *Decoder {
	if opts.JPEGQuality < 1 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = DefaultOptions().JPEGQuality
	}
	if logger == nil {
		logger = observability.Nop()
	}
	return &Decoder{opts: opts, logger: logger.WithComponent("imageio")}
}

// Prepare decodes the asset header, fills in its dimensions and converts
// formats the PDF writer cannot take as-is. The asset's bytes are not modified.
func (d *Decoder) Prepare(asset *domain.ImageAsset) (*Prepared, error) {
	if asset == nil || len(asset.Data) == 0 {
		return nil, domain.ValidationError("image is empty", nil)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(asset.Data))
	if err != nil {
		return nil, domain.ValidationError("unsupported or corrupt image", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, domain.ValidationError(fmt.Sprintf("invalid image dimensions %dx%d", cfg.Width, cfg.Height), nil)
	}

	p := &Prepared{
		Asset:       asset,
		Data:        asset.Data,
		Format:      format,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Orientation: OrientationNormal,
	}

	switch format {
	case "jpeg":
		p.PDFType = TypeJPEG
		err = d.prepareJPEG(p)
	case "png":
		p.PDFType = TypePNG
		if needsPNGRewrite(asset.Data, cfg.ColorModel) {
			err = d.reencodePNG(p)
		}
	case "gif":
		p.PDFType = TypeGIF
	default:
		// webp, tiff, bmp
		p.PDFType = TypePNG
		err = d.reencodePNG(p)
	}
	if err != nil {
		return nil, err
	}
	if !p.Normalized && d.opts.Verify {
		if _, _, err := image.Decode(bytes.NewReader(p.Data)); err != nil {
			return nil, domain.ValidationError("corrupt image data", err)
		}
	}

	asset.Width = p.Width
	asset.Height = p.Height

	d.logger.Debug().
		Str("image", asset.Name).
		Str("format", format).
		Int("width", p.Width).
		Int("height", p.Height).
		Bool("normalized", p.Normalized).
		Msg("Image prepared")

	return p, nil
}

func (d *Decoder) prepareJPEG(p *Prepared) error {
	if !d.opts.AutoOrient {
		return nil
	}
	orientation, err := ReadOrientation(p.Data)
	if err != nil {
		d.logger.Warn().Err(err).Str("image", p.Asset.Name).Msg("Ignoring unreadable EXIF block")
		return nil
	}
	p.Orientation = orientation
	if orientation == OrientationNormal {
		return nil
	}

	img, err := imaging.Decode(bytes.NewReader(p.Data), imaging.AutoOrientation(true))
	if err != nil {
		return domain.ValidationError("decode jpeg", err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(d.opts.JPEGQuality)); err != nil {
		return domain.IOError("encode oriented jpeg", err)
	}
	b := img.Bounds()
	p.Data = buf.Bytes()
	p.Width, p.Height = b.Dx(), b.Dy()
	p.Normalized = true
	return nil
}

func (d *Decoder) reencodePNG(p *Prepared) error {
	img, err := imaging.Decode(bytes.NewReader(p.Data))
	if err != nil {
		return domain.ValidationError("decode "+p.Format, err)
	}
	// Clone yields 8-bit NRGBA, which the writer always accepts.
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.Clone(img), imaging.PNG); err != nil {
		return domain.IOError("encode png", err)
	}
	b := img.Bounds()
	p.Data = buf.Bytes()
	p.PDFType = TypePNG
	p.Width, p.Height = b.Dx(), b.Dy()
	p.Normalized = true
	return nil
}

// needsPNGRewrite reports PNG features the writer rejects: 16-bit samples
// and Adam7 interlacing.
func needsPNGRewrite(data []byte, model color.Model) bool {
	switch model {
	case color.RGBA64Model, color.NRGBA64Model, color.Gray16Model:
		return true
	}
	// Signature (8) + length (4) + "IHDR" (4) + width, height, depth,
	// colour type, compression, filter (13 bytes total) puts the interlace
	// flag at offset 28.
	if len(data) > 28 && string(data[12:16]) == "IHDR" {
		return data[28] != 0
	}
	return false
}

// SniffMIME returns the media type detected from content.
func SniffMIME(data []byte) string {
	if len(data) >= 4 {
		head := string(data[:4])
		if head == "II*\x00" || head == "MM\x00*" {
			return "image/tiff"
		}
	}
	return http.DetectContentType(data)
}

// IsImage reports whether an upload is an image, trusting the declared type
// when present and falling back to content sniffing.
func IsImage(declared string, data []byte) bool {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared != "" && declared != "application/octet-stream" {
		return strings.HasPrefix(declared, "image/")
	}
	return strings.HasPrefix(SniffMIME(data), "image/")
}

// IsPDF reports whether an upload is a PDF by declared type or magic bytes.
func IsPDF(declared string, data []byte) bool {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared != "" && declared != "application/octet-stream" {
		return declared == "application/pdf"
	}
	return HasPDFHeader(data)
}

// HasPDFHeader reports whether data starts with the %PDF- marker. Leading
// bytes before the marker are not accepted, matching the parser used for
// compression.
func HasPDFHeader(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}
