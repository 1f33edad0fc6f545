package pdf

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"math"
	"sort"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/filter"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/spherical/fotopdf/internal/domain"
	"github.com/spherical/fotopdf/internal/observability"
)

var (
	errNotDCT         = errors.New("not a DCT-encoded image")
	errUnsupportedCS  = errors.New("unsupported colour space")
	errUnsupportedEnc = errors.New("unsupported stream encoding")
	errDecodeArray    = errors.New("decode array does not match the colour space")
)

var configOnce sync.Once

// newConfiguration returns a pdfcpu configuration that never touches the
// user's config directory and tolerates slightly malformed input.
func newConfiguration() *model.Configuration {
	configOnce.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Reencoder shrinks PDFs by re-encoding the raster images their pages reference.
type Reencoder struct {
	levels       []domain.LevelSpec
	defaultLevel domain.CompressionLevel
	logger       *observability.Logger
}

// NewReencoder creates a re-encoder using the given level table. defaultLevel
// is used for requests that name neither a level nor a quality; an empty
// value selects domain.DefaultLevel.
func NewReencoder(levels []domain.LevelSpec, defaultLevel domain.CompressionLevel, logger *observability.Logger) *Reencoder {
	if len(levels) == 0 {
		levels = domain.DefaultLevels()
	}
	if defaultLevel == "" {
		defaultLevel = domain.DefaultLevel
	}
	if logger == nil {
		logger = observability.Nop()
	}
	return &Reencoder{levels: levels, defaultLevel: defaultLevel, logger: logger.WithComponent("reencoder")}
}

// Levels returns the level table in use.
func (r *Reencoder) Levels() []domain.LevelSpec {
	return r.levels
}

// DefaultLevel returns the level applied when a request names none.
func (r *Reencoder) DefaultLevel() domain.CompressionLevel {
	return r.defaultLevel
}

// Resolve turns a request into a quality factor and a dimension cap.
func (r *Reencoder) Resolve(req domain.CompressionRequest) (float64, int, error) {
	quality := req.Quality
	maxDim := req.MaxImageDimension
	if quality == 0 {
		level := req.Level
		if level == "" {
			level = r.defaultLevel
		}
		spec, ok := domain.FindLevel(r.levels, level)
		if !ok {
			return 0, 0, domain.ValidationError(fmt.Sprintf("unknown compression level %q", level), nil)
		}
		quality = spec.Quality
		if maxDim == 0 {
			maxDim = spec.MaxImageDimension
		}
	}
	if err := domain.ValidateQuality(quality); err != nil {
		return 0, 0, err
	}
	if maxDim < 0 {
		return 0, 0, domain.ValidationError(fmt.Sprintf("invalid max image dimension %d", maxDim), nil)
	}
	return quality, maxDim, nil
}

// imageRef is one image entry of a page's XObject dictionary.
type imageRef struct {
	page     int
	name     string
	xobjects types.Dict
	ref      types.IndirectRef
	sd       *types.StreamDict
}

// Compress implements domain.Compressor. src is only read; the document is
// parsed into a private copy and rebuilt from it.
func (r *Reencoder) Compress(ctx context.Context, src []byte, req domain.CompressionRequest) (*domain.CompressionResult, error) {
	quality, maxDim, err := r.Resolve(req)
	if err != nil {
		return nil, err
	}
	if len(src) == 0 {
		return nil, domain.ValidationError("document is empty", domain.ErrParse)
	}

	pctx, err := api.ReadContext(bytes.NewReader(src), newConfiguration())
	if err != nil {
		return nil, domain.CompressionError("failed to parse PDF", fmt.Errorf("%w: %v", domain.ErrParse, err))
	}
	if err := pctx.EnsurePageCount(); err != nil {
		return nil, domain.CompressionError("failed to read page tree", fmt.Errorf("%w: %v", domain.ErrParse, err))
	}
	pageCount := pctx.PageCount

	refs, err := collectImages(pctx)
	if err != nil {
		return nil, domain.CompressionError("failed to walk page resources", err)
	}

	outcomes, err := r.substitute(ctx, pctx, refs, quality, maxDim)
	if err != nil {
		return nil, err
	}

	result := &domain.CompressionResult{
		Filename:      domain.CompressedFilename(req.SourceName),
		PageCount:     pageCount,
		Quality:       quality,
		OriginalSize:  int64(len(src)),
		EstimatedSize: domain.EstimateSize(int64(len(src)), quality),
		Outcomes:      outcomes,
	}
	for _, o := range outcomes {
		switch o.Kind {
		case domain.OutcomeReencoded:
			result.Reencoded++
		case domain.OutcomeFallback:
			result.Fallbacks++
		default:
			result.Skipped++
		}
	}

	optimized := result.Reencoded+result.Fallbacks > 0
	result.SaveMode = domain.SaveModePlain
	if optimized {
		result.SaveMode = domain.SaveModeOptimized
	} else {
		result.Limited = true
		result.Advisory = domain.LimitedCompressionAdvisory
	}

	data, err := r.write(pctx, optimized)
	if err != nil {
		return nil, domain.CompressionError("failed to save PDF", err)
	}

	written, err := countPages(data)
	if err != nil {
		return nil, domain.CompressionError("rebuilt PDF is unreadable", err)
	}
	if written != pageCount {
		return nil, domain.CompressionError(
			fmt.Sprintf("page count changed from %d to %d", pageCount, written), nil)
	}

	result.Data = data
	result.CompressedSize = int64(len(data))

	r.logger.Info().
		Int("pages", pageCount).
		Int("images", len(outcomes)).
		Int("reencoded", result.Reencoded).
		Int("fallbacks", result.Fallbacks).
		Int("skipped", result.Skipped).
		Int64("original_bytes", result.OriginalSize).
		Int64("compressed_bytes", result.CompressedSize).
		Str("save_mode", result.SaveMode).
		Msg("Document re-encoded")

	return result, nil
}

// collectImages lists every image XObject reachable from each page's
// resources. Nothing is modified here; substitution happens afterwards.
func collectImages(ctx *model.Context) ([]imageRef, error) {
	var refs []imageRef
	for p := 1; p <= ctx.PageCount; p++ {
		pageDict, _, _, err := ctx.PageDict(p, false)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", p, err)
		}
		if pageDict == nil {
			continue
		}

		resources, err := pageResources(ctx.XRefTable, pageDict)
		if err != nil || resources == nil {
			continue
		}
		obj, found := resources.Find("XObject")
		if !found {
			continue
		}
		xobjects, err := ctx.DereferenceDict(obj)
		if err != nil || xobjects == nil {
			continue
		}

		names := make([]string, 0, len(xobjects))
		for name := range xobjects {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			ir, ok := xobjects[name].(types.IndirectRef)
			if !ok {
				continue
			}
			sd, _, err := ctx.DereferenceStreamDict(ir)
			if err != nil || sd == nil {
				continue
			}
			if st := sd.NameEntry("Subtype"); st == nil || *st != "Image" {
				continue
			}
			refs = append(refs, imageRef{page: p, name: name, xobjects: xobjects, ref: ir, sd: sd})
		}
	}
	return refs, nil
}

// pageResources returns the page's resource dictionary, following the
// Parent chain for inherited resources.
func pageResources(xrt *model.XRefTable, d types.Dict) (types.Dict, error) {
	for depth := 0; d != nil && depth < 64; depth++ {
		if obj, found := d.Find("Resources"); found {
			return xrt.DereferenceDict(obj)
		}
		parent, found := d.Find("Parent")
		if !found {
			return nil, nil
		}
		var err error
		if d, err = xrt.DereferenceDict(parent); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// substitute re-encodes each collected image once and points every
// referencing XObject entry at the new object.
func (r *Reencoder) substitute(ctx context.Context, pctx *model.Context, refs []imageRef, quality float64, maxDim int) ([]domain.ReencodeOutcome, error) {
	replaced := make(map[int]*types.IndirectRef)
	var outcomes []domain.ReencodeOutcome

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		objNr := ref.ref.ObjectNumber.Value()
		if newRef, seen := replaced[objNr]; seen {
			if newRef != nil {
				ref.xobjects[ref.name] = *newRef
			}
			continue
		}

		outcome, newSD := r.reencode(pctx.XRefTable, ref.sd, quality, maxDim)
		outcome.Page = ref.page
		outcome.Resource = ref.name
		outcome.ObjectNumber = objNr

		replaced[objNr] = nil
		if newSD != nil {
			newRef, err := pctx.IndRefForNewObject(*newSD)
			if err != nil {
				outcome.Kind = domain.OutcomeSkipped
				outcome.NewBytes = 0
				outcome.Reason = fmt.Sprintf("embed re-encoded image: %v", err)
			} else {
				ref.xobjects[ref.name] = *newRef
				replaced[objNr] = newRef
			}
		}

		evt := r.logger.Debug()
		if outcome.Kind == domain.OutcomeSkipped {
			evt = r.logger.Warn()
		}
		evt.Int("page", outcome.Page).
			Str("resource", outcome.Resource).
			Int("object", objNr).
			Str("outcome", string(outcome.Kind)).
			Int("original_bytes", outcome.OriginalBytes).
			Int("new_bytes", outcome.NewBytes).
			Str("reason", outcome.Reason).
			Msg("Image processed")

		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// reencode tries the lossy JPEG path, then the lossless Flate path. A nil
// stream dict means the original object stays in place.
func (r *Reencoder) reencode(xrt *model.XRefTable, sd *types.StreamDict, quality float64, maxDim int) (domain.ReencodeOutcome, *types.StreamDict) {
	out := domain.ReencodeOutcome{OriginalBytes: len(sd.Raw)}

	if mask := sd.BooleanEntry("ImageMask"); mask != nil && *mask {
		out.Kind = domain.OutcomeSkipped
		out.Reason = "stencil mask"
		return out, nil
	}

	newSD, primaryErr := reencodeJPEG(sd, quality, maxDim)
	if primaryErr == nil {
		out.Kind = domain.OutcomeReencoded
		out.NewBytes = len(newSD.Raw)
		return out, newSD
	}

	newSD, fallbackErr := reencodeLossless(xrt, sd)
	if fallbackErr == nil {
		out.Kind = domain.OutcomeFallback
		out.NewBytes = len(newSD.Raw)
		return out, newSD
	}

	out.Kind = domain.OutcomeSkipped
	out.Reason = fmt.Sprintf("jpeg: %v; lossless: %v", primaryErr, fallbackErr)
	return out, nil
}

func reencodeJPEG(sd *types.StreamDict, quality float64, maxDim int) (*types.StreamDict, error) {
	if len(sd.FilterPipeline) != 1 || sd.FilterPipeline[0].Name != filter.DCT {
		return nil, errNotDCT
	}

	img, err := jpeg.Decode(bytes.NewReader(sd.Raw))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if _, ok := img.(*image.CMYK); ok {
		return nil, errUnsupportedCS
	}
	_, gray := img.(*image.Gray)

	if maxDim > 0 {
		b := img.Bounds()
		if b.Dx() > maxDim || b.Dy() > maxDim {
			img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
			if gray {
				img = toGray(img)
			}
		}
	}

	colorSpace, comps := "DeviceRGB", 3
	if gray {
		colorSpace, comps = "DeviceGray", 1
	}

	// Samples keep their meaning, so a Decode array carries over as long as
	// it fits the component count.
	decode, hasDecode := sd.Find("Decode")
	if hasDecode {
		arr, ok := decode.(types.Array)
		if !ok || len(arr) != 2*comps {
			return nil, errDecodeArray
		}
	}

	q := int(math.Round(quality * 100))
	if q < 1 {
		q = 1
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	b := img.Bounds()
	d := copyImageDict(sd.Dict, "Filter", "DecodeParms", "Length", "DL", "Decode", "ColorSpace", "BitsPerComponent", "Width", "Height")
	d["Width"] = types.Integer(b.Dx())
	d["Height"] = types.Integer(b.Dy())
	d["ColorSpace"] = types.Name(colorSpace)
	d["BitsPerComponent"] = types.Integer(8)
	if hasDecode {
		d["Decode"] = decode
	}

	return newRawStream(d, filter.DCT, buf.Bytes()), nil
}

func toGray(img image.Image) *image.Gray {
	g := image.NewGray(img.Bounds())
	draw.Draw(g, g.Bounds(), img, img.Bounds().Min, draw.Src)
	return g
}

// Filters whose output is plain samples that can be re-deflated losslessly.
var sampleFilters = map[string]bool{
	filter.Flate:     true,
	filter.LZW:       true,
	filter.RunLength: true,
	filter.ASCII85:   true,
	filter.ASCIIHex:  true,
}

func reencodeLossless(xrt *model.XRefTable, sd *types.StreamDict) (*types.StreamDict, error) {
	for _, f := range sd.FilterPipeline {
		if !sampleFilters[f.Name] {
			return nil, fmt.Errorf("%w: %s", errUnsupportedEnc, f.Name)
		}
	}

	width := sd.IntEntry("Width")
	height := sd.IntEntry("Height")
	bpc := sd.IntEntry("BitsPerComponent")
	if width == nil || height == nil || bpc == nil || *width <= 0 || *height <= 0 || *bpc <= 0 {
		return nil, errors.New("missing image geometry")
	}
	cs, _ := sd.Find("ColorSpace")
	comps, err := colorComponents(xrt, cs)
	if err != nil {
		return nil, err
	}

	// Decode a throwaway copy so the parsed original keeps its state.
	tmp := types.NewStreamDict(sd.Dict, 0, nil, nil, sd.FilterPipeline)
	tmp.Raw = sd.Raw
	if err := tmp.Decode(); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	rowBytes := (*width**bpc*comps + 7) / 8
	expected := rowBytes * *height
	if len(tmp.Content) < expected {
		return nil, fmt.Errorf("short sample data: got %d bytes, want %d", len(tmp.Content), expected)
	}

	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(tmp.Content[:expected]); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}

	d := copyImageDict(sd.Dict, "Filter", "DecodeParms", "Length", "DL")
	return newRawStream(d, filter.Flate, buf.Bytes()), nil
}

// colorComponents returns the samples per pixel of an image colour space.
func colorComponents(xrt *model.XRefTable, cs types.Object) (int, error) {
	obj, err := xrt.Dereference(cs)
	if err != nil {
		return 0, err
	}
	switch v := obj.(type) {
	case types.Name:
		switch v {
		case "DeviceGray", "CalGray", "G":
			return 1, nil
		case "DeviceRGB", "CalRGB", "Lab", "RGB":
			return 3, nil
		case "DeviceCMYK", "CMYK":
			return 4, nil
		}
	case types.Array:
		if len(v) == 0 {
			break
		}
		family, ok := v[0].(types.Name)
		if !ok {
			break
		}
		switch family {
		case "Indexed", "I", "Separation":
			return 1, nil
		case "CalGray":
			return 1, nil
		case "CalRGB", "Lab":
			return 3, nil
		case "DeviceN":
			if len(v) > 1 {
				if names, err := xrt.DereferenceArray(v[1]); err == nil && len(names) > 0 {
					return len(names), nil
				}
			}
		case "ICCBased":
			if len(v) > 1 {
				if icc, _, err := xrt.DereferenceStreamDict(v[1]); err == nil && icc != nil {
					if n := icc.IntEntry("N"); n != nil && *n > 0 {
						return *n, nil
					}
				}
			}
		}
	}
	return 0, errUnsupportedCS
}

func copyImageDict(src types.Dict, drop ...string) types.Dict {
	skip := make(map[string]bool, len(drop))
	for _, k := range drop {
		skip[k] = true
	}
	d := types.NewDict()
	for k, v := range src {
		if !skip[k] {
			d[k] = v
		}
	}
	return d
}

func newRawStream(d types.Dict, filterName string, raw []byte) *types.StreamDict {
	d["Filter"] = types.Name(filterName)
	d["Length"] = types.Integer(len(raw))
	sd := types.NewStreamDict(d, 0, nil, nil, []types.PDFFilter{{Name: filterName}})
	sd.Raw = raw
	l := int64(len(raw))
	sd.StreamLength = &l
	return &sd
}

func (r *Reencoder) write(pctx *model.Context, optimized bool) (data []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			data, err = nil, fmt.Errorf("pdf writer panic: %v", p)
		}
	}()

	pctx.Configuration.WriteObjectStream = optimized
	pctx.Configuration.WriteXRefStream = optimized
	if optimized {
		if err := api.OptimizeContext(pctx); err != nil {
			r.logger.Warn().Err(err).Msg("Optimization failed, writing unoptimized")
		}
	}

	var buf bytes.Buffer
	if err := api.WriteContext(pctx, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// countPages parses data and returns its page count.
func countPages(data []byte) (int, error) {
	pctx, err := api.ReadContext(bytes.NewReader(data), newConfiguration())
	if err != nil {
		return 0, err
	}
	if err := pctx.EnsurePageCount(); err != nil {
		return 0, err
	}
	return pctx.PageCount, nil
}
