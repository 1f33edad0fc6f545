package pdf

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"sort"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/phpdave11/gofpdf"
	"github.com/stretchr/testify/require"

	"github.com/spherical/fotopdf/internal/domain"
)

// noisy returns a deterministic image with enough detail that JPEG quality
// visibly changes the encoded size.
func noisy(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x*255/w) ^ uint8(rng.Intn(64)),
				G: uint8(y*255/h) ^ uint8(rng.Intn(64)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	return img
}

func jpegBytes(t *testing.T, w, h int, seed int64) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, noisy(w, h, seed), &jpeg.Options{Quality: 100}))
	return buf.Bytes()
}

func grayJPEGBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*7 + y*13) % 256)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}))
	return buf.Bytes()
}

func pngBytes(t *testing.T, w, h int, seed int64) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, noisy(w, h, seed)))
	return buf.Bytes()
}

type fixtureImage struct {
	kind string // "JPG" or "PNG"
	data []byte
}

// buildPDF writes one page per image with gofpdf; with no images it writes
// a single text page.
func buildPDF(t *testing.T, images ...fixtureImage) []byte {
	t.Helper()
	pdf := gofpdf.New("P", "mm", "A4", "")
	if len(images) == 0 {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "", 12)
		pdf.Cell(40, 10, "no images here")
	}
	for i, img := range images {
		name := fmt.Sprintf("fixture-%d", i)
		opts := gofpdf.ImageOptions{ImageType: img.kind}
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(img.data))
		pdf.AddPage()
		pdf.ImageOptions(name, 10, 10, 100, 75, false, opts, 0, "")
	}
	require.NoError(t, pdf.Error())

	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	return buf.Bytes()
}

func readContext(t *testing.T, data []byte) *model.Context {
	t.Helper()
	ctx, err := api.ReadContext(bytes.NewReader(data), newConfiguration())
	require.NoError(t, err)
	require.NoError(t, ctx.EnsurePageCount())
	return ctx
}

// imageObjects returns the image stream objects of a document keyed by
// object number.
func imageObjects(t *testing.T, data []byte) map[int]types.StreamDict {
	t.Helper()
	ctx := readContext(t, data)
	out := make(map[int]types.StreamDict)
	for nr, entry := range ctx.Table {
		if entry == nil || entry.Free {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if st := sd.NameEntry("Subtype"); st != nil && *st == "Image" {
			out[nr] = sd
		}
	}
	return out
}

// buildRepeatedImagePDF draws one registered JPEG on each of pages pages, so
// every page references the same image object.
func buildRepeatedImagePDF(t *testing.T, pages int, data []byte) []byte {
	t.Helper()
	pdf := gofpdf.New("P", "mm", "A4", "")
	opts := gofpdf.ImageOptions{ImageType: "JPG"}
	pdf.RegisterImageOptionsReader("shared", opts, bytes.NewReader(data))
	for i := 0; i < pages; i++ {
		pdf.AddPage()
		pdf.ImageOptions("shared", 10, 10, 60, 45, false, opts, 0, "")
	}
	require.NoError(t, pdf.Error())

	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	return buf.Bytes()
}

// rewrite parses data, lets edit change the parsed document and writes it
// back out.
func rewrite(t *testing.T, data []byte, edit func(ctx *model.Context)) []byte {
	t.Helper()
	ctx := readContext(t, data)
	edit(ctx)

	var buf bytes.Buffer
	require.NoError(t, api.WriteContext(ctx, &buf))
	return buf.Bytes()
}

// editImages applies edit to every image stream object of a document.
func editImages(t *testing.T, data []byte, edit func(sd *types.StreamDict)) []byte {
	t.Helper()
	return rewrite(t, data, func(ctx *model.Context) {
		for _, entry := range ctx.Table {
			if entry == nil || entry.Free {
				continue
			}
			sd, ok := entry.Object.(types.StreamDict)
			if !ok {
				continue
			}
			if st := sd.NameEntry("Subtype"); st == nil || *st != "Image" {
				continue
			}
			edit(&sd)
			entry.Object = sd
		}
	})
}

// corruptFirstImage replaces the stream bytes of the lowest-numbered image
// object with garbage and returns the rewritten document.
func corruptFirstImage(t *testing.T, data []byte) []byte {
	t.Helper()
	ctx := readContext(t, data)

	var numbers []int
	for nr, entry := range ctx.Table {
		if entry == nil || entry.Free {
			continue
		}
		if sd, ok := entry.Object.(types.StreamDict); ok {
			if st := sd.NameEntry("Subtype"); st != nil && *st == "Image" {
				numbers = append(numbers, nr)
			}
		}
	}
	require.NotEmpty(t, numbers)
	sort.Ints(numbers)

	entry := ctx.Table[numbers[0]]
	sd := entry.Object.(types.StreamDict)
	garbage := []byte("this is not a jpeg stream at all")
	sd.Raw = garbage
	l := int64(len(garbage))
	sd.StreamLength = &l
	sd.Dict["Length"] = types.Integer(l)
	entry.Object = sd

	var buf bytes.Buffer
	require.NoError(t, api.WriteContext(ctx, &buf))
	return buf.Bytes()
}

func asset(name string, data []byte) *domain.ImageAsset {
	return domain.NewImageAsset(name, "", data)
}
