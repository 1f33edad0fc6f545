package pdf

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/fotopdf/internal/domain"
)

func TestCompressWithoutImagesIsLimited(t *testing.T) {
	src := buildPDF(t)
	r := NewReencoder(nil, "", nil)

	res, err := r.Compress(context.Background(), src, domain.CompressionRequest{Level: domain.LevelHigh, SourceName: "notes.pdf"})
	require.NoError(t, err)

	assert.True(t, res.Limited)
	assert.Equal(t, domain.LimitedCompressionAdvisory, res.Advisory)
	assert.Equal(t, domain.SaveModePlain, res.SaveMode)
	assert.Empty(t, res.Outcomes)
	assert.Equal(t, 1, res.PageCount)
	assert.Equal(t, "notes-compressed.pdf", res.Filename)
	assert.Equal(t, 0.25, res.Quality)
	assert.Equal(t, int64(len(src)), res.OriginalSize)
	assert.Equal(t, domain.EstimateSize(int64(len(src)), 0.25), res.EstimatedSize)
	assert.Equal(t, int64(len(res.Data)), res.CompressedSize)
	assert.Equal(t, 1, readContext(t, res.Data).PageCount)
}

func TestCompressReencodesJPEG(t *testing.T) {
	src := buildPDF(t,
		fixtureImage{kind: "JPG", data: jpegBytes(t, 400, 300, 1)},
		fixtureImage{kind: "JPG", data: jpegBytes(t, 300, 400, 2)},
	)
	original := append([]byte(nil), src...)

	res, err := NewReencoder(nil, "", nil).Compress(context.Background(), src, domain.CompressionRequest{Level: domain.LevelMedium})
	require.NoError(t, err)

	assert.Equal(t, original, src, "source buffer must not change")
	assert.False(t, res.Limited)
	assert.Empty(t, res.Advisory)
	assert.Equal(t, domain.SaveModeOptimized, res.SaveMode)
	assert.Equal(t, 2, res.Reencoded)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 2, res.PageCount)
	assert.Less(t, res.CompressedSize, res.OriginalSize)

	for _, o := range res.Outcomes {
		assert.Equal(t, domain.OutcomeReencoded, o.Kind)
		assert.Less(t, o.NewBytes, o.OriginalBytes)
		assert.NotEmpty(t, o.Resource)
		assert.Positive(t, o.ObjectNumber)
	}
	assert.Equal(t, 2, readContext(t, res.Data).PageCount)
}

func TestCompressOneCorruptImage(t *testing.T) {
	src := corruptFirstImage(t, buildPDF(t,
		fixtureImage{kind: "JPG", data: jpegBytes(t, 200, 150, 1)},
		fixtureImage{kind: "JPG", data: jpegBytes(t, 150, 200, 2)},
	))

	before := imageObjects(t, src)
	require.Len(t, before, 2)

	res, err := NewReencoder(nil, "", nil).Compress(context.Background(), src, domain.CompressionRequest{Level: domain.LevelHigh})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Reencoded)
	assert.Equal(t, 1, res.Skipped)
	assert.False(t, res.Limited)
	assert.Equal(t, 2, res.PageCount)

	var skipped *domain.ReencodeOutcome
	for i := range res.Outcomes {
		if res.Outcomes[i].Kind == domain.OutcomeSkipped {
			skipped = &res.Outcomes[i]
		}
	}
	require.NotNil(t, skipped)
	assert.Contains(t, skipped.Reason, "jpeg")
	assert.Equal(t, len("this is not a jpeg stream at all"), skipped.OriginalBytes)

	// The corrupt stream survives unchanged in the output.
	var found bool
	for _, sd := range imageObjects(t, res.Data) {
		if bytes.Equal(sd.Raw, []byte("this is not a jpeg stream at all")) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCompressFallsBackToLosslessForFlateImages(t *testing.T) {
	src := buildPDF(t, fixtureImage{kind: "PNG", data: pngBytes(t, 64, 48, 7)})

	res, err := NewReencoder(nil, "", nil).Compress(context.Background(), src, domain.CompressionRequest{Level: domain.LevelLow})
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, domain.OutcomeFallback, res.Outcomes[0].Kind)
	assert.Equal(t, 1, res.Fallbacks)
	assert.False(t, res.Limited)

	var flate int
	for _, sd := range imageObjects(t, res.Data) {
		if f := sd.NameEntry("Filter"); f != nil && *f == "FlateDecode" {
			_, hasParms := sd.Find("DecodeParms")
			assert.False(t, hasParms)
			flate++
		}
	}
	assert.Equal(t, 1, flate)
}

func TestCompressDownsamplesLargeImages(t *testing.T) {
	src := buildPDF(t, fixtureImage{kind: "JPG", data: jpegBytes(t, 400, 200, 3)})

	res, err := NewReencoder(nil, "", nil).Compress(context.Background(), src, domain.CompressionRequest{Quality: 0.5, MaxImageDimension: 100})
	require.NoError(t, err)
	require.Equal(t, 1, res.Reencoded)

	images := imageObjects(t, res.Data)
	require.Len(t, images, 1)
	for _, sd := range images {
		w := sd.IntEntry("Width")
		h := sd.IntEntry("Height")
		require.NotNil(t, w)
		require.NotNil(t, h)
		assert.Equal(t, 100, *w)
		assert.Equal(t, 50, *h)
	}
}

func TestCompressFindsInheritedResources(t *testing.T) {
	src := rewrite(t, buildPDF(t, fixtureImage{kind: "JPG", data: jpegBytes(t, 200, 150, 5)}), func(ctx *model.Context) {
		page, _, _, err := ctx.PageDict(1, false)
		require.NoError(t, err)
		res, found := page.Find("Resources")
		require.True(t, found)
		parent, err := ctx.DereferenceDict(page["Parent"])
		require.NoError(t, err)
		parent["Resources"] = res
		delete(page, "Resources")
	})

	page, _, _, err := readContext(t, src).PageDict(1, false)
	require.NoError(t, err)
	_, found := page.Find("Resources")
	require.False(t, found, "the page must inherit its resources")

	res, err := NewReencoder(nil, "", nil).Compress(context.Background(), src, domain.CompressionRequest{Level: domain.LevelMedium})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, domain.OutcomeReencoded, res.Outcomes[0].Kind)
	assert.False(t, res.Limited)
	assert.Equal(t, 1, res.PageCount)
}

func TestCompressSkipsStencilMasks(t *testing.T) {
	src := editImages(t, buildPDF(t, fixtureImage{kind: "JPG", data: jpegBytes(t, 64, 64, 6)}), func(sd *types.StreamDict) {
		sd.Dict["ImageMask"] = types.Boolean(true)
		sd.Dict["BitsPerComponent"] = types.Integer(1)
		delete(sd.Dict, "ColorSpace")
	})

	res, err := NewReencoder(nil, "", nil).Compress(context.Background(), src, domain.CompressionRequest{Level: domain.LevelHigh})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, domain.OutcomeSkipped, res.Outcomes[0].Kind)
	assert.Equal(t, "stencil mask", res.Outcomes[0].Reason)
	assert.True(t, res.Limited)
	assert.Equal(t, domain.SaveModePlain, res.SaveMode)
}

func TestCompressSharedImageOnce(t *testing.T) {
	src := buildRepeatedImagePDF(t, 2, jpegBytes(t, 64, 48, 4))
	// Give page 2 its own resource dictionary with a second name for the
	// same image, so three entries in two dictionaries share one object.
	src = rewrite(t, src, func(ctx *model.Context) {
		first, _, _, err := ctx.PageDict(1, false)
		require.NoError(t, err)
		res, err := ctx.DereferenceDict(first["Resources"])
		require.NoError(t, err)
		xobjects, err := ctx.DereferenceDict(res["XObject"])
		require.NoError(t, err)
		require.Len(t, xobjects, 1)

		own := types.Dict{}
		for name, ref := range xobjects {
			own[name] = ref
			own["Alias"] = ref
		}
		pageRes := types.Dict{}
		for k, v := range res {
			pageRes[k] = v
		}
		pageRes["XObject"] = own

		second, _, _, err := ctx.PageDict(2, false)
		require.NoError(t, err)
		second["Resources"] = pageRes
	})
	require.Len(t, imageObjects(t, src), 1)

	res, err := NewReencoder(nil, "", nil).Compress(context.Background(), src, domain.CompressionRequest{Quality: 0.5, MaxImageDimension: 32})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1, "one outcome per distinct image object")
	assert.Equal(t, 1, res.Reencoded)
	assert.Equal(t, 2, res.PageCount)

	out := readContext(t, res.Data)
	refs, err := collectImages(out)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	for _, ref := range refs {
		assert.Equal(t, refs[0].ref.ObjectNumber, ref.ref.ObjectNumber, "page %d %s", ref.page, ref.name)
		w := ref.sd.IntEntry("Width")
		require.NotNil(t, w)
		assert.Equal(t, 32, *w)
	}
}

func TestCompressKeepsGrayscale(t *testing.T) {
	tests := []struct {
		name   string
		maxDim int
		width  int
	}{
		{"same size", 0, 120},
		{"downsampled", 60, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := buildPDF(t, fixtureImage{kind: "JPG", data: grayJPEGBytes(t, 120, 80)})

			res, err := NewReencoder(nil, "", nil).Compress(context.Background(), src, domain.CompressionRequest{Quality: 0.5, MaxImageDimension: tt.maxDim})
			require.NoError(t, err)
			require.Equal(t, 1, res.Reencoded)

			images := imageObjects(t, res.Data)
			require.Len(t, images, 1)
			for _, sd := range images {
				cs := sd.NameEntry("ColorSpace")
				require.NotNil(t, cs)
				assert.Equal(t, "DeviceGray", *cs)
				assert.Equal(t, tt.width, *sd.IntEntry("Width"))
			}
		})
	}
}

func TestCompressDecodeArray(t *testing.T) {
	inverted := types.Array{types.Integer(1), types.Integer(0), types.Integer(1), types.Integer(0), types.Integer(1), types.Integer(0)}

	t.Run("kept when it fits", func(t *testing.T) {
		src := editImages(t, buildPDF(t, fixtureImage{kind: "JPG", data: jpegBytes(t, 80, 60, 8)}), func(sd *types.StreamDict) {
			sd.Dict["Decode"] = inverted
		})
		res, err := NewReencoder(nil, "", nil).Compress(context.Background(), src, domain.CompressionRequest{Level: domain.LevelMedium})
		require.NoError(t, err)
		require.Equal(t, 1, res.Reencoded)

		for _, sd := range imageObjects(t, res.Data) {
			decode, found := sd.Find("Decode")
			require.True(t, found)
			assert.Equal(t, inverted, decode)
		}
	})

	t.Run("skipped when it does not", func(t *testing.T) {
		src := editImages(t, buildPDF(t, fixtureImage{kind: "JPG", data: jpegBytes(t, 80, 60, 9)}), func(sd *types.StreamDict) {
			sd.Dict["Decode"] = types.Array{types.Integer(1), types.Integer(0)}
		})
		res, err := NewReencoder(nil, "", nil).Compress(context.Background(), src, domain.CompressionRequest{Level: domain.LevelMedium})
		require.NoError(t, err)
		require.Len(t, res.Outcomes, 1)
		assert.Equal(t, domain.OutcomeSkipped, res.Outcomes[0].Kind)
		assert.Contains(t, res.Outcomes[0].Reason, "decode array")
	})
}

func TestCompressRejectsBadInput(t *testing.T) {
	r := NewReencoder(nil, "", nil)

	_, err := r.Compress(context.Background(), []byte("%PDF-1.4 garbage"), domain.CompressionRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrParse))
	assert.True(t, domain.IsType(err, domain.ErrorTypeCompression))

	_, err = r.Compress(context.Background(), nil, domain.CompressionRequest{})
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	_, err = r.Compress(context.Background(), buildPDF(t), domain.CompressionRequest{Quality: 1.5})
	assert.ErrorIs(t, err, domain.ErrInvalidQuality)

	_, err = r.Compress(context.Background(), buildPDF(t), domain.CompressionRequest{Level: "ultra"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

func TestResolve(t *testing.T) {
	r := NewReencoder(nil, "", nil)

	q, dim, err := r.Resolve(domain.CompressionRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0.5, q)
	assert.Equal(t, 0, dim)

	q, dim, err = r.Resolve(domain.CompressionRequest{Level: domain.LevelHigh})
	require.NoError(t, err)
	assert.Equal(t, 0.25, q)
	assert.Equal(t, 2048, dim)

	q, dim, err = r.Resolve(domain.CompressionRequest{Level: domain.LevelHigh, MaxImageDimension: 500})
	require.NoError(t, err)
	assert.Equal(t, 0.25, q)
	assert.Equal(t, 500, dim)

	q, _, err = r.Resolve(domain.CompressionRequest{Quality: 0.9})
	require.NoError(t, err)
	assert.Equal(t, 0.9, q)

	_, _, err = r.Resolve(domain.CompressionRequest{Quality: 0.5, MaxImageDimension: -1})
	assert.Error(t, err)

	r = NewReencoder(nil, domain.LevelLow, nil)
	assert.Equal(t, domain.LevelLow, r.DefaultLevel())
	q, _, err = r.Resolve(domain.CompressionRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0.75, q)
}
