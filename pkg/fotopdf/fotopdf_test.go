package fotopdf

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/fotopdf/internal/domain"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Observability.LogLevel = "error"
	c, err := NewClientWithConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func writeJPEG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 3), uint8(y * 5), 90, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestNewClientWithConfig(t *testing.T) {
	_, err := NewClientWithConfig(nil)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))

	cfg := DefaultConfig()
	cfg.Server.Port = -1
	_, err = NewClientWithConfig(cfg)
	assert.Error(t, err)
}

func TestConvertStream(t *testing.T) {
	c := newTestClient(t)
	dir := t.TempDir()
	paths := []string{
		writeJPEG(t, dir, "wide.jpg", 80, 40),
		writeJPEG(t, dir, "tall.jpg", 40, 80),
	}

	assets, err := c.LoadImageFiles(paths)
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, "image/jpeg", assets[0].MIMEType)

	job, err := c.ConvertStream(context.Background(), assets, ConvertOptions{}, nil)
	require.NoError(t, err)

	var types []EventType
	for evt := range job.Events {
		types = append(types, evt.Type)
	}
	res, err := job.Wait()
	require.NoError(t, err)

	assert.Equal(t, []EventType{EventStart, EventImageComplete, EventImageComplete, EventNaming, EventComplete}, types)
	assert.Equal(t, 2, res.Document.PageCount)
	assert.Equal(t, "wide.pdf", res.Document.Filename)

	n, err := c.PageCount(res.Document.Data)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	thumb, err := c.Preview(context.Background(), res.Document.Data, 2)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(thumb, []byte{0xff, 0xd8}))
}

func TestConvertStreamWithGeometry(t *testing.T) {
	c := newTestClient(t)
	assets, err := c.LoadImageFiles([]string{writeJPEG(t, t.TempDir(), "a.jpg", 50, 50)})
	require.NoError(t, err)

	g, err := Geometry("letter", "in", 0.5, "landscape")
	require.NoError(t, err)
	job, err := c.ConvertStream(context.Background(), assets, ConvertOptions{Filename: "square"}, &g)
	require.NoError(t, err)
	for range job.Events {
	}
	res, err := job.Wait()
	require.NoError(t, err)
	assert.Equal(t, "square.pdf", res.Document.Filename)
	require.Len(t, res.Document.Pages, 1)
	assert.InDelta(t, 11.0, res.Document.Pages[0].Layout.PageWidth, 1e-9)

	_, err = Geometry("A4", "mm", 10, "diagonal")
	assert.Error(t, err)
}

func TestLoadImageFilesRejectsNonImages(t *testing.T) {
	c := newTestClient(t)
	dir := t.TempDir()
	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hello there"), 0o644))

	_, err := c.LoadImageFiles([]string{txt})
	assert.ErrorIs(t, err, domain.ErrUnsupportedMediaType)

	_, err = c.LoadImageFiles([]string{filepath.Join(dir, "missing.jpg")})
	assert.Error(t, err)

	_, err = c.LoadImageFiles(nil)
	assert.ErrorIs(t, err, domain.ErrNoImages)
}

func TestCompressFile(t *testing.T) {
	c := newTestClient(t)
	dir := t.TempDir()
	assets, err := c.LoadImageFiles([]string{writeJPEG(t, dir, "photo.jpg", 120, 90)})
	require.NoError(t, err)
	res, err := c.Convert(context.Background(), assets, ConvertOptions{NoSuggest: true})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultExportFilename, res.Document.Filename)

	path := filepath.Join(dir, "album.pdf")
	require.NoError(t, os.WriteFile(path, res.Document.Data, 0o644))

	comp, err := c.CompressFile(context.Background(), path, LevelMedium)
	require.NoError(t, err)
	assert.Equal(t, "album-compressed.pdf", comp.Filename)
	assert.Equal(t, 1, comp.PageCount)
	assert.Equal(t, 1, comp.Reencoded)

	_, err = c.Compress(context.Background(), []byte("GIF89a"), LevelLow, "x.pdf")
	assert.ErrorIs(t, err, domain.ErrUnsupportedMediaType)

	_, err = c.CompressFile(context.Background(), writeJPEG(t, dir, "not-a.jpg", 4, 4), LevelLow)
	assert.Error(t, err)
}

func TestSuggestFilenameAndLevels(t *testing.T) {
	c := newTestClient(t)

	s := c.SuggestFilename(context.Background(), []string{"IMG_2041.HEIC"})
	assert.Equal(t, "IMG-2041.pdf", s.Filename)

	levels := c.Levels()
	require.Len(t, levels, 3)
	assert.Equal(t, LevelMedium, levels[1].Level)

	assert.Equal(t, 190.0, c.Geometry().PrintableWidth())
}
