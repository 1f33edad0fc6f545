package commands

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/fotopdf/cmd/fotopdf/ui"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, k := range []string{"OPENROUTER_API_KEY", "REDIS_URL", "CACHE_DRIVER", "PAGE_SIZE", "PAGE_MARGIN"} {
		t.Setenv(k, "")
	}

	var buf bytes.Buffer
	ui.SetOutput(&buf, &buf)
	t.Cleanup(func() { ui.SetOutput(os.Stdout, os.Stderr) })

	cmd := NewRootCmd()
	cmd.SetArgs(append([]string{"--no-color"}, args...))
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	err := cmd.Execute()
	return buf.String(), err
}

func writeJPEG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 2), uint8(y * 2), 200, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestConvertAndCompress(t *testing.T) {
	dir := t.TempDir()
	a := writeJPEG(t, dir, "a.jpg", 120, 80)
	b := writeJPEG(t, dir, "b.jpg", 80, 120)
	out := filepath.Join(dir, "album.pdf")

	output, err := run(t, "convert", "--no-suggest", "--orientation", "auto", "-o", out, a, b)
	require.NoError(t, err, output)
	assert.Contains(t, output, "PDF saved to "+out)
	assert.Contains(t, output, "Pages")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

	output, err = run(t, "compress", "--level", "high", out)
	require.NoError(t, err, output)
	assert.Contains(t, output, "~")
	assert.Contains(t, output, "(estimated)")
	_, err = os.Stat(filepath.Join(dir, "album-compressed.pdf"))
	assert.NoError(t, err)

	thumb := filepath.Join(dir, "thumb.jpg")
	output, err = run(t, "preview", "--page", "2", "-o", thumb, out)
	require.NoError(t, err, output)
	_, err = os.Stat(thumb)
	assert.NoError(t, err)

	_, err = run(t, "share", out)
	assert.ErrorIs(t, err, ErrSharingUnsupported)
}

func TestConvertNamesOutputFromFallback(t *testing.T) {
	dir := t.TempDir()
	img := writeJPEG(t, dir, "summer trip.jpg", 40, 40)

	t.Chdir(dir)

	output, err := run(t, "convert", img)
	require.NoError(t, err, output)
	assert.Contains(t, output, "summer-trip.pdf (fallback)")
	_, err = os.Stat(filepath.Join(dir, "summer-trip.pdf"))
	assert.NoError(t, err)
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()
	img := writeJPEG(t, dir, "a.jpg", 10, 10)
	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("plain text"), 0o644))

	tests := []struct {
		name string
		args []string
	}{
		{"no images", []string{"convert"}},
		{"unknown page size", []string{"convert", "--page", "B7", img}},
		{"margin too large", []string{"convert", "--margin", "200", img}},
		{"not an image", []string{"convert", txt}},
		{"unknown level", []string{"compress", "--level", "ultra", img}},
		{"compress non-pdf", []string{"compress", img}},
		{"missing preview input", []string{"preview", filepath.Join(dir, "nope.pdf")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestCompressUsesConfiguredDefaultLevel(t *testing.T) {
	dir := t.TempDir()
	img := writeJPEG(t, dir, "a.jpg", 64, 64)
	pdfPath := filepath.Join(dir, "a.pdf")
	output, err := run(t, "convert", "--no-suggest", "-o", pdfPath, img)
	require.NoError(t, err, output)

	cfgPath := filepath.Join(dir, "fotopdf.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("compression:\n  default_level: high\n"), 0o644))

	output, err = run(t, "--config", cfgPath, "compress", pdfPath)
	require.NoError(t, err, output)
	assert.Contains(t, output, "quality 0.25")
}

func TestSuggestAndLevels(t *testing.T) {
	output, err := run(t, "suggest", "photos/my photo.jpg", "b.jpg")
	require.NoError(t, err)
	assert.Contains(t, output, "my-photo.pdf")
	assert.Contains(t, output, "source: fallback")

	output, err = run(t, "levels")
	require.NoError(t, err)
	assert.Contains(t, output, "medium")
	assert.Contains(t, output, "0.5")
	assert.Contains(t, output, "2048px")
}
