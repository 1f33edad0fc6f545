package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/fotopdf/cmd/fotopdf-api/handlers"
	"github.com/spherical/fotopdf/internal/app"
	"github.com/spherical/fotopdf/internal/config"
	"github.com/spherical/fotopdf/internal/domain"
	"github.com/spherical/fotopdf/internal/observability"
	"github.com/spherical/fotopdf/internal/session"
)

type upload struct {
	name        string
	contentType string
	data        []byte
}

type testServer struct {
	t        *testing.T
	srv      *httptest.Server
	sessions *session.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithConfig(t, config.DefaultConfig())
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	a, err := app.New(cfg, observability.Nop())
	require.NoError(t, err)
	sessions := session.NewManager(session.ManagerConfig{MaxImages: 10}, observability.Nop())

	srv := httptest.NewServer(NewRouter(a, sessions))
	t.Cleanup(func() {
		srv.Close()
		sessions.Close()
		a.Close()
	})
	return &testServer{t: t, srv: srv, sessions: sessions}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 120, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func (ts *testServer) do(method, path string, body io.Reader, contentType string) *http.Response {
	ts.t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, body)
	require.NoError(ts.t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(ts.t, err)
	ts.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) doJSON(method, path string, body any) *http.Response {
	ts.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(ts.t, err)
		r = bytes.NewReader(data)
	}
	return ts.do(method, path, r, "application/json")
}

func (ts *testServer) upload(path, field string, files ...upload) *http.Response {
	ts.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, f.name))
		h.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(ts.t, err)
		_, err = part.Write(f.data)
		require.NoError(ts.t, err)
	}
	require.NoError(ts.t, mw.Close())
	return ts.do(http.MethodPost, path, &buf, mw.FormDataContentType())
}

func (ts *testServer) createSession() string {
	ts.t.Helper()
	resp := ts.doJSON(http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(ts.t, http.StatusCreated, resp.StatusCode)
	var dto handlers.SessionDTO
	decode(ts.t, resp, &dto)
	return dto.ID
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(http.MethodGet, "/ready", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"suggestions":"fallback"`)
}

func TestCompressionLevels(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(http.MethodGet, "/api/v1/compression-levels", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var levels []domain.LevelSpec
	decode(t, resp, &levels)
	require.Len(t, levels, 3)
	assert.Equal(t, domain.LevelLow, levels[0].Level)
	assert.Equal(t, 0.75, levels[0].Quality)
	assert.Equal(t, 0.25, levels[2].Quality)
}

func TestConvertFlow(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession()
	base := "/api/v1/sessions/" + id

	resp := ts.upload(base+"/images", "files",
		upload{"first.png", "image/png", pngBytes(t, 40, 20)},
		upload{"notes.txt", "text/plain", []byte("not an image")},
		upload{"second.png", "image/png", pngBytes(t, 20, 40)},
	)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var up handlers.UploadResponseDTO
	decode(t, resp, &up)
	assert.Len(t, up.Accepted, 2)
	require.Len(t, up.Rejected, 1)
	assert.Equal(t, "notes.txt", up.Rejected[0].Name)

	resp = ts.doJSON(http.MethodPost, base+"/images/reorder", map[string]int{"from": 0, "to": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var images []handlers.ImageDTO
	decode(t, resp, &images)
	require.Len(t, images, 2)
	assert.Equal(t, "second.png", images[0].Name)

	resp = ts.doJSON(http.MethodPost, base+"/convert", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var conv handlers.ConvertResponseDTO
	decode(t, resp, &conv)
	assert.Equal(t, 2, conv.PageCount)
	assert.Empty(t, conv.Skipped)
	assert.Equal(t, "second.pdf", conv.Result.Filename)
	assert.Equal(t, "fallback", conv.FilenameSource)
	assert.Equal(t, "second.png", conv.Pages[0].Name)

	resp = ts.do(http.MethodGet, conv.Result.DownloadURL, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="second.pdf"`, resp.Header.Get("Content-Disposition"))
	pdfData, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdfData, []byte("%PDF-")))

	resp = ts.do(http.MethodGet, conv.Result.PreviewURL, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	resp = ts.do(http.MethodGet, conv.Result.DownloadURL+"/preview?page=x", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.doJSON(http.MethodPost, conv.Result.DownloadURL+"/share", nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	var errDTO handlers.ErrorDTO
	decode(t, resp, &errDTO)
	assert.Equal(t, "sharing is not supported", errDTO.Error)

	// A typed filename is used for the next conversion, and the new
	// result supersedes the old handle.
	resp = ts.doJSON(http.MethodPut, base+"/filename", map[string]string{"filename": "holiday"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.doJSON(http.MethodPost, base+"/convert", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second handlers.ConvertResponseDTO
	decode(t, resp, &second)
	assert.Equal(t, "holiday.pdf", second.Result.Filename)
	assert.NotEqual(t, conv.Result.ID, second.Result.ID)

	resp = ts.do(http.MethodGet, conv.Result.DownloadURL, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Removing an image drops the current conversion.
	resp = ts.do(http.MethodDelete, base+"/images/"+images[0].ID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.do(http.MethodGet, second.Result.DownloadURL, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(http.MethodDelete, base+"/images/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadErrors(t *testing.T) {
	ts := newTestServer(t)
	base := "/api/v1/sessions/" + ts.createSession()

	resp := ts.upload(base+"/images", "files", upload{"notes.txt", "text/plain", []byte("hello")})
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	resp = ts.upload(base+"/images", "other", upload{"a.png", "image/png", pngBytes(t, 4, 4)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.doJSON(http.MethodPost, base+"/images", map[string]string{"a": "b"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.doJSON(http.MethodPost, base+"/images/reorder", map[string]int{"from": 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.doJSON(http.MethodPut, base+"/filename", map[string]string{"filename": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConvertErrors(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession()
	base := "/api/v1/sessions/" + id

	resp := ts.doJSON(http.MethodPost, base+"/convert", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "an empty session has nothing to convert")

	broken := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0xff}, 64)...)
	resp = ts.upload(base+"/images", "files", upload{"broken.png", "image/png", broken})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.doJSON(http.MethodPost, base+"/convert", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	s, err := ts.sessions.Get(id)
	require.NoError(t, err)
	release, err := s.Begin(domain.OpConvert)
	require.NoError(t, err)
	defer release()

	resp = ts.doJSON(http.MethodPost, base+"/convert", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCompressFlow(t *testing.T) {
	ts := newTestServer(t)
	base := "/api/v1/sessions/" + ts.createSession()

	resp := ts.doJSON(http.MethodPost, base+"/compress", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "no PDF loaded yet")

	// Produce a PDF through the API itself.
	resp = ts.upload(base+"/images", "files", upload{"scan.png", "image/png", pngBytes(t, 64, 48)})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = ts.doJSON(http.MethodPost, base+"/convert", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var conv handlers.ConvertResponseDTO
	decode(t, resp, &conv)
	resp = ts.do(http.MethodGet, conv.Result.DownloadURL, nil, "")
	pdfData, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	resp = ts.upload(base+"/pdf", "file", upload{"scan.png", "image/png", pngBytes(t, 4, 4)})
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	resp = ts.upload(base+"/pdf", "file", upload{"report.pdf", "application/pdf", pdfData})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var src handlers.SourcePDFDTO
	decode(t, resp, &src)
	assert.Equal(t, int64(len(pdfData)), src.OriginalSize)
	require.Len(t, src.Estimates, 3)
	assert.Equal(t, domain.EstimateSize(src.OriginalSize, 0.5), src.Estimates[1].EstimatedSize)
	assert.Contains(t, src.Estimates[1].EstimatedLabel, "~")
	assert.Contains(t, src.Estimates[1].EstimatedLabel, "estimated")

	resp = ts.doJSON(http.MethodPost, base+"/compress", map[string]string{"level": "ultra"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.doJSON(http.MethodPost, base+"/compress", map[string]string{"level": "high"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var comp handlers.CompressResponseDTO
	decode(t, resp, &comp)
	assert.Equal(t, "report-compressed.pdf", comp.Result.Filename)
	assert.Equal(t, 1, comp.Compression.PageCount)
	assert.Equal(t, 0.25, comp.Compression.Quality)

	resp = ts.do(http.MethodGet, comp.Result.DownloadURL, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="report-compressed.pdf"`, resp.Header.Get("Content-Disposition"))

	// The conversion result is independent of compression.
	resp = ts.do(http.MethodGet, conv.Result.DownloadURL, nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCompressUsesConfiguredDefaultLevel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Compression.DefaultLevel = string(domain.LevelLow)
	ts := newTestServerWithConfig(t, cfg)
	base := "/api/v1/sessions/" + ts.createSession()

	resp := ts.upload(base+"/images", "files", upload{"scan.png", "image/png", pngBytes(t, 32, 32)})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = ts.doJSON(http.MethodPost, base+"/convert", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var conv handlers.ConvertResponseDTO
	decode(t, resp, &conv)
	resp = ts.do(http.MethodGet, conv.Result.DownloadURL, nil, "")
	pdfData, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	resp = ts.upload(base+"/pdf", "file", upload{"scan.pdf", "application/pdf", pdfData})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.doJSON(http.MethodPost, base+"/compress", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var comp handlers.CompressResponseDTO
	decode(t, resp, &comp)
	assert.Equal(t, 0.75, comp.Compression.Quality)
}

func TestSuggestFilename(t *testing.T) {
	ts := newTestServer(t)
	base := "/api/v1/sessions/" + ts.createSession()

	resp := ts.upload(base+"/images", "files", upload{"my photo (1).png", "image/png", pngBytes(t, 4, 4)})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.doJSON(http.MethodPost, base+"/filename/suggest", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var dto handlers.FilenameDTO
	decode(t, resp, &dto)
	assert.Equal(t, "my-photo--1-.pdf", dto.Filename)
	assert.Equal(t, "fallback", dto.Source)
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession()

	resp := ts.do(http.MethodGet, "/api/v1/sessions/"+id, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var dto handlers.SessionDTO
	decode(t, resp, &dto)
	assert.Equal(t, domain.DefaultExportFilename, dto.Filename)

	resp = ts.do(http.MethodGet, "/api/v1/sessions/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(http.MethodGet, "/api/v1/sessions/"+uuid.NewString()+"/images", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(http.MethodDelete, "/api/v1/sessions/"+id, nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(http.MethodDelete, "/api/v1/sessions/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, ts.srv.URL+"/api/v1/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
