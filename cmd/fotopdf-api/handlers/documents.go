package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spherical/fotopdf/internal/convert"
	"github.com/spherical/fotopdf/internal/domain"
	"github.com/spherical/fotopdf/internal/observability"
	"github.com/spherical/fotopdf/internal/session"
)

// ErrSharingUnsupported is reported by the share route.
var ErrSharingUnsupported = errors.New("sharing is not supported")

// Converter runs an image-to-PDF conversion.
type Converter interface {
	ProcessWithOptions(ctx context.Context, assets []*domain.ImageAsset, opts convert.Options, eventCh chan<- domain.StreamEvent) (*convert.Result, error)
}

// Compressor re-encodes the images of a PDF.
type Compressor interface {
	domain.Compressor
	Levels() []domain.LevelSpec
	DefaultLevel() domain.CompressionLevel
}

// DocumentHandler serves conversion, compression and result routes.
type DocumentHandler struct {
	logger     *observability.Logger
	sessions   *session.Manager
	converter  Converter
	compressor Compressor
	previewer  domain.PreviewRenderer
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(logger *observability.Logger, sessions *session.Manager, converter Converter, compressor Compressor, previewer domain.PreviewRenderer) *DocumentHandler {
	return &DocumentHandler{
		logger:     logger.WithComponent("documents-api"),
		sessions:   sessions,
		converter:  converter,
		compressor: compressor,
		previewer:  previewer,
	}
}

// ResultDTO is a handle to a downloadable output.
type ResultDTO struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	SizeHuman   string `json:"sizeHuman"`
	CreatedAt   string `json:"createdAt"`
	DownloadURL string `json:"downloadUrl"`
	PreviewURL  string `json:"previewUrl"`
}

// SkippedImageDTO reports an image that was left out of the document.
type SkippedImageDTO struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// ConvertResponseDTO is returned by POST /convert.
type ConvertResponseDTO struct {
	Result         ResultDTO           `json:"result"`
	PageCount      int                 `json:"pageCount"`
	Pages          []domain.PlacedPage `json:"pages"`
	Skipped        []SkippedImageDTO   `json:"skipped"`
	FilenameSource string              `json:"filenameSource"`
	DurationMs     int64               `json:"durationMs"`
}

// LevelEstimateDTO is one row of the level picker.
type LevelEstimateDTO struct {
	domain.LevelSpec
	EstimatedSize  int64  `json:"estimatedSize"`
	EstimatedLabel string `json:"estimatedLabel"`
}

// SourcePDFDTO describes a loaded PDF.
type SourcePDFDTO struct {
	Name              string             `json:"name"`
	OriginalSize      int64              `json:"originalSize"`
	OriginalSizeHuman string             `json:"originalSizeHuman"`
	Estimates         []LevelEstimateDTO `json:"estimates"`
}

// CompressRequestDTO selects a compression level.
type CompressRequestDTO struct {
	Level string `json:"level"`
}

// CompressResponseDTO is returned by POST /compress.
type CompressResponseDTO struct {
	Result      ResultDTO                 `json:"result"`
	Compression *domain.CompressionResult `json:"compression"`
	Ratio       float64                   `json:"ratio"`
}

func (h *DocumentHandler) toResultDTO(sessionID string, r *session.Result) ResultDTO {
	base := fmt.Sprintf("/api/v1/sessions/%s/results/%s", sessionID, r.ID)
	return ResultDTO{
		ID:          r.ID,
		Kind:        string(r.Kind),
		Filename:    r.Filename,
		Size:        r.Size,
		SizeHuman:   humanSize(r.Size),
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
		DownloadURL: base,
		PreviewURL:  base + "/preview?page=1",
	}
}

// estimates builds the level table shown for a loaded PDF of size bytes.
func (h *DocumentHandler) estimates(size int64) []LevelEstimateDTO {
	levels := h.compressor.Levels()
	out := make([]LevelEstimateDTO, len(levels))
	for i, l := range levels {
		est := domain.EstimateSize(size, l.Quality)
		out[i] = LevelEstimateDTO{
			LevelSpec:      l,
			EstimatedSize:  est,
			EstimatedLabel: fmt.Sprintf("~%s (estimated)", humanSize(est)),
		}
	}
	return out
}

// Levels handles GET /compression-levels.
func (h *DocumentHandler) Levels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.compressor.Levels())
}

// Convert handles POST /sessions/{sessionId}/convert.
func (h *DocumentHandler) Convert(w http.ResponseWriter, r *http.Request) {
	s, err := lookupSession(r, h.sessions)
	if err != nil {
		writeDomainError(w, h.logger, "session lookup failed", err)
		return
	}
	log := h.logger.WithSession(s.ID).WithOperation(string(domain.OpConvert))

	release, err := s.Begin(domain.OpConvert)
	if err != nil {
		writeDomainError(w, log, "conversion not started", err)
		return
	}
	defer release()

	var opts convert.Options
	if name, custom := s.CustomFilename(); custom {
		opts.Filename = name
	}

	images, generation := s.SnapshotImages()
	res, err := h.converter.ProcessWithOptions(r.Context(), images, opts, nil)
	if err != nil {
		writeDomainError(w, log, "conversion failed", err)
		return
	}

	result, err := s.SetConvertResult(res.Document, generation)
	if err != nil {
		writeDomainError(w, log, "conversion discarded", err)
		return
	}
	log.Info().
		Str("result_id", result.ID).
		Int("pages", res.Document.PageCount).
		Int("skipped", res.Document.FailedCount()).
		Msg("Conversion stored")
	skipped := make([]SkippedImageDTO, len(res.Document.ItemErrors))
	for i, ie := range res.Document.ItemErrors {
		skipped[i] = SkippedImageDTO{Index: ie.Index, Name: ie.Name, Stage: string(ie.Stage), Message: ie.Message()}
	}

	writeJSON(w, http.StatusOK, ConvertResponseDTO{
		Result:         h.toResultDTO(s.ID, result),
		PageCount:      res.Document.PageCount,
		Pages:          res.Document.Pages,
		Skipped:        skipped,
		FilenameSource: string(res.Suggestion.Source),
		DurationMs:     res.Stats.TotalTime.Milliseconds(),
	})
}

// LoadPDF handles POST /sessions/{sessionId}/pdf.
func (h *DocumentHandler) LoadPDF(w http.ResponseWriter, r *http.Request) {
	s, err := lookupSession(r, h.sessions)
	if err != nil {
		writeDomainError(w, h.logger, "session lookup failed", err)
		return
	}
	log := h.logger.WithSession(s.ID)

	files, err := multipartFiles(r, "file")
	if err != nil {
		writeDomainError(w, log, "invalid upload", err)
		return
	}
	fh := files[0]
	data, err := readPart(fh)
	if err == nil {
		err = s.LoadPDF(fh.Filename, fh.Header.Get("Content-Type"), data)
	}
	if err != nil {
		writeDomainError(w, log, "PDF rejected", err)
		return
	}

	size := int64(len(data))
	writeJSON(w, http.StatusCreated, SourcePDFDTO{
		Name:              fh.Filename,
		OriginalSize:      size,
		OriginalSizeHuman: humanSize(size),
		Estimates:         h.estimates(size),
	})
}

// Compress handles POST /sessions/{sessionId}/compress. An empty body
// selects the default level.
func (h *DocumentHandler) Compress(w http.ResponseWriter, r *http.Request) {
	s, err := lookupSession(r, h.sessions)
	if err != nil {
		writeDomainError(w, h.logger, "session lookup failed", err)
		return
	}
	log := h.logger.WithSession(s.ID).WithOperation(string(domain.OpCompress))

	var req CompressRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	level := h.compressor.DefaultLevel()
	if req.Level != "" {
		if level, err = domain.ParseLevel(req.Level); err != nil {
			writeDomainError(w, log, "invalid level", err)
			return
		}
	}

	release, err := s.Begin(domain.OpCompress)
	if err != nil {
		writeDomainError(w, log, "compression not started", err)
		return
	}
	defer release()

	src, ok := s.SourcePDF()
	if !ok {
		writeError(w, http.StatusBadRequest, "no PDF loaded", "upload a PDF to /pdf first")
		return
	}

	res, err := h.compressor.Compress(r.Context(), src.Data, domain.CompressionRequest{
		Level:      level,
		SourceName: src.Name,
	})
	if err != nil {
		writeDomainError(w, log, "compression failed", err)
		return
	}

	result := s.SetCompressResult(res)
	log.Info().
		Str("result_id", result.ID).
		Str("level", string(level)).
		Int64("compressed_bytes", res.CompressedSize).
		Msg("Compression stored")
	writeJSON(w, http.StatusOK, CompressResponseDTO{
		Result:      h.toResultDTO(s.ID, result),
		Compression: res,
		Ratio:       res.Ratio(),
	})
}

// Download handles GET /sessions/{sessionId}/results/{resultId}.
func (h *DocumentHandler) Download(w http.ResponseWriter, r *http.Request) {
	s, err := lookupSession(r, h.sessions)
	if err != nil {
		writeDomainError(w, h.logger, "session lookup failed", err)
		return
	}
	log := h.logger.WithSession(s.ID)
	res, err := s.Result(chi.URLParam(r, "resultId"))
	if err != nil {
		writeDomainError(w, log, "result lookup failed", err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(res.Data)
}

// Preview handles GET /sessions/{sessionId}/results/{resultId}/preview.
func (h *DocumentHandler) Preview(w http.ResponseWriter, r *http.Request) {
	s, err := lookupSession(r, h.sessions)
	if err != nil {
		writeDomainError(w, h.logger, "session lookup failed", err)
		return
	}
	log := h.logger.WithSession(s.ID)
	res, err := s.Result(chi.URLParam(r, "resultId"))
	if err != nil {
		writeDomainError(w, log, "result lookup failed", err)
		return
	}

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid page", err.Error())
			return
		}
	}

	thumb, err := h.previewer.Render(r.Context(), res.Data, page)
	if err != nil {
		writeDomainError(w, log, "preview failed", err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.WriteHeader(http.StatusOK)
	w.Write(thumb)
}

// Share handles POST /sessions/{sessionId}/results/{resultId}/share. There
// is no platform share target on a server, so the result is only checked.
func (h *DocumentHandler) Share(w http.ResponseWriter, r *http.Request) {
	s, err := lookupSession(r, h.sessions)
	if err != nil {
		writeDomainError(w, h.logger, "session lookup failed", err)
		return
	}
	log := h.logger.WithSession(s.ID)
	if _, err := s.Result(chi.URLParam(r, "resultId")); err != nil {
		writeDomainError(w, log, "result lookup failed", err)
		return
	}
	writeError(w, http.StatusNotImplemented, ErrSharingUnsupported.Error(), "download the result instead")
}
