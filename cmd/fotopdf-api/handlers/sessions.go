package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spherical/fotopdf/internal/domain"
	"github.com/spherical/fotopdf/internal/naming"
	"github.com/spherical/fotopdf/internal/observability"
	"github.com/spherical/fotopdf/internal/session"
)

// Namer suggests a filename for a list of image names.
type Namer interface {
	Suggest(ctx context.Context, descriptions []string) naming.Suggestion
}

// SessionHandler serves session, image and filename routes.
type SessionHandler struct {
	logger   *observability.Logger
	sessions *session.Manager
	namer    Namer
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(logger *observability.Logger, sessions *session.Manager, namer Namer) *SessionHandler {
	return &SessionHandler{
		logger:   logger.WithComponent("sessions-api"),
		sessions: sessions,
		namer:    namer,
	}
}

// SessionDTO represents a session in API responses.
type SessionDTO struct {
	ID        string     `json:"id"`
	CreatedAt string     `json:"createdAt"`
	Filename  string     `json:"filename"`
	Images    []ImageDTO `json:"images"`
}

// ImageDTO represents an uploaded image.
type ImageDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MIMEType  string `json:"mimeType"`
	Size      int64  `json:"size"`
	SizeHuman string `json:"sizeHuman"`
}

// RejectedDTO names an upload that was not accepted.
type RejectedDTO struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// UploadResponseDTO is returned by image uploads.
type UploadResponseDTO struct {
	Accepted []ImageDTO    `json:"accepted"`
	Rejected []RejectedDTO `json:"rejected,omitempty"`
	Images   []ImageDTO    `json:"images"`
}

// ReorderRequestDTO moves the image at From to position To.
type ReorderRequestDTO struct {
	From *int `json:"from"`
	To   *int `json:"to"`
}

// FilenameDTO carries the session filename.
type FilenameDTO struct {
	Filename string `json:"filename"`
	Source   string `json:"source,omitempty"`
}

func toImageDTO(a *domain.ImageAsset) ImageDTO {
	return ImageDTO{
		ID:        a.ID,
		Name:      a.Name,
		MIMEType:  a.MIMEType,
		Size:      a.Size,
		SizeHuman: humanSize(a.Size),
	}
}

func imageDTOs(assets []*domain.ImageAsset) []ImageDTO {
	out := make([]ImageDTO, len(assets))
	for i, a := range assets {
		out[i] = toImageDTO(a)
	}
	return out
}

// lookupSession resolves the {sessionId} path parameter.
func lookupSession(r *http.Request, sessions *session.Manager) (*session.Session, error) {
	raw := chi.URLParam(r, "sessionId")
	if _, err := uuid.Parse(raw); err != nil {
		return nil, domain.ValidationError("invalid sessionId", err)
	}
	return sessions.Get(raw)
}

// Create handles POST /sessions.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create()
	h.logger.WithSession(s.ID).Info().Msg("Session started")
	writeJSON(w, http.StatusCreated, SessionDTO{
		ID:        s.ID,
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
		Filename:  s.Filename(),
		Images:    []ImageDTO{},
	})
}

// Get handles GET /sessions/{sessionId}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := lookupSession(r, h.sessions)
	if err != nil {
		writeDomainError(w, h.logger, "session lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionDTO{
		ID:        s.ID,
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
		Filename:  s.Filename(),
		Images:    imageDTOs(s.Images()),
	})
}

// Delete handles DELETE /sessions/{sessionId}.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	s, err := lookupSession(r, h.sessions)
	if err == nil {
		err = h.sessions.Delete(s.ID)
	}
	if err != nil {
		writeDomainError(w, h.logger, "session delete failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadImages handles POST /sessions/{sessionId}/images. Every part of the
// multipart field "files" is tried; non-images are reported as rejected.
func (h *SessionHandler) UploadImages(w http.ResponseWriter, r *http.Request) {
	s, err := lookupSession(r, h.sessions)
	if err != nil {
		writeDomainError(w, h.logger, "session lookup failed", err)
		return
	}
	log := h.logger.WithSession(s.ID)

	files, err := multipartFiles(r, "files")
	if err != nil {
		writeDomainError(w, log, "invalid upload", err)
		return
	}

	resp := UploadResponseDTO{Accepted: []ImageDTO{}}
	var firstErr error
	for _, fh := range files {
		data, err := readPart(fh)
		if err == nil {
			var asset *domain.ImageAsset
			asset, err = s.AddImage(fh.Filename, fh.Header.Get("Content-Type"), data)
			if err == nil {
				resp.Accepted = append(resp.Accepted, toImageDTO(asset))
				continue
			}
		}
		if firstErr == nil {
			firstErr = err
		}
		resp.Rejected = append(resp.Rejected, RejectedDTO{Name: fh.Filename, Reason: err.Error()})
	}

	if len(resp.Accepted) == 0 {
		writeDomainError(w, log, "no images accepted", firstErr)
		return
	}

	log.Info().
		Int("accepted", len(resp.Accepted)).
		Int("rejected", len(resp.Rejected)).
		Msg("Images uploaded")

	resp.Images = imageDTOs(s.Images())
	writeJSON(w, http.StatusCreated, resp)
}

// ListImages handles GET /sessions/{sessionId}/images.
func (h *SessionHandler) ListImages(w http.ResponseWriter, r *http.Request) {
	s, err := lookupSession(r, h.sessions)
	if err != nil {
		writeDomainError(w, h.logger, "session lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, imageDTOs(s.Images()))
}

// DeleteImage handles DELETE /sessions/{sessionId}/images/{imageId}.
func (h *SessionHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	s, err := lookupSession(r, h.sessions)
	if err == nil {
		err = s.RemoveImage(chi.URLParam(r, "imageId"))
	}
	if err != nil {
		writeDomainError(w, h.logger, "image delete failed", err)
		return
	}
	writeJSON(w, http.StatusOK, imageDTOs(s.Images()))
}

// ReorderImages handles POST /sessions/{sessionId}/images/reorder.
func (h *SessionHandler) ReorderImages(w http.ResponseWriter, r *http.Request) {
	s, err := lookupSession(r, h.sessions)
	if err != nil {
		writeDomainError(w, h.logger, "session lookup failed", err)
		return
	}
	log := h.logger.WithSession(s.ID)

	var req ReorderRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.From == nil || req.To == nil {
		writeError(w, http.StatusBadRequest, "from and to are required", "")
		return
	}

	if err := s.MoveImage(*req.From, *req.To); err != nil {
		writeDomainError(w, log, "reorder failed", err)
		return
	}
	writeJSON(w, http.StatusOK, imageDTOs(s.Images()))
}

// SuggestFilename handles POST /sessions/{sessionId}/filename/suggest. The
// suggestion becomes the session filename.
func (h *SessionHandler) SuggestFilename(w http.ResponseWriter, r *http.Request) {
	s, err := lookupSession(r, h.sessions)
	if err != nil {
		writeDomainError(w, h.logger, "session lookup failed", err)
		return
	}
	log := h.logger.WithSession(s.ID).WithOperation(string(domain.OpSuggest))

	release, err := s.Begin(domain.OpSuggest)
	if err != nil {
		writeDomainError(w, log, "suggestion not started", err)
		return
	}
	defer release()

	suggestion := h.namer.Suggest(r.Context(), s.ImageNames())
	name, err := s.SetFilename(suggestion.Filename)
	if err != nil {
		writeDomainError(w, log, "suggestion unusable", err)
		return
	}
	writeJSON(w, http.StatusOK, FilenameDTO{Filename: name, Source: string(suggestion.Source)})
}

// SetFilename handles PUT /sessions/{sessionId}/filename.
func (h *SessionHandler) SetFilename(w http.ResponseWriter, r *http.Request) {
	s, err := lookupSession(r, h.sessions)
	if err != nil {
		writeDomainError(w, h.logger, "session lookup failed", err)
		return
	}
	log := h.logger.WithSession(s.ID)

	var req FilenameDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	name, err := s.SetFilename(req.Filename)
	if err != nil {
		writeDomainError(w, log, "invalid filename", err)
		return
	}
	writeJSON(w, http.StatusOK, FilenameDTO{Filename: name, Source: "user"})
}

// multipartFiles parses the request and returns the parts of field.
func multipartFiles(r *http.Request, field string) ([]*multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, domain.ValidationError("expected a multipart/form-data body", err)
	}
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return nil, domain.ValidationError(fmt.Sprintf("multipart field %q is empty", field), nil)
	}
	return files, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, domain.IOError("failed to open upload", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, domain.IOError("failed to read upload", err)
	}
	return data, nil
}
