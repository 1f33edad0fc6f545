// Package session holds the per-user working state of the HTTP API: the
// ordered images, the loaded PDF, the current results and the in-flight
// guards that keep one operation of each kind running at a time.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/fotopdf/internal/domain"
	"github.com/spherical/fotopdf/internal/imageio"
	"github.com/spherical/fotopdf/internal/naming"
)

// Result is a finished output buffer addressed by a handle ID. The handle
// stops resolving once a newer result of the same kind replaces it.
type Result struct {
	ID          string                    `json:"id"`
	Kind        domain.Operation          `json:"kind"`
	Filename    string                    `json:"filename"`
	Size        int64                     `json:"size"`
	CreatedAt   time.Time                 `json:"createdAt"`
	Document    *domain.ComposedDocument  `json:"document,omitempty"`
	Compression *domain.CompressionResult `json:"compression,omitempty"`
	Data        []byte                    `json:"-"`
}

// SourcePDF is the document loaded for compression.
type SourcePDF struct {
	Name string
	Data []byte
}

// Session is one user's state. All methods are safe for concurrent use.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex
	images     []*domain.ImageAsset
	generation uint64
	filename   string
	customName bool
	source     *SourcePDF
	results    map[domain.Operation]*Result
	inFlight   map[domain.Operation]bool
	lastAccess time.Time
	maxImages  int
	closed     bool
	now        func() time.Time
}

func newSession(maxImages int, now func() time.Time) *Session {
	t := now()
	return &Session{
		ID:         uuid.NewString(),
		CreatedAt:  t,
		filename:   domain.DefaultExportFilename,
		results:    make(map[domain.Operation]*Result),
		inFlight:   make(map[domain.Operation]bool),
		lastAccess: t,
		maxImages:  maxImages,
		now:        now,
	}
}

// New creates a standalone session, not tracked by a Manager.
func New(maxImages int) *Session {
	return newSession(maxImages, time.Now)
}

func (s *Session) touch() {
	s.lastAccess = s.now()
}

// LastAccess returns the time of the last call that used the session.
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// AddImage stores a copy of an uploaded image. Only image media types are
// accepted, declared or sniffed. Adding an image invalidates the current
// conversion result.
func (s *Session) AddImage(name, mimeType string, data []byte) (*domain.ImageAsset, error) {
	if len(data) == 0 {
		return nil, domain.ValidationError(fmt.Sprintf("%s is empty", name), nil)
	}
	if !imageio.IsImage(mimeType, data) {
		return nil, domain.ValidationError(fmt.Sprintf("%s is not an image", name), domain.ErrUnsupportedMediaType)
	}
	if mimeType == "" {
		mimeType = imageio.SniffMIME(data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ValidationError("session is closed", domain.ErrSessionNotFound)
	}
	if s.maxImages > 0 && len(s.images) >= s.maxImages {
		return nil, domain.ValidationError(fmt.Sprintf("a session holds at most %d images", s.maxImages), nil)
	}

	asset := domain.NewImageAsset(name, mimeType, append([]byte(nil), data...))
	s.images = append(s.images, asset)
	s.imagesChanged()
	s.touch()
	return asset, nil
}

// Images returns the images in order. The slice is a copy; the assets are
// shared and must not be modified.
func (s *Session) Images() []*domain.ImageAsset {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return append([]*domain.ImageAsset(nil), s.images...)
}

// ImageNames returns the image names in order.
func (s *Session) ImageNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.images))
	for i, a := range s.images {
		names[i] = a.Name
	}
	return names
}

// SnapshotImages returns deep copies of the images for an operation to
// work on, with the generation of the list they were taken from.
func (s *Session) SnapshotImages() ([]*domain.ImageAsset, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	out := make([]*domain.ImageAsset, len(s.images))
	for i, a := range s.images {
		cp := *a
		cp.Data = append([]byte(nil), a.Data...)
		out[i] = &cp
	}
	return out, s.generation
}

// RemoveImage deletes an image by ID.
func (s *Session) RemoveImage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	for i, a := range s.images {
		if a.ID == id {
			s.images = append(s.images[:i], s.images[i+1:]...)
			s.imagesChanged()
			return nil
		}
	}
	return domain.ValidationError(fmt.Sprintf("image %s not found", id), domain.ErrImageNotFound)
}

// MoveImage takes the image at from out of the list and reinserts it at to.
func (s *Session) MoveImage(from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	n := len(s.images)
	if from < 0 || from >= n || to < 0 || to >= n {
		return domain.ValidationError(fmt.Sprintf("cannot move image %d to %d in a list of %d", from, to, n), nil)
	}
	if from == to {
		return nil
	}
	moved := s.images[from]
	s.images = append(s.images[:from], s.images[from+1:]...)
	s.images = append(s.images[:to], append([]*domain.ImageAsset{moved}, s.images[to:]...)...)
	s.imagesChanged()
	return nil
}

// Filename returns the user-editable output filename.
func (s *Session) Filename() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filename
}

// SetFilename normalises and stores the output filename. An unusable name
// is rejected.
func (s *Session) SetFilename(name string) (string, error) {
	n := naming.NormalizeFilename(name)
	if n == "" {
		return "", domain.ValidationError(fmt.Sprintf("unusable filename %q", name), nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.filename = n
	s.customName = true
	return n, nil
}

// CustomFilename returns the filename the user set since the image list
// last changed.
func (s *Session) CustomFilename() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filename, s.customName
}

// imagesChanged invalidates state derived from the image list: the
// conversion result and any filename typed for the previous list. Callers
// hold mu.
func (s *Session) imagesChanged() {
	s.generation++
	s.dropResult(domain.OpConvert)
	s.customName = false
}

// LoadPDF stores a copy of a document to compress. It replaces any
// previously loaded document and its compression result.
func (s *Session) LoadPDF(name, mimeType string, data []byte) error {
	if len(data) == 0 {
		return domain.ValidationError(fmt.Sprintf("%s is empty", name), nil)
	}
	if !imageio.IsPDF(mimeType, data) {
		return domain.ValidationError(fmt.Sprintf("%s is not a PDF", name), domain.ErrUnsupportedMediaType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ValidationError("session is closed", domain.ErrSessionNotFound)
	}
	s.source = &SourcePDF{Name: name, Data: append([]byte(nil), data...)}
	s.dropResult(domain.OpCompress)
	s.touch()
	return nil
}

// SourcePDF returns a copy of the loaded document.
func (s *Session) SourcePDF() (SourcePDF, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if s.source == nil {
		return SourcePDF{}, false
	}
	return SourcePDF{Name: s.source.Name, Data: append([]byte(nil), s.source.Data...)}, true
}

// SetConvertResult publishes a composed document as the current conversion
// result. generation is the one SnapshotImages returned for the images the
// document was built from; a document for an image list that has changed
// since is dropped with ErrImagesChanged. The document's filename falls back
// to the session filename.
func (s *Session) SetConvertResult(doc *domain.ComposedDocument, generation uint64) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ValidationError("session is closed", domain.ErrSessionNotFound)
	}
	if generation != s.generation {
		return nil, domain.ValidationError("images were changed while converting; convert again", domain.ErrImagesChanged)
	}
	name := doc.Filename
	if name == "" {
		name = s.filename
	} else {
		s.filename = name
	}
	r := &Result{
		ID:        uuid.NewString(),
		Kind:      domain.OpConvert,
		Filename:  name,
		Size:      doc.Size(),
		CreatedAt: s.now(),
		Document:  doc,
		Data:      doc.Data,
	}
	s.putResult(r)
	return r, nil
}

// SetCompressResult publishes a compression result.
func (s *Session) SetCompressResult(res *domain.CompressionResult) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &Result{
		ID:          uuid.NewString(),
		Kind:        domain.OpCompress,
		Filename:    res.Filename,
		Size:        res.CompressedSize,
		CreatedAt:   s.now(),
		Compression: res,
		Data:        res.Data,
	}
	s.putResult(r)
	return r
}

// Result resolves a handle ID to a copy of its result.
func (s *Session) Result(id string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	for _, r := range s.results {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, domain.ValidationError(fmt.Sprintf("result %s not found", id), domain.ErrResultNotFound)
}

// Current returns the current result of one kind.
func (s *Session) Current(op domain.Operation) (*Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[op]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}

func (s *Session) putResult(r *Result) {
	if s.closed {
		return
	}
	s.dropResult(r.Kind)
	s.results[r.Kind] = r
	s.touch()
}

// dropResult forgets the current result of one kind so its buffer can be
// collected once in-progress downloads finish. Callers hold mu.
func (s *Session) dropResult(op domain.Operation) {
	delete(s.results, op)
}

// Begin marks op as running. The returned release function must be called
// when the operation ends; a second Begin for the same op fails with
// ErrOperationInProgress until then.
func (s *Session) Begin(op domain.Operation) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ValidationError("session is closed", domain.ErrSessionNotFound)
	}
	if s.inFlight[op] {
		return nil, domain.ValidationError(fmt.Sprintf("%s is already running", op), domain.ErrOperationInProgress)
	}
	s.inFlight[op] = true
	s.touch()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.inFlight, op)
			s.mu.Unlock()
		})
	}, nil
}

// Busy reports whether any operation is running.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight) > 0
}

// Close releases every buffer held by the session.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for op := range s.results {
		s.dropResult(op)
	}
	s.images = nil
	s.source = nil
	s.closed = true
}
