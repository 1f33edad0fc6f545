// Package pdf composes, re-encodes, previews and validates PDF documents.
package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/fotopdf/internal/domain"
	"github.com/spherical/fotopdf/internal/imageio"
	"github.com/spherical/fotopdf/internal/observability"
)

// LargeFileThreshold is the size above which a warning is logged.
const LargeFileThreshold = 100 * 1024 * 1024

// Validator provides input validation for files given on the command line
// and for uploaded buffers.
type Validator struct {
	logger *observability.Logger
}

// NewValidator creates a new validator instance
func NewValidator(logger *observability.Logger) *Validator {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Validator{logger: logger.WithComponent("validator")}
}

// ValidatePDFPath validates that a file path is valid and points to a PDF
func (v *Validator) ValidatePDFPath(path string) error {
	info, err := v.statFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pdf" {
		return domain.ValidationError(fmt.Sprintf("file is not a PDF (has extension %s)", ext), domain.ErrUnsupportedMediaType)
	}

	v.warnIfLarge(path, info.Size())
	return nil
}

// ValidateImagePath validates that a path points to a readable regular file.
// The content type is checked later, when the bytes are decoded.
func (v *Validator) ValidateImagePath(path string) error {
	info, err := v.statFile(path)
	if err != nil {
		return err
	}
	v.warnIfLarge(path, info.Size())
	return nil
}

// ValidatePDFBytes checks that data looks like a PDF document.
func (v *Validator) ValidatePDFBytes(data []byte) error {
	if len(data) == 0 {
		return domain.ValidationError("document is empty", nil)
	}
	if !imageio.HasPDFHeader(data) {
		return domain.ValidationError("file is not a PDF (missing %PDF header)", domain.ErrUnsupportedMediaType)
	}
	return nil
}

func (v *Validator) statFile(path string) (os.FileInfo, error) {
	if strings.TrimSpace(path) == "" {
		return nil, domain.ValidationError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ValidationError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return nil, domain.ValidationError(fmt.Sprintf("cannot access file: %s", path), err)
	}

	if info.IsDir() {
		return nil, domain.ValidationError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, domain.ValidationError(fmt.Sprintf("cannot open file: %s", path), err)
	}
	file.Close()

	return info, nil
}

func (v *Validator) warnIfLarge(path string, size int64) {
	if size > LargeFileThreshold {
		v.logger.Warn().
			Str("path", path).
			Int64("size_mb", size/(1024*1024)).
			Msg("File is very large, processing may take a while")
	}
}
