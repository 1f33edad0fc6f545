package domain

import (
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeComposition ErrorType = "composition"
	ErrorTypeCompression ErrorType = "compression"
	ErrorTypeAPI         ErrorType = "api"
	ErrorTypeConfig      ErrorType = "config"
	ErrorTypeIO          ErrorType = "io"
)

// Sentinel errors shared across components. Wrap them in a DomainError to
// add context; errors.Is still matches through Unwrap.
var (
	ErrNoImages             = errors.New("no images provided")
	ErrNoValidImages        = errors.New("no valid images")
	ErrInvalidQuality       = errors.New("quality factor must be in (0,1]")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrOperationInProgress  = errors.New("operation already in progress")
	ErrImagesChanged        = errors.New("image list changed during the operation")
	ErrSessionNotFound      = errors.New("session not found")
	ErrResultNotFound       = errors.New("result not found")
	ErrImageNotFound        = errors.New("image not found")
	ErrParse                = errors.New("document could not be parsed")
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func CompositionError(message string, err error) *DomainError {
	return NewError(ErrorTypeComposition, message, err)
}

func CompressionError(message string, err error) *DomainError {
	return NewError(ErrorTypeCompression, message, err)
}

func APIError(message string, err error) *DomainError {
	return NewError(ErrorTypeAPI, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}

// IsType reports whether err is (or wraps) a DomainError of the given type.
func IsType(err error, errType ErrorType) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type == errType
	}
	return false
}

// ItemStage names the step at which a single input item failed.
type ItemStage string

const (
	StageValidate ItemStage = "validate"
	StageDecode   ItemStage = "decode"
	StageEmbed    ItemStage = "embed"
)

// ItemError records a failure scoped to one input item. It never aborts the
// batch on its own.
type ItemError struct {
	Index int       `json:"index"`
	Name  string    `json:"name"`
	Stage ItemStage `json:"stage"`
	Err   error     `json:"-"`
}

func (e ItemError) Error() string {
	return fmt.Sprintf("item %d (%s) failed at %s: %v", e.Index, e.Name, e.Stage, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// Message returns the underlying error text, or an empty string.
func (e ItemError) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
