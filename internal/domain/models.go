package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultExportFilename is used when no suggestion has been made yet.
const DefaultExportFilename = "fotopdf-export.pdf"

// ImageAsset represents one user-supplied raster image held in memory.
type ImageAsset struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Data     []byte `json:"-"`

	// Width and Height are filled in by decoding, never by the caller.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// NewImageAsset wraps raw bytes into an asset with a fresh ID.
func NewImageAsset(name, mimeType string, data []byte) *ImageAsset {
	return &ImageAsset{
		ID:       uuid.NewString(),
		Name:     name,
		MIMEType: mimeType,
		Size:     int64(len(data)),
		Data:     data,
	}
}

// Orientation selects the page orientation used for each composed page.
type Orientation string

const (
	OrientationPortrait  Orientation = "portrait"
	OrientationLandscape Orientation = "landscape"
	OrientationAuto      Orientation = "auto"
)

// ParseOrientation accepts portrait, landscape or auto (case-insensitive).
func ParseOrientation(s string) (Orientation, error) {
	switch Orientation(strings.ToLower(strings.TrimSpace(s))) {
	case "", OrientationPortrait:
		return OrientationPortrait, nil
	case OrientationLandscape:
		return OrientationLandscape, nil
	case OrientationAuto:
		return OrientationAuto, nil
	}
	return "", ValidationError(fmt.Sprintf("unknown orientation %q", s), nil)
}

// PageGeometry is the fixed page every image is placed on. Width and Height
// are given in Unit for a portrait page.
type PageGeometry struct {
	SizeName    string      `json:"sizeName"`
	Unit        string      `json:"unit"`
	Width       float64     `json:"width"`
	Height      float64     `json:"height"`
	Margin      float64     `json:"margin"`
	Orientation Orientation `json:"orientation"`
}

// PrintableWidth returns the page width minus both side margins.
func (g PageGeometry) PrintableWidth() float64 {
	return g.Width - 2*g.Margin
}

// PrintableHeight returns the page height minus top and bottom margins.
func (g PageGeometry) PrintableHeight() float64 {
	return g.Height - 2*g.Margin
}

// Landscape returns the geometry rotated by 90 degrees.
func (g PageGeometry) Landscape() PageGeometry {
	if g.Width >= g.Height {
		return g
	}
	g.Width, g.Height = g.Height, g.Width
	return g
}

// PageLayout is the placement of one image on one page.
type PageLayout struct {
	PageWidth  float64 `json:"pageWidth"`
	PageHeight float64 `json:"pageHeight"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

// PlacedPage pairs a layout with the asset that was drawn on it.
type PlacedPage struct {
	PageNumber int        `json:"pageNumber"`
	AssetID    string     `json:"assetId"`
	Name       string     `json:"name"`
	Layout     PageLayout `json:"layout"`
}

// ComposedDocument is the output of the page composer.
type ComposedDocument struct {
	Data       []byte       `json:"-"`
	PageCount  int          `json:"pageCount"`
	Pages      []PlacedPage `json:"pages"`
	ItemErrors []ItemError  `json:"itemErrors,omitempty"`
	Filename   string       `json:"filename"`
}

// Size returns the byte length of the serialized document.
func (d *ComposedDocument) Size() int64 {
	return int64(len(d.Data))
}

// FailedCount returns the number of inputs that were not placed.
func (d *ComposedDocument) FailedCount() int {
	return len(d.ItemErrors)
}

// CompressionLevel is one of the fixed user-facing compression choices.
type CompressionLevel string

const (
	LevelLow    CompressionLevel = "low"
	LevelMedium CompressionLevel = "medium"
	LevelHigh   CompressionLevel = "high"
)

// DefaultLevel is selected when the caller does not choose one.
const DefaultLevel = LevelMedium

// LevelSpec maps a level to its quality factor and display text.
type LevelSpec struct {
	Level       CompressionLevel `json:"level" yaml:"level"`
	Label       string           `json:"label" yaml:"label"`
	Quality     float64          `json:"quality" yaml:"quality"`
	Description string           `json:"description" yaml:"description"`
	// MaxImageDimension caps the longest image side in pixels; 0 keeps size.
	MaxImageDimension int `json:"maxImageDimension,omitempty" yaml:"max_image_dimension"`
}

// DefaultLevels returns the built-in level table, lowest compression first.
func DefaultLevels() []LevelSpec {
	return []LevelSpec{
		{Level: LevelLow, Label: "Low", Quality: 0.75, Description: "Good quality, less compression."},
		{Level: LevelMedium, Label: "Medium", Quality: 0.5, Description: "Balanced quality and compression."},
		{Level: LevelHigh, Label: "High", Quality: 0.25, Description: "Lower quality, high compression.", MaxImageDimension: 2048},
	}
}

// ParseLevel accepts low, medium or high (case-insensitive). Empty input
// selects DefaultLevel.
func ParseLevel(s string) (CompressionLevel, error) {
	switch CompressionLevel(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultLevel, nil
	case LevelLow:
		return LevelLow, nil
	case LevelMedium:
		return LevelMedium, nil
	case LevelHigh:
		return LevelHigh, nil
	}
	return "", ValidationError(fmt.Sprintf("unknown compression level %q", s), nil)
}

// FindLevel looks a level up in a table.
func FindLevel(levels []LevelSpec, level CompressionLevel) (LevelSpec, bool) {
	for _, l := range levels {
		if l.Level == level {
			return l, true
		}
	}
	return LevelSpec{}, false
}

// ValidateQuality checks that q lies in (0,1].
func ValidateQuality(q float64) error {
	if math.IsNaN(q) || q <= 0 || q > 1 {
		return ValidationError(fmt.Sprintf("invalid quality %v", q), ErrInvalidQuality)
	}
	return nil
}

// EstimateSize is the displayed approximation original × quality. It is
// not a bound on the real output size.
func EstimateSize(original int64, quality float64) int64 {
	if original <= 0 || quality <= 0 {
		return 0
	}
	return int64(math.Round(float64(original) * quality))
}

// CompressionRequest selects the quality used by the re-encoder.
type CompressionRequest struct {
	Level             CompressionLevel `json:"level,omitempty"`
	Quality           float64          `json:"quality,omitempty"`
	MaxImageDimension int              `json:"maxImageDimension,omitempty"`
	SourceName        string           `json:"sourceName,omitempty"`
}

// OutcomeKind tags the result of processing a single embedded image.
type OutcomeKind string

const (
	OutcomeReencoded OutcomeKind = "reencoded"
	OutcomeFallback  OutcomeKind = "fallback"
	OutcomeSkipped   OutcomeKind = "skipped"
)

// ReencodeOutcome describes what happened to one image resource.
type ReencodeOutcome struct {
	Kind          OutcomeKind `json:"kind"`
	Page          int         `json:"page"`
	Resource      string      `json:"resource"`
	ObjectNumber  int         `json:"objectNumber"`
	OriginalBytes int         `json:"originalBytes"`
	NewBytes      int         `json:"newBytes,omitempty"`
	Reason        string      `json:"reason,omitempty"`
}

// Save modes used when serializing a re-encoded document.
const (
	SaveModeOptimized = "optimized"
	SaveModePlain     = "plain"
)

// LimitedCompressionAdvisory is reported when no image could be re-encoded.
const LimitedCompressionAdvisory = "No images could be re-encoded; the result may not be smaller than the original."

// CompressionResult is the output of the image re-encoder.
type CompressionResult struct {
	Data           []byte            `json:"-"`
	Filename       string            `json:"filename"`
	PageCount      int               `json:"pageCount"`
	Quality        float64           `json:"quality"`
	OriginalSize   int64             `json:"originalSize"`
	EstimatedSize  int64             `json:"estimatedSize"`
	CompressedSize int64             `json:"compressedSize"`
	Outcomes       []ReencodeOutcome `json:"outcomes"`
	Reencoded      int               `json:"reencoded"`
	Fallbacks      int               `json:"fallbacks"`
	Skipped        int               `json:"skipped"`
	SaveMode       string            `json:"saveMode"`
	Limited        bool              `json:"limited"`
	Advisory       string            `json:"advisory,omitempty"`
}

// Ratio returns compressed/original, or 0 when the original is empty.
func (r *CompressionResult) Ratio() float64 {
	if r.OriginalSize == 0 {
		return 0
	}
	return float64(r.CompressedSize) / float64(r.OriginalSize)
}

// CompressedFilename turns "report.pdf" into "report-compressed.pdf".
func CompressedFilename(name string) string {
	base := strings.TrimSpace(name)
	if base == "" {
		base = "document"
	}
	if strings.HasSuffix(strings.ToLower(base), ".pdf") {
		base = base[:len(base)-4]
	}
	return base + "-compressed.pdf"
}

// Operation names a user-triggered unit of work that has its own in-flight guard.
type Operation string

const (
	OpConvert  Operation = "convert"
	OpCompress Operation = "compress"
	OpSuggest  Operation = "suggest"
)

// EventType represents the type of stream event
type EventType string

const (
	EventStart           EventType = "start"
	EventImageProcessing EventType = "image_processing"
	EventImageComplete   EventType = "image_complete"
	EventImageSkipped    EventType = "image_skipped"
	EventNaming          EventType = "naming"
	EventError           EventType = "error"
	EventComplete        EventType = "complete"
)

// StreamEvent represents an event emitted during processing
type StreamEvent struct {
	Type      EventType   `json:"type"`
	Index     int         `json:"index,omitempty"`
	Total     int         `json:"total,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ProcessingStats summarizes one conversion run.
type ProcessingStats struct {
	TotalTime    time.Duration
	Images       int
	PlacedImages int
	FailedImages int
	OutputBytes  int64
}
