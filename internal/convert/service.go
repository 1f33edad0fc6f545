// Package convert runs an image-to-PDF conversion end to end: composing the
// pages and naming the result, reporting progress as stream events.
package convert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spherical/fotopdf/internal/domain"
	"github.com/spherical/fotopdf/internal/naming"
	"github.com/spherical/fotopdf/internal/observability"
	"github.com/spherical/fotopdf/internal/pdf"
)

// Composer builds a document from images, reporting each item.
type Composer interface {
	ComposeWithProgress(ctx context.Context, assets []*domain.ImageAsset, progress pdf.ProgressFunc) (*domain.ComposedDocument, error)
}

// Namer suggests a filename for a set of image names.
type Namer interface {
	Suggest(ctx context.Context, descriptions []string) naming.Suggestion
}

// Options control a single run.
type Options struct {
	// Filename is used as is (normalised) and skips the namer.
	Filename string
	// NoSuggest skips the namer; the default export name is used.
	NoSuggest bool
}

// Result is the outcome of a successful run.
type Result struct {
	Document   *domain.ComposedDocument
	Suggestion naming.Suggestion
	Stats      domain.ProcessingStats
}

// ImageProgress is the payload of image_complete and image_skipped events.
type ImageProgress struct {
	Name  string            `json:"name"`
	Error *domain.ItemError `json:"error,omitempty"`
}

// Service orchestrates conversions.
type Service struct {
	composer Composer
	namer    Namer
	logger   *observability.Logger
}

// NewService creates a conversion service. namer may be nil.
func NewService(composer Composer, namer Namer, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Service{
		composer: composer,
		namer:    namer,
		logger:   logger.WithComponent("convert"),
	}
}

// Process converts assets with default options.
func (s *Service) Process(ctx context.Context, assets []*domain.ImageAsset, eventCh chan<- domain.StreamEvent) (*Result, error) {
	return s.ProcessWithOptions(ctx, assets, Options{}, eventCh)
}

// ProcessWithOptions composes the document while the filename is being
// suggested. eventCh may be nil; sends never block.
func (s *Service) ProcessWithOptions(ctx context.Context, assets []*domain.ImageAsset, opts Options, eventCh chan<- domain.StreamEvent) (*Result, error) {
	startTime := time.Now()
	total := len(assets)

	s.emitEvent(eventCh, domain.StreamEvent{
		Type:      domain.EventStart,
		Total:     total,
		Payload:   fmt.Sprintf("Starting conversion of %d images", total),
		Timestamp: time.Now(),
	})

	names := make([]string, len(assets))
	for i, a := range assets {
		names[i] = a.Name
	}

	nameCtx, cancelName := context.WithCancel(ctx)
	defer cancelName()

	suggestionCh := make(chan naming.Suggestion, 1)
	go func() {
		suggestionCh <- s.filename(nameCtx, names, opts)
	}()

	s.logger.Info().Int("images", total).Msg("Composing document")

	doc, err := s.composer.ComposeWithProgress(ctx, assets, func(done, total int, asset *domain.ImageAsset, itemErr error) {
		evt := domain.StreamEvent{
			Type:      domain.EventImageComplete,
			Index:     done,
			Total:     total,
			Payload:   ImageProgress{Name: asset.Name},
			Timestamp: time.Now(),
		}
		if itemErr != nil {
			evt.Type = domain.EventImageSkipped
			var ie domain.ItemError
			if errors.As(itemErr, &ie) {
				evt.Payload = ImageProgress{Name: asset.Name, Error: &ie}
			}
		}
		s.emitEvent(eventCh, evt)
	})
	if err != nil {
		s.emitError(eventCh, err)
		return nil, err
	}

	var suggestion naming.Suggestion
	select {
	case suggestion = <-suggestionCh:
	case <-ctx.Done():
		s.emitError(eventCh, ctx.Err())
		return nil, ctx.Err()
	}
	doc.Filename = suggestion.Filename

	s.emitEvent(eventCh, domain.StreamEvent{
		Type:      domain.EventNaming,
		Payload:   suggestion,
		Timestamp: time.Now(),
	})

	stats := domain.ProcessingStats{
		TotalTime:    time.Since(startTime),
		Images:       total,
		PlacedImages: doc.PageCount,
		FailedImages: doc.FailedCount(),
		OutputBytes:  doc.Size(),
	}

	s.emitEvent(eventCh, domain.StreamEvent{
		Type:      domain.EventComplete,
		Total:     total,
		Payload:   stats,
		Timestamp: time.Now(),
	})

	s.logger.Info().
		Int("placed", stats.PlacedImages).
		Int("failed", stats.FailedImages).
		Int64("bytes", stats.OutputBytes).
		Dur("duration", stats.TotalTime).
		Str("filename", doc.Filename).
		Str("filename_source", string(suggestion.Source)).
		Msg("Conversion complete")

	return &Result{Document: doc, Suggestion: suggestion, Stats: stats}, nil
}

func (s *Service) filename(ctx context.Context, names []string, opts Options) naming.Suggestion {
	if opts.Filename != "" {
		if name := naming.NormalizeFilename(opts.Filename); name != "" {
			return naming.Suggestion{Filename: name, Source: naming.SourceDefault}
		}
	}
	if opts.NoSuggest || s.namer == nil {
		return naming.Suggestion{Filename: domain.DefaultExportFilename, Source: naming.SourceDefault}
	}
	return s.namer.Suggest(ctx, names)
}

// emitEvent safely emits an event to the channel
func (s *Service) emitEvent(eventCh chan<- domain.StreamEvent, event domain.StreamEvent) {
	if eventCh != nil {
		select {
		case eventCh <- event:
		default:
			s.logger.Warn().Str("event", string(event.Type)).Msg("Event channel full, dropping event")
		}
	}
}

// emitError emits an error event
func (s *Service) emitError(eventCh chan<- domain.StreamEvent, err error) {
	s.emitEvent(eventCh, domain.StreamEvent{
		Type:      domain.EventError,
		Payload:   err.Error(),
		Timestamp: time.Now(),
	})
}
