package domain

import "context"

// Composer lays out images one per page and serializes the document.
type Composer interface {
	// Compose places every decodable asset on its own page, in order.
	// Items that fail are reported in ComposedDocument.ItemErrors.
	Compose(ctx context.Context, assets []*ImageAsset) (*ComposedDocument, error)
}

// Compressor rebuilds a PDF with its embedded images re-encoded.
type Compressor interface {
	// Compress never mutates src.
	Compress(ctx context.Context, src []byte, req CompressionRequest) (*CompressionResult, error)
}

// FilenameSuggester is the AI-backed text service behind the filename advisor.
type FilenameSuggester interface {
	SuggestFilename(ctx context.Context, descriptions []string) (string, error)
}

// PreviewRenderer rasterizes a page of a PDF to a JPEG thumbnail.
type PreviewRenderer interface {
	Render(ctx context.Context, pdf []byte, page int) ([]byte, error)
	PageCount(pdf []byte) (int, error)
}
