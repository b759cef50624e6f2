package recap

import (
	"context"
	"log/slog"
)

// TableModel extracts the raw recap table JSON from a page image.
type TableModel interface {
	ExtractTable(ctx context.Context, imagePath string) (string, error)
}

// Extractor turns one page image into recap entries.
type Extractor struct {
	model  TableModel
	logger *slog.Logger
}

// NewExtractor creates an extractor over model.
func NewExtractor(model TableModel, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{model: model, logger: logger}
}

// Extract returns the entries found on imagePath. Model failures and
// unparseable responses yield an empty result, never an error; callers treat
// empty as nothing extracted. Amount cells are kept as printed.
func (e *Extractor) Extract(ctx context.Context, imagePath string) Entries {
	body, err := e.model.ExtractTable(ctx, imagePath)
	if err != nil {
		e.logger.Warn("table extraction failed", "image", imagePath, "error", err)
		return Entries{}
	}

	entries, err := Parse(body)
	if err != nil {
		e.logger.Warn("table extraction returned malformed JSON", "image", imagePath,
			"error", err, "response_bytes", len(body))
		return Entries{}
	}

	e.logger.Debug("table extracted", "image", imagePath,
		"sections", len(entries.Sections()), "grand_total", entries.HasGrandTotal())
	return entries
}
