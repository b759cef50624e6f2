package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/rekap/internal/config"
	"github.com/MeKo-Tech/rekap/internal/export"
	"github.com/MeKo-Tech/rekap/internal/llm"
	"github.com/MeKo-Tech/rekap/internal/llm/openai"
	"github.com/MeKo-Tech/rekap/internal/ocr"
	"github.com/MeKo-Tech/rekap/internal/pipeline"
)

// newIngester wires the vision model, optional OCR and the attachment writer
// into an ingester for cfg.
func newIngester(cfg *config.Config, writer *export.Writer, progress pipeline.ProgressSink, logger *slog.Logger) (*pipeline.Ingester, error) {
	vision, err := openai.NewClient(cfg.ToOpenAIConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("vision model: %w", err)
	}
	classifier, err := llm.NewClassifier(vision, logger)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithAttachmentSaver(writer),
		pipeline.WithProgress(progress),
		pipeline.WithLogger(logger),
	}
	if cfg.OCR.Enabled {
		opts = append(opts, pipeline.WithOCR(ocr.New(cfg.ToOCRConfig(), logger)))
	}

	return pipeline.NewIngester(classifier, cfg.ToPipelineConfig(), opts...), nil
}

// throttled limits sink to one report per interval within a stage.
// A non-positive interval returns sink unchanged.
func throttled(sink pipeline.ProgressSink, interval time.Duration) pipeline.ProgressSink {
	if interval <= 0 {
		return sink
	}
	return pipeline.NewThrottledProgress(sink, interval)
}
