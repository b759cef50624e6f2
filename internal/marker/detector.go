package marker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/rekap/internal/llm"
	"github.com/MeKo-Tech/rekap/internal/metrics"
)

// Page is a supporting page under inspection. Image renders lazily, so
// pages resolved from their text are never rasterized.
type Page interface {
	Text() (string, error)
	Image(ctx context.Context) (string, error)
}

// TextRecognizer is local OCR.
type TextRecognizer interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// CornerReader asks the external model to read a cropped marker region.
type CornerReader interface {
	ReadCornerMarker(ctx context.Context, imagePath string) (llm.CornerMarker, error)
}

// Probe selects the expensive tiers for one lookup.
type Probe struct {
	OCR  bool // page lies in the probe window; allow local OCR
	Deep bool // caller requests the model read of the corner
}

// Config sizes the corner crop as fractions of the page.
type Config struct {
	CornerWidth  float64 `json:"corner_width"`
	CornerHeight float64 `json:"corner_height"`
	TempDir      string  `json:"temp_dir"`
}

// DefaultConfig crops the right 35% of the top 20% of the page.
func DefaultConfig() Config {
	return Config{CornerWidth: 0.35, CornerHeight: 0.2}
}

// Detector runs the three-tier marker lookup. It holds no per-document
// state; the budget is passed in by the caller.
type Detector struct {
	ocr    TextRecognizer
	corner CornerReader
	cfg    Config
	logger *slog.Logger
}

// NewDetector creates a detector. ocr and corner may be nil to disable tiers 2 and 3.
func NewDetector(ocr TextRecognizer, corner CornerReader, cfg Config, logger *slog.Logger) *Detector {
	def := DefaultConfig()
	if cfg.CornerWidth <= 0 || cfg.CornerWidth > 1 {
		cfg.CornerWidth = def.CornerWidth
	}
	if cfg.CornerHeight <= 0 || cfg.CornerHeight > 1 {
		cfg.CornerHeight = def.CornerHeight
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{ocr: ocr, corner: corner, cfg: cfg, logger: logger}
}

// DetectText runs the embedded-text tier only.
func (d *Detector) DetectText(p Page) Result {
	text, err := p.Text()
	if err != nil {
		d.logger.Debug("page text unavailable", "error", err)
		return Result{}
	}
	r := Match(text)
	if r.Found() {
		r.Tier = TierText
	}
	return r
}

// Detect looks for a marker on p, cheapest tier first. Local OCR runs only
// when probe.OCR is set and budget remains, and spends one unit on a hit.
// The model read runs only when probe.Deep is set and spends one unit per
// call. Failures at any tier count as no marker.
func (d *Detector) Detect(ctx context.Context, p Page, probe Probe, budget *Budget) Result {
	r := d.detect(ctx, p, probe, budget)
	metrics.MarkerDetections.WithLabelValues(strconv.Itoa(r.Tier), r.Tag.String()).Inc()
	return r
}

func (d *Detector) detect(ctx context.Context, p Page, probe Probe, budget *Budget) Result {
	if r := d.DetectText(p); r.Found() {
		return r
	}

	if probe.OCR && d.ocr != nil && budget.Remaining() > 0 {
		if r := d.detectOCR(ctx, p); r.Found() {
			budget.TrySpend()
			metrics.MarkerBudgetSpent.Inc()
			return r
		}
	}

	if probe.Deep && d.corner != nil && budget.TrySpend() {
		metrics.MarkerBudgetSpent.Inc()
		return d.detectCorner(ctx, p)
	}
	return Result{}
}

func (d *Detector) detectOCR(ctx context.Context, p Page) Result {
	img, err := p.Image(ctx)
	if err != nil {
		d.logger.Warn("marker ocr skipped, page not rendered", "error", err)
		return Result{}
	}
	text, err := d.ocr.Recognize(ctx, img)
	if err != nil {
		d.logger.Warn("marker ocr failed", "error", err)
		return Result{}
	}
	r := Match(text)
	if r.Found() {
		r.Tier = TierOCR
	}
	return r
}

func (d *Detector) detectCorner(ctx context.Context, p Page) Result {
	img, err := p.Image(ctx)
	if err != nil {
		d.logger.Warn("marker model probe skipped, page not rendered", "error", err)
		return Result{}
	}
	crop, cleanup, err := CropCorner(img, d.cfg)
	if err != nil {
		d.logger.Warn("marker corner crop failed", "error", err)
		return Result{}
	}
	defer cleanup()

	m, err := d.corner.ReadCornerMarker(ctx, crop)
	if err != nil || m.Tag == nil {
		// no-marker is the conservative default
		return Result{}
	}
	r := Result{Tag: ParseTag(*m.Tag), Tier: TierModel}
	if !r.Found() {
		return Result{}
	}
	if r.Tag == Alpha && m.X != nil && *m.X > 0 {
		r.Count = *m.X
	}
	return r
}

// CropCorner writes the top-right region of the image at path to a temp file.
func CropCorner(path string, cfg Config) (string, func(), error) {
	img, err := imaging.Open(path)
	if err != nil {
		return "", func() {}, fmt.Errorf("open page image: %w", err)
	}
	b := img.Bounds()
	w := max(1, int(float64(b.Dx())*cfg.CornerWidth))
	h := max(1, int(float64(b.Dy())*cfg.CornerHeight))
	crop := imaging.CropAnchor(img, w, h, imaging.TopRight)

	f, err := os.CreateTemp(cfg.TempDir, "corner-*.png")
	if err != nil {
		return "", func() {}, fmt.Errorf("create corner file: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	cleanup := func() { _ = os.Remove(name) }

	if err := imaging.Save(crop, name); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("save corner crop: %w", err)
	}
	return name, cleanup, nil
}
