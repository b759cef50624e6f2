// Package attach partitions the supporting pages after a recap into
// per-row attachment groups.
package attach

import (
	"context"
	"log/slog"

	"github.com/MeKo-Tech/rekap/internal/llm"
	"github.com/MeKo-Tech/rekap/internal/marker"
	"github.com/MeKo-Tech/rekap/internal/metrics"
	"github.com/MeKo-Tech/rekap/internal/recap"
)

// Mode is the segmentation strategy chosen for a document.
type Mode string

const (
	ModeNone           Mode = "none" // no supporting pages
	ModeMarker         Mode = "marker"
	ModeClassification Mode = "classification"
)

// Attachment sources.
const (
	SourceText       = "marker_text"
	SourceOCR        = "marker_ocr"
	SourceModel      = "marker_model"
	SourceFollow     = "marker_follow" // attached inside a group without its own marker
	SourceClassifier = "classifier"
)

// Document is the page access the segmenter needs.
type Document interface {
	NumPages() int
	PageText(index int) (string, error)
	RenderPage(ctx context.Context, index int) (path string, cleanup func(), err error)
}

// Detector finds markers on pages.
type Detector interface {
	DetectText(p marker.Page) marker.Result
	Detect(ctx context.Context, p marker.Page, probe marker.Probe, budget *marker.Budget) marker.Result
}

// Classifier decides whether a page stays with the current row.
type Classifier interface {
	ClassifyAttachment(ctx context.Context, imagePath, current, next string) (llm.Decision, error)
}

// Config tunes segmentation.
type Config struct {
	ProbeWindow    int              `json:"probe_window"`     // leading supporting pages where local OCR may run
	DeepProbePages []int            `json:"deep_probe_pages"` // open-group positions probed by the model
	OCRBudget      int              `json:"ocr_budget"`       // OCR hits plus model probes per run
	PlainAlpha     PlainAlphaPolicy `json:"plain_alpha"`
	LowConfidence  float64          `json:"low_confidence"` // decisions below this are flagged
	HintMaxLen     int              `json:"hint_max_len"`
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		ProbeWindow:    2,
		DeepProbePages: []int{5, 10},
		OCRBudget:      4,
		PlainAlpha:     UntilBeta,
		LowConfidence:  0.55,
		HintMaxLen:     160,
	}
}

// Attachment is one page assigned to a row.
type Attachment struct {
	Page          int     `json:"page"` // 0-based document page index
	Confidence    float64 `json:"confidence"`
	LowConfidence bool    `json:"low_confidence"`
	Source        string  `json:"source"`
}

// Group is the contiguous run of pages attached to one row.
type Group struct {
	ReferenceCode string       `json:"reference_code"`
	Item          int          `json:"item"`
	Pages         []Attachment `json:"pages"`
}

// Result is the outcome of one segmentation run. Groups has one entry per
// row, in row order, possibly without pages. Unassigned lists the
// supporting pages no row received.
type Result struct {
	Mode        Mode    `json:"mode"`
	Groups      []Group `json:"groups"`
	Unassigned  []int   `json:"unassigned"`
	BudgetSpent int     `json:"budget_spent"`
}

// Segmenter assigns supporting pages to recap rows.
type Segmenter struct {
	detector   Detector
	classifier Classifier
	cfg        Config
	logger     *slog.Logger

	// OnPage, when set, is called after each supporting page is placed.
	OnPage func(index int)
}

// NewSegmenter creates a segmenter. classifier may be nil, in which case
// classification mode keeps every page with the current row.
func NewSegmenter(detector Detector, classifier Classifier, cfg Config, logger *slog.Logger) *Segmenter {
	def := DefaultConfig()
	if cfg.ProbeWindow < 0 {
		cfg.ProbeWindow = 0
	}
	if cfg.PlainAlpha != SinglePage {
		cfg.PlainAlpha = def.PlainAlpha
	}
	if cfg.LowConfidence <= 0 {
		cfg.LowConfidence = def.LowConfidence
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{detector: detector, classifier: classifier, cfg: cfg, logger: logger}
}

// Segment places every page from start to the end of doc. The first
// supporting page's embedded text decides the mode: a marker selects the
// marker walk, otherwise each page is classified by the model. Per-page
// failures never abort the run.
func (s *Segmenter) Segment(ctx context.Context, rows []recap.RowContext, doc Document, start int) Result {
	res := Result{Mode: ModeNone, Groups: make([]Group, len(rows)), Unassigned: []int{}}
	for i, r := range rows {
		res.Groups[i] = Group{ReferenceCode: r.ReferenceCode, Item: i, Pages: []Attachment{}}
	}

	n := doc.NumPages()
	if start < 0 {
		start = 0
	}
	if start >= n {
		return res
	}

	first := newPage(doc, start)
	probe := s.detector.DetectText(first)
	first.Close()

	if probe.Found() {
		res.Mode = ModeMarker
		s.markerMode(ctx, rows, doc, start, &res)
	} else {
		res.Mode = ModeClassification
		s.classificationMode(ctx, rows, doc, start, &res)
	}

	attached := 0
	for _, g := range res.Groups {
		attached += len(g.Pages)
	}
	s.logger.Info("supporting pages segmented", "mode", string(res.Mode), "rows", len(rows),
		"pages", n-start, "attached", attached, "unassigned", len(res.Unassigned), "budget_spent", res.BudgetSpent)
	return res
}

func (s *Segmenter) markerMode(ctx context.Context, rows []recap.RowContext, doc Document, start int, res *Result) {
	budget := marker.NewBudget(s.cfg.OCRBudget)
	walk := newMarkerWalk(len(rows), s.cfg.PlainAlpha, s.cfg.DeepProbePages)
	n := doc.NumPages()

	for i := start; i < n; i++ {
		if walk.done() {
			s.unassign(res, i)
			continue
		}

		var r marker.Result
		if walk.needsDetection() {
			p := newPage(doc, i)
			r = s.detector.Detect(ctx, p, marker.Probe{
				OCR:  !walk.inGroup() && i-start < s.cfg.ProbeWindow,
				Deep: walk.deepProbe(),
			}, budget)
			p.Close()
		}

		before := walk.state
		item, ok := walk.feed(r)
		if !ok {
			s.unassign(res, i)
			continue
		}
		s.attach(res, item, Attachment{Page: i, Confidence: 1, Source: markerSource(r, before)})
		s.logger.Debug("marker walk", "page", i+1, "tag", r.Tag.String(), "count", r.Count,
			"item", item, "state", walk.state.String())
	}
	res.BudgetSpent = budget.Spent()
}

func (s *Segmenter) classificationMode(ctx context.Context, rows []recap.RowContext, doc Document, start int, res *Result) {
	ptr := 0
	n := doc.NumPages()

	for i := start; i < n; i++ {
		if len(rows) == 0 {
			s.unassign(res, i)
			continue
		}

		path, cleanup, err := doc.RenderPage(ctx, i)
		if err != nil {
			s.logger.Warn("supporting page render failed, skipping", "page", i+1, "error", err)
			metrics.Pages.WithLabelValues("attach", "skipped").Inc()
			s.unassign(res, i)
			continue
		}

		decision := llm.Decision{Stay: true, Confidence: 1}
		if ptr+1 < len(rows) {
			decision = s.classify(ctx, path, rows[ptr], rows[ptr+1])
			if !decision.Stay {
				ptr++
			}
		}
		cleanup()

		s.attach(res, ptr, Attachment{
			Page:          i,
			Confidence:    decision.Confidence,
			LowConfidence: decision.Confidence < s.cfg.LowConfidence,
			Source:        SourceClassifier,
		})
	}
}

// classify asks the model about one page; any failure means stay with zero confidence.
func (s *Segmenter) classify(ctx context.Context, path string, current, next recap.RowContext) llm.Decision {
	if s.classifier == nil {
		return llm.Decision{Stay: true}
	}
	d, err := s.classifier.ClassifyAttachment(ctx, path,
		current.Hint(s.cfg.HintMaxLen), next.Hint(s.cfg.HintMaxLen))
	if err != nil {
		return llm.Decision{Stay: true}
	}
	return d
}

func (s *Segmenter) attach(res *Result, item int, a Attachment) {
	res.Groups[item].Pages = append(res.Groups[item].Pages, a)
	metrics.Pages.WithLabelValues("attach", "attached").Inc()
	if s.OnPage != nil {
		s.OnPage(a.Page)
	}
}

func (s *Segmenter) unassign(res *Result, index int) {
	res.Unassigned = append(res.Unassigned, index)
	metrics.Pages.WithLabelValues("attach", "unassigned").Inc()
	if s.OnPage != nil {
		s.OnPage(index)
	}
}

func markerSource(r marker.Result, state walkState) string {
	if state == fixedGroup {
		return SourceFollow
	}
	switch r.Tier {
	case marker.TierText:
		return SourceText
	case marker.TierOCR:
		return SourceOCR
	case marker.TierModel:
		return SourceModel
	default:
		return SourceFollow
	}
}
