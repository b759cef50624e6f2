// Package pipeline drives one document from upload to its recap rows and
// per-row attachment pages, reporting coarse progress along the way.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/rekap/internal/attach"
	"github.com/MeKo-Tech/rekap/internal/marker"
	"github.com/MeKo-Tech/rekap/internal/metrics"
	"github.com/MeKo-Tech/rekap/internal/pdf"
	"github.com/MeKo-Tech/rekap/internal/recap"
)

var (
	// ErrFileNotFound is returned when the input file does not exist.
	ErrFileNotFound = errors.New("input file not found")

	// ErrUnsupportedFormat is returned for inputs other than PDF, PNG or JPEG.
	ErrUnsupportedFormat = errors.New("unsupported input format")

	// ErrNotConfigured is returned when no vision model is wired in.
	ErrNotConfigured = errors.New("ingester not configured")
)

// Model is the external classifier as the pipeline uses it.
type Model interface {
	recap.TableModel
	recap.RekapClassifier
	attach.Classifier
	marker.CornerReader
}

// AttachmentSaver persists one attached page under its identifier and
// returns the stored location.
type AttachmentSaver interface {
	SaveAttachment(jobID, identifier, srcPath string) (string, error)
}

// Config groups the per-stage settings.
type Config struct {
	Render   pdf.RenderOptions     `json:"render"`
	Password string                `json:"-"`
	TempDir  string                `json:"temp_dir"`
	Recap    recap.AssemblerConfig `json:"recap"`
	Segment  attach.Config         `json:"segment"`
	Marker   marker.Config         `json:"marker"`
}

// DefaultConfig returns the default settings of every stage.
func DefaultConfig() Config {
	return Config{
		Render:  pdf.DefaultRenderOptions(),
		Recap:   recap.DefaultAssemblerConfig(),
		Segment: attach.DefaultConfig(),
		Marker:  marker.DefaultConfig(),
	}
}

// document is what the ingester needs from an open PDF.
type document interface {
	NumPages() int
	PageText(index int) (string, error)
	RenderPage(index int, opts pdf.RenderOptions) (string, func(), error)
	ExtractSinglePage(index int) (string, func(), error)
	Close() error
}

type openFunc func(path string, opts pdf.OpenOptions) (document, error)

func openPDF(path string, opts pdf.OpenOptions) (document, error) {
	return pdf.Open(path, opts)
}

type passwordKey struct{}

// WithPassword returns a context whose ingestion opens the PDF with password
// instead of the configured one.
func WithPassword(ctx context.Context, password string) context.Context {
	return context.WithValue(ctx, passwordKey{}, password)
}

// PasswordFromContext returns the password set by WithPassword.
func PasswordFromContext(ctx context.Context) (string, bool) {
	pw, ok := ctx.Value(passwordKey{}).(string)
	return pw, ok
}

// Ingester runs the recap and attachment pipeline for one document at a
// time per call. It holds no per-document state, so concurrent calls are safe
// as long as the wired collaborators are.
type Ingester struct {
	model    Model
	ocr      marker.TextRecognizer
	saver    AttachmentSaver
	progress ProgressSink
	cfg      Config
	logger   *slog.Logger
	open     openFunc
	codes    func() *recap.CodeGenerator
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithOCR enables local OCR for marker detection.
func WithOCR(r marker.TextRecognizer) Option {
	return func(in *Ingester) { in.ocr = r }
}

// WithAttachmentSaver stores attached pages as single-page PDFs.
func WithAttachmentSaver(s AttachmentSaver) Option {
	return func(in *Ingester) { in.saver = s }
}

// WithProgress sets the progress sink.
func WithProgress(p ProgressSink) Option {
	return func(in *Ingester) {
		if p != nil {
			in.progress = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Ingester) {
		if l != nil {
			in.logger = l
		}
	}
}

// NewIngester creates an ingester over model. A nil model is accepted and
// makes every Ingest call fail with ErrNotConfigured.
func NewIngester(model Model, cfg Config, opts ...Option) *Ingester {
	in := &Ingester{
		model:    model,
		progress: NoOpProgress{},
		cfg:      cfg,
		logger:   slog.Default(),
		open:     openPDF,
		codes:    recap.NewCodeGenerator,
	}
	for _, o := range opts {
		o(in)
	}
	return in
}

// Ingest processes the file at path. An empty jobID gets a generated one.
// Only unrecoverable preconditions are returned as errors; in that case the
// job's progress is set to 100 with a failed stage.
func (in *Ingester) Ingest(ctx context.Context, jobID, path string) (res *Result, err error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	start := time.Now()
	kind := InputType(path)
	logger := in.logger.With("job_id", jobID)

	defer func() {
		status := "ok"
		if err != nil {
			status = "failed"
			logger.Error("ingestion failed", "file", path, "error", err)
			in.progress.Report(jobID, 100, FailedStage(err), nil)
		}
		label := kind
		if label == "" {
			label = "unknown"
		}
		metrics.Ingestions.WithLabelValues(label, status).Inc()
		metrics.IngestDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}()

	if in.model == nil {
		return nil, ErrNotConfigured
	}
	if _, statErr := os.Stat(path); statErr != nil {
		if errors.Is(statErr, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("stat input: %w", statErr)
	}
	if kind == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}

	in.progress.Report(jobID, 0, StageStarted, map[string]any{"file": filepath.Base(path), "type": kind})
	logger.Info("ingestion started", "file", path, "type", kind)

	if kind == TypeImage {
		res, err = in.ingestImage(ctx, jobID, path)
	} else {
		res, err = in.ingestPDF(ctx, jobID, path, logger)
	}
	if err != nil {
		return nil, err
	}

	res.ElapsedMS = time.Since(start).Milliseconds()
	in.progress.Report(jobID, 100, StageDone, map[string]any{
		"rows":     len(res.Groups),
		"attached": res.AttachedCount(),
	})
	logger.Info("ingestion finished", "rows", len(res.Groups), "table_pages", res.TablePages,
		"total_pages", res.TotalPages, "attached", res.AttachedCount(), "unassigned", len(res.Unassigned),
		"mode", string(res.Mode), "elapsed_ms", res.ElapsedMS)
	return res, nil
}

func (in *Ingester) ingestImage(ctx context.Context, jobID, path string) (*Result, error) {
	in.progress.Report(jobID, 10, StageRecap, map[string]any{"page": 1, "pages": 1})
	extractor := recap.NewExtractor(in.model, in.logger)
	entries := extractor.Extract(ctx, path)

	in.progress.Report(jobID, 80, StageCodes, nil)
	entries, err := in.finalize(entries)
	if err != nil {
		return nil, err
	}

	rows := recap.Rows(entries)
	groups := make([]AttachmentGroup, len(rows))
	for i, r := range rows {
		groups[i] = AttachmentGroup{ReferenceCode: r.ReferenceCode, Item: i, Company: r.Company, Pages: []AttachedPage{}}
	}
	return &Result{
		JobID:      jobID,
		Source:     path,
		Type:       TypeImage,
		Entries:    entries,
		TablePages: 1,
		TotalPages: 1,
		Mode:       attach.ModeNone,
		Groups:     groups,
		Unassigned: []int{},
	}, nil
}

func (in *Ingester) ingestPDF(ctx context.Context, jobID, path string, logger *slog.Logger) (*Result, error) {
	in.progress.Report(jobID, 5, StageOpening, nil)
	password := in.cfg.Password
	if pw, ok := PasswordFromContext(ctx); ok {
		password = pw
	}
	doc, err := in.open(path, pdf.OpenOptions{Password: password, TempDir: in.cfg.TempDir, Logger: in.logger})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer func() {
		if cerr := doc.Close(); cerr != nil {
			logger.Warn("document cleanup failed", "error", cerr)
		}
	}()

	n := doc.NumPages()
	pages := docPages{doc: doc, opts: in.cfg.Render}

	assembler := recap.NewAssembler(recap.NewExtractor(in.model, in.logger), in.model, in.cfg.Recap, in.logger)
	assembler.OnPage = func(i int, accepted bool) {
		in.progress.Report(jobID, 10+scale(i+1, n, 40), StageRecap, map[string]any{"page": i + 1, "pages": n})
	}
	entries, tablePages := assembler.Assemble(ctx, pages)

	in.progress.Report(jobID, 50, StageCodes, map[string]any{"table_pages": tablePages})
	entries, err = in.finalize(entries)
	if err != nil {
		return nil, err
	}
	rows := recap.Rows(entries)

	in.progress.Report(jobID, 55, StageSegmenting, nil)
	detector := marker.NewDetector(in.ocr, in.model, in.cfg.Marker, in.logger)
	segmenter := attach.NewSegmenter(detector, in.model, in.cfg.Segment, in.logger)
	supporting := n - tablePages
	segmenter.OnPage = func(i int) {
		in.progress.Report(jobID, 55+scale(i-tablePages+1, supporting, 35), StageSegmenting,
			map[string]any{"page": i + 1, "pages": n})
	}
	seg := segmenter.Segment(ctx, rows, pages, tablePages)

	in.progress.Report(jobID, 90, StageSaving, nil)
	groups := in.saveGroups(jobID, doc, rows, seg, logger)

	return &Result{
		JobID:       jobID,
		Source:      path,
		Type:        TypePDF,
		Entries:     entries,
		TablePages:  tablePages,
		TotalPages:  n,
		Mode:        seg.Mode,
		Groups:      groups,
		Unassigned:  seg.Unassigned,
		BudgetSpent: seg.BudgetSpent,
	}, nil
}

// finalize assigns reference codes and recomputes totals.
func (in *Ingester) finalize(entries recap.Entries) (recap.Entries, error) {
	coded, err := recap.InjectReferenceCodes(entries, in.codes())
	if err != nil {
		return nil, fmt.Errorf("assign reference codes: %w", err)
	}
	return recap.RecalcTotals(coded), nil
}

// saveGroups names every attached page <code><seq> and stores it as a
// single-page PDF when a saver is configured. A page that cannot be
// extracted keeps its place in the group without a file.
func (in *Ingester) saveGroups(jobID string, doc document, rows []recap.RowContext, seg attach.Result, logger *slog.Logger) []AttachmentGroup {
	groups := make([]AttachmentGroup, len(seg.Groups))
	for gi, g := range seg.Groups {
		out := AttachmentGroup{ReferenceCode: g.ReferenceCode, Item: g.Item, Pages: make([]AttachedPage, 0, len(g.Pages))}
		if g.Item < len(rows) {
			out.Company = rows[g.Item].Company
		}
		for seq, p := range g.Pages {
			ap := AttachedPage{
				Index:         p.Page,
				Identifier:    AttachmentIdentifier(g.ReferenceCode, seq+1),
				Confidence:    p.Confidence,
				LowConfidence: p.LowConfidence,
				Source:        p.Source,
			}
			if in.saver != nil {
				file, err := in.savePage(jobID, doc, p.Page, ap.Identifier)
				if err != nil {
					logger.Warn("attachment not saved", "page", p.Page+1, "identifier", ap.Identifier, "error", err)
				}
				ap.File = file
			}
			out.Pages = append(out.Pages, ap)
		}
		groups[gi] = out
	}
	return groups
}

func (in *Ingester) savePage(jobID string, doc document, index int, identifier string) (string, error) {
	src, cleanup, err := doc.ExtractSinglePage(index)
	if err != nil {
		return "", err
	}
	defer cleanup()
	return in.saver.SaveAttachment(jobID, identifier, src)
}

// AttachmentIdentifier returns the identifier of the seq-th (1-based) page
// attached to the row with the given reference code.
func AttachmentIdentifier(code string, seq int) string {
	return fmt.Sprintf("%s%02d", code, seq)
}

// InputType maps a file extension to TypePDF or TypeImage, "" if unsupported.
func InputType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return TypePDF
	case ".png", ".jpg", ".jpeg":
		return TypeImage
	default:
		return ""
	}
}

// scale maps done/total onto [0, span].
func scale(done, total, span int) int {
	if total <= 0 {
		return span
	}
	return min(span, max(0, done*span/total))
}

// docPages binds render settings to a document for the assembler and segmenter.
type docPages struct {
	doc  document
	opts pdf.RenderOptions
}

func (p docPages) NumPages() int { return p.doc.NumPages() }

func (p docPages) PageText(index int) (string, error) { return p.doc.PageText(index) }

func (p docPages) RenderPage(ctx context.Context, index int) (string, func(), error) {
	if err := ctx.Err(); err != nil {
		return "", func() {}, err
	}
	return p.doc.RenderPage(index, p.opts)
}
