package recap

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/MeKo-Tech/rekap/internal/llm"
	"github.com/MeKo-Tech/rekap/internal/metrics"
)

// closingPhrase is the printed line that ends a recap ("total of cheques to be opened").
var closingPhrase = regexp.MustCompile(`(?i)total\s+cek\s+yang\s+(?:mau|akan)\s+di\s*buka`)

// HasClosingPhrase reports whether text contains the recap closing phrase.
func HasClosingPhrase(text string) bool {
	return closingPhrase.MatchString(text)
}

// Pages is the page access the assembler needs from an open document.
type Pages interface {
	NumPages() int
	PageText(index int) (string, error)
	RenderPage(ctx context.Context, index int) (path string, cleanup func(), err error)
}

// RekapClassifier decides whether a page image is a recap page.
type RekapClassifier interface {
	ClassifyRekap(ctx context.Context, imagePath string) (llm.RekapVerdict, error)
}

// AssemblerConfig tunes recap assembly.
type AssemblerConfig struct {
	// RekapConfidence is the minimum rekap-page confidence for re-extracting
	// a page whose first extraction came back empty.
	RekapConfidence float64
}

// DefaultAssemblerConfig returns the default assembly settings.
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{RekapConfidence: 0.55}
}

type assemblyState int

const (
	readingRecap assemblyState = iota
	assemblyDone
)

// Assembler extracts the recap from the leading pages of a document.
type Assembler struct {
	extractor *Extractor
	rekap     RekapClassifier
	cfg       AssemblerConfig
	logger    *slog.Logger

	// OnPage, when set, is called after each recap page is handled.
	OnPage func(index int, accepted bool)
}

// NewAssembler creates an assembler. rekap may be nil to disable the
// empty-page retry.
func NewAssembler(extractor *Extractor, rekap RekapClassifier, cfg AssemblerConfig, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{extractor: extractor, rekap: rekap, cfg: cfg, logger: logger}
}

// Assemble walks pages from index 0 and returns the merged recap sections and
// the number of leading pages that belong to the recap. Page 0 always counts.
// Later pages count while they continue the table or carry the closing
// phrase; the first page that does neither is left for attachment and
// assembly stops there. Grand total entries end assembly and are removed
// from the result.
func (a *Assembler) Assemble(ctx context.Context, pages Pages) (Entries, int) {
	n := pages.NumPages()
	if n == 0 {
		return Entries{}, 0
	}

	acc := a.extractPage(ctx, pages, 0)
	if a.closingOn(pages, 0) && !acc.HasGrandTotal() {
		acc = append(acc, &GrandTotal{})
	}
	tablePages := 1
	a.observe(0, true)

	state := readingRecap
	if acc.HasGrandTotal() {
		state = assemblyDone
	}
	for i := 1; state == readingRecap && i < n; i++ {
		page := a.extractPage(ctx, pages, i)
		continued := IsContinuation(page)
		closing := a.closingOn(pages, i)
		if closing && !page.HasGrandTotal() {
			page = append(page, &GrandTotal{})
		}

		if !continued && !closing {
			a.logger.Info("recap ended, first supporting page found", "page", i+1, "table_pages", tablePages)
			a.observe(i, false)
			break
		}

		acc = mergeEntries(acc, page)
		tablePages = i + 1
		a.observe(i, true)
		if page.HasGrandTotal() {
			state = assemblyDone
		}
	}

	a.logger.Info("recap assembled", "table_pages", tablePages, "total_pages", n,
		"sections", len(acc.Sections()), "grand_total_seen", acc.HasGrandTotal())
	return acc.WithoutGrandTotal(), tablePages
}

// extractPage renders and extracts page i. Render failures yield an empty result.
func (a *Assembler) extractPage(ctx context.Context, pages Pages, i int) Entries {
	path, cleanup, err := pages.RenderPage(ctx, i)
	if err != nil {
		a.logger.Warn("recap page render failed", "page", i+1, "error", err)
		metrics.Pages.WithLabelValues("recap", "skipped").Inc()
		return Entries{}
	}
	defer cleanup()

	entries := a.extractor.Extract(ctx, path)
	if len(entries) > 0 || a.rekap == nil {
		return entries
	}

	verdict, err := a.rekap.ClassifyRekap(ctx, path)
	if err != nil {
		// not-rekap is the conservative default
		return entries
	}
	if verdict.IsRekap && verdict.Confidence >= a.cfg.RekapConfidence {
		a.logger.Info("empty extraction on rekap page, retrying", "page", i+1, "confidence", verdict.Confidence)
		entries = a.extractor.Extract(ctx, path)
	}
	return entries
}

func (a *Assembler) closingOn(pages Pages, i int) bool {
	text, err := pages.PageText(i)
	if err != nil {
		a.logger.Debug("page text unavailable", "page", i+1, "error", err)
		return false
	}
	return HasClosingPhrase(text)
}

func (a *Assembler) observe(i int, accepted bool) {
	outcome := "accepted"
	if !accepted {
		outcome = "rejected"
	}
	metrics.Pages.WithLabelValues("recap", outcome).Inc()
	if a.OnPage != nil {
		a.OnPage(i, accepted)
	}
}

// IsContinuation reports whether a freshly extracted page continues the recap:
// it holds a grand total, or a section whose header is the recap header
// (case-insensitive) with at least one non-blank data row.
func IsContinuation(page Entries) bool {
	if page.HasGrandTotal() {
		return true
	}
	for _, sec := range page.Sections() {
		if IsRecapHeader(sec.Header()) && hasContent(sec.Rows()) {
			return true
		}
	}
	return false
}

// IsRecapHeader reports whether header is exactly the five recap columns, ignoring case.
func IsRecapHeader(header []string) bool {
	if len(header) != len(llm.RecapHeader) {
		return false
	}
	for i, h := range header {
		if !strings.EqualFold(strings.TrimSpace(h), llm.RecapHeader[i]) {
			return false
		}
	}
	return true
}

func hasContent(rows [][]string) bool {
	for _, row := range rows {
		for _, c := range row {
			if strings.TrimSpace(c) != "" {
				return true
			}
		}
	}
	return false
}

// mergeEntries appends page to acc. A leading section that repeats the last
// accumulated company, or has no title, continues that section's table.
func mergeEntries(acc, page Entries) Entries {
	first := true
	for _, e := range page {
		sec, ok := e.(*Section)
		if !ok {
			acc = append(acc, e)
			continue
		}
		if first {
			first = false
			if last := lastSection(acc); last != nil &&
				(sec.Company == "" || strings.EqualFold(sec.Company, last.Company)) {
				width := len(last.Header())
				for _, row := range sec.Rows() {
					last.Table = append(last.Table, fitRow(row, width))
				}
				if sec.Subtotal != "" {
					last.Subtotal = sec.Subtotal
				}
				continue
			}
		}
		acc = append(acc, sec)
	}
	return acc
}

func lastSection(es Entries) *Section {
	for i := len(es) - 1; i >= 0; i-- {
		if s, ok := es[i].(*Section); ok {
			return s
		}
	}
	return nil
}
