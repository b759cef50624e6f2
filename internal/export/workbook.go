package export

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/MeKo-Tech/rekap/internal/pipeline"
	"github.com/MeKo-Tech/rekap/internal/recap"
)

// Sheet names.
const (
	RecapSheet       = "Recap"
	AttachmentsSheet = "Attachments"
)

// WriteWorkbook writes the recap workbook to dir/recap.xlsx.
func WriteWorkbook(dir string, res *pipeline.Result) (string, error) {
	data, err := Workbook(res)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, WorkbookName)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write workbook: %w", err)
	}
	return path, nil
}

// Workbook renders res as XLSX bytes. The recap sheet has one line per data
// row with its attached page count, a subtotal line after each section and
// the grand total last. The
// attachments sheet lists every attached page.
func Workbook(res *pipeline.Result) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// NewFile starts with "Sheet1"
	if err := f.SetSheetName("Sheet1", RecapSheet); err != nil {
		return nil, err
	}
	if err := writeRecapSheet(f, res); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(AttachmentsSheet); err != nil {
		return nil, err
	}
	if err := writeAttachmentsSheet(f, res); err != nil {
		return nil, err
	}
	idx, _ := f.GetSheetIndex(RecapSheet)
	f.SetActiveSheet(idx)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// recapColumns is the union of data columns over all sections in first-seen
// order, with the reference code column moved last.
func recapColumns(entries recap.Entries) []string {
	var cols []string
	for _, sec := range entries.Sections() {
		for _, h := range sec.Header() {
			if h != recap.ReferenceColumn && !slices.Contains(cols, h) {
				cols = append(cols, h)
			}
		}
	}
	return append(cols, recap.ReferenceColumn)
}

// PagesColumn is the recap sheet column counting a row's attached pages.
const PagesColumn = "PAGES"

func writeRecapSheet(f *excelize.File, res *pipeline.Result) error {
	entries := res.Entries
	cols := recapColumns(entries)
	header := append(append([]any{"SECTION", "COMPANY"}, toAny(cols)...), PagesColumn)
	if err := writeRow(f, RecapSheet, 1, header); err != nil {
		return err
	}

	amountCol := slices.Index(cols, recap.AmountColumn)
	line := 2
	for si, sec := range entries.Sections() {
		for _, row := range sec.Rows() {
			values := []any{si + 1, sec.Company}
			for _, c := range cols {
				values = append(values, cellByName(sec, row, c))
			}
			pages := 0
			if g, ok := res.Group(cellByName(sec, row, recap.ReferenceColumn)); ok {
				pages = len(g.Pages)
			}
			values = append(values, pages)
			if err := writeRow(f, RecapSheet, line, values); err != nil {
				return err
			}
			line++
		}
		if err := writeRow(f, RecapSheet, line, totalLine(si+1, sec.Company, "SUBTOTAL", sec.Subtotal, len(cols), amountCol)); err != nil {
			return err
		}
		line++
	}
	if gt := entries.GrandTotal(); gt != nil {
		if err := writeRow(f, RecapSheet, line, totalLine("", "", "GRAND TOTAL", gt.GrandTotal, len(cols), amountCol)); err != nil {
			return err
		}
	}

	_ = f.SetColWidth(RecapSheet, "A", "A", 10)
	_ = f.SetColWidth(RecapSheet, "B", "B", 28)
	last, _ := excelize.ColumnNumberToName(len(cols) + 2)
	_ = f.SetColWidth(RecapSheet, "C", last, 20)
	pagesCol, _ := excelize.ColumnNumberToName(len(cols) + 3)
	_ = f.SetColWidth(RecapSheet, pagesCol, pagesCol, 8)
	return f.SetPanes(RecapSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

// totalLine puts label in the first data column and amount under the amount
// column, or in the last data column when there is none.
func totalLine(section any, company, label, amount string, width, amountCol int) []any {
	values := make([]any, width+2)
	values[0], values[1] = section, company
	values[2] = label
	col := amountCol
	if col < 0 {
		col = width - 1
	}
	values[col+2] = amount
	return values
}

func writeAttachmentsSheet(f *excelize.File, res *pipeline.Result) error {
	header := []any{"REFERENCE_CODE", "ITEM", "COMPANY", "IDENTIFIER", "PAGE", "FILE", "CONFIDENCE", "LOW_CONFIDENCE", "SOURCE"}
	if err := writeRow(f, AttachmentsSheet, 1, header); err != nil {
		return err
	}
	line := 2
	for _, g := range res.Groups {
		for _, p := range g.Pages {
			values := []any{
				g.ReferenceCode, g.Item + 1, g.Company, p.Identifier, p.Index + 1, p.File,
				strconv.FormatFloat(p.Confidence, 'f', 2, 64), p.LowConfidence, p.Source,
			}
			if err := writeRow(f, AttachmentsSheet, line, values); err != nil {
				return err
			}
			line++
		}
	}
	for _, idx := range res.Unassigned {
		if err := writeRow(f, AttachmentsSheet, line, []any{"", "", "", "UNASSIGNED", idx + 1}); err != nil {
			return err
		}
		line++
	}
	_ = f.SetColWidth(AttachmentsSheet, "A", "D", 16)
	_ = f.SetColWidth(AttachmentsSheet, "F", "F", 24)
	return nil
}

func writeRow(f *excelize.File, sheet string, line int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, line)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func cellByName(sec *recap.Section, row []string, name string) string {
	if i := sec.Column(name); i >= 0 && i < len(row) {
		return row[i]
	}
	return ""
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
