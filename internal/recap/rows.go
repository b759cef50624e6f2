package recap

import "strings"

// RowContext is a read-only view of one data row in an assembled recap.
type RowContext struct {
	SectionIndex  int      `json:"section_index"`
	RowIndex      int      `json:"row_index"` // 0-based among the section's data rows
	Company       string   `json:"company"`
	Header        []string `json:"header"`
	Cells         []string `json:"cells"`
	ReferenceCode string   `json:"reference_code"`
}

// Cell returns the value of the column named name, or "".
func (r RowContext) Cell(name string) string {
	for i, h := range r.Header {
		if h == name && i < len(r.Cells) {
			return r.Cells[i]
		}
	}
	return ""
}

// Hint joins the row's non-blank cells, excluding the reference code column,
// into short text truncated to maxLen runes. maxLen <= 0 disables truncation.
func (r RowContext) Hint(maxLen int) string {
	parts := make([]string, 0, len(r.Cells)+1)
	if c := strings.TrimSpace(r.Company); c != "" {
		parts = append(parts, c)
	}
	for i, cell := range r.Cells {
		if i < len(r.Header) && r.Header[i] == ReferenceColumn {
			continue
		}
		if cell = strings.TrimSpace(cell); cell != "" {
			parts = append(parts, cell)
		}
	}
	hint := strings.Join(parts, " | ")
	if maxLen > 0 {
		if runes := []rune(hint); len(runes) > maxLen {
			hint = string(runes[:maxLen])
		}
	}
	return hint
}

// Rows projects entries into row contexts in document order. The views copy
// the underlying cells, so later edits to entries do not show through.
func Rows(entries Entries) []RowContext {
	var out []RowContext
	for si, sec := range entries.Sections() {
		header := append([]string(nil), sec.Header()...)
		ref := sec.Column(ReferenceColumn)
		for ri, row := range sec.Rows() {
			rc := RowContext{
				SectionIndex: si,
				RowIndex:     ri,
				Company:      sec.Company,
				Header:       header,
				Cells:        append([]string(nil), row...),
			}
			if ref >= 0 && ref < len(row) {
				rc.ReferenceCode = row[ref]
			}
			out = append(out, rc)
		}
	}
	return out
}

// FindRow returns the row carrying reference code code.
func FindRow(rows []RowContext, code string) (RowContext, bool) {
	for _, r := range rows {
		if code != "" && r.ReferenceCode == code {
			return r, true
		}
	}
	return RowContext{}, false
}
