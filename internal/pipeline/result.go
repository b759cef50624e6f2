package pipeline

import (
	"github.com/MeKo-Tech/rekap/internal/attach"
	"github.com/MeKo-Tech/rekap/internal/recap"
)

// Input types.
const (
	TypePDF   = "pdf"
	TypeImage = "image"
)

// Result is the document-level output of one ingestion.
type Result struct {
	JobID       string            `json:"job_id"`
	Source      string            `json:"source"`
	Type        string            `json:"type"`
	Entries     recap.Entries     `json:"entries"`
	TablePages  int               `json:"table_pages"`
	TotalPages  int               `json:"total_pages"`
	Mode        attach.Mode       `json:"mode"`
	Groups      []AttachmentGroup `json:"groups"`
	Unassigned  []int             `json:"unassigned"` // 0-based page indices
	BudgetSpent int               `json:"budget_spent"`
	ElapsedMS   int64             `json:"elapsed_ms"`
}

// AttachmentGroup is the ordered page files for one recap row.
type AttachmentGroup struct {
	ReferenceCode string         `json:"reference_code"`
	Item          int            `json:"item"` // position of the row in document order
	Company       string         `json:"company"`
	Pages         []AttachedPage `json:"pages"`
}

// AttachedPage is one supporting page saved for a row.
type AttachedPage struct {
	Index         int     `json:"index"` // 0-based page index in the source PDF
	Identifier    string  `json:"identifier"`
	File          string  `json:"file,omitempty"`
	Confidence    float64 `json:"confidence"`
	LowConfidence bool    `json:"low_confidence"`
	Source        string  `json:"source"`
}

// Rows projects the result's entries into row contexts.
func (r *Result) Rows() []recap.RowContext {
	return recap.Rows(r.Entries)
}

// AttachedCount returns the number of pages attached to rows.
func (r *Result) AttachedCount() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Pages)
	}
	return n
}

// Group returns the attachment group for a reference code.
func (r *Result) Group(code string) (AttachmentGroup, bool) {
	for _, g := range r.Groups {
		if g.ReferenceCode == code {
			return g, true
		}
	}
	return AttachmentGroup{}, false
}
