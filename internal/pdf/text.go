package pdf

import (
	"fmt"
	"strings"

	"github.com/dslipak/pdf"
)

// vectorText reads the embedded text layer of a PDF.
type vectorText struct {
	reader *pdf.Reader
}

func openVectorText(path string) (*vectorText, error) {
	r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open text layer %q: %w", path, err)
	}
	// dslipak/pdf Reader doesn't need explicit closing
	return &vectorText{reader: r}, nil
}

// Page returns the text of the 1-based page pageNum, row by row.
// Malformed content streams make the underlying parser panic; that is
// reported as an error so the page can be skipped.
func (v *vectorText) Page(pageNum int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page %d: malformed content: %v", pageNum, r)
		}
	}()

	if pageNum < 1 || pageNum > v.reader.NumPage() {
		return "", fmt.Errorf("%w: %d", ErrPageOutOfRange, pageNum)
	}
	page := v.reader.Page(pageNum)
	if page.V.IsNull() {
		return "", fmt.Errorf("page %d is null", pageNum)
	}

	var b strings.Builder
	rows, err := page.GetTextByRow()
	if err == nil && len(rows) > 0 {
		for _, row := range rows {
			for _, t := range row.Content {
				b.WriteString(t.S)
				b.WriteString(" ")
			}
			b.WriteString("\n")
		}
		return strings.TrimSpace(b.String()), nil
	}

	// Fall back to the unordered plain text stream
	plain, err := page.GetPlainText(make(map[string]*pdf.Font))
	if err != nil {
		return "", fmt.Errorf("page %d plain text: %w", pageNum, err)
	}
	return strings.TrimSpace(plain), nil
}
