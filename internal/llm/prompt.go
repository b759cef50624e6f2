package llm

import (
	"fmt"
	"strings"
)

// RecapHeader is the five-column header every recap table section carries.
var RecapHeader = []string{"No", "KETERANGAN", "DIBAYAR KE", "BANK", "PENGIRIMAN"}

const tablePrompt = `You extract table data from an image of a payment recap ("rekap") page.

The page holds one or more sections. Each section is titled with a company name
such as "PT. GIN" or "PT. BAT & ALS", or with a category such as "Sparepart" or
"Penggantian Kas Kecil Kantor". Under each title is a table with the columns:
%s.

For every section:
  - "company" is the section title.
  - "table" is a 2D array of strings. Row 0 is exactly the header above; the
    following rows are the data rows in reading order.
  - "subtotal" is the printed SUBTOTAL of the section, or "" when absent.
Keep amounts exactly as printed, e.g. "1.500.000".

When the page shows the closing grand total (e.g. "TOTAL CEK YANG MAU DIBUKA = 878.826.600")
append {"grand_total": "<value>"} as the last element and ignore anything printed after it.

Return only a JSON array shaped like:
[
  {"company": "...", "table": [[%s], ["1", "...", "...", "...", "..."]], "subtotal": "..."},
  {"grand_total": "..."}
]
Return [] when the page contains no such table.`

const attachmentPrompt = `This image is one supporting document page (invoice, receipt, transfer
slip) taken from a payment recap bundle. Pages are ordered and belong to recap
rows in order.

CURRENT row: %s
NEXT row: %s

Decide whether the page still belongs to the CURRENT row, or whether it starts
the evidence for the NEXT row. Reply with JSON only:
{"stay": true|false, "confidence": 0.0-1.0}`

const rekapPrompt = `Decide whether this page is part of a payment recap ("rekap") table listing
payment line items with the columns %s, possibly grouped under company
titles. Invoices, receipts and transfer slips are NOT rekap pages.
Reply with JSON only: {"is_rekap": true|false, "confidence": 0.0-1.0}`

const cornerMarkerPrompt = `This image is the top-right corner of a scanned page. It may carry a printed
marker: "ALPHA" optionally followed by a page count (e.g. "ALPHA-3", "α 2"),
or "BETA" (also "β"). Reply with JSON only:
{"tag": "ALPHA"|"BETA"|null, "x": <page count as integer>|null}`

func quotedHeader() string {
	quoted := make([]string, len(RecapHeader))
	for i, h := range RecapHeader {
		quoted[i] = fmt.Sprintf("%q", h)
	}
	return strings.Join(quoted, ", ")
}

// BuildTablePrompt returns the instructions for recap table extraction.
func BuildTablePrompt() string {
	h := quotedHeader()
	return fmt.Sprintf(tablePrompt, h, h)
}

// BuildAttachmentPrompt returns the stay-or-advance instructions for two row hints.
func BuildAttachmentPrompt(current, next string) string {
	return fmt.Sprintf(attachmentPrompt, orNone(current), orNone(next))
}

// BuildRekapPrompt returns the rekap-page classification instructions.
func BuildRekapPrompt() string {
	return fmt.Sprintf(rekapPrompt, quotedHeader())
}

// BuildCornerMarkerPrompt returns the corner marker OCR instructions.
func BuildCornerMarkerPrompt() string {
	return cornerMarkerPrompt
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(no details)"
	}
	return s
}
