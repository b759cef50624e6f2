package recap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/rekap/internal/llm"
)

const recapHeaderJSON = `["No","KETERANGAN","DIBAYAR KE","BANK","PENGIRIMAN"]`

func recapPage(company string, rows ...string) string {
	return fmt.Sprintf(`[{"company": %q, "table": [%s%s], "subtotal": ""}]`, company, recapHeaderJSON, joinRows(rows))
}

func joinRows(rows []string) string {
	var b strings.Builder
	for _, r := range rows {
		b.WriteString(",")
		b.WriteString(r)
	}
	return b.String()
}

// fakePages serves one extraction response and one text layer per page.
type fakePages struct {
	responses  []string
	texts      []string
	renderFail map[int]bool
	rendered   []int
	cleaned    int
}

func (f *fakePages) NumPages() int { return len(f.responses) }

func (f *fakePages) PageText(i int) (string, error) {
	if i < len(f.texts) {
		return f.texts[i], nil
	}
	return "", errors.New("no text layer")
}

func (f *fakePages) RenderPage(_ context.Context, i int) (string, func(), error) {
	if f.renderFail[i] {
		return "", func() {}, errors.New("render failed")
	}
	f.rendered = append(f.rendered, i)
	return fmt.Sprintf("page-%d.png", i), func() { f.cleaned++ }, nil
}

// ExtractTable answers by the page index encoded in the image path.
func (f *fakePages) ExtractTable(_ context.Context, path string) (string, error) {
	var i int
	if _, err := fmt.Sscanf(path, "page-%d.png", &i); err != nil {
		return "", err
	}
	if f.responses[i] == "ERR" {
		return "", &llm.Error{Op: llm.OpExtractTable, Kind: llm.KindTransport, Err: errors.New("down")}
	}
	return f.responses[i], nil
}

type fakeRekap struct {
	verdict llm.RekapVerdict
	err     error
	calls   int
}

func (f *fakeRekap) ClassifyRekap(context.Context, string) (llm.RekapVerdict, error) {
	f.calls++
	return f.verdict, f.err
}

func newAssembler(pages *fakePages, rekap RekapClassifier) *Assembler {
	return NewAssembler(NewExtractor(pages, nil), rekap, DefaultAssemblerConfig(), nil)
}

func TestAssembler_ContinuationAccepted(t *testing.T) {
	pages := &fakePages{responses: []string{
		recapPage("PT. GIN", `["1","a","b","BCA","1.000"]`),
		recapPage("PT. GIN", `["2","c","d","BCA","2.000"]`),
		`[{"company": "INVOICE", "table": [["Item","Qty","Price"],["Oli","2","50.000"]]}]`,
	}}

	entries, tablePages := newAssembler(pages, nil).Assemble(context.Background(), pages)

	assert.Equal(t, 2, tablePages)
	require.Len(t, entries, 1, "continuation merges into the open section")
	assert.Len(t, entries.Sections()[0].Rows(), 2)
	assert.False(t, entries.HasGrandTotal())
	assert.Equal(t, len(pages.rendered), pages.cleaned, "every render is cleaned up")
}

func TestAssembler_UnrelatedPageRejected(t *testing.T) {
	pages := &fakePages{responses: []string{
		recapPage("PT. GIN", `["1","a","b","BCA","1.000"]`),
		`[{"company": "Kwitansi", "table": [["Tanggal","Jumlah"],["1 Mei","1.000"]]}]`,
		recapPage("PT. GIN", `["2","c","d","BCA","2.000"]`),
	}}

	entries, tablePages := newAssembler(pages, nil).Assemble(context.Background(), pages)

	assert.Equal(t, 1, tablePages)
	assert.Len(t, entries.Sections()[0].Rows(), 1)
	assert.Equal(t, []int{0, 1}, pages.rendered, "assembly stops at the first supporting page")
}

func TestAssembler_HeaderOnlyPageRejected(t *testing.T) {
	pages := &fakePages{responses: []string{
		recapPage("PT. GIN", `["1","a","b","BCA","1.000"]`),
		recapPage("PT. GIN", `["","","","",""]`),
	}}

	_, tablePages := newAssembler(pages, nil).Assemble(context.Background(), pages)
	assert.Equal(t, 1, tablePages)
}

func TestAssembler_StopsAtGrandTotal(t *testing.T) {
	pages := &fakePages{responses: []string{
		recapPage("PT. GIN", `["1","a","b","BCA","1.000"]`),
		`[{"company": "PT. BPS", "table": [["no","keterangan","dibayar ke","bank","pengiriman"],["1","x","y","BRI","2.000"]]}, {"grand_total": "3.000"}]`,
		recapPage("PT. GIN", `["9","z","z","BCA","9.000"]`),
	}}

	entries, tablePages := newAssembler(pages, nil).Assemble(context.Background(), pages)

	assert.Equal(t, 2, tablePages)
	require.Len(t, entries, 2)
	assert.Equal(t, "PT. BPS", entries.Sections()[1].Company)
	assert.False(t, entries.HasGrandTotal(), "grand totals are stripped")
	assert.Equal(t, []int{0, 1}, pages.rendered)
}

func TestAssembler_GrandTotalOnFirstPage(t *testing.T) {
	pages := &fakePages{responses: []string{
		`[{"company": "PT. GIN", "table": [` + recapHeaderJSON + `,["1","a","b","BCA","1.000"]]}, {"grand_total": "1.000"}]`,
		recapPage("PT. GIN", `["2","c","d","BCA","2.000"]`),
	}}

	entries, tablePages := newAssembler(pages, nil).Assemble(context.Background(), pages)

	assert.Equal(t, 1, tablePages)
	assert.Len(t, entries, 1)
	assert.Equal(t, []int{0}, pages.rendered)
}

func TestAssembler_ClosingPhrase(t *testing.T) {
	pages := &fakePages{
		responses: []string{
			recapPage("PT. GIN", `["1","a","b","BCA","1.000"]`),
			`[]`,
			recapPage("PT. GIN", `["2","c","d","BCA","2.000"]`),
		},
		texts: []string{"", "Total Cek yang  mau dibuka = 1.000"},
	}

	entries, tablePages := newAssembler(pages, nil).Assemble(context.Background(), pages)

	assert.Equal(t, 2, tablePages, "closing phrase page belongs to the recap")
	assert.False(t, entries.HasGrandTotal())
	assert.Equal(t, []int{0, 1}, pages.rendered, "synthesized grand total ends assembly")
}

func TestAssembler_RunsUntilPagesExhausted(t *testing.T) {
	pages := &fakePages{responses: []string{
		recapPage("PT. GIN", `["1","a","b","BCA","1.000"]`),
		recapPage("", `["2","c","d","BCA","2.000"]`),
		recapPage("PT. BPS", `["1","e","f","BRI","3.000"]`),
	}}

	entries, tablePages := newAssembler(pages, nil).Assemble(context.Background(), pages)

	assert.Equal(t, 3, tablePages)
	require.Len(t, entries.Sections(), 2)
	assert.Len(t, entries.Sections()[0].Rows(), 2, "untitled continuation joins the previous section")
}

func TestAssembler_FailuresDegrade(t *testing.T) {
	t.Run("extraction error on later page ends recap", func(t *testing.T) {
		pages := &fakePages{responses: []string{recapPage("A", `["1","a","b","c","1"]`), "ERR"}}
		_, tablePages := newAssembler(pages, nil).Assemble(context.Background(), pages)
		assert.Equal(t, 1, tablePages)
	})

	t.Run("first page render failure still counts the page", func(t *testing.T) {
		pages := &fakePages{responses: []string{"[]", "[]"}, renderFail: map[int]bool{0: true}}
		entries, tablePages := newAssembler(pages, nil).Assemble(context.Background(), pages)
		assert.Equal(t, 1, tablePages)
		assert.Empty(t, entries)
	})

	t.Run("no pages", func(t *testing.T) {
		pages := &fakePages{}
		entries, tablePages := newAssembler(pages, nil).Assemble(context.Background(), pages)
		assert.Equal(t, 0, tablePages)
		assert.Empty(t, entries)
	})
}

func TestAssembler_RekapRetry(t *testing.T) {
	tests := []struct {
		name        string
		rekap       *fakeRekap
		wantRenders int
		wantCalls   int
	}{
		{"confident rekap page is re-extracted", &fakeRekap{verdict: llm.RekapVerdict{IsRekap: true, Confidence: 0.9}}, 2, 1},
		{"low confidence is not retried", &fakeRekap{verdict: llm.RekapVerdict{IsRekap: true, Confidence: 0.2}}, 2, 1},
		{"classifier failure means not rekap", &fakeRekap{err: errors.New("timeout")}, 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages := &fakePages{responses: []string{recapPage("A", `["1","a","b","c","1"]`), "not json"}}
			entries, tablePages := newAssembler(pages, tt.rekap).Assemble(context.Background(), pages)

			assert.Equal(t, 1, tablePages)
			assert.Len(t, entries, 1)
			assert.Len(t, pages.rendered, tt.wantRenders, "retry reuses the rendered image")
			assert.Equal(t, tt.wantCalls, tt.rekap.calls)
		})
	}
}

func TestIsContinuation(t *testing.T) {
	good, err := Parse(recapPage("X", `["1","a","b","c","1"]`))
	require.NoError(t, err)
	wide, err := Parse(`[{"company":"X","table":[["No","KETERANGAN","DIBAYAR KE","BANK","PENGIRIMAN","CATATAN"],["1","a","b","c","d","e"]]}]`)
	require.NoError(t, err)

	assert.True(t, IsContinuation(good))
	assert.True(t, IsContinuation(Entries{&GrandTotal{}}))
	assert.False(t, IsContinuation(wide))
	assert.False(t, IsContinuation(Entries{}))
	assert.True(t, HasClosingPhrase("TOTAL CEK YANG AKAN DIBUKA"))
	assert.False(t, HasClosingPhrase("total cek"))
}
