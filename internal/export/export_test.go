package export

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/MeKo-Tech/rekap/internal/attach"
	"github.com/MeKo-Tech/rekap/internal/pipeline"
	"github.com/MeKo-Tech/rekap/internal/recap"
)

func sampleResult() *pipeline.Result {
	header := []string{"No", "KETERANGAN", "DIBAYAR KE", "BANK", "PENGIRIMAN", recap.ReferenceColumn}
	entries := recap.Entries{
		&recap.Section{
			Company: "PT MAJU",
			Table: [][]string{
				header,
				{"1", "Sewa gudang", "CV Jaya", "BCA", "1.500.000", "AAAA1111"},
				{"2", "Listrik", "PLN", "BRI", "250.000", "BBBB2222"},
			},
			Subtotal: "1.750.000",
		},
		&recap.Section{
			Company:  "CV SENTOSA",
			Table:    [][]string{header, {"1", "Air", "PDAM", "BNI", "100.000", "CCCC3333"}},
			Subtotal: "100.000",
		},
		&recap.GrandTotal{GrandTotal: "1.850.000"},
	}
	return &pipeline.Result{
		JobID:      "job-42",
		Source:     "doc.pdf",
		Type:       pipeline.TypePDF,
		Entries:    entries,
		TablePages: 1,
		TotalPages: 5,
		Mode:       attach.ModeMarker,
		Groups: []pipeline.AttachmentGroup{
			{ReferenceCode: "AAAA1111", Item: 0, Company: "PT MAJU", Pages: []pipeline.AttachedPage{
				{Index: 1, Identifier: "AAAA111101", File: "AAAA111101.pdf", Confidence: 1, Source: attach.SourceText},
				{Index: 2, Identifier: "AAAA111102", File: "AAAA111102.pdf", Confidence: 1, Source: attach.SourceFollow},
			}},
			{ReferenceCode: "BBBB2222", Item: 1, Company: "PT MAJU", Pages: []pipeline.AttachedPage{}},
			{ReferenceCode: "CCCC3333", Item: 2, Company: "CV SENTOSA", Pages: []pipeline.AttachedPage{
				{Index: 4, Identifier: "CCCC333301", Confidence: 1, Source: attach.SourceText},
			}},
		},
		Unassigned:  []int{3},
		BudgetSpent: 1,
	}
}

func TestWorkbook(t *testing.T) {
	data, err := Workbook(sampleResult())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{RecapSheet, AttachmentsSheet}, f.GetSheetList())

	rows, err := f.GetRows(RecapSheet)
	require.NoError(t, err)
	require.Len(t, rows, 7)
	assert.Equal(t, []string{"SECTION", "COMPANY", "No", "KETERANGAN", "DIBAYAR KE", "BANK", "PENGIRIMAN", recap.ReferenceColumn, PagesColumn}, rows[0])
	assert.Equal(t, []string{"1", "PT MAJU", "1", "Sewa gudang", "CV Jaya", "BCA", "1.500.000", "AAAA1111", "2"}, rows[1])
	assert.Equal(t, "0", rows[2][8])
	assert.Equal(t, "1", rows[4][8])
	assert.Equal(t, "SUBTOTAL", rows[3][2])
	assert.Equal(t, "1.750.000", rows[3][6])
	assert.Equal(t, "CV SENTOSA", rows[4][1])
	assert.Equal(t, "GRAND TOTAL", rows[6][2])
	assert.Equal(t, "1.850.000", rows[6][6])

	att, err := f.GetRows(AttachmentsSheet)
	require.NoError(t, err)
	require.Len(t, att, 5)
	assert.Equal(t, "AAAA111101", att[1][3])
	assert.Equal(t, "2", att[1][4], "pages are 1-based in the sheet")
	assert.Equal(t, "UNASSIGNED", att[4][3])
	assert.Equal(t, "4", att[4][4])
}

func TestRecapColumns(t *testing.T) {
	entries := recap.Entries{
		&recap.Section{Table: [][]string{{"A", recap.ReferenceColumn, "B"}}},
		&recap.Section{Table: [][]string{{"B", "C"}}},
	}
	assert.Equal(t, []string{"A", "B", "C", recap.ReferenceColumn}, recapColumns(entries))
}

func TestWriter_WriteAndReadManifest(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, nil)
	res := sampleResult()

	files, err := w.Write(res, Options{Workbook: true})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "job-42"), files.Dir)
	assert.FileExists(t, files.Manifest)
	assert.FileExists(t, files.Workbook)

	got, err := w.Manifest("job-42")
	require.NoError(t, err)
	assert.Equal(t, res.JobID, got.JobID)
	assert.Equal(t, res.Mode, got.Mode)
	assert.Equal(t, res.Groups, got.Groups)
	assert.Equal(t, res.Unassigned, got.Unassigned)
	require.Len(t, got.Entries.Sections(), 2)
	assert.Equal(t, "CCCC3333", got.Rows()[2].ReferenceCode)
	require.NotNil(t, got.Entries.GrandTotal())
	assert.Equal(t, "1.850.000", got.Entries.GrandTotal().GrandTotal)
}

func TestWriter_WithoutWorkbook(t *testing.T) {
	w := NewWriter(t.TempDir(), nil)

	files, err := w.Write(sampleResult(), Options{})
	require.NoError(t, err)
	assert.Empty(t, files.Workbook)
	assert.NoFileExists(t, filepath.Join(files.Dir, WorkbookName))
}

func TestWriter_SaveAttachment(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(t.TempDir(), "page.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.7 page"), 0o600))

	w := NewWriter(root, nil)
	name, err := w.SaveAttachment("job-1", "AAAA111101", src)
	require.NoError(t, err)
	assert.Equal(t, "AAAA111101.pdf", name)

	data, err := os.ReadFile(filepath.Join(root, "job-1", name))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 page", string(data))
}

func TestWriter_Reset(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, nil)
	src := filepath.Join(t.TempDir(), "page.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.7 page"), 0o600))

	_, err := w.SaveAttachment("job-1", "AAAA111101", src)
	require.NoError(t, err)
	_, err = w.SaveAttachment("job-2", "BBBB222201", src)
	require.NoError(t, err)

	require.NoError(t, w.Reset("job-1"))
	assert.NoDirExists(t, filepath.Join(root, "job-1"))
	assert.FileExists(t, filepath.Join(root, "job-2", "BBBB222201.pdf"))

	require.NoError(t, w.Reset("never-ran"))
	assert.ErrorIs(t, w.Reset("../escape"), ErrInvalidName)
}

func TestWriter_RejectsUnsafeNames(t *testing.T) {
	w := NewWriter(t.TempDir(), nil)

	tests := []struct {
		name  string
		job   string
		ident string
	}{
		{"traversal job", "../escape", "AAAA111101"},
		{"empty job", "", "AAAA111101"},
		{"slash identifier", "job", "a/b"},
		{"dot identifier", "job", ".."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := w.SaveAttachment(tt.job, tt.ident, "unused")
			assert.ErrorIs(t, err, ErrInvalidName)
		})
	}
}
