package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/rekap/internal/attach"
	"github.com/MeKo-Tech/rekap/internal/llm"
	"github.com/MeKo-Tech/rekap/internal/pdf"
	"github.com/MeKo-Tech/rekap/internal/recap"
)

const twoRowRecap = `[{"company": "PT MAJU", "table": [
	["No","KETERANGAN","DIBAYAR KE","BANK","PENGIRIMAN"],
	["1","Sewa gudang","CV Jaya","BCA","1.500.000"],
	["2","Listrik","PLN","BRI","250.000"]
], "subtotal": ""}, {"grand_total": "1.750.000"}]`

type fakeDocument struct {
	texts    []string
	dir      string
	closed   bool
	renders  int
	extracts []int
}

func (d *fakeDocument) NumPages() int { return len(d.texts) }

func (d *fakeDocument) PageText(i int) (string, error) { return d.texts[i], nil }

func (d *fakeDocument) RenderPage(i int, _ pdf.RenderOptions) (string, func(), error) {
	d.renders++
	return fmt.Sprintf("page-%d.png", i), func() {}, nil
}

func (d *fakeDocument) ExtractSinglePage(i int) (string, func(), error) {
	d.extracts = append(d.extracts, i)
	path := filepath.Join(d.dir, fmt.Sprintf("single-%d.pdf", i))
	if err := os.WriteFile(path, []byte("%PDF-1.7"), 0o600); err != nil {
		return "", func() {}, err
	}
	return path, func() { _ = os.Remove(path) }, nil
}

func (d *fakeDocument) Close() error {
	d.closed = true
	return nil
}

// fakeModel answers table extraction by the page index in the image path.
type fakeModel struct {
	tables  map[int]string
	image   string
	stay    bool
	classes int
}

func (m *fakeModel) ExtractTable(_ context.Context, path string) (string, error) {
	var i int
	if _, err := fmt.Sscanf(filepath.Base(path), "page-%d.png", &i); err != nil {
		return m.image, nil
	}
	if body, ok := m.tables[i]; ok {
		return body, nil
	}
	return "[]", nil
}

func (m *fakeModel) ClassifyRekap(context.Context, string) (llm.RekapVerdict, error) {
	return llm.RekapVerdict{}, nil
}

func (m *fakeModel) ClassifyAttachment(context.Context, string, string, string) (llm.Decision, error) {
	m.classes++
	return llm.Decision{Stay: m.stay, Confidence: 0.9}, nil
}

func (m *fakeModel) ReadCornerMarker(context.Context, string) (llm.CornerMarker, error) {
	return llm.CornerMarker{}, nil
}

type fakeSaver struct {
	saved map[string]string
}

func (s *fakeSaver) SaveAttachment(jobID, identifier, src string) (string, error) {
	if _, err := os.Stat(src); err != nil {
		return "", err
	}
	if s.saved == nil {
		s.saved = map[string]string{}
	}
	s.saved[identifier] = jobID
	return identifier + ".pdf", nil
}

func touch(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	return path
}

func withDocument(in *Ingester, doc document) *Ingester {
	in.open = func(string, pdf.OpenOptions) (document, error) { return doc, nil }
	return in
}

func TestIngest_PDFMarkerMode(t *testing.T) {
	doc := &fakeDocument{texts: []string{"", "ALPHA-2", "", "alpha"}, dir: t.TempDir()}
	model := &fakeModel{tables: map[int]string{0: twoRowRecap}}
	saver := &fakeSaver{}
	store := NewProgressStore(0)

	in := withDocument(NewIngester(model, DefaultConfig(),
		WithAttachmentSaver(saver), WithProgress(store)), doc)

	res, err := in.Ingest(context.Background(), "job-1", touch(t, "doc.pdf"))
	require.NoError(t, err)

	assert.True(t, doc.closed)
	assert.Equal(t, TypePDF, res.Type)
	assert.Equal(t, 1, res.TablePages)
	assert.Equal(t, 4, res.TotalPages)
	assert.Equal(t, attach.ModeMarker, res.Mode)
	assert.Empty(t, res.Unassigned)
	assert.Zero(t, model.classes)

	require.Len(t, res.Groups, 2)
	first, second := res.Groups[0], res.Groups[1]
	assert.Len(t, first.ReferenceCode, recap.ReferenceCodeLength)
	assert.Equal(t, "PT MAJU", first.Company)
	require.Len(t, first.Pages, 2)
	assert.Equal(t, first.ReferenceCode+"01", first.Pages[0].Identifier)
	assert.Equal(t, first.ReferenceCode+"02", first.Pages[1].Identifier)
	assert.Equal(t, first.ReferenceCode+"02.pdf", first.Pages[1].File)
	assert.Equal(t, 1, first.Pages[0].Index)
	require.Len(t, second.Pages, 1)
	assert.Equal(t, 3, second.Pages[0].Index)

	assert.Len(t, saver.saved, 3)
	assert.Equal(t, []int{1, 2, 3}, doc.extracts)

	gt := res.Entries.GrandTotal()
	require.NotNil(t, gt, "totals are recalculated after assembly")
	assert.Equal(t, "1.750.000", gt.GrandTotal)
	assert.Equal(t, "1.750.000", res.Entries.Sections()[0].Subtotal)
	rows := res.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, first.ReferenceCode, rows[0].Cell(recap.ReferenceColumn))

	p := store.Get("job-1")
	assert.Equal(t, 100, p.Percent)
	assert.Equal(t, StageDone, p.Stage)
	assert.Equal(t, 3, p.Extra["attached"])
}

func TestIngest_PDFClassificationMode(t *testing.T) {
	doc := &fakeDocument{texts: []string{"", "invoice", "receipt"}, dir: t.TempDir()}
	model := &fakeModel{tables: map[int]string{0: twoRowRecap}, stay: true}

	in := withDocument(NewIngester(model, DefaultConfig()), doc)
	res, err := in.Ingest(context.Background(), "", touch(t, "doc.PDF"))
	require.NoError(t, err)

	assert.NotEmpty(t, res.JobID)
	assert.Equal(t, attach.ModeClassification, res.Mode)
	assert.Equal(t, 2, model.classes)
	require.Len(t, res.Groups, 2)
	assert.Len(t, res.Groups[0].Pages, 2)
	assert.Empty(t, res.Groups[0].Pages[0].File, "no saver configured")
	assert.Empty(t, doc.extracts)
}

func TestIngest_Image(t *testing.T) {
	model := &fakeModel{image: twoRowRecap}
	in := NewIngester(model, DefaultConfig())

	res, err := in.Ingest(context.Background(), "img", touch(t, "recap.jpg"))
	require.NoError(t, err)

	assert.Equal(t, TypeImage, res.Type)
	assert.Equal(t, attach.ModeNone, res.Mode)
	assert.Equal(t, 1, res.TablePages)
	require.Len(t, res.Groups, 2)
	assert.Empty(t, res.Groups[0].Pages)
	gt := res.Entries.GrandTotal()
	require.NotNil(t, gt)
	assert.Equal(t, "1.750.000", gt.GrandTotal)
}

func TestIngest_Failures(t *testing.T) {
	openErr := errors.New("broken xref")

	tests := []struct {
		name  string
		model Model
		path  func(t *testing.T) string
		open  openFunc
		want  error
	}{
		{
			name:  "no model",
			model: nil,
			path:  func(t *testing.T) string { return touch(t, "a.pdf") },
			want:  ErrNotConfigured,
		},
		{
			name:  "missing file",
			model: &fakeModel{},
			path:  func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.pdf") },
			want:  ErrFileNotFound,
		},
		{
			name:  "unsupported format",
			model: &fakeModel{},
			path:  func(t *testing.T) string { return touch(t, "notes.txt") },
			want:  ErrUnsupportedFormat,
		},
		{
			name:  "unopenable pdf",
			model: &fakeModel{},
			path:  func(t *testing.T) string { return touch(t, "a.pdf") },
			open:  func(string, pdf.OpenOptions) (document, error) { return nil, openErr },
			want:  openErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewProgressStore(0)
			in := NewIngester(tt.model, DefaultConfig(), WithProgress(store))
			if tt.open != nil {
				in.open = tt.open
			}

			res, err := in.Ingest(context.Background(), "job", tt.path(t))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, res)

			p := store.Get("job")
			assert.Equal(t, 100, p.Percent)
			assert.True(t, p.Failed(), p.Stage)
		})
	}
}

func TestIngest_PasswordFromContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password = "configured"

	var got []string
	in := NewIngester(&fakeModel{tables: map[int]string{0: twoRowRecap}}, cfg)
	in.open = func(_ string, opts pdf.OpenOptions) (document, error) {
		got = append(got, opts.Password)
		return &fakeDocument{texts: []string{""}, dir: t.TempDir()}, nil
	}

	path := touch(t, "doc.pdf")
	_, err := in.Ingest(context.Background(), "a", path)
	require.NoError(t, err)
	_, err = in.Ingest(WithPassword(context.Background(), "per-job"), "b", path)
	require.NoError(t, err)

	assert.Equal(t, []string{"configured", "per-job"}, got)
}

func TestAttachmentIdentifier(t *testing.T) {
	assert.Equal(t, "AB12CD3401", AttachmentIdentifier("AB12CD34", 1))
	assert.Equal(t, "AB12CD3412", AttachmentIdentifier("AB12CD34", 12))
}

func TestInputType(t *testing.T) {
	tests := map[string]string{
		"a.pdf":  TypePDF,
		"A.PDF":  TypePDF,
		"b.png":  TypeImage,
		"c.JPG":  TypeImage,
		"d.jpeg": TypeImage,
		"e.tiff": "",
		"noext":  "",
	}
	for path, want := range tests {
		assert.Equal(t, want, InputType(path), path)
	}
}
