package support

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/rekap/internal/export"
	"github.com/MeKo-Tech/rekap/internal/llm"
	"github.com/MeKo-Tech/rekap/internal/pipeline"
	"github.com/MeKo-Tech/rekap/internal/server"
)

// stubTable is the recap the stub model reads from every table page.
const stubTable = `[{"company": "PT MAJU", "table": [
	["No","KETERANGAN","DIBAYAR KE","BANK","PENGIRIMAN"],
	["1","Sewa gudang","CV Jaya","BCA","1.500.000"],
	["2","Listrik","PLN","BRI","250.000"]
], "subtotal": "1.750.000"}, {"grand_total": "1.750.000"}]`

// StubModel answers every vision call with fixed data.
type StubModel struct {
	fail atomic.Bool
}

// SetFailing makes every later call return an error.
func (m *StubModel) SetFailing(fail bool) { m.fail.Store(fail) }

func (m *StubModel) err(op string) error {
	if m.fail.Load() {
		return &llm.Error{Op: op, Kind: llm.KindTransport, Err: errors.New("stub model unavailable")}
	}
	return nil
}

// ExtractTable returns the stub recap.
func (m *StubModel) ExtractTable(context.Context, string) (string, error) {
	if err := m.err(llm.OpExtractTable); err != nil {
		return "", err
	}
	return stubTable, nil
}

// ClassifyRekap ends the recap after its first page.
func (m *StubModel) ClassifyRekap(context.Context, string) (llm.RekapVerdict, error) {
	return llm.RekapVerdict{IsRekap: false, Confidence: 0.9}, m.err(llm.OpClassifyRekap)
}

// ClassifyAttachment keeps pages with the current row.
func (m *StubModel) ClassifyAttachment(context.Context, string, string, string) (llm.Decision, error) {
	return llm.Decision{Stay: true, Confidence: 0.9}, m.err(llm.OpClassifyAttachment)
}

// ReadCornerMarker never finds a marker.
func (m *StubModel) ReadCornerMarker(context.Context, string) (llm.CornerMarker, error) {
	return llm.CornerMarker{}, m.err(llm.OpReadCornerMarker)
}

// HTTPTestServerWrapper runs the job API over a real ingester and writer.
type HTTPTestServerWrapper struct {
	Server    *httptest.Server
	JobServer *server.Server
	Writer    *export.Writer
	Model     *StubModel
}

// NewHTTPTestServer starts the job API with outputs below dir.
func NewHTTPTestServer(dir string, rl server.RateLimitConfig) *HTTPTestServerWrapper {
	logger := slog.New(slog.DiscardHandler)
	model := &StubModel{}
	writer := export.NewWriter(filepath.Join(dir, "output"), logger)
	progress := pipeline.NewProgressStore(time.Hour)

	ingester := pipeline.NewIngester(model, pipeline.DefaultConfig(),
		pipeline.WithAttachmentSaver(writer),
		pipeline.WithProgress(progress),
		pipeline.WithLogger(logger))

	jobServer := server.NewServer(server.Config{
		CORSOrigin:  "*",
		MaxUploadMB: 5,
		JobTimeout:  time.Minute,
		UploadDir:   dir,
		Export:      export.Options{Workbook: true},
		RateLimit:   rl,
	}, ingester, writer, progress, logger)

	mux := http.NewServeMux()
	jobServer.SetupRoutes(mux)

	return &HTTPTestServerWrapper{
		Server:    httptest.NewServer(mux),
		JobServer: jobServer,
		Writer:    writer,
		Model:     model,
	}
}

// URL returns the absolute URL of path.
func (w *HTTPTestServerWrapper) URL(path string) string {
	return w.Server.URL + path
}

// Close stops accepting requests and waits for running jobs.
func (w *HTTPTestServerWrapper) Close() error {
	w.Server.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return w.JobServer.Close(ctx)
}
