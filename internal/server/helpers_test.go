package server

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/rekap/internal/attach"
	"github.com/MeKo-Tech/rekap/internal/export"
	"github.com/MeKo-Tech/rekap/internal/pipeline"
	"github.com/MeKo-Tech/rekap/internal/recap"
)

// ingestCall records one call to fakeIngester.
type ingestCall struct {
	jobID    string
	content  string
	password string
}

// fakeIngester reports progress into the shared store like the real
// ingester does. When release is set, Ingest blocks on it.
type fakeIngester struct {
	progress *pipeline.ProgressStore
	release  chan struct{}
	err      error

	mu    sync.Mutex
	calls []ingestCall
}

func (f *fakeIngester) Ingest(ctx context.Context, jobID, path string) (*pipeline.Result, error) {
	data, _ := os.ReadFile(path) //nolint:gosec // G304: test upload
	password, _ := pipeline.PasswordFromContext(ctx)
	f.mu.Lock()
	f.calls = append(f.calls, ingestCall{jobID: jobID, content: string(data), password: password})
	f.mu.Unlock()

	f.progress.Report(jobID, 0, pipeline.StageStarted, nil)
	f.progress.Report(jobID, 40, pipeline.StageRecap, map[string]any{"page": 1})

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			f.progress.Report(jobID, 100, pipeline.FailedStage(ctx.Err()), nil)
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		f.progress.Report(jobID, 100, pipeline.FailedStage(f.err), nil)
		return nil, f.err
	}

	f.progress.Report(jobID, 100, pipeline.StageDone, map[string]any{"rows": 1, "attached": 1})
	return testResult(jobID, path), nil
}

func (f *fakeIngester) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testResult(jobID, path string) *pipeline.Result {
	header := []string{"No", "KETERANGAN", "DIBAYAR KE", "BANK", "PENGIRIMAN", recap.ReferenceColumn}
	return &pipeline.Result{
		JobID:  jobID,
		Source: path,
		Type:   pipeline.InputType(path),
		Entries: recap.Entries{
			&recap.Section{
				Company:  "PT MAJU",
				Table:    [][]string{header, {"1", "Sewa gudang", "CV Jaya", "BCA", "1.500.000", "AB12CD34"}},
				Subtotal: "1.500.000",
			},
			&recap.GrandTotal{GrandTotal: "1.500.000"},
		},
		TablePages: 1,
		TotalPages: 2,
		Mode:       attach.ModeMarker,
		Groups: []pipeline.AttachmentGroup{{
			ReferenceCode: "AB12CD34",
			Company:       "PT MAJU",
			Pages:         []pipeline.AttachedPage{{Index: 1, Identifier: "AB12CD3401", Confidence: 1, Source: attach.SourceText}},
		}},
		Unassigned: []int{},
	}
}

// testServer bundles a server with its collaborators.
type testServer struct {
	*Server
	ingester *fakeIngester
	writer   *export.Writer
	progress *pipeline.ProgressStore
	mux      *http.ServeMux
}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	progress := pipeline.NewProgressStore(0)
	ingester := &fakeIngester{progress: progress}
	writer := export.NewWriter(t.TempDir(), nil)

	cfg := Config{
		CORSOrigin:  "*",
		MaxUploadMB: 1,
		UploadDir:   t.TempDir(),
		Export:      export.Options{Workbook: true},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv := NewServer(cfg, ingester, writer, progress, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Close(ctx)
	})

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	return &testServer{Server: srv, ingester: ingester, writer: writer, progress: progress, mux: mux}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.mux.ServeHTTP(w, req)
	return w
}

// uploadRequest builds a POST /v1/jobs request with a file and extra fields.
func uploadRequest(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// waitJob blocks until the tracked job id has finished.
func waitJob(t *testing.T, s *Server, id string) {
	t.Helper()
	j := s.lookupJob(id)
	require.NotNil(t, j, "job %s is not tracked", id)
	select {
	case <-j.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("job %s did not finish", id)
	}
}
