// Package server exposes ingestion as an HTTP job API: uploads start a job in
// the background, progress can be polled or streamed over a websocket, and
// the finished manifest is served from the job's output directory.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/rekap/internal/export"
	"github.com/MeKo-Tech/rekap/internal/pipeline"
)

// Ingester runs one ingestion.
type Ingester interface {
	Ingest(ctx context.Context, jobID, path string) (*pipeline.Result, error)
}

// ResultStore persists finished jobs and reads them back.
type ResultStore interface {
	JobDir(jobID string) (string, error)
	Reset(jobID string) error
	Write(res *pipeline.Result, opts export.Options) (export.Files, error)
	Manifest(jobID string) (*pipeline.Result, error)
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	ingester    Ingester
	results     ResultStore
	progress    *pipeline.ProgressStore
	rateLimiter *RateLimiter
	exportOpts  export.Options
	corsOrigin  string
	maxUploadMB int64
	jobTimeout  time.Duration
	uploadDir   string
	retention   time.Duration
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	jobs map[string]*job
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	JobTimeout  time.Duration
	// UploadDir receives uploads while their job runs. Empty uses os.TempDir.
	UploadDir string
	// Retention is how long finished jobs stay in memory. Their manifests
	// remain readable from the result store afterwards.
	Retention time.Duration
	Export    export.Options
	RateLimit RateLimitConfig
}

// RateLimitConfig bounds job submissions per client. Zero disables a limit.
type RateLimitConfig struct {
	JobsPerMinute  int
	JobsPerHour    int
	MaxBytesPerDay int64
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version,omitempty"`
	Time       string `json:"time"`
	ActiveJobs int    `json:"active_jobs"`
}

// JobResponse is returned when a job is accepted.
type JobResponse struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	ProgressURL  string `json:"progress_url"`
	ResultURL    string `json:"result_url"`
	WebSocketURL string `json:"websocket_url"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// NewServer creates a server. progress must be the store the ingester
// reports to; nil creates a private one.
func NewServer(cfg Config, ingester Ingester, results ResultStore, progress *pipeline.ProgressStore, logger *slog.Logger) *Server {
	if progress == nil {
		progress = pipeline.NewProgressStore(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = pipeline.DefaultProgressTTL
	}

	var limiter *RateLimiter
	if rl := cfg.RateLimit; rl.JobsPerMinute > 0 || rl.JobsPerHour > 0 || rl.MaxBytesPerDay > 0 {
		limiter = NewRateLimiter(rl.JobsPerMinute, rl.JobsPerHour, rl.MaxBytesPerDay)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ingester:    ingester,
		results:     results,
		progress:    progress,
		rateLimiter: limiter,
		exportOpts:  cfg.Export,
		corsOrigin:  cfg.CORSOrigin,
		maxUploadMB: cfg.MaxUploadMB,
		jobTimeout:  cfg.JobTimeout,
		uploadDir:   cfg.UploadDir,
		retention:   cfg.Retention,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		jobs:        make(map[string]*job),
	}
}

// Close waits for running jobs until ctx is done, then cancels them.
func (s *Server) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("POST /v1/jobs", s.corsMiddleware(s.rateLimitMiddleware(s.submitJobHandler)))
	mux.HandleFunc("GET /v1/jobs/{id}/progress", s.corsMiddleware(s.progressHandler))
	mux.HandleFunc("GET /v1/jobs/{id}/result", s.corsMiddleware(s.resultHandler))
	mux.HandleFunc("GET /v1/jobs/{id}/ws", s.corsMiddleware(s.progressWebSocketHandler))
	mux.HandleFunc("OPTIONS /v1/", s.corsMiddleware(func(http.ResponseWriter, *http.Request) {}))
	mux.Handle("GET /metrics", promhttp.Handler())
}
