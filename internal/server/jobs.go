package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/rekap/internal/export"
	"github.com/MeKo-Tech/rekap/internal/pipeline"
)

// errJobRunning is returned when a job id is resubmitted while it runs.
var errJobRunning = errors.New("job is already running")

// job tracks one background ingestion. done is closed once err and files
// are final.
type job struct {
	id       string
	filename string
	done     chan struct{}
	err      error
	files    export.Files
	finished time.Time
}

func (j *job) finishedOK() (bool, error) {
	select {
	case <-j.done:
		return true, j.err
	default:
		return false, nil
	}
}

// lookupJob returns the tracked job for id, or nil.
func (s *Server) lookupJob(id string) *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// activeJobs counts jobs that have not finished.
func (s *Server) activeJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if done, _ := j.finishedOK(); !done {
			n++
		}
	}
	return n
}

// registerJob reserves id for a new run. Finished jobs older than the
// retention window are dropped.
func (s *Server) registerJob(id, filename string) (*job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.jobs[id]; ok {
		if done, _ := prev.finishedOK(); !done {
			return nil, fmt.Errorf("%w: %s", errJobRunning, id)
		}
	}

	cutoff := time.Now().Add(-s.retention)
	for key, j := range s.jobs {
		if done, _ := j.finishedOK(); done && j.finished.Before(cutoff) {
			delete(s.jobs, key)
		}
	}

	j := &job{id: id, filename: filename, done: make(chan struct{})}
	s.jobs[id] = j
	return j, nil
}

// stageUpload copies the uploaded file into a private directory, keeping the
// extension the ingester dispatches on.
func (s *Server) stageUpload(file multipart.File, filename string) (string, func(), error) {
	dir, err := os.MkdirTemp(s.uploadDir, "rekap-upload-*")
	if err != nil {
		return "", func() {}, fmt.Errorf("create upload dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	path := filepath.Join(dir, "input"+strings.ToLower(filepath.Ext(filename)))
	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // G304: path is inside our temp dir
	if err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("create upload file: %w", err)
	}
	n, err := io.Copy(out, file)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("store upload: %w", err)
	}
	uploadSizeBytes.Observe(float64(n))
	return path, cleanup, nil
}

// startJob runs the ingestion for j in the background.
func (s *Server) startJob(j *job, path, password string, cleanup func()) {
	s.wg.Add(1)
	jobsActive.Inc()
	go func() {
		defer s.wg.Done()
		defer jobsActive.Dec()

		files, err := s.runJob(j, path, password)
		cleanup()

		s.mu.Lock()
		j.err = err
		j.files = files
		j.finished = time.Now()
		s.mu.Unlock()
		close(j.done)
	}()
}

func (s *Server) runJob(j *job, path, password string) (export.Files, error) {
	ctx := s.ctx
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}
	if password != "" {
		ctx = pipeline.WithPassword(ctx, password)
	}

	logger := s.logger.With("job_id", j.id)
	// a reused id replaces the earlier run's outputs
	if err := s.results.Reset(j.id); err != nil {
		logger.Error("clearing job outputs failed", "error", err)
		s.progress.Report(j.id, 100, pipeline.FailedStage(err), nil)
		jobsFinished.WithLabelValues("failed").Inc()
		return export.Files{}, err
	}

	res, err := s.ingester.Ingest(ctx, j.id, path)
	if err != nil {
		jobsFinished.WithLabelValues("failed").Inc()
		return export.Files{}, err
	}

	res.Source = j.filename
	files, err := s.results.Write(res, s.exportOpts)
	if err != nil {
		logger.Error("saving job outputs failed", "error", err)
		s.progress.Report(j.id, 100, pipeline.FailedStage(err), nil)
		jobsFinished.WithLabelValues("failed").Inc()
		return files, err
	}

	jobsFinished.WithLabelValues("ok").Inc()
	logger.Info("job finished", "dir", files.Dir, "rows", len(res.Groups), "attached", res.AttachedCount())
	return files, nil
}
