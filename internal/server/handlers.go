package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/rekap/internal/export"
	"github.com/MeKo-Tech/rekap/internal/pipeline"
	"github.com/MeKo-Tech/rekap/internal/version"
)

const (
	jobStatusAccepted = "accepted"
	jobStatusRunning  = "running"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:     "healthy",
		Version:    version.Version,
		Time:       time.Now().UTC().Format(time.RFC3339),
		ActiveJobs: s.activeJobs(),
	}
	s.writeJSON(w, http.StatusOK, response)
}

// submitJobHandler accepts a multipart upload and starts its ingestion.
func (s *Server) submitJobHandler(w http.ResponseWriter, r *http.Request) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		} else {
			s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		}
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeErrorResponse(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	if pipeline.InputType(header.Filename) == "" {
		s.writeErrorResponse(w, fmt.Sprintf("Unsupported file type %q (expected PDF, PNG or JPEG)",
			filepath.Ext(header.Filename)), http.StatusUnsupportedMediaType)
		return
	}

	jobID := strings.TrimSpace(r.FormValue("job_id"))
	if jobID == "" {
		jobID = uuid.NewString()
	}
	if _, err := s.results.JobDir(jobID); err != nil {
		s.writeErrorResponse(w, "Invalid job_id", http.StatusBadRequest)
		return
	}

	j, err := s.registerJob(jobID, filepath.Base(header.Filename))
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusConflict)
		return
	}

	path, cleanup, err := s.stageUpload(file, header.Filename)
	if err != nil {
		s.logger.Error("staging upload failed", "job_id", jobID, "error", err)
		s.failJob(j, err)
		s.writeErrorResponse(w, "Failed to store upload", http.StatusInternalServerError)
		return
	}

	s.progress.Report(jobID, 0, pipeline.StagePending, map[string]any{"file": j.filename})
	s.startJob(j, path, r.FormValue("password"), cleanup)
	s.logger.Info("job accepted", "job_id", jobID, "file", j.filename, "size", header.Size)

	base := "/v1/jobs/" + jobID
	s.writeJSON(w, http.StatusAccepted, JobResponse{
		JobID:        jobID,
		Status:       jobStatusAccepted,
		ProgressURL:  base + "/progress",
		ResultURL:    base + "/result",
		WebSocketURL: base + "/ws",
	})
}

// failJob finishes a registered job that never started.
func (s *Server) failJob(j *job, err error) {
	s.mu.Lock()
	j.err = err
	j.finished = time.Now()
	s.mu.Unlock()
	close(j.done)
	s.progress.Report(j.id, 100, pipeline.FailedStage(err), nil)
}

// progressHandler returns the latest progress; unknown ids read as pending.
func (s *Server) progressHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.progress.Get(r.PathValue("id")))
}

// resultHandler returns the job manifest once the job has finished.
func (s *Server) resultHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if j := s.lookupJob(id); j != nil {
		done, err := j.finishedOK()
		if !done {
			s.writeJSON(w, http.StatusAccepted, struct {
				JobID    string            `json:"job_id"`
				Status   string            `json:"status"`
				Progress pipeline.Progress `json:"progress"`
			}{JobID: id, Status: jobStatusRunning, Progress: s.progress.Get(id)})
			return
		}
		if err != nil {
			s.writeErrorResponse(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
	}

	res, err := s.results.Manifest(id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.writeErrorResponse(w, "Job not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, export.ErrInvalidName) {
			s.writeErrorResponse(w, "Invalid job id", http.StatusBadRequest)
			return
		}
		s.logger.Error("reading manifest failed", "job_id", id, "error", err)
		s.writeErrorResponse(w, "Failed to read result", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// writeJSON writes v as a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}
