// Package export writes an ingestion's outputs to its job directory: the
// result manifest, one PDF per attached page and the recap workbook.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/MeKo-Tech/rekap/internal/pipeline"
)

// File names inside a job directory.
const (
	ManifestName = "result.json"
	WorkbookName = "recap.xlsx"
)

// ErrInvalidName is returned for job ids or identifiers that are not a
// single safe path element.
var ErrInvalidName = errors.New("invalid file name")

var safeName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Writer stores job outputs below root, one directory per job.
type Writer struct {
	root   string
	logger *slog.Logger
}

// NewWriter creates a writer rooted at root.
func NewWriter(root string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{root: root, logger: logger}
}

// Options selects the optional outputs.
type Options struct {
	Workbook bool
}

// Files lists what Write produced.
type Files struct {
	Dir      string `json:"dir"`
	Manifest string `json:"manifest"`
	Workbook string `json:"workbook,omitempty"`
}

// JobDir returns the directory for jobID.
func (w *Writer) JobDir(jobID string) (string, error) {
	if !safeName.MatchString(jobID) {
		return "", fmt.Errorf("%w: job id %q", ErrInvalidName, jobID)
	}
	return filepath.Join(w.root, jobID), nil
}

// Reset removes every output stored for jobID so a rerun starts empty.
func (w *Writer) Reset(jobID string) error {
	dir, err := w.JobDir(jobID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear job dir: %w", err)
	}
	return nil
}

// SaveAttachment copies the single-page PDF at src to <identifier>.pdf in the
// job directory and returns the file name relative to it.
func (w *Writer) SaveAttachment(jobID, identifier, src string) (string, error) {
	if !safeName.MatchString(identifier) {
		return "", fmt.Errorf("%w: identifier %q", ErrInvalidName, identifier)
	}
	dir, err := w.ensureJobDir(jobID)
	if err != nil {
		return "", err
	}
	name := identifier + ".pdf"
	if err := copyFile(src, filepath.Join(dir, name)); err != nil {
		return "", fmt.Errorf("save attachment %s: %w", identifier, err)
	}
	return name, nil
}

// Write stores the manifest and, when requested, the workbook.
func (w *Writer) Write(res *pipeline.Result, opts Options) (Files, error) {
	dir, err := w.ensureJobDir(res.JobID)
	if err != nil {
		return Files{}, err
	}
	files := Files{Dir: dir}

	files.Manifest, err = WriteManifest(dir, res)
	if err != nil {
		return files, err
	}
	if opts.Workbook {
		files.Workbook, err = WriteWorkbook(dir, res)
		if err != nil {
			return files, err
		}
	}

	w.logger.Info("job outputs written", "job_id", res.JobID, "dir", dir,
		"workbook", files.Workbook != "", "attached", res.AttachedCount())
	return files, nil
}

// Manifest reads the stored manifest for jobID.
func (w *Writer) Manifest(jobID string) (*pipeline.Result, error) {
	dir, err := w.JobDir(jobID)
	if err != nil {
		return nil, err
	}
	return ReadManifest(filepath.Join(dir, ManifestName))
}

func (w *Writer) ensureJobDir(jobID string) (string, error) {
	dir, err := w.JobDir(jobID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	return dir, nil
}

// WriteManifest writes res as indented JSON to dir/result.json.
func WriteManifest(dir string, res *pipeline.Result) (string, error) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestName)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (*pipeline.Result, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is built from a validated job id
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var res pipeline.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &res, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // G304: src is a scratch file owned by the document
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) //nolint:gosec // G304: dst is inside the job dir
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
