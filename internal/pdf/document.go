package pdf

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var (
	// ErrPageOutOfRange is returned for a page index outside [0, NumPages).
	ErrPageOutOfRange = errors.New("page index out of range")

	// ErrEncrypted is returned when a protected PDF cannot be decrypted with the configured password.
	ErrEncrypted = errors.New("pdf is encrypted and could not be decrypted")
)

// OpenOptions configures how a document is opened.
type OpenOptions struct {
	// Password is used as both user and owner password for protected files.
	Password string
	// TempDir is the parent for the document's scoped scratch directory. Empty uses os.TempDir().
	TempDir string
	Logger  *slog.Logger
}

// Document is an open PDF with a scoped scratch directory.
// All files produced by RenderPage and ExtractSinglePage live below that
// directory and are removed by Close. Page indices are 0-based.
type Document struct {
	source  string // original path
	path    string // path actually read (decrypted copy for protected files)
	raster  *fitz.Document
	pages   int
	scratch string
	conf    *model.Configuration
	logger  *slog.Logger

	textOnce sync.Once
	text     *vectorText

	closeOnce sync.Once
}

// Open opens path for rendering and page extraction. Encrypted files are
// decrypted into the scratch directory using opts.Password.
func Open(path string, opts OpenOptions) (*Document, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open pdf %q: %w", path, err)
	}

	scratch, err := os.MkdirTemp(opts.TempDir, "rekap-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	d := &Document{
		source:  path,
		path:    path,
		scratch: scratch,
		conf:    newConfiguration(),
		logger:  logger,
	}

	handler := NewPasswordHandler(scratch)
	readable, err := handler.Decrypt(path, opts.Password)
	if err != nil {
		_ = os.RemoveAll(scratch)
		return nil, err
	}
	if readable != path {
		logger.Info("decrypted protected pdf", "file", path)
		d.path = readable
	}

	count, err := api.PageCountFile(d.path)
	if err != nil {
		_ = os.RemoveAll(scratch)
		return nil, fmt.Errorf("count pages of %q: %w", path, err)
	}
	d.pages = count

	raster, err := fitz.New(d.path)
	if err != nil {
		_ = os.RemoveAll(scratch)
		return nil, fmt.Errorf("open pdf for rendering %q: %w", path, err)
	}
	d.raster = raster

	return d, nil
}

// NumPages returns the page count.
func (d *Document) NumPages() int { return d.pages }

// Path returns the path of the source file passed to Open.
func (d *Document) Path() string { return d.source }

// ExtractSinglePage writes page index as a standalone PDF into the scratch
// directory. Content streams are copied without recompression. The returned
// cleanup removes the file and is safe to call more than once.
func (d *Document) ExtractSinglePage(index int) (string, func(), error) {
	if err := d.checkIndex(index); err != nil {
		return "", noop, err
	}

	out, err := os.CreateTemp(d.scratch, fmt.Sprintf("page-%04d-*.pdf", index+1))
	if err != nil {
		return "", noop, fmt.Errorf("create page file: %w", err)
	}
	outPath := out.Name()
	_ = out.Close()
	cleanup := removeFunc(outPath)

	selected := []string{strconv.Itoa(index + 1)}
	if err := api.TrimFile(d.path, outPath, selected, d.conf); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("extract page %d: %w", index+1, err)
	}
	return outPath, cleanup, nil
}

// PageText returns the embedded text of page index. Vector text is tried
// first; the raster engine's text layer is used when that yields nothing.
func (d *Document) PageText(index int) (string, error) {
	if err := d.checkIndex(index); err != nil {
		return "", err
	}

	d.textOnce.Do(func() {
		vt, err := openVectorText(d.path)
		if err != nil {
			d.logger.Debug("vector text unavailable", "file", d.source, "error", err)
			return
		}
		d.text = vt
	})

	if d.text != nil {
		if s, err := d.text.Page(index + 1); err == nil && s != "" {
			return s, nil
		}
	}

	s, err := d.raster.Text(index)
	if err != nil {
		return "", fmt.Errorf("page %d text: %w", index+1, err)
	}
	return s, nil
}

// Close releases the raster engine and removes the scratch directory.
func (d *Document) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.raster != nil {
			err = d.raster.Close()
		}
		if rmErr := os.RemoveAll(d.scratch); rmErr != nil && err == nil {
			err = rmErr
		}
	})
	return err
}

func (d *Document) checkIndex(index int) error {
	if index < 0 || index >= d.pages {
		return fmt.Errorf("%w: %d (pages: %d)", ErrPageOutOfRange, index, d.pages)
	}
	return nil
}

func (d *Document) scratchFile(pattern string) (string, error) {
	f, err := os.CreateTemp(d.scratch, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	_ = f.Close()
	return filepath.Clean(name), nil
}

// PageCount returns the number of pages in the PDF at path.
func PageCount(path string) (int, error) {
	return api.PageCountFile(path)
}

func newConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func removeFunc(path string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { _ = os.Remove(path) })
	}
}

func noop() {}
