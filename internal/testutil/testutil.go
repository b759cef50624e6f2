package testutil

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/stretchr/testify/require"
)

// GetProjectRoot returns the project root directory by finding go.mod.
func GetProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("failed to get caller information")
	}
	dir := filepath.Dir(filename)

	// Walk up the directory tree to find go.mod
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("could not find go.mod file starting from %s", filepath.Dir(filename))
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// PageImage returns a blank page-like image with a dark block in the top-right
// corner where printed markers usually sit.
func PageImage(width, height int) image.Image {
	img := imaging.New(width, height, color.White)
	corner := imaging.New(width/5, height/10, color.Black)
	return imaging.Paste(img, corner, image.Pt(width-width/5, 0))
}

// WriteImage saves img under dir with name and returns the path.
func WriteImage(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, imaging.Save(img, path))
	return path
}

// WritePDF builds a PDF with one image page per entry in pages and returns its path.
func WritePDF(t *testing.T, dir string, pages int) string {
	t.Helper()
	require.Positive(t, pages)

	imgs := make([]string, 0, pages)
	for i := range pages {
		imgs = append(imgs, WriteImage(t, dir, fmt.Sprintf("page-%02d.png", i+1), PageImage(200, 280)))
	}

	out := filepath.Join(dir, "document.pdf")
	conf := model.NewDefaultConfiguration()
	require.NoError(t, api.ImportImagesFile(imgs, out, pdfcpu.DefaultImportConfig(), conf))
	return out
}
