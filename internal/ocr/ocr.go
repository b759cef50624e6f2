// Package ocr runs local Tesseract OCR over page images.
//
// It wraps the Tesseract engine via gosseract, so libtesseract must be
// installed on the system (apt-get install tesseract-ocr libtesseract-dev).
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// Config controls recognition.
type Config struct {
	Language  string `json:"language"`   // Tesseract languages, "+" separated
	MinHeight int    `json:"min_height"` // images shorter than this are upscaled first
	TempDir   string `json:"temp_dir"`   // where preprocessed images are written
}

// DefaultConfig returns Indonesian plus English at a 1200px working height.
func DefaultConfig() Config {
	return Config{Language: "ind+eng", MinHeight: 1200}
}

// Engine recognizes text in images.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an engine.
func New(cfg Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.MinHeight <= 0 {
		cfg.MinHeight = def.MinHeight
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger}
}

// Recognize returns the text Tesseract reads from the image at path.
// The context is checked before the blocking engine call.
func (e *Engine) Recognize(ctx context.Context, path string) (string, error) {
	prepared, cleanup, err := Preprocess(path, e.cfg.TempDir, e.cfg.MinHeight)
	if err != nil {
		return "", err
	}
	defer cleanup()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer func() { _ = client.Close() }()

	if err := client.SetLanguage(strings.Split(e.cfg.Language, "+")...); err != nil {
		return "", fmt.Errorf("set ocr language %q: %w", e.cfg.Language, err)
	}
	if err := client.SetImage(prepared); err != nil {
		return "", fmt.Errorf("set ocr image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr error: %w", err)
	}

	e.logger.Debug("ocr complete", "image", path, "chars", len(text))
	return strings.TrimSpace(text), nil
}

// Preprocess writes a grayscale copy of the image at path into dir,
// upscaled to minHeight when shorter. The cleanup removes the copy.
func Preprocess(path, dir string, minHeight int) (string, func(), error) {
	img, err := imaging.Open(path)
	if err != nil {
		return "", func() {}, fmt.Errorf("open image: %w", err)
	}

	gray := imaging.Grayscale(img)
	if minHeight > 0 && gray.Bounds().Dy() < minHeight {
		gray = imaging.Resize(gray, 0, minHeight, imaging.Lanczos)
	}

	tmp, err := os.CreateTemp(dir, "ocr-*.png")
	if err != nil {
		return "", func() {}, fmt.Errorf("create ocr temp file: %w", err)
	}
	name := tmp.Name()
	_ = tmp.Close()
	cleanup := func() { _ = os.Remove(name) }

	if err := imaging.Save(gray, name); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("save preprocessed image: %w", err)
	}
	return name, cleanup, nil
}
