package pdf

import (
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/disintegration/imaging"
)

// Raster encodings produced by the renderer.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)

// RenderOptions controls page rasterization.
type RenderOptions struct {
	DPI         float64 `json:"dpi"`
	Format      string  `json:"format"`       // primary encoding, png or jpeg
	JPEGQuality int     `json:"jpeg_quality"` // used for jpeg output, including the fallback
}

// DefaultRenderOptions returns PNG at 150 DPI with a JPEG fallback at quality 85.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{DPI: 150, Format: FormatPNG, JPEGQuality: 85}
}

// encodeFunc writes img to path in one format. Replaced in tests.
type encodeFunc func(img image.Image, path string, quality int) error

func encodePNG(img image.Image, path string, _ int) error {
	return imaging.Save(img, path)
}

func encodeJPEG(img image.Image, path string, quality int) error {
	return imaging.Save(img, path, imaging.JPEGQuality(quality))
}

// RenderPage rasterizes page index at opts.DPI into the scratch directory.
// When the primary encoder fails the page is written with the secondary
// lossy format instead and a warning is logged. The cleanup removes the file.
func (d *Document) RenderPage(index int, opts RenderOptions) (string, func(), error) {
	if err := d.checkIndex(index); err != nil {
		return "", noop, err
	}
	opts = normalizeRenderOptions(opts)

	img, err := d.raster.ImageDPI(index, opts.DPI)
	if err != nil {
		return "", noop, fmt.Errorf("rasterize page %d: %w", index+1, err)
	}

	return d.writeRaster(img, index, opts, encoderFor(opts.Format), encoderFor(fallbackFormat(opts.Format)))
}

func (d *Document) writeRaster(img image.Image, index int, opts RenderOptions, primary, secondary encodeFunc) (string, func(), error) {
	path, err := d.scratchFile(fmt.Sprintf("page-%04d-*.%s", index+1, extension(opts.Format)))
	if err != nil {
		return "", noop, fmt.Errorf("create raster file: %w", err)
	}

	err = primary(img, path, opts.JPEGQuality)
	if err == nil {
		return path, removeFunc(path), nil
	}
	_ = os.Remove(path)
	d.logger.Warn("primary raster encoding failed, using fallback",
		"page", index+1, "format", opts.Format, "fallback", fallbackFormat(opts.Format), "error", err)

	alt, err := d.scratchFile(fmt.Sprintf("page-%04d-*.%s", index+1, extension(fallbackFormat(opts.Format))))
	if err != nil {
		return "", noop, fmt.Errorf("create fallback raster file: %w", err)
	}
	if err := secondary(img, alt, opts.JPEGQuality); err != nil {
		_ = os.Remove(alt)
		return "", noop, fmt.Errorf("encode page %d: %w", index+1, err)
	}
	return alt, removeFunc(alt), nil
}

func normalizeRenderOptions(opts RenderOptions) RenderOptions {
	def := DefaultRenderOptions()
	if opts.DPI <= 0 {
		opts.DPI = def.DPI
	}
	opts.Format = strings.ToLower(opts.Format)
	if opts.Format == "jpg" {
		opts.Format = FormatJPEG
	}
	if opts.Format != FormatJPEG {
		opts.Format = FormatPNG
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = def.JPEGQuality
	}
	return opts
}

func encoderFor(format string) encodeFunc {
	if format == FormatJPEG {
		return encodeJPEG
	}
	return encodePNG
}

// fallbackFormat is the lossy secondary encoding. A JPEG primary falls back to PNG.
func fallbackFormat(format string) string {
	if format == FormatJPEG {
		return FormatPNG
	}
	return FormatJPEG
}

func extension(format string) string {
	if format == FormatJPEG {
		return "jpg"
	}
	return "png"
}
