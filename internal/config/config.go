package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/rekap/internal/attach"
	"github.com/MeKo-Tech/rekap/internal/export"
	"github.com/MeKo-Tech/rekap/internal/llm/openai"
	"github.com/MeKo-Tech/rekap/internal/marker"
	"github.com/MeKo-Tech/rekap/internal/ocr"
	"github.com/MeKo-Tech/rekap/internal/pdf"
	"github.com/MeKo-Tech/rekap/internal/pipeline"
	"github.com/MeKo-Tech/rekap/internal/recap"
)

// DefaultConfig returns a configuration with the tuned defaults of every stage.
func DefaultConfig() Config {
	render := pdf.DefaultRenderOptions()
	ocrCfg := ocr.DefaultConfig()
	markerCfg := marker.DefaultConfig()
	segment := attach.DefaultConfig()

	return Config{
		LogLevel: "info",
		Verbose:  false,
		Model: ModelConfig{
			Name:        "gpt-4o",
			Temperature: 0,
			TimeoutSec:  60,
			ImageDetail: "auto",
		},
		Render: RenderConfig{
			DPI:         render.DPI,
			Format:      render.Format,
			JPEGQuality: render.JPEGQuality,
		},
		OCR: OCRConfig{
			Enabled:   true,
			Language:  ocrCfg.Language,
			MinHeight: ocrCfg.MinHeight,
		},
		Marker: MarkerConfig{
			CornerWidth:  markerCfg.CornerWidth,
			CornerHeight: markerCfg.CornerHeight,
		},
		Segment: SegmentConfig{
			ProbeWindow:            segment.ProbeWindow,
			DeepProbePages:         segment.DeepProbePages,
			OCRBudget:              segment.OCRBudget,
			AlphaPlainPolicy:       string(segment.PlainAlpha),
			LowConfidenceThreshold: segment.LowConfidence,
			HintMaxLen:             segment.HintMaxLen,
		},
		Recap: RecapConfig{
			RekapConfidence: recap.DefaultAssemblerConfig().RekapConfidence,
		},
		Output: OutputConfig{
			Dir:              "output",
			Workbook:         true,
			ProgressInterval: 250 * time.Millisecond,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			JobTimeoutSec:   1800,
			ProgressTTL:     pipeline.DefaultProgressTTL,
			JobsPerMinute:   10,
			JobsPerHour:     120,
		},
	}
}

// Validate validates the configuration and returns the first problem found.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("invalid model.temperature: %.2f (must be between 0 and 2)", c.Model.Temperature)
	}
	if c.Model.TimeoutSec <= 0 {
		return fmt.Errorf("invalid model.timeout_sec: %d (must be positive)", c.Model.TimeoutSec)
	}
	validDetails := []string{"auto", "low", "high"}
	if c.Model.ImageDetail != "" && !slices.Contains(validDetails, c.Model.ImageDetail) {
		return fmt.Errorf("invalid model.image_detail: %s (must be one of: %s)", c.Model.ImageDetail, strings.Join(validDetails, ", "))
	}

	if c.Render.DPI < 36 || c.Render.DPI > 600 {
		return fmt.Errorf("invalid render.dpi: %.0f (must be between 36 and 600)", c.Render.DPI)
	}
	validFormats := []string{pdf.FormatPNG, pdf.FormatJPEG, "jpg"}
	if !slices.Contains(validFormats, strings.ToLower(c.Render.Format)) {
		return fmt.Errorf("invalid render.format: %s (must be one of: %s)", c.Render.Format, strings.Join(validFormats, ", "))
	}
	if c.Render.JPEGQuality < 1 || c.Render.JPEGQuality > 100 {
		return fmt.Errorf("invalid render.jpeg_quality: %d (must be between 1 and 100)", c.Render.JPEGQuality)
	}

	if err := validateFraction(c.Marker.CornerWidth, "marker.corner_width"); err != nil {
		return err
	}
	if err := validateFraction(c.Marker.CornerHeight, "marker.corner_height"); err != nil {
		return err
	}

	if c.Segment.ProbeWindow < 0 {
		return fmt.Errorf("invalid segment.probe_window: %d (must not be negative)", c.Segment.ProbeWindow)
	}
	if c.Segment.OCRBudget < 0 {
		return fmt.Errorf("invalid segment.ocr_budget: %d (must not be negative)", c.Segment.OCRBudget)
	}
	for _, p := range c.Segment.DeepProbePages {
		if p < 1 {
			return fmt.Errorf("invalid segment.deep_probe_pages entry: %d (must be positive)", p)
		}
	}
	validPolicies := []string{string(attach.UntilBeta), string(attach.SinglePage)}
	if !slices.Contains(validPolicies, c.Segment.AlphaPlainPolicy) {
		return fmt.Errorf("invalid segment.alpha_plain_policy: %s (must be one of: %s)", c.Segment.AlphaPlainPolicy, strings.Join(validPolicies, ", "))
	}
	if err := validateThreshold(c.Segment.LowConfidenceThreshold, "segment.low_confidence_threshold"); err != nil {
		return err
	}
	if c.Segment.HintMaxLen < 0 {
		return fmt.Errorf("invalid segment.hint_max_len: %d (must not be negative)", c.Segment.HintMaxLen)
	}
	if err := validateThreshold(c.Recap.RekapConfidence, "recap.rekap_confidence"); err != nil {
		return err
	}

	if c.Output.ProgressInterval < 0 {
		return fmt.Errorf("invalid output.progress_interval: %s (must not be negative)", c.Output.ProgressInterval)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.JobsPerMinute < 0 || c.Server.JobsPerHour < 0 || c.Server.MaxUploadMBPerDay < 0 {
		return errors.New("invalid server rate limits: must not be negative")
	}
	if c.Server.ProgressTTL < time.Minute {
		return fmt.Errorf("invalid server.progress_ttl: %s (must be at least 1m)", c.Server.ProgressTTL)
	}

	return nil
}

// ToPipelineConfig converts the config to the ingester configuration.
func (c *Config) ToPipelineConfig() pipeline.Config {
	return pipeline.Config{
		Render: pdf.RenderOptions{
			DPI:         c.Render.DPI,
			Format:      c.Render.Format,
			JPEGQuality: c.Render.JPEGQuality,
		},
		Password: c.PDF.Password,
		TempDir:  c.TempDir,
		Recap:    recap.AssemblerConfig{RekapConfidence: c.Recap.RekapConfidence},
		Segment:  c.toSegmentConfig(),
		Marker: marker.Config{
			CornerWidth:  c.Marker.CornerWidth,
			CornerHeight: c.Marker.CornerHeight,
			TempDir:      c.TempDir,
		},
	}
}

// toSegmentConfig converts to attach.Config.
func (c *Config) toSegmentConfig() attach.Config {
	return attach.Config{
		ProbeWindow:    c.Segment.ProbeWindow,
		DeepProbePages: slices.Clone(c.Segment.DeepProbePages),
		OCRBudget:      c.Segment.OCRBudget,
		PlainAlpha:     attach.PlainAlphaPolicy(c.Segment.AlphaPlainPolicy),
		LowConfidence:  c.Segment.LowConfidenceThreshold,
		HintMaxLen:     c.Segment.HintMaxLen,
	}
}

// ToOpenAIConfig converts to the vision client configuration.
func (c *Config) ToOpenAIConfig() openai.Config {
	return openai.Config{
		APIKey:      c.Model.APIKey,
		BaseURL:     c.Model.BaseURL,
		Model:       c.Model.Name,
		Temperature: c.Model.Temperature,
		Timeout:     time.Duration(c.Model.TimeoutSec) * time.Second,
		ImageDetail: c.Model.ImageDetail,
	}
}

// ToOCRConfig converts to ocr.Config.
func (c *Config) ToOCRConfig() ocr.Config {
	return ocr.Config{
		Language:  c.OCR.Language,
		MinHeight: c.OCR.MinHeight,
		TempDir:   c.TempDir,
	}
}

// ToExportOptions converts to export.Options.
func (c *Config) ToExportOptions() export.Options {
	return export.Options{Workbook: c.Output.Workbook}
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() Config {
	out := *c
	if out.Model.APIKey != "" {
		out.Model.APIKey = "***"
	}
	if out.PDF.Password != "" {
		out.PDF.Password = "***"
	}
	out.Segment.DeepProbePages = slices.Clone(c.Segment.DeepProbePages)
	return out
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

// validateFraction validates that a value is in (0, 1].
func validateFraction(value float64, name string) error {
	if value <= 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be in (0, 1])", name, value)
	}
	return nil
}
