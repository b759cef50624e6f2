//nolint:lll
package config

import "time"

// Config is the complete configuration of the rekap application. It is
// loaded from a config file, REKAP_* environment variables and command-line
// flags, in increasing order of precedence.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`
	TempDir  string `mapstructure:"temp_dir" yaml:"temp_dir" json:"temp_dir"`

	// External vision model
	Model ModelConfig `mapstructure:"model" yaml:"model" json:"model"`

	// Page rasterization
	Render RenderConfig `mapstructure:"render" yaml:"render" json:"render"`

	// Local OCR for marker detection
	OCR OCRConfig `mapstructure:"ocr" yaml:"ocr" json:"ocr"`

	// Corner marker crop
	Marker MarkerConfig `mapstructure:"marker" yaml:"marker" json:"marker"`

	// Attachment segmentation
	Segment SegmentConfig `mapstructure:"segment" yaml:"segment" json:"segment"`

	// Recap assembly
	Recap RecapConfig `mapstructure:"recap" yaml:"recap" json:"recap"`

	// Protected PDFs
	PDF PDFConfig `mapstructure:"pdf" yaml:"pdf" json:"pdf"`

	// Job outputs
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// ModelConfig selects the OpenAI-compatible vision endpoint.
type ModelConfig struct {
	APIKey      string  `mapstructure:"api_key" yaml:"api_key" json:"-"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	Name        string  `mapstructure:"name" yaml:"name" json:"name"`
	Temperature float32 `mapstructure:"temperature" yaml:"temperature" json:"temperature"`
	TimeoutSec  int     `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ImageDetail string  `mapstructure:"image_detail" yaml:"image_detail" json:"image_detail"`
}

// RenderConfig controls page rasterization.
type RenderConfig struct {
	DPI         float64 `mapstructure:"dpi" yaml:"dpi" json:"dpi"`
	Format      string  `mapstructure:"format" yaml:"format" json:"format"`
	JPEGQuality int     `mapstructure:"jpeg_quality" yaml:"jpeg_quality" json:"jpeg_quality"`
}

// OCRConfig controls the local Tesseract tier.
type OCRConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Language  string `mapstructure:"language" yaml:"language" json:"language"`
	MinHeight int    `mapstructure:"min_height" yaml:"min_height" json:"min_height"`
}

// MarkerConfig sizes the top-right crop sent to the model.
type MarkerConfig struct {
	CornerWidth  float64 `mapstructure:"corner_width" yaml:"corner_width" json:"corner_width"`
	CornerHeight float64 `mapstructure:"corner_height" yaml:"corner_height" json:"corner_height"`
}

// SegmentConfig holds the attachment walk tuning constants.
type SegmentConfig struct {
	ProbeWindow            int     `mapstructure:"probe_window" yaml:"probe_window" json:"probe_window"`
	DeepProbePages         []int   `mapstructure:"deep_probe_pages" yaml:"deep_probe_pages" json:"deep_probe_pages"`
	OCRBudget              int     `mapstructure:"ocr_budget" yaml:"ocr_budget" json:"ocr_budget"`
	AlphaPlainPolicy       string  `mapstructure:"alpha_plain_policy" yaml:"alpha_plain_policy" json:"alpha_plain_policy"`
	LowConfidenceThreshold float64 `mapstructure:"low_confidence_threshold" yaml:"low_confidence_threshold" json:"low_confidence_threshold"`
	HintMaxLen             int     `mapstructure:"hint_max_len" yaml:"hint_max_len" json:"hint_max_len"`
}

// RecapConfig tunes recap assembly.
type RecapConfig struct {
	RekapConfidence float64 `mapstructure:"rekap_confidence" yaml:"rekap_confidence" json:"rekap_confidence"`
}

// PDFConfig holds the password tried on protected files.
type PDFConfig struct {
	Password string `mapstructure:"password" yaml:"password" json:"-"`
}

// OutputConfig selects where job outputs go.
type OutputConfig struct {
	Dir      string `mapstructure:"dir" yaml:"dir" json:"dir"`
	Workbook bool   `mapstructure:"workbook" yaml:"workbook" json:"workbook"`
	// ProgressInterval is the minimum gap between console and log progress
	// lines within one stage. Zero reports every step.
	ProgressInterval time.Duration `mapstructure:"progress_interval" yaml:"progress_interval" json:"progress_interval"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host" json:"host"`
	Port            int           `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string        `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int           `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int           `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int           `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	JobTimeoutSec   int           `mapstructure:"job_timeout_sec" yaml:"job_timeout_sec" json:"job_timeout_sec"`
	ProgressTTL     time.Duration `mapstructure:"progress_ttl" yaml:"progress_ttl" json:"progress_ttl"`

	// Per-client submission limits, 0 disables a limit
	JobsPerMinute     int `mapstructure:"jobs_per_minute" yaml:"jobs_per_minute" json:"jobs_per_minute"`
	JobsPerHour       int `mapstructure:"jobs_per_hour" yaml:"jobs_per_hour" json:"jobs_per_hour"`
	MaxUploadMBPerDay int `mapstructure:"max_upload_mb_per_day" yaml:"max_upload_mb_per_day" json:"max_upload_mb_per_day"`
}
