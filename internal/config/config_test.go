package config

import (
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/rekap/internal/attach"
	"github.com/MeKo-Tech/rekap/internal/pdf"
)

const infoLevel = "info"

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() unexpected error: %v", err)
	}
	if cfg.LogLevel != infoLevel {
		t.Errorf("Expected log level %s, got %s", infoLevel, cfg.LogLevel)
	}
	if cfg.Segment.ProbeWindow != 2 || cfg.Segment.OCRBudget != 4 {
		t.Errorf("Unexpected segment defaults: %+v", cfg.Segment)
	}
	if got := cfg.Segment.DeepProbePages; len(got) != 2 || got[0] != 5 || got[1] != 10 {
		t.Errorf("Expected deep probe pages [5 10], got %v", got)
	}
	if cfg.Output.ProgressInterval != 250*time.Millisecond {
		t.Errorf("Expected progress interval 250ms, got %s", cfg.Output.ProgressInterval)
	}
	if cfg.Segment.AlphaPlainPolicy != string(attach.UntilBeta) {
		t.Errorf("Expected plain ALPHA policy %s, got %s", attach.UntilBeta, cfg.Segment.AlphaPlainPolicy)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
		{"temperature", func(c *Config) { c.Model.Temperature = 3 }, "model.temperature"},
		{"model timeout", func(c *Config) { c.Model.TimeoutSec = 0 }, "model.timeout_sec"},
		{"image detail", func(c *Config) { c.Model.ImageDetail = "ultra" }, "model.image_detail"},
		{"dpi", func(c *Config) { c.Render.DPI = 10 }, "render.dpi"},
		{"format", func(c *Config) { c.Render.Format = "gif" }, "render.format"},
		{"jpeg quality", func(c *Config) { c.Render.JPEGQuality = 101 }, "render.jpeg_quality"},
		{"corner width", func(c *Config) { c.Marker.CornerWidth = 0 }, "marker.corner_width"},
		{"probe window", func(c *Config) { c.Segment.ProbeWindow = -1 }, "segment.probe_window"},
		{"budget", func(c *Config) { c.Segment.OCRBudget = -1 }, "segment.ocr_budget"},
		{"deep probe", func(c *Config) { c.Segment.DeepProbePages = []int{0} }, "segment.deep_probe_pages"},
		{"policy", func(c *Config) { c.Segment.AlphaPlainPolicy = "forever" }, "segment.alpha_plain_policy"},
		{"low confidence", func(c *Config) { c.Segment.LowConfidenceThreshold = 1.5 }, "segment.low_confidence_threshold"},
		{"rekap confidence", func(c *Config) { c.Recap.RekapConfidence = -0.1 }, "recap.rekap_confidence"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"upload", func(c *Config) { c.Server.MaxUploadMB = 0 }, "invalid max upload size"},
		{"progress ttl", func(c *Config) { c.Server.ProgressTTL = time.Second }, "server.progress_ttl"},
		{"progress interval", func(c *Config) { c.Output.ProgressInterval = -time.Second }, "output.progress_interval"},
		{"unthrottled progress", func(c *Config) { c.Output.ProgressInterval = 0 }, ""},
		{"jpg accepted", func(c *Config) { c.Render.Format = "JPG" }, ""},
		{"single page policy", func(c *Config) { c.Segment.AlphaPlainPolicy = "one" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestToPipelineConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TempDir = "/scratch"
	cfg.PDF.Password = "secret"
	cfg.Render.Format = pdf.FormatJPEG
	cfg.Segment.AlphaPlainPolicy = string(attach.SinglePage)

	pc := cfg.ToPipelineConfig()
	if pc.Password != "secret" || pc.TempDir != "/scratch" {
		t.Errorf("Password/TempDir not carried over: %+v", pc)
	}
	if pc.Render.Format != pdf.FormatJPEG || pc.Render.DPI != cfg.Render.DPI {
		t.Errorf("Render options not carried over: %+v", pc.Render)
	}
	if pc.Segment.PlainAlpha != attach.SinglePage {
		t.Errorf("Expected plain ALPHA policy %s, got %s", attach.SinglePage, pc.Segment.PlainAlpha)
	}
	if pc.Marker.TempDir != "/scratch" || pc.Marker.CornerWidth != cfg.Marker.CornerWidth {
		t.Errorf("Marker config not carried over: %+v", pc.Marker)
	}

	pc.Segment.DeepProbePages[0] = 99
	if cfg.Segment.DeepProbePages[0] == 99 {
		t.Error("ToPipelineConfig shares the deep probe slice")
	}
}

func TestToOpenAIConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.APIKey = "sk-test"
	cfg.Model.BaseURL = "http://localhost:11434/v1"
	cfg.Model.TimeoutSec = 15

	oc := cfg.ToOpenAIConfig()
	if oc.APIKey != "sk-test" || oc.BaseURL != cfg.Model.BaseURL || oc.Model != "gpt-4o" {
		t.Errorf("Unexpected openai config: %+v", oc)
	}
	if oc.Timeout != 15*time.Second {
		t.Errorf("Expected 15s timeout, got %s", oc.Timeout)
	}
}

func TestToOCRConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TempDir = "/scratch"
	oc := cfg.ToOCRConfig()
	if oc.Language != "ind+eng" || oc.MinHeight != 1200 || oc.TempDir != "/scratch" {
		t.Errorf("Unexpected ocr config: %+v", oc)
	}
}

func TestRedacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.APIKey = "sk-live"
	cfg.PDF.Password = "pw"

	r := cfg.Redacted()
	if r.Model.APIKey != "***" || r.PDF.Password != "***" {
		t.Errorf("Secrets not masked: %+v %+v", r.Model, r.PDF)
	}
	if cfg.Model.APIKey != "sk-live" {
		t.Error("Redacted modified the receiver")
	}

	empty := DefaultConfig().Redacted()
	if empty.Model.APIKey != "" {
		t.Error("Empty API key should stay empty")
	}
}
