package openai

import (
	"os"
	"time"
)

// Config for the OpenAI-compatible vision client.
type Config struct {
	APIKey      string        // if empty, falls back to env OPENAI_API_KEY
	BaseURL     string        // empty uses the provider default
	Model       string        // e.g. "gpt-4o"
	Temperature float32       // 0..2
	Timeout     time.Duration // per request
	// ImageDetail is passed through as the image_url detail: auto, low or high.
	ImageDetail string
}

func (c Config) withDefaults() Config {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Model == "" {
		c.Model = os.Getenv("OPENAI_MODEL")
	}
	if c.Model == "" {
		c.Model = "gpt-4o"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.ImageDetail == "" {
		c.ImageDetail = "auto"
	}
	return c
}
