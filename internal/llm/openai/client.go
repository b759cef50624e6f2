package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/MeKo-Tech/rekap/internal/llm"
)

// Client implements llm.Vision over the chat completions API.
type Client struct {
	api    *openai.Client
	cfg    Config
	logger *slog.Logger
}

// NewClient creates a client. A missing API key is a configuration error.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", llm.ErrNotConfigured)
	}
	if logger == nil {
		logger = slog.Default()
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{api: openai.NewClientWithConfig(apiCfg), cfg: cfg, logger: logger}, nil
}

// Complete sends req as one user message with the prompt followed by its images.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: req.Prompt}}
	for _, path := range req.Images {
		u, err := readAsDataURL(path)
		if err != nil {
			return "", fmt.Errorf("attach image %s: %w", path, err)
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    u,
				Detail: openai.ImageURLDetail(c.cfg.ImageDetail),
			},
		})
	}

	chat := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: c.temperature(),
		MaxTokens:   req.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	}
	if req.JSONObject {
		chat.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	c.logger.Debug("llm.request", "req_id", rid, "op", req.Op, "model", c.cfg.Model, "images", len(req.Images))

	resp, err := c.api.CreateChatCompletion(ctx, chat)
	if err != nil {
		c.logger.Error("llm.send_error", "req_id", rid, "op", req.Op, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return "", &llm.Error{Op: req.Op, Kind: llm.KindTransport, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &llm.Error{Op: req.Op, Kind: llm.KindEmpty, Err: errors.New("no response choices")}
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.logger.Info("llm.response", "req_id", rid, "op", req.Op,
		"bytes", len(content), "total_tokens", resp.Usage.TotalTokens,
		"elapsed_ms", time.Since(start).Milliseconds())
	return content, nil
}

// temperature maps 0 to the smallest positive value, since a zero field is
// omitted from the request and the provider default applies instead.
func (c *Client) temperature() float32 {
	if c.cfg.Temperature <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return c.cfg.Temperature
}

func readAsDataURL(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(path))
	mt := mime.TypeByExtension(ext)
	if mt == "" {
		switch ext {
		case ".jpg", ".jpeg":
			mt = "image/jpeg"
		case ".png":
			mt = "image/png"
		default:
			mt = "application/octet-stream"
		}
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(b), nil
}
