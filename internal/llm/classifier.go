package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MeKo-Tech/rekap/internal/metrics"
)

// Operation names reported in logs, errors and metrics.
const (
	OpExtractTable       = "extract_table"
	OpClassifyAttachment = "classify_attachment"
	OpClassifyRekap      = "classify_rekap"
	OpReadCornerMarker   = "read_corner_marker"
)

// Token limits per call.
const (
	tableMaxTokens    = 1200
	decisionMaxTokens = 100
)

// Classifier issues the four fixed-contract requests against a Vision model.
// Each call is independent; failures are returned as *Error and never retried here.
type Classifier struct {
	vision  Vision
	schemas schemaSet
	logger  *slog.Logger
}

// NewClassifier creates a classifier over v.
func NewClassifier(v Vision, logger *slog.Logger) (*Classifier, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: no vision model", ErrNotConfigured)
	}
	if logger == nil {
		logger = slog.Default()
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &Classifier{vision: v, schemas: schemas, logger: logger}, nil
}

// ExtractTable asks for the recap table on imagePath and returns the
// response with code fences removed. The text is not parsed here.
func (c *Classifier) ExtractTable(ctx context.Context, imagePath string) (string, error) {
	raw, err := c.complete(ctx, Request{
		Op:        OpExtractTable,
		Prompt:    BuildTablePrompt(),
		Images:    []string{imagePath},
		MaxTokens: tableMaxTokens,
	})
	if err != nil {
		return "", err
	}
	body := UnwrapJSON(raw)
	if body == "" {
		return "", c.fail(&Error{Op: OpExtractTable, Kind: KindEmpty, Err: errors.New("empty response")})
	}
	metrics.ClassifierCalls.WithLabelValues(OpExtractTable, "ok").Inc()
	return body, nil
}

// ClassifyAttachment decides whether the page at imagePath stays with the
// row described by current or moves on to next.
func (c *Classifier) ClassifyAttachment(ctx context.Context, imagePath, current, next string) (Decision, error) {
	var d Decision
	err := c.object(ctx, Request{
		Op:         OpClassifyAttachment,
		Prompt:     BuildAttachmentPrompt(current, next),
		Images:     []string{imagePath},
		MaxTokens:  decisionMaxTokens,
		JSONObject: true,
	}, &d)
	return d, err
}

// ClassifyRekap decides whether the page at imagePath is a recap table page.
func (c *Classifier) ClassifyRekap(ctx context.Context, imagePath string) (RekapVerdict, error) {
	var v RekapVerdict
	err := c.object(ctx, Request{
		Op:         OpClassifyRekap,
		Prompt:     BuildRekapPrompt(),
		Images:     []string{imagePath},
		MaxTokens:  decisionMaxTokens,
		JSONObject: true,
	}, &v)
	return v, err
}

// ReadCornerMarker reads an ALPHA/BETA marker from a cropped corner image.
func (c *Classifier) ReadCornerMarker(ctx context.Context, imagePath string) (CornerMarker, error) {
	var m CornerMarker
	err := c.object(ctx, Request{
		Op:         OpReadCornerMarker,
		Prompt:     BuildCornerMarkerPrompt(),
		Images:     []string{imagePath},
		MaxTokens:  decisionMaxTokens,
		JSONObject: true,
	}, &m)
	if err == nil && m.Tag != nil {
		tag := strings.ToUpper(strings.TrimSpace(*m.Tag))
		m.Tag = &tag
	}
	return m, err
}

func (c *Classifier) object(ctx context.Context, req Request, out any) error {
	raw, err := c.complete(ctx, req)
	if err != nil {
		return err
	}
	if err := decodeObject(req.Op, raw, c.schemas[req.Op], out); err != nil {
		return c.fail(err)
	}
	metrics.ClassifierCalls.WithLabelValues(req.Op, "ok").Inc()
	return nil
}

func (c *Classifier) complete(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	raw, err := c.vision.Complete(ctx, req)
	elapsed := time.Since(start)
	metrics.ClassifierDuration.WithLabelValues(req.Op).Observe(elapsed.Seconds())

	if err != nil {
		var typed *Error
		if !errors.As(err, &typed) {
			err = &Error{Op: req.Op, Kind: KindTransport, Err: err}
		}
		return "", c.fail(err)
	}

	c.logger.Debug("classifier call", "op", req.Op, "images", len(req.Images),
		"response_bytes", len(raw), "elapsed_ms", elapsed.Milliseconds())
	return raw, nil
}

func (c *Classifier) fail(err error) error {
	var e *Error
	if errors.As(err, &e) {
		metrics.ClassifierCalls.WithLabelValues(e.Op, string(e.Kind)).Inc()
		c.logger.Warn("classifier call failed", "op", e.Op, "kind", string(e.Kind), "error", e.Err)
	}
	return err
}
