package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"strings"
	"sync"
	"time"
)

// Stage labels reported by the ingester.
const (
	StagePending      = "pending"
	StageStarted      = "started"
	StageOpening      = "opening document"
	StageRecap        = "reading recap"
	StageCodes        = "assigning reference codes"
	StageSegmenting   = "segmenting attachments"
	StageSaving       = "saving attachments"
	StageDone         = "done"
	stageFailedPrefix = "failed: "
)

// Progress is one observation of a job. Extra fields are flattened next to
// percent and stage when encoded.
type Progress struct {
	Percent   int            `json:"percent"`
	Stage     string         `json:"stage"`
	Extra     map[string]any `json:"-"`
	UpdatedAt time.Time      `json:"-"`
}

// Done reports whether the job reached a terminal state.
func (p Progress) Done() bool { return p.Percent >= 100 }

// Failed reports whether the job ended with an error.
func (p Progress) Failed() bool { return strings.HasPrefix(p.Stage, stageFailedPrefix) }

// MarshalJSON writes {percent, stage, ...extra}.
func (p Progress) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+2)
	maps.Copy(out, p.Extra)
	out["percent"] = p.Percent
	out["stage"] = p.Stage
	return json.Marshal(out)
}

// PendingProgress is what readers see for unknown jobs.
func PendingProgress() Progress {
	return Progress{Percent: 0, Stage: StagePending}
}

// FailedStage formats the terminal stage label for err.
func FailedStage(err error) string {
	return stageFailedPrefix + err.Error()
}

// ProgressSink receives coarse job progress. Implementations must be safe for
// concurrent use; the server reads while ingestions write.
type ProgressSink interface {
	Report(jobID string, percent int, stage string, extra map[string]any)
}

// NoOpProgress discards every report.
type NoOpProgress struct{}

func (NoOpProgress) Report(string, int, string, map[string]any) {}

// LogProgress logs each report using slog.
type LogProgress struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogProgress creates a log-based progress sink.
func NewLogProgress(logger *slog.Logger, level slog.Level) *LogProgress {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgress{logger: logger, level: level}
}

func (l *LogProgress) Report(jobID string, percent int, stage string, extra map[string]any) {
	args := make([]any, 0, 6+2*len(extra))
	args = append(args, "job_id", jobID, "percent", percent, "stage", stage)
	for k, v := range extra {
		args = append(args, k, v)
	}
	level := l.level
	if strings.HasPrefix(stage, stageFailedPrefix) {
		level = slog.LevelError
	}
	l.logger.Log(context.Background(), level, "job progress", args...)
}

// ConsoleProgress draws a single-line progress bar, for interactive use.
type ConsoleProgress struct {
	writer io.Writer
	width  int
	mutex  sync.Mutex
}

// NewConsoleProgress creates a console progress bar writing to writer
// (stderr when nil).
func NewConsoleProgress(writer io.Writer) *ConsoleProgress {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsoleProgress{writer: writer, width: 30}
}

// WithWidth sets the bar width.
func (c *ConsoleProgress) WithWidth(width int) *ConsoleProgress {
	if width > 0 {
		c.width = width
	}
	return c
}

func (c *ConsoleProgress) Report(_ string, percent int, stage string, _ map[string]any) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	percent = min(max(percent, 0), 100)
	filled := c.width * percent / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", c.width-filled)
	_, _ = fmt.Fprintf(c.writer, "\r[%s] %3d%% %-40s", bar, percent, stage)
	if percent >= 100 {
		_, _ = fmt.Fprintln(c.writer)
	}
}

// MultiProgress fans reports out to several sinks.
type MultiProgress struct {
	sinks []ProgressSink
}

// NewMultiProgress creates a sink reporting to every given sink.
func NewMultiProgress(sinks ...ProgressSink) *MultiProgress {
	return &MultiProgress{sinks: sinks}
}

// Add adds another sink.
func (m *MultiProgress) Add(sink ProgressSink) {
	m.sinks = append(m.sinks, sink)
}

func (m *MultiProgress) Report(jobID string, percent int, stage string, extra map[string]any) {
	for _, s := range m.sinks {
		s.Report(jobID, percent, stage, extra)
	}
}

// ThrottledProgress forwards a job's report only when its stage changes, the
// job starts or finishes, or minInterval has passed since the last one.
type ThrottledProgress struct {
	wrapped     ProgressSink
	minInterval time.Duration
	mutex       sync.Mutex
	last        map[string]throttleMark
	now         func() time.Time
}

type throttleMark struct {
	at    time.Time
	stage string
}

// NewThrottledProgress wraps sink with per-job throttling.
func NewThrottledProgress(sink ProgressSink, minInterval time.Duration) *ThrottledProgress {
	return &ThrottledProgress{
		wrapped:     sink,
		minInterval: minInterval,
		last:        make(map[string]throttleMark),
		now:         time.Now,
	}
}

func (t *ThrottledProgress) Report(jobID string, percent int, stage string, extra map[string]any) {
	t.mutex.Lock()
	now := t.now()
	mark, seen := t.last[jobID]
	pass := !seen || percent <= 0 || percent >= 100 || stage != mark.stage || now.Sub(mark.at) >= t.minInterval
	if pass {
		if percent >= 100 {
			delete(t.last, jobID)
		} else {
			t.last[jobID] = throttleMark{at: now, stage: stage}
		}
	}
	t.mutex.Unlock()

	if pass {
		t.wrapped.Report(jobID, percent, stage, extra)
	}
}
