// Package telemetry records batch run events as JSON lines and writes a run
// summary. A nil *Recorder is valid and records nothing.
package telemetry

import (
	"encoding/json"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/book-expert/ich-narrator/internal/fsutil"
)

// Event names written to the JSONL log.
const (
	EventRunStart    = "run_start"
	EventItemSuccess = "item_success"
	EventItemFailure = "item_failure"
	EventRunComplete = "run_complete"
)

// Options selects the recorder features. MaxFailures of zero disables the
// abort guard.
type Options struct {
	LogPath     string
	SummaryPath string
	MaxFailures int
}

func (o Options) enabled() bool {
	return o.LogPath != "" || o.SummaryPath != "" || o.MaxFailures > 0
}

type runStart struct {
	Event      string         `json:"event"`
	RunID      string         `json:"run_id"`
	TotalItems int            `json:"total_items"`
	Config     map[string]any `json:"config"`
	Timestamp  float64        `json:"timestamp"`
}

type itemSuccess struct {
	Event         string  `json:"event"`
	RunID         string  `json:"run_id"`
	Index         int     `json:"index"`
	Filename      string  `json:"filename"`
	DurationSec   float64 `json:"duration_sec"`
	ContentLength int     `json:"content_length"`
	Timestamp     float64 `json:"timestamp"`
}

type itemFailure struct {
	Event     string  `json:"event"`
	RunID     string  `json:"run_id"`
	Index     int     `json:"index"`
	Attempt   int     `json:"attempt"`
	Error     string  `json:"error"`
	Timestamp float64 `json:"timestamp"`
}

// Summary is the final record of a run, appended to the log and written to
// the summary file.
type Summary struct {
	Event       string  `json:"event"`
	RunID       string  `json:"run_id"`
	Successes   int     `json:"successes"`
	Failures    int     `json:"failures"`
	WallTimeSec float64 `json:"wall_time_sec"`
	StartedAt   float64 `json:"started_at"`
	EndedAt     float64 `json:"ended_at"`
}

// Recorder tracks the state of one batch run.
type Recorder struct {
	opts      Options
	runID     string
	startedAt time.Time
	now       func() time.Time

	mu        sync.Mutex
	successes int
	failures  int
}

// New returns a Recorder, or nil when no feature is requested.
func New(opts Options) *Recorder {
	if !opts.enabled() {
		return nil
	}

	for _, path := range []string{opts.LogPath, opts.SummaryPath} {
		if path != "" {
			_ = fsutil.EnsureParentDir(path)
		}
	}

	return &Recorder{
		opts:      opts,
		runID:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// RunID identifies the run in every event.
func (r *Recorder) RunID() string {
	if r == nil {
		return ""
	}

	return r.runID
}

// RunStart logs the run configuration.
func (r *Recorder) RunStart(totalItems int, config map[string]any) {
	if r == nil {
		return
	}

	r.appendLog(runStart{
		Event:      EventRunStart,
		RunID:      r.runID,
		TotalItems: totalItems,
		Config:     config,
		Timestamp:  unixSeconds(r.now()),
	})
}

// ItemSuccess logs a synthesized item.
func (r *Recorder) ItemSuccess(index int, filename string, duration time.Duration, contentLength int) {
	if r == nil {
		return
	}

	r.mu.Lock()
	r.successes++
	r.mu.Unlock()

	r.appendLog(itemSuccess{
		Event:         EventItemSuccess,
		RunID:         r.runID,
		Index:         index,
		Filename:      filename,
		DurationSec:   round4(duration.Seconds()),
		ContentLength: contentLength,
		Timestamp:     unixSeconds(r.now()),
	})
}

// ItemFailure logs a failed item. Attempt is zero when the item was never tried.
func (r *Recorder) ItemFailure(index int, errText string, attempt int) {
	if r == nil {
		return
	}

	r.mu.Lock()
	r.failures++
	r.mu.Unlock()

	r.appendLog(itemFailure{
		Event:     EventItemFailure,
		RunID:     r.runID,
		Index:     index,
		Attempt:   attempt,
		Error:     errText,
		Timestamp: unixSeconds(r.now()),
	})
}

// ShouldAbort reports whether the failure budget is exhausted.
func (r *Recorder) ShouldAbort() bool {
	if r == nil || r.opts.MaxFailures <= 0 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.failures >= r.opts.MaxFailures
}

// Finalize appends the run_complete event and writes the summary file.
func (r *Recorder) Finalize(successes, failures int, wallTime time.Duration) *Summary {
	if r == nil {
		return nil
	}

	summary := &Summary{
		Event:       EventRunComplete,
		RunID:       r.runID,
		Successes:   successes,
		Failures:    failures,
		WallTimeSec: round4(wallTime.Seconds()),
		StartedAt:   unixSeconds(r.startedAt),
		EndedAt:     unixSeconds(r.now()),
	}

	r.appendLog(summary)

	if r.opts.SummaryPath != "" {
		_ = fsutil.WriteJSON(r.opts.SummaryPath, summary)
	}

	return summary
}

// appendLog never fails the run; write errors are dropped.
func (r *Recorder) appendLog(payload any) {
	if r.opts.LogPath == "" {
		return
	}

	line, err := json.Marshal(payload)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_ = fsutil.AppendLine(r.opts.LogPath, line)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
