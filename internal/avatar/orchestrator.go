package avatar

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/ich-narrator/internal/config"
	"github.com/book-expert/ich-narrator/internal/core"
	"github.com/book-expert/ich-narrator/internal/fsutil"
	"github.com/book-expert/ich-narrator/internal/metrics"
	"github.com/book-expert/ich-narrator/internal/narrative"
	"github.com/book-expert/ich-narrator/internal/normalize"
)

const (
	isoTimestampLayout = "2006-01-02T15:04:05.000000"
	audioStampLayout   = "20060102150405"
	backoffStep        = 2 * time.Second
	maxBackoff         = 5 * time.Second
)

// Submitter is the part of Client the orchestrator needs.
type Submitter interface {
	Submit(ctx context.Context, job Job) error
	Query(ctx context.Context, code string) (Status, error)
}

// Metadata is the per-job sidecar; its presence marks the job as done for resume.
type Metadata struct {
	SpeakerID string `json:"speaker_id"`
	Audio     string `json:"audio"`
	Video     string `json:"video"`
	SubmitURL string `json:"submit_url"`
	Timestamp string `json:"timestamp"`
}

// Result counts job outcomes.
type Result struct {
	Submitted int
	Failed    int
	Skipped   int
	Completed int
	TimedOut  int
	Elapsed   time.Duration
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Speech renders narratives to audio files the avatar service can read.
// Narratives are cleaned with Options before synthesis.
type Speech struct {
	Synthesizer core.Synthesizer
	Request     func(text string) core.SynthesisRequest
	Options     normalize.Options
	SaveDir     string
}

// Orchestrator submits one avatar job per narrative.
type Orchestrator struct {
	cfg        config.VideoConfig
	client     Submitter
	speech     *Speech
	normalizer *normalize.Normalizer
	metrics    *metrics.Metrics
	log        *logger.Logger
	sleep      SleepFunc
	now        func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSpeech synthesizes each narrative before submitting its job.
func WithSpeech(speech *Speech) Option {
	return func(o *Orchestrator) { o.speech = speech }
}

// WithMetrics counts submissions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSleep replaces the wait used for backoff, polling and pacing.
func WithSleep(sleep SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg config.VideoConfig, client Submitter, log *logger.Logger, opts ...Option) *Orchestrator {
	orchestrator := &Orchestrator{
		cfg:        cfg,
		client:     client,
		normalizer: normalize.New(),
		log:        log,
		sleep:      sleepContext,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(orchestrator)
	}

	return orchestrator
}

// Run walks the narratives in order. Job codes are the 1-based index as %03d,
// matching the WAV names written by the batch synthesizer.
func (o *Orchestrator) Run(ctx context.Context, items []narrative.Item) (Result, error) {
	var result Result

	start := o.now()

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}

		o.runJob(ctx, item, &result)
	}

	result.Elapsed = o.now().Sub(start)

	o.log.Info("Video jobs: %d submitted, %d failed, %d skipped, %d completed, %d timed out",
		result.Submitted, result.Failed, result.Skipped, result.Completed, result.TimedOut)

	err := ctx.Err()
	if err != nil {
		return result, fmt.Errorf("video run interrupted: %w", err)
	}

	return result, nil
}

func (o *Orchestrator) runJob(ctx context.Context, item narrative.Item, result *Result) {
	code := fsutil.IndexFilename(item.Index)
	metaPath := filepath.Join(o.cfg.MetadataDir, code+".json")

	if fsutil.ShouldSkip(metaPath, o.cfg.Resume) {
		o.log.Info("Resume skip: %s", code)

		result.Skipped++

		return
	}

	audioURL, err := o.audioFor(ctx, item, code)
	if err != nil {
		o.log.Error("Audio synthesis failed for %s: %v", code, err)
		o.fail(ctx, result)

		return
	}

	if o.cfg.DryRun {
		o.log.Info("Dry-run submit: audio=%s video=%s code=%s", audioURL, o.cfg.RefVideoPath, code)
	} else {
		err = o.submit(ctx, NewJob(audioURL, o.cfg.RefVideoPath, code))
		if err != nil {
			o.log.Error("Submission failed for %s: %v", code, err)
			o.fail(ctx, result)

			return
		}
	}

	result.Submitted++
	o.metrics.RecordVideoSubmission(ctx, metrics.StatusSuccess)

	if o.cfg.WriteMetadata {
		o.writeMetadata(metaPath, code, audioURL)
	}

	if o.cfg.PollProgress && !o.cfg.DryRun {
		if o.poll(ctx, code) {
			result.Completed++
		} else {
			result.TimedOut++
		}
	}

	if o.cfg.SleepSeconds > 0 {
		_ = o.sleep(ctx, seconds(o.cfg.SleepSeconds))
	}
}

func (o *Orchestrator) fail(ctx context.Context, result *Result) {
	result.Failed++
	o.metrics.RecordVideoSubmission(ctx, metrics.StatusFailure)
}

// audioFor returns the audio location for the job, synthesizing it first when
// speech is configured.
func (o *Orchestrator) audioFor(ctx context.Context, item narrative.Item, code string) (string, error) {
	filename := code + ".wav"

	if o.speech != nil && !o.cfg.DryRun {
		content, ok := item.Content()
		if !ok {
			return "", fmt.Errorf("item %d has no %s", item.Index, narrative.ContentField)
		}

		text := o.normalizer.Clean(content, o.speech.Options)

		audioData, err := o.speech.Synthesizer.Synthesize(ctx, o.speech.Request(text))
		if err != nil {
			return "", err
		}

		filename = fmt.Sprintf("%s_%s.wav", code, o.now().Format(audioStampLayout))

		err = fsutil.WriteFile(filepath.Join(o.speech.SaveDir, filename), audioData)
		if err != nil {
			return "", err
		}
	}

	return DeriveAudioURL(filename, o.cfg.AudioBaseURL), nil
}

func (o *Orchestrator) submit(ctx context.Context, job Job) error {
	retries := o.cfg.Retries

	var lastErr error

	for attempt := 0; attempt <= retries; {
		lastErr = o.client.Submit(ctx, job)
		if lastErr == nil {
			return nil
		}

		attempt++

		o.log.Warn("Submit failed (attempt %d/%d): %v", attempt, retries, lastErr)

		if attempt <= retries {
			err := o.sleep(ctx, min(time.Duration(attempt)*backoffStep, maxBackoff))
			if err != nil {
				return err
			}
		}
	}

	return lastErr
}

// poll queries the job until it completes or the poll timeout passes.
func (o *Orchestrator) poll(ctx context.Context, code string) bool {
	o.log.Info("Polling task %s", code)

	deadline := o.now().Add(seconds(o.cfg.PollTimeoutSeconds))

	for o.now().Before(deadline) {
		status, err := o.client.Query(ctx, code)
		if err != nil {
			o.log.Error("Query failed: %v", err)
		} else if status.Done() {
			o.log.Info("Task %s completed", code)

			return true
		}

		if o.sleep(ctx, seconds(o.cfg.PollIntervalSeconds)) != nil {
			return false
		}
	}

	o.log.Warn("Task %s did not complete within %.1fs", code, o.cfg.PollTimeoutSeconds)

	return false
}

func (o *Orchestrator) writeMetadata(path, code, audioURL string) {
	err := fsutil.WriteJSON(path, Metadata{
		SpeakerID: code,
		Audio:     audioURL,
		Video:     o.cfg.RefVideoPath,
		SubmitURL: o.cfg.SubmitURL,
		Timestamp: o.now().Format(isoTimestampLayout),
	})
	if err != nil {
		o.log.Warn("Failed to write metadata %s: %v", path, err)
	}
}

// DeriveAudioURL prefixes filename with base when one is configured.
func DeriveAudioURL(filename, base string) string {
	if base == "" {
		return filename
	}

	return strings.TrimRight(base, "/") + "/" + filename
}

func seconds(value float64) time.Duration {
	return time.Duration(value * float64(time.Second))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
