// Package batch synthesizes speech for a list of patient narratives, one item
// at a time, with optional retries, resume, metadata sidecars and run telemetry.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/book-expert/logger"

	"github.com/book-expert/ich-narrator/internal/audio"
	"github.com/book-expert/ich-narrator/internal/config"
	"github.com/book-expert/ich-narrator/internal/core"
	"github.com/book-expert/ich-narrator/internal/fsutil"
	"github.com/book-expert/ich-narrator/internal/metrics"
	"github.com/book-expert/ich-narrator/internal/narrative"
	"github.com/book-expert/ich-narrator/internal/normalize"
	"github.com/book-expert/ich-narrator/internal/telemetry"
	"github.com/book-expert/ich-narrator/internal/tts"
)

const (
	// FailureMissingContent is recorded for items without usable text.
	FailureMissingContent = "missing_or_empty_content"

	timestampLayout = "2006-01-02 15:04:05"
	maxBackoff      = 5 * time.Second
	backoffStep     = 2 * time.Second
	extWAV          = ".wav"
	extJSON         = ".json"
)

var (
	// ErrSpeakerNotFound is returned before any work when the reference voice is missing.
	ErrSpeakerNotFound = errors.New("speaker WAV not found")
	// ErrSpeakerNotAudio is returned when the reference voice is not an audio file.
	ErrSpeakerNotAudio = errors.New("speaker reference is not an audio file")
	// ErrNilSynthesizer is returned by NewRunner without an engine.
	ErrNilSynthesizer = errors.New("synthesizer cannot be nil")
)

// Result summarizes a run. Skipped counts items left alone by resume.
type Result struct {
	Successes int
	Failures  int
	Skipped   int
	Aborted   bool
	Elapsed   time.Duration
}

// Metadata is the sidecar written next to each WAV.
type Metadata struct {
	Index           int      `json:"index"`
	Filename        string   `json:"filename"`
	Timestamp       string   `json:"timestamp"`
	ModelName       string   `json:"model_name"`
	Language        string   `json:"language"`
	SpeakerWAV      string   `json:"speaker_wav"`
	OriginalContent string   `json:"original_content"`
	CleanedContent  string   `json:"cleaned_content"`
	DurationSec     *float64 `json:"duration_sec,omitempty"`
	SampleRate      int      `json:"sample_rate,omitempty"`
	Channels        int      `json:"channels,omitempty"`
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customizes a Runner.
type Option func(*Runner)

// WithObjectStore uploads every synthesized WAV when batch.upload_audio is set.
func WithObjectStore(store core.ObjectStore) Option {
	return func(r *Runner) { r.store = store }
}

// WithMetrics records item outcomes and latencies.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithSleep replaces the pacing and backoff wait.
func WithSleep(sleep SleepFunc) Option {
	return func(r *Runner) { r.sleep = sleep }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// Runner executes a batch synthesis run.
type Runner struct {
	cfg        *config.Config
	synth      core.Synthesizer
	store      core.ObjectStore
	metrics    *metrics.Metrics
	normalizer *normalize.Normalizer
	log        *logger.Logger
	sleep      SleepFunc
	now        func() time.Time
}

// NewRunner creates a Runner for the given configuration and engine.
func NewRunner(cfg *config.Config, synth core.Synthesizer, log *logger.Logger, opts ...Option) (*Runner, error) {
	if synth == nil {
		return nil, ErrNilSynthesizer
	}

	runner := &Runner{
		cfg:        cfg,
		synth:      synth,
		normalizer: normalize.New(),
		log:        log,
		sleep:      sleepContext,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(runner)
	}

	return runner, nil
}

// Run processes every item sequentially. Cancelling ctx stops the run after
// the current item; the partial Result is returned together with ctx's error.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	batchCfg := r.cfg.Batch

	err := fsutil.EnsureDir(batchCfg.OutputDir)
	if err != nil {
		return Result{}, err
	}

	err = r.checkSpeaker()
	if err != nil {
		return Result{}, err
	}

	items, err := narrative.Load(batchCfg.InputJSON, batchCfg.Limit)
	if err != nil {
		return Result{}, err
	}

	recorder := telemetry.New(telemetry.Options{
		LogPath:     batchCfg.HooksLog,
		SummaryPath: batchCfg.RunSummary,
		MaxFailures: batchCfg.MaxFailures,
	})
	recorder.RunStart(len(items), r.snapshot())

	r.log.Info("Starting batch of %d items (engine=%s, run=%s)", len(items), r.cfg.TTS.Engine, recorder.RunID())

	var result Result

	start := r.now()

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}

		if r.processItem(ctx, item, recorder, &result) {
			r.log.Warn("Aborting run after reaching max_failures=%d", batchCfg.MaxFailures)

			result.Aborted = true

			break
		}
	}

	result.Elapsed = r.now().Sub(start)
	recorder.Finalize(result.Successes, result.Failures, result.Elapsed)

	r.log.Info("Batch finished: %d succeeded, %d failed, %d skipped in %s",
		result.Successes, result.Failures, result.Skipped, fsutil.FormatDuration(result.Elapsed.Seconds()))

	err = ctx.Err()
	if err != nil {
		return result, fmt.Errorf("batch run interrupted: %w", err)
	}

	return result, nil
}

// processItem handles one narrative and reports whether the run must abort.
func (r *Runner) processItem(ctx context.Context, item narrative.Item, recorder *telemetry.Recorder, result *Result) bool {
	batchCfg := r.cfg.Batch
	index := item.Index
	itemStart := r.now()
	timestamp := itemStart.Format(timestampLayout)

	r.log.Info("Processing item %d at %s", index, timestamp)

	content, ok := item.Content()
	if !ok {
		r.log.Warn("Item %d missing or empty '%s'; skipping.", index, narrative.ContentField)
		r.recordFailure(ctx, recorder, result, index, FailureMissingContent, 0)

		return recorder.ShouldAbort()
	}

	cleaned := r.normalizer.Clean(content, normalize.Options{
		ExpandAcronyms: batchCfg.ExpandAcronyms,
		StripNewlines:  batchCfg.StripNewlines,
	})

	filename := fsutil.IndexFilename(index)
	if batchCfg.FilenameField != "" {
		filename = fsutil.DeriveFilename(index, item, batchCfg.FilenameField)
	}

	outWAV := filepath.Join(batchCfg.OutputDir, filename+extWAV)

	if fsutil.ShouldSkip(outWAV, batchCfg.Resume) {
		r.log.Info("Skipping existing file due to resume: %s", outWAV)

		result.Skipped++
		r.metrics.RecordItem(ctx, metrics.StatusSkipped)

		return false
	}

	contentLength := utf8.RuneCountInString(cleaned)

	if batchCfg.DryRun {
		r.log.Info("Dry-run: would synthesize to %s", outWAV)
		r.recordSuccess(ctx, recorder, result, index, filepath.Base(outWAV), 0, contentLength)
	} else {
		attempts, err := r.synthesizeWithRetry(ctx, cleaned, outWAV)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}

			r.log.Error("Giving up on %s after %d attempts: %v", outWAV, attempts, err)
			r.recordFailure(ctx, recorder, result, index, err.Error(), attempts)

			return recorder.ShouldAbort()
		}

		r.uploadAudio(ctx, filename+extWAV, outWAV)
		r.recordSuccess(ctx, recorder, result, index, filepath.Base(outWAV), r.now().Sub(itemStart), contentLength)
	}

	if batchCfg.WriteMetadata {
		r.writeMetadata(index, timestamp, outWAV, content, cleaned)
	}

	if batchCfg.SleepSeconds > 0 {
		_ = r.sleep(ctx, secondsToDuration(batchCfg.SleepSeconds))
	}

	return recorder.ShouldAbort()
}

// synthesizeWithRetry writes the WAV for text, retrying failed attempts. It
// returns the number of failed attempts.
func (r *Runner) synthesizeWithRetry(ctx context.Context, text, outWAV string) (int, error) {
	retries := r.cfg.Batch.Retries
	request := tts.RequestFromConfig(r.cfg, text)

	var lastErr error

	attempts := 0
	for attempts <= retries {
		lastErr = r.synthesizeOnce(ctx, request, outWAV)
		if lastErr == nil {
			return attempts, nil
		}

		attempts++

		r.log.Warn("Synthesis failed for %s (attempt %d/%d): %v", outWAV, attempts, retries, lastErr)

		if attempts <= retries {
			r.metrics.RecordRetry(ctx)

			err := r.sleep(ctx, backoff(attempts))
			if err != nil {
				return attempts, err
			}
		}
	}

	return attempts, lastErr
}

func (r *Runner) synthesizeOnce(ctx context.Context, request core.SynthesisRequest, outWAV string) error {
	started := r.now()

	audioData, err := r.synth.Synthesize(ctx, request)
	if err != nil {
		return err
	}

	r.metrics.RecordSynthesis(ctx, r.cfg.TTS.Engine, r.now().Sub(started))

	return fsutil.WriteFile(outWAV, audioData)
}

// uploadAudio is best effort; a failed upload keeps the local file.
func (r *Runner) uploadAudio(ctx context.Context, key, path string) {
	if !r.cfg.Batch.UploadAudio || r.store == nil {
		return
	}

	data, err := os.ReadFile(path)
	if err == nil {
		err = r.store.Upload(ctx, key, data)
	}

	if err != nil {
		r.log.Warn("Failed to upload %s to the object store: %v", key, err)

		return
	}

	r.log.Info("Uploaded %s (%s)", key, fsutil.FormatFileSize(int64(len(data))))
}

func (r *Runner) writeMetadata(index int, timestamp, outWAV, original, cleaned string) {
	meta := Metadata{
		Index:           index,
		Filename:        filepath.Base(outWAV),
		Timestamp:       timestamp,
		ModelName:       r.cfg.TTS.ModelName,
		Language:        r.cfg.TTS.Language,
		SpeakerWAV:      tts.RequestFromConfig(r.cfg, "").SpeakerWAV,
		OriginalContent: original,
		CleanedContent:  cleaned,
	}

	// A dry run never writes outWAV, so a file there belongs to an earlier run.
	if !r.cfg.Batch.DryRun && fsutil.FileExists(outWAV) {
		info, err := audio.InspectFile(outWAV)
		if err == nil {
			duration := info.DurationSeconds()
			meta.DurationSec = &duration
			meta.SampleRate = info.SampleRate
			meta.Channels = info.Channels
		}
	}

	sidecar := outWAV[:len(outWAV)-len(extWAV)] + extJSON

	err := fsutil.WriteJSON(sidecar, meta)
	if err != nil {
		r.log.Warn("Failed to write metadata %s: %v", sidecar, err)
	}
}

func (r *Runner) recordSuccess(
	ctx context.Context,
	recorder *telemetry.Recorder,
	result *Result,
	index int,
	filename string,
	elapsed time.Duration,
	contentLength int,
) {
	result.Successes++
	recorder.ItemSuccess(index, filename, elapsed, contentLength)
	r.metrics.RecordItem(ctx, metrics.StatusSuccess)
}

func (r *Runner) recordFailure(
	ctx context.Context,
	recorder *telemetry.Recorder,
	result *Result,
	index int,
	reason string,
	attempt int,
) {
	result.Failures++
	recorder.ItemFailure(index, reason, attempt)
	r.metrics.RecordItem(ctx, metrics.StatusFailure)
}

// checkSpeaker verifies the reference voice is an audio file. Only the cli
// engine reads it locally; the http and heygem engines resolve the path on
// the server side.
func (r *Runner) checkSpeaker() error {
	speaker := r.cfg.TTS.SpeakerWAV
	if speaker != "" && !fsutil.IsValidAudioFile(speaker) {
		r.log.Error("Speaker reference is not an audio file: %s", speaker)

		return fmt.Errorf("%w: %s", ErrSpeakerNotAudio, speaker)
	}

	if r.cfg.TTS.Engine != config.EngineCLI {
		return nil
	}

	if !fsutil.FileExists(speaker) {
		r.log.Error("Speaker WAV not found: %s", speaker)

		return fmt.Errorf("%w: %s", ErrSpeakerNotFound, speaker)
	}

	return nil
}

func (r *Runner) snapshot() map[string]any {
	batchCfg := r.cfg.Batch

	return map[string]any{
		"engine":          r.cfg.TTS.Engine,
		"model_name":      r.cfg.TTS.ModelName,
		"input_json":      batchCfg.InputJSON,
		"output_dir":      batchCfg.OutputDir,
		"speaker_wav":     r.cfg.TTS.SpeakerWAV,
		"language":        r.cfg.TTS.Language,
		"gpu":             r.cfg.TTS.GPU,
		"limit":           batchCfg.Limit,
		"dry_run":         batchCfg.DryRun,
		"resume":          batchCfg.Resume,
		"filename_field":  batchCfg.FilenameField,
		"write_metadata":  batchCfg.WriteMetadata,
		"strip_newlines":  batchCfg.StripNewlines,
		"expand_acronyms": batchCfg.ExpandAcronyms,
		"retries":         batchCfg.Retries,
		"sleep_seconds":   batchCfg.SleepSeconds,
		"hooks_log":       batchCfg.HooksLog,
		"run_summary":     batchCfg.RunSummary,
		"max_failures":    batchCfg.MaxFailures,
	}
}

// backoff is the wait after the given number of failed attempts.
func backoff(attempts int) time.Duration {
	return min(time.Duration(attempts)*backoffStep, maxBackoff)
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
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
