// Package metrics holds the OpenTelemetry instruments for batch synthesis, LLM
// inference and avatar video submission, exported for Prometheus scraping.
//
// A nil *Metrics is valid; every Record method is then a no-op.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/book-expert/ich-narrator"

// Item statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// Metrics holds all instruments.
type Metrics struct {
	// ItemsProcessed counts batch items by status.
	ItemsProcessed metric.Int64Counter

	// SynthesisDuration tracks per-item synthesis latency by engine.
	SynthesisDuration metric.Float64Histogram

	// SynthesisRetries counts attempts beyond the first.
	SynthesisRetries metric.Int64Counter

	// LLMDuration tracks chat completion latency by prompt role and status.
	LLMDuration metric.Float64Histogram

	// VideoSubmissions counts avatar jobs by status.
	VideoSubmissions metric.Int64Counter
}

// NewMetrics creates the instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	var err error

	if met.ItemsProcessed, err = m.Int64Counter("ich_narrator.items",
		metric.WithDescription("Batch items processed by status."),
	); err != nil {
		return nil, err
	}

	if met.SynthesisDuration, err = m.Float64Histogram("ich_narrator.synthesis.duration",
		metric.WithDescription("Latency of speech synthesis per item."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.SynthesisRetries, err = m.Int64Counter("ich_narrator.synthesis.retries",
		metric.WithDescription("Synthesis attempts after the first."),
	); err != nil {
		return nil, err
	}

	if met.LLMDuration, err = m.Float64Histogram("ich_narrator.llm.duration",
		metric.WithDescription("Latency of narrative chat completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.VideoSubmissions, err = m.Int64Counter("ich_narrator.video.submissions",
		metric.WithDescription("Avatar video jobs by status."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordItem counts one batch item.
func (m *Metrics) RecordItem(ctx context.Context, status string) {
	if m == nil {
		return
	}

	m.ItemsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordSynthesis observes one synthesis call.
func (m *Metrics) RecordSynthesis(ctx context.Context, engine string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.SynthesisDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("engine", engine)))
}

// RecordRetry counts a repeated synthesis attempt.
func (m *Metrics) RecordRetry(ctx context.Context) {
	if m == nil {
		return
	}

	m.SynthesisRetries.Add(ctx, 1)
}

// RecordLLM observes one chat completion.
func (m *Metrics) RecordLLM(ctx context.Context, role string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}

	m.LLMDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("role", role),
		attribute.String("status", statusOf(err)),
	))
}

// RecordVideoSubmission counts one avatar job.
func (m *Metrics) RecordVideoSubmission(ctx context.Context, status string) {
	if m == nil {
		return
	}

	m.VideoSubmissions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func statusOf(err error) string {
	if err != nil {
		return StatusFailure
	}

	return StatusSuccess
}
